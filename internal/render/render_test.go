package render

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benno1237/bennos-cogs/internal/stats"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

func sampleCard(lines int) Card {
	c := Card{
		Title:      "[MVP+] Notch",
		TitleColor: stats.RGB{R: 0x55, G: 0xff, B: 0xff},
		Subtitle:   "Bedwars",
		Header:     stats.RGB{R: 255},
		ShowLevel:  true,
		Level:      stats.Level{Level: 112, Progress: 0.4},
	}
	for i := 0; i < lines; i++ {
		c.Lines = append(c.Lines, Line{Name: "Wins", Value: "1204", Delta: stats.Delta{Text: "2", Color: &stats.Green}})
	}
	return c
}

func TestPNGRendererProducesDecodableImage(t *testing.T) {
	data, err := PNGRenderer{Width: 400}.Render(sampleCard(8))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 400 {
		t.Fatalf("width=%d", b.Dx())
	}
	short, _ := PNGRenderer{Width: 400}.Render(sampleCard(1))
	simg, _ := png.Decode(bytes.NewReader(short))
	if simg.Bounds().Dy() >= b.Dy() {
		t.Fatalf("card should grow with lines: %d vs %d", simg.Bounds().Dy(), b.Dy())
	}
}

func TestPNGRendererClampsProgress(t *testing.T) {
	c := sampleCard(0)
	c.Level.Progress = 3
	if _, err := (PNGRenderer{}).Render(c); err != nil {
		t.Fatalf("render: %v", err)
	}
}

type funcRenderer func(Card) ([]byte, error)

func (f funcRenderer) Render(c Card) ([]byte, error) { return f(c) }

func TestPoolRendersConcurrently(t *testing.T) {
	var n atomic.Int32
	r := funcRenderer(func(c Card) ([]byte, error) {
		n.Add(1)
		return []byte(c.Title), nil
	})
	p := NewPool(context.Background(), r, 3, logx.Nop())
	defer p.Close(context.Background())

	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func() {
			b, err := p.Render(context.Background(), Card{Title: "x"})
			if err == nil && string(b) != "x" {
				err = errors.New("unexpected payload")
			}
			errs <- err
		}()
	}
	for i := 0; i < 10; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("render: %v", err)
		}
	}
	if n.Load() != 10 {
		t.Fatalf("renders=%d", n.Load())
	}
}

func TestPoolRecoversPanic(t *testing.T) {
	p := NewPool(context.Background(), funcRenderer(func(Card) ([]byte, error) { panic("boom") }), 1, logx.Nop())
	defer p.Close(context.Background())
	if _, err := p.Render(context.Background(), Card{}); err == nil {
		t.Fatalf("expected error from panicking renderer")
	}
	// worker survives
	if _, err := p.Render(context.Background(), Card{}); err == nil {
		t.Fatalf("expected error again")
	}
}

func TestPoolHonorsContextAndClose(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(context.Background(), funcRenderer(func(Card) ([]byte, error) {
		<-block
		return nil, nil
	}), 1, logx.Nop())
	defer close(block)

	go p.Render(context.Background(), Card{}) // occupies the only worker
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Render(ctx, Card{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestPoolClosed(t *testing.T) {
	p := NewPool(context.Background(), PNGRenderer{}, 1, logx.Nop())
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := p.Render(context.Background(), Card{}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("err=%v", err)
	}
}
