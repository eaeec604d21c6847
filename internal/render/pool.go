package render

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/benno1237/bennos-cogs/internal/runtime/supervisor"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

var ErrPoolClosed = errors.New("render: pool closed")

type job struct {
	card Card
	out  chan result
}

type result struct {
	data []byte
	err  error
}

// Pool runs renders on a fixed set of worker goroutines so image encoding
// never blocks a polling loop's goroutine directly.
type Pool struct {
	r    Renderer
	log  logx.Logger
	jobs chan job
	sup  *supervisor.Supervisor

	closeOnce sync.Once
}

func NewPool(ctx context.Context, r Renderer, workers int, log logx.Logger) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = 1
	}
	log = log.With(logx.String("comp", "render"))
	p := &Pool{
		r:    r,
		log:  log,
		jobs: make(chan job),
		sup:  supervisor.New(ctx, supervisor.WithLogger(log)),
	}
	for i := 0; i < workers; i++ {
		p.sup.Go0(fmt.Sprintf("render.worker.%d", i), p.worker)
	}
	return p
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			j.out <- p.exec(j.card)
		}
	}
}

func (p *Pool) exec(c Card) (res result) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("render panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res = result{err: fmt.Errorf("render panic: %v", r)}
		}
	}()
	data, err := p.r.Render(c)
	return result{data: data, err: err}
}

// Render queues c and waits for the result. The wait honors ctx; a render
// already picked up by a worker finishes in the background.
func (p *Pool) Render(ctx context.Context, c Card) ([]byte, error) {
	j := job{card: c, out: make(chan result, 1)}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.sup.Context().Done():
		return nil, ErrPoolClosed
	case p.jobs <- j:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-j.out:
		return res.data, res.err
	}
}

// Close stops the workers and waits for them.
func (p *Pool) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() { err = p.sup.Stop(ctx) })
	return err
}
