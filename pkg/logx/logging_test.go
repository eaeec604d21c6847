package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWriterLoggerAppliesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "autostats"))
	log.Info("task started", Int("entities", 3), Err(nil))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode: %v (%q)", err, buf.String())
	}
	if m["comp"] != "autostats" || m["message"] != "task started" {
		t.Fatalf("unexpected record: %v", m)
	}
	if m["entities"].(float64) != 3 {
		t.Fatalf("entities=%v", m["entities"])
	}
	if _, ok := m["err"]; ok {
		t.Fatalf("nil error must not be logged")
	}
}

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Error("nothing happens")
}

func TestFormatRecordSortsFields(t *testing.T) {
	out := formatRecord([]byte(`{"level":"warn","message":"poll failed","b":"2","a":1,"time":"x"}`))
	if !strings.HasPrefix(out, "```\n[WARN] poll failed") {
		t.Fatalf("unexpected header: %q", out)
	}
	if strings.Index(out, "- a=1") > strings.Index(out, "- b=2") {
		t.Fatalf("fields not sorted: %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be skipped: %q", out)
	}
}

func TestChannelSinkHonorsMinLevel(t *testing.T) {
	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 4)

	svc, log := New(Config{
		Level:   "debug",
		Console: false,
		Channel: ChannelConfig{Enabled: true, ChannelID: "42", MinLevel: "warn", RatePerSec: 100},
	})
	defer svc.Close()
	svc.SetPoster(func(ctx context.Context, channelID, text string) error {
		mu.Lock()
		got = append(got, channelID+"|"+text)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})

	log.Info("quiet")
	log.Warn("loud")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("channel sink never posted")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || !strings.HasPrefix(got[0], "42|") || !strings.Contains(got[0], "loud") {
		t.Fatalf("unexpected posts: %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	if _, ok := ParseLevel("bogus"); ok {
		t.Fatalf("bogus level accepted")
	}
	if lvl, ok := ParseLevel(" Warning "); !ok || lvl != LevelWarn {
		t.Fatalf("warning -> %v %v", lvl, ok)
	}
}
