package plugin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benno1237/bennos-cogs/internal/eventbus"
	"github.com/benno1237/bennos-cogs/internal/transport"
	"github.com/benno1237/bennos-cogs/internal/transport/router"
	"github.com/benno1237/bennos-cogs/internal/transport/transporttest"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

type stubCog struct {
	PluginBase
	name     string
	startErr error
	panicky  bool
	stopped  bool
	events   []transport.UpdateKind
}

func (s *stubCog) Name() string { return s.name }

func (s *stubCog) Init(_ context.Context, deps Deps) error {
	s.InitBase(deps, s.name)
	return nil
}

func (s *stubCog) Start(ctx context.Context) error {
	if s.panicky {
		panic("broken start")
	}
	if s.startErr != nil {
		return s.startErr
	}
	s.StartBase(ctx)
	return nil
}

func (s *stubCog) Stop(ctx context.Context) error {
	s.stopped = true
	return s.StopBase(ctx)
}

func (s *stubCog) Commands() []Command {
	return []Command{{Route: s.name + " ping", Handle: func(context.Context, *Request) error { return nil }}}
}

func (s *stubCog) HandleEvent(_ context.Context, up transport.Update) {
	s.events = append(s.events, up.Kind)
}

func TestStartAllIsolatesFailures(t *testing.T) {
	bus := eventbus.New()
	evs, unsub := bus.Subscribe(16)
	defer unsub()

	cmdm := router.NewCommandManager(logx.Nop(), transporttest.New(), router.Options{})
	pm := NewManager(logx.Nop(), Deps{Bus: bus}, cmdm)
	good := &stubCog{name: "good"}
	bad := &stubCog{name: "bad", startErr: errors.New("no")}
	boom := &stubCog{name: "boom", panicky: true}
	pm.Register(good, bad, boom)

	if err := pm.StartAll(context.Background()); err == nil {
		t.Fatalf("expected joined start error")
	}
	snap := pm.Snapshot(context.Background())
	if len(snap) != 3 || !snap[0].Running || snap[1].Running || snap[2].Running {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap[0].Health != "ok" || snap[1].Err == "" || snap[2].Err == "" {
		t.Fatalf("snapshot=%+v", snap)
	}

	cmdm.Route(context.Background(), transport.Update{Kind: transport.UpdateVoice, Voice: &transport.VoiceState{}})
	if len(good.events) != 1 || len(bad.events) != 0 {
		t.Fatalf("events good=%v bad=%v", good.events, bad.events)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pm.StopAll(ctx)
	if !good.stopped || bad.stopped {
		t.Fatalf("stop flags good=%v bad=%v", good.stopped, bad.stopped)
	}

	var types []string
	for len(evs) > 0 {
		types = append(types, (<-evs).Type)
	}
	want := []string{eventbus.PluginStarted, eventbus.PluginFailed, eventbus.PluginFailed, eventbus.PluginStopped}
	if len(types) != len(want) {
		t.Fatalf("events=%v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events=%v", types)
		}
	}
}

func TestStartTimeout(t *testing.T) {
	pm := NewManager(logx.Nop(), Deps{}, nil)
	pm.StartTimeout = 20 * time.Millisecond
	pm.Register(&slowCog{stubCog{name: "slow"}})
	if err := pm.StartAll(context.Background()); err == nil {
		t.Fatalf("expected timeout")
	}
}

type slowCog struct{ stubCog }

func (s *slowCog) Start(ctx context.Context) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}
