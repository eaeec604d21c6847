package system

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benno1237/bennos-cogs/internal/autostats"
	"github.com/benno1237/bennos-cogs/internal/plugin"
	"github.com/benno1237/bennos-cogs/internal/task/scheduler"
	"github.com/benno1237/bennos-cogs/internal/transport/router"
	"github.com/benno1237/bennos-cogs/internal/transport/transporttest"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

type staticLister []plugin.Status

func (s staticLister) Snapshot(context.Context) []plugin.Status { return s }

type counter uint64

func (c counter) Dropped() uint64 { return uint64(c) }

func newCog(t *testing.T, opt Options) (*Cog, *transporttest.Fake) {
	t.Helper()
	fake := transporttest.New()
	sched := scheduler.New(time.UTC, logx.Nop())
	if err := sched.Add("birthday:100", "@every 1h", 0, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("add job: %v", err)
	}
	c := New(opt)
	if err := c.Init(context.Background(), plugin.Deps{Logger: logx.Nop(), Adapter: fake, Scheduler: sched}); err != nil {
		t.Fatalf("init: %v", err)
	}
	return c, fake
}

func run(t *testing.T, c *Cog, fake *transporttest.Fake, route string, args ...string) string {
	t.Helper()
	for _, cmd := range c.Commands() {
		if cmd.Route != route {
			continue
		}
		req := &router.Request{ChannelID: "1", Args: args, Adapter: fake, Logger: logx.Nop()}
		if err := cmd.Handle(context.Background(), req); err != nil {
			t.Fatalf("%s: %v", route, err)
		}
		texts := fake.Texts()
		if len(texts) == 0 {
			t.Fatalf("%s: nothing sent", route)
		}
		return texts[len(texts)-1]
	}
	t.Fatalf("no command %q", route)
	return ""
}

func TestPing(t *testing.T) {
	c, fake := newCog(t, Options{})
	if got := run(t, c, fake, "ping"); got != "pong" {
		t.Fatalf("ping = %q", got)
	}
}

func TestSysinfoReportsDrops(t *testing.T) {
	c, fake := newCog(t, Options{Logs: counter(3), Bus: counter(7)})
	got := run(t, c, fake, "sysinfo")
	if !strings.Contains(got, "log_dropped: 3") || !strings.Contains(got, "events_dropped: 7") {
		t.Fatalf("sysinfo = %q", got)
	}
}

func TestSchedListShowsJobs(t *testing.T) {
	c, fake := newCog(t, Options{})
	got := run(t, c, fake, "sched list")
	if !strings.Contains(got, "birthday:100") || !strings.Contains(got, "@every 1h") {
		t.Fatalf("sched list = %q", got)
	}
}

func TestHealthDegradedOnFailedCog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := autostats.NewRegistry(ctx, 0, logx.Nop(), nil)
	c, fake := newCog(t, Options{
		Plugins: staticLister{
			{Name: "hypixel", Running: true, Health: "ok"},
			{Name: "birthday", Running: false, Err: "boom"},
		},
		Tasks: reg,
	})
	got := run(t, c, fake, "health")
	for _, want := range []string{"status: degraded", "autostats: 0 user, 0 guild", "- birthday: stopped (boom)", "scheduled jobs: 1"} {
		if !strings.Contains(got, want) {
			t.Fatalf("health missing %q in %q", want, got)
		}
	}
}

func TestTasksEmpty(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, fake := newCog(t, Options{Tasks: autostats.NewRegistry(ctx, 0, logx.Nop(), nil)})
	if got := run(t, c, fake, "tasks"); got != "no autostats tasks" {
		t.Fatalf("tasks = %q", got)
	}
}

func TestDurRel(t *testing.T) {
	cases := map[time.Duration]string{
		42 * time.Second:              "42s",
		3*time.Minute + 5*time.Second: "3m5s",
		5*time.Hour + 2*time.Minute:   "5h2m",
		50 * time.Hour:                "2d2h",
	}
	for d, want := range cases {
		if got := durRel(d); got != want {
			t.Fatalf("durRel(%s) = %q, want %q", d, got, want)
		}
	}
}
