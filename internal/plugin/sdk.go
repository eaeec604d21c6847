package plugin

import (
	"context"
	"errors"
	"time"

	"github.com/benno1237/bennos-cogs/internal/config"
	"github.com/benno1237/bennos-cogs/internal/eventbus"
	"github.com/benno1237/bennos-cogs/internal/runtime/supervisor"
	"github.com/benno1237/bennos-cogs/internal/storage"
	"github.com/benno1237/bennos-cogs/internal/task/scheduler"
	"github.com/benno1237/bennos-cogs/internal/transport"
	"github.com/benno1237/bennos-cogs/internal/transport/router"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

// Deps is what the host hands to every cog.
type Deps struct {
	Logger    logx.Logger
	Adapter   transport.Adapter
	Config    *config.ConfigManager
	Bus       eventbus.Bus
	Store     storage.Store
	Scheduler *scheduler.Service
}

// PluginBase carries the plumbing shared by cogs. Typical usage:
//
//	type Cog struct{ plugin.PluginBase }
//	func (c *Cog) Init(ctx context.Context, deps plugin.Deps) error { c.InitBase(deps, c.Name()); return nil }
//	func (c *Cog) Start(ctx context.Context) error { c.StartBase(ctx); c.Runner.Go(...); return nil }
//	func (c *Cog) Stop(ctx context.Context) error { return c.StopBase(ctx) }
type PluginBase struct {
	Log    logx.Logger
	Deps   Deps
	Runner *supervisor.Supervisor

	name string
	ctx  context.Context
}

func (b *PluginBase) InitBase(deps Deps, name string) {
	b.Deps = deps
	b.name = name
	log := deps.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	b.Log = log.With(logx.String("comp", name))
}

// StartBase creates the cog supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = supervisor.New(ctx, supervisor.WithLogger(b.Log), supervisor.WithCancelOnError(false))
}

// StopBase cancels the supervisor and waits, bounded by ctx.
func (b *PluginBase) StopBase(ctx context.Context) error {
	if b.Runner == nil {
		return nil
	}
	err := b.Runner.Stop(ctx)
	b.Runner = nil
	return err
}

// Context is canceled when the cog stops.
func (b *PluginBase) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// Health reports whether the cog is running.
func (b *PluginBase) Health(context.Context) (string, error) {
	if b.ctx == nil {
		return "not_started", nil
	}
	select {
	case <-b.ctx.Done():
		return "stopped", b.ctx.Err()
	default:
	}
	return "ok", nil
}

// Cron registers a job on the shared scheduler, namespaced by cog name.
func (b *PluginBase) Cron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	if b.Deps.Scheduler == nil {
		return errors.New("scheduler not available")
	}
	return b.Deps.Scheduler.Add(b.name+":"+name, spec, timeout, job)
}

// AppendAudit is best effort; a failure is only logged.
func (b *PluginBase) AppendAudit(ctx context.Context, e storage.AuditEntry) {
	if b.Deps.Store == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.Plugin == "" {
		e.Plugin = b.name
	}
	if err := b.Deps.Store.AppendAudit(ctx, e); err != nil {
		b.Log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func (b *PluginBase) PublishEvent(typ string, data any) {
	if b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

// Access and command aliases so cogs only import this package for the
// command surface.
type (
	Command     = router.Command
	Request     = router.Request
	HandlerFunc = router.HandlerFunc
)

const (
	AccessEveryone   = router.AccessEveryone
	AccessGuild      = router.AccessGuild
	AccessGuildAdmin = router.AccessGuildAdmin
	AccessOwnerOnly  = router.AccessOwnerOnly
)
