// Package birthday is the birthday cog: members register their birthday,
// the bot announces it at the guild's local midnight and hands out the
// birthday role for the day.
package birthday

import (
	"context"
	"time"

	bday "github.com/benno1237/bennos-cogs/internal/birthday"
	"github.com/benno1237/bennos-cogs/internal/config"
	"github.com/benno1237/bennos-cogs/internal/plugin"
	"github.com/benno1237/bennos-cogs/internal/runtime/supervisor"
	"github.com/benno1237/bennos-cogs/internal/transport"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

const guildListTimeout = 30 * time.Second

type Options struct {
	Observer  bday.Observer
	DefaultTZ string
}

type Cog struct {
	plugin.PluginBase

	opt   Options
	store *bday.Store
	ann   *bday.Birthdays
	sched *bday.Scheduler
}

func New(opt Options) *Cog { return &Cog{opt: opt} }

func (c *Cog) Name() string { return "birthday" }

func (c *Cog) Init(_ context.Context, deps plugin.Deps) error {
	c.InitBase(deps, c.Name())
	tz := c.opt.DefaultTZ
	if deps.Config != nil {
		if cfg := deps.Config.Get(); cfg != nil {
			tz = cfg.Birthday.TimezoneOrDefault()
		}
	}
	c.store = &bday.Store{S: deps.Store, DefaultTZ: tz}
	c.ann = &bday.Birthdays{
		Store:    c.store,
		Adapter:  deps.Adapter,
		Log:      c.Log,
		Bus:      deps.Bus,
		Observer: c.opt.Observer,
	}
	c.sched = bday.NewScheduler(c.ann, c.store, c.Log)
	return nil
}

func (c *Cog) Start(ctx context.Context) error {
	c.StartBase(ctx)

	lctx, cancel := context.WithTimeout(ctx, guildListTimeout)
	guilds, err := c.Deps.Adapter.Guilds(lctx)
	cancel()
	if err != nil {
		// Guild join events fill the schedule in later.
		c.Log.Warn("listing guilds failed", logx.Err(err))
	}
	ids := make([]string, 0, len(guilds))
	for _, g := range guilds {
		ids = append(ids, g.ID)
	}
	c.sched.Init(ctx, ids)

	c.Runner.GoRestart("birthday.scheduler", c.sched.Run,
		supervisor.WithRestartBackoff(time.Second, time.Minute),
	)
	return nil
}

func (c *Cog) Stop(ctx context.Context) error { return c.StopBase(ctx) }

// OnConfigChange re-plans every guild when the default timezone moved.
func (c *Cog) OnConfigChange(ctx context.Context, cfg *config.Config) error {
	if cfg == nil || c.store == nil {
		return nil
	}
	if !c.store.SetDefaultTZ(cfg.Birthday.TimezoneOrDefault()) {
		return nil
	}
	for _, g := range c.sched.GuildIDs() {
		c.sched.TimezoneChanged(ctx, g)
	}
	return nil
}

func (c *Cog) HandleEvent(ctx context.Context, up transport.Update) error {
	if up.Guild == nil {
		return nil
	}
	switch up.Kind {
	case transport.UpdateGuildJoin:
		c.sched.GuildJoined(ctx, up.Guild.ID)
	case transport.UpdateGuildRemove:
		c.sched.GuildRemoved(up.Guild.ID)
	}
	return nil
}
