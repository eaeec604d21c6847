// Package hypixel is the stats cog: one-shot stats cards, autostats polling
// tasks and the per-guild module configuration behind them.
package hypixel

import (
	"context"
	"sync"
	"time"

	"github.com/benno1237/bennos-cogs/internal/autostats"
	"github.com/benno1237/bennos-cogs/internal/config"
	"github.com/benno1237/bennos-cogs/internal/eventbus"
	"github.com/benno1237/bennos-cogs/internal/identity"
	"github.com/benno1237/bennos-cogs/internal/plugin"
	"github.com/benno1237/bennos-cogs/internal/stats"
	"github.com/benno1237/bennos-cogs/internal/storage"
	"github.com/benno1237/bennos-cogs/internal/transport"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

const catalogTimeout = 2 * time.Minute

// StatsAPI is the part of the Hypixel client the cog needs.
type StatsAPI interface {
	autostats.PlayerAPI
	CheckKey(ctx context.Context, key string) error
}

// CatalogObserver is told the catalog size after every refresh.
type CatalogObserver interface {
	ObserveCatalog(keys int)
}

type Options struct {
	API      StatsAPI
	Names    identity.NameLookup
	Catalog  *stats.Catalog
	Registry *autostats.Registry
	Renderer autostats.CardRenderer
	Observer autostats.Observer

	// RefreshCatalog reloads Catalog from the remote key list. Optional.
	RefreshCatalog  func(ctx context.Context, cat *stats.Catalog) (int, error)
	CatalogObserver CatalogObserver
	CatalogSchedule string

	Autostats config.AutostatsConfig
}

type Cog struct {
	plugin.PluginBase

	opt      Options
	set      settings
	bindings identity.StoreBindings
	resolver *identity.Resolver

	mu sync.RWMutex
	as config.AutostatsConfig
}

func New(opt Options) *Cog {
	if opt.Catalog == nil {
		opt.Catalog = stats.NewCatalog()
	}
	if opt.CatalogSchedule == "" {
		opt.CatalogSchedule = config.DefaultCatalogRefresh
	}
	return &Cog{opt: opt, as: opt.Autostats}
}

func (c *Cog) Name() string { return "hypixel" }

func (c *Cog) Init(_ context.Context, deps plugin.Deps) error {
	c.InitBase(deps, c.Name())
	c.set = settings{st: deps.Store, catalog: c.opt.Catalog, locks: &storage.Locks{}}
	c.bindings = identity.StoreBindings{Store: deps.Store}

	var members identity.MemberFinder
	if mf, ok := deps.Adapter.(transport.MemberFinder); ok {
		members = mf
	}
	c.resolver = identity.NewResolver(c.bindings, c.opt.Names, members, c.Log)

	if deps.Config != nil {
		if cfg := deps.Config.Get(); cfg != nil {
			c.as = cfg.Autostats
		}
	}
	return nil
}

func (c *Cog) Start(ctx context.Context) error {
	c.StartBase(ctx)
	if c.opt.RefreshCatalog == nil {
		return nil
	}
	c.Runner.Go("catalog.initial", func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, catalogTimeout)
		defer cancel()
		if err := c.refreshCatalog(cctx); err != nil {
			c.Log.Warn("initial catalog refresh failed, using built-in keys", logx.Err(err))
		}
		return nil
	})
	if err := c.Cron("catalog", c.opt.CatalogSchedule, catalogTimeout, c.refreshCatalog); err != nil {
		c.Log.Warn("catalog schedule not registered", logx.String("spec", c.opt.CatalogSchedule), logx.Err(err))
	}
	return nil
}

func (c *Cog) Stop(ctx context.Context) error {
	if c.Deps.Scheduler != nil {
		c.Deps.Scheduler.Remove(c.Name() + ":catalog")
	}
	if c.opt.Registry != nil {
		for _, scope := range []autostats.Scope{autostats.ScopeUser, autostats.ScopeGuild} {
			if _, err := c.opt.Registry.StopAll(ctx, scope, ""); err != nil {
				c.Log.Warn("stopping autostats tasks", logx.String("scope", scope.String()), logx.Err(err))
			}
		}
	}
	return c.StopBase(ctx)
}

// OnConfigChange applies the autostats section live. Running tasks keep
// the interval and timeout they started with.
func (c *Cog) OnConfigChange(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	c.mu.Lock()
	c.as = cfg.Autostats
	c.mu.Unlock()
	if c.opt.Registry != nil {
		c.opt.Registry.SetGuildCap(cfg.Autostats.GuildCapOrDefault())
	}
	return nil
}

func (c *Cog) autostatsConfig() config.AutostatsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.as
}

func (c *Cog) refreshCatalog(ctx context.Context) error {
	n, err := c.opt.RefreshCatalog(ctx, c.opt.Catalog)
	if err != nil {
		return err
	}
	if c.opt.CatalogObserver != nil {
		c.opt.CatalogObserver.ObserveCatalog(n)
	}
	c.PublishEvent(eventbus.CatalogRefreshed, map[string]int{"keys": n})
	c.Log.Info("catalog refreshed", logx.Int("keys", n))
	return nil
}
