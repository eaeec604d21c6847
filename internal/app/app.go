package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benno1237/bennos-cogs/internal/autostats"
	"github.com/benno1237/bennos-cogs/internal/config"
	"github.com/benno1237/bennos-cogs/internal/eventbus"
	"github.com/benno1237/bennos-cogs/internal/hypixel"
	"github.com/benno1237/bennos-cogs/internal/metrics"
	"github.com/benno1237/bennos-cogs/internal/observability"
	"github.com/benno1237/bennos-cogs/internal/plugin"
	"github.com/benno1237/bennos-cogs/internal/render"
	"github.com/benno1237/bennos-cogs/internal/runtime/supervisor"
	"github.com/benno1237/bennos-cogs/internal/stats"
	"github.com/benno1237/bennos-cogs/internal/storage"
	"github.com/benno1237/bennos-cogs/internal/task/scheduler"
	"github.com/benno1237/bennos-cogs/internal/transport"
	"github.com/benno1237/bennos-cogs/internal/transport/discord"
	"github.com/benno1237/bennos-cogs/internal/transport/router"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
	"github.com/benno1237/bennos-cogs/pkg/systemd"
	birthdaycog "github.com/benno1237/bennos-cogs/plugins/birthday"
	hypixelcog "github.com/benno1237/bennos-cogs/plugins/hypixel"
	systemcog "github.com/benno1237/bennos-cogs/plugins/system"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	adapter transport.Adapter

	// root outlives the app supervisor so running tasks can be drained
	// in order during Stop.
	root       context.Context
	rootCancel context.CancelFunc

	sched   *scheduler.Service
	pool    *render.Pool
	tasks   *autostats.Registry
	metrics *metrics.Manager
	obs     *observability.Service

	cmdm *router.CommandManager
	pm   *plugin.Manager

	updates chan transport.Update
}

// New loads the config and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.ToLogx())
	log = log.With(logx.String("comp", "app"))

	token := os.Getenv(cfg.Discord.TokenEnvOrDefault())
	ad, err := discord.New(discord.Config{Token: token}, logSvc.Logger())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.Discord.TokenEnvOrDefault(), err)
	}
	logSvc.SetPoster(func(ctx context.Context, channelID, text string) error {
		_, err := ad.SendText(ctx, channelID, text)
		return err
	})

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	mm := metrics.New(metrics.WithNamespace("cogs"), metrics.WithRuntimeCollectors())
	obs := observability.New(mapObservabilityConfig(cfg), mm.Handler(), logSvc.Logger())
	bus := eventbus.New()

	root, rootCancel := context.WithCancel(context.Background())
	pool := render.NewPool(root, render.PNGRenderer{Width: cfg.Render.Width, Height: cfg.Render.Height},
		cfg.Render.WorkersOrDefault(), logSvc.Logger())
	tasks := autostats.NewRegistry(root, cfg.Autostats.GuildCapOrDefault(), logSvc.Logger(), mm)
	sched := scheduler.New(time.UTC, logSvc.Logger())

	hc := cfg.Hypixel.WithDefaults()
	api := hypixel.NewClient(hypixel.Config{
		BaseURL:    hc.BaseURL,
		UserAgent:  hc.UserAgent,
		RatePerSec: hc.RatePerSec,
		Burst:      hc.Burst,
		Timeout:    hc.RequestTimeoutOrDefault(),
		Observer:   mm,
	}, logSvc.Logger())
	mojang := hypixel.NewMojang(hc.MojangURL, hc.UserAgent, hc.RequestTimeoutOrDefault(), mm)
	catalog := hypixel.CatalogSource{URL: hc.CatalogURL, UserAgent: hc.UserAgent}

	cmdm := router.NewCommandManager(logSvc.Logger(), ad, router.Options{
		Prefix:   cfg.Discord.PrefixOrDefault(),
		Owners:   cfg.Discord.OwnerUserIDs,
		Workers:  cfg.Discord.Workers,
		Timeout:  cfg.Discord.CommandTimeoutOrDefault(),
		Observer: mm,
	})

	pm := plugin.NewManager(logSvc.Logger(), plugin.Deps{
		Logger:    logSvc.Logger(),
		Adapter:   ad,
		Config:    cfgm,
		Bus:       bus,
		Store:     store,
		Scheduler: sched,
	}, cmdm)

	pm.Register(
		systemcog.New(systemcog.Options{Plugins: pm, Tasks: tasks, Logs: logSvc, Bus: bus}),
		hypixelcog.New(hypixelcog.Options{
			API:             api,
			Names:           mojang,
			Catalog:         stats.NewCatalog(),
			Registry:        tasks,
			Renderer:        pool,
			Observer:        mm,
			RefreshCatalog:  catalog.Refresh,
			CatalogObserver: mm,
			CatalogSchedule: hc.CatalogRefresh,
			Autostats:       cfg.Autostats,
		}),
	)
	if cfg.Birthday.Enabled {
		pm.Register(birthdaycog.New(birthdaycog.Options{Observer: mm, DefaultTZ: cfg.Birthday.TimezoneOrDefault()}))
	}

	return &App{
		cfgm:       cfgm,
		log:        log,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		adapter:    ad,
		root:       root,
		rootCancel: rootCancel,
		sched:      sched,
		pool:       pool,
		tasks:      tasks,
		metrics:    mm,
		obs:        obs,
		cmdm:       cmdm,
		pm:         pm,
		updates:    make(chan transport.Update, 256),
	}, nil
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	return observability.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.AddrOrDefault(),
		Pprof:   cfg.Metrics.Pprof,
		Token:   cfg.Metrics.Token,
	}
}

func (a *App) Plugins() *plugin.Manager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())
	a.obs.Start(a.sup.Context())

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		// Failed cogs stay stopped; the rest of the bot keeps serving.
		a.log.Error("some cogs failed to start", logx.Err(err))
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if e.Type == eventbus.PluginFailed {
					a.log.Warn("event", logx.String("type", e.Type), logx.Any("data", e.Data))
					continue
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", systemd.Watchdog)

	if sent, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	_, _ = systemd.Status(fmt.Sprintf("serving %d cogs", len(a.pm.Snapshot(a.sup.Context()))))
	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready() }()

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart", logx.Strings("sections", restart))
	}

	a.logs.Apply(newCfg.Logging.ToLogx())
	a.cmdm.SetPrefix(newCfg.Discord.PrefixOrDefault())
	a.cmdm.SetOwners(newCfg.Discord.OwnerUserIDs)
	a.obs.Reconfigure(ctx, mapObservabilityConfig(newCfg))
	a.pm.OnConfigUpdate(ctx, newCfg)
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	var errs []error
	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("plugins", 10*time.Second, func(c context.Context) error { a.pm.StopAll(c); return nil })
	step("autostats", 10*time.Second, a.tasks.Shutdown)
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("render", 2*time.Second, a.pool.Close)
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, a.sup.Wait)
	a.rootCancel()

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
