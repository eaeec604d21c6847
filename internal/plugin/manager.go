package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/benno1237/bennos-cogs/internal/config"
	"github.com/benno1237/bennos-cogs/internal/eventbus"
	"github.com/benno1237/bennos-cogs/internal/transport"
	"github.com/benno1237/bennos-cogs/internal/transport/router"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

const defaultStartTimeout = 30 * time.Second

type Plugin interface {
	Name() string
	Init(ctx context.Context, deps Deps) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Commands() []Command
}

// EventHandler is implemented by cogs that react to voice and guild updates.
type EventHandler interface {
	HandleEvent(ctx context.Context, up transport.Update)
}

type ConfigurablePlugin interface {
	OnConfigChange(ctx context.Context, cfg *config.Config) error
}

type HealthChecker interface {
	Health(ctx context.Context) (status string, err error)
}

type Status struct {
	Name    string
	Running bool
	Health  string
	Err     string
}

// Manager owns cog lifecycles and publishes their commands to the router.
type Manager struct {
	mu      sync.Mutex
	log     logx.Logger
	deps    Deps
	cmdm    *router.CommandManager
	order   []string
	reg     map[string]Plugin
	run     map[string]bool
	lastErr map[string]string
	hooked  bool

	StartTimeout time.Duration
}

func NewManager(log logx.Logger, deps Deps, cmdm *router.CommandManager) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{
		log:          log.With(logx.String("comp", "plugins")),
		deps:         deps,
		cmdm:         cmdm,
		reg:          map[string]Plugin{},
		run:          map[string]bool{},
		lastErr:      map[string]string{},
		StartTimeout: defaultStartTimeout,
	}
}

func (pm *Manager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		name := pl.Name()
		if _, dup := pm.reg[name]; !dup {
			pm.order = append(pm.order, name)
		}
		pm.reg[name] = pl
	}
}

func (pm *Manager) emit(typ string, ev eventbus.PluginEvent) {
	if pm.deps.Bus != nil {
		pm.deps.Bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

// StartAll initializes and starts every registered cog in registration order.
// A cog that fails stays stopped; the others keep running.
func (pm *Manager) StartAll(ctx context.Context) error {
	pm.mu.Lock()
	names := slices.Clone(pm.order)
	if !pm.hooked && pm.cmdm != nil {
		pm.cmdm.OnEvent(pm.dispatchEvent)
		pm.hooked = true
	}
	pm.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := pm.startOne(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	pm.refreshRegistry()
	return errors.Join(errs...)
}

func (pm *Manager) startOne(ctx context.Context, name string) error {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	deps := pm.deps
	pm.mu.Unlock()
	if p == nil || running {
		return nil
	}

	start := time.Now()
	deps.Logger = pm.log
	stage := "init"
	err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ctx, deps) })
	if err == nil {
		stage = "start"
		err = pm.startWithTimeout(name, p, ctx)
	}

	pm.mu.Lock()
	if err != nil {
		pm.lastErr[name] = err.Error()
	} else {
		pm.run[name] = true
		delete(pm.lastErr, name)
	}
	pm.mu.Unlock()

	if err != nil {
		pm.log.Error("plugin failed", logx.String("plugin", name), logx.String("stage", stage), logx.Err(err))
		pm.emit(eventbus.PluginFailed, eventbus.PluginEvent{Plugin: name, Stage: stage, Err: err.Error()})
		return err
	}
	took := time.Since(start)
	pm.log.Info("plugin started", logx.String("plugin", name), logx.Duration("took", took))
	pm.emit(eventbus.PluginStarted, eventbus.PluginEvent{Plugin: name, TookMS: took.Milliseconds()})
	return nil
}

// startWithTimeout calls Start but gives up after StartTimeout.
func (pm *Manager) startWithTimeout(name string, p Plugin, ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(ctx) })
	}()
	if pm.StartTimeout <= 0 {
		return <-done
	}
	t := time.NewTimer(pm.StartTimeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		return fmt.Errorf("start timeout (%s)", pm.StartTimeout)
	}
}

// StopAll stops running cogs in reverse registration order.
func (pm *Manager) StopAll(ctx context.Context) {
	pm.mu.Lock()
	names := slices.Clone(pm.order)
	pm.mu.Unlock()
	slices.Reverse(names)
	for _, name := range names {
		pm.stopOne(ctx, name)
	}
	pm.refreshRegistry()
}

func (pm *Manager) stopOne(ctx context.Context, name string) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	pm.run[name] = false
	pm.mu.Unlock()
	if !running || p == nil {
		return
	}

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- pm.safeCall("plugin.stop."+name, func() error { return p.Stop(ctx) }) }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name))
	}
	ev := eventbus.PluginEvent{Plugin: name, TookMS: time.Since(start).Milliseconds()}
	if err != nil {
		ev.Err = err.Error()
		pm.log.Warn("plugin stop failed", logx.String("plugin", name), logx.Err(err))
	} else {
		pm.log.Info("plugin stopped", logx.String("plugin", name), logx.Duration("took", time.Since(start)))
	}
	pm.emit(eventbus.PluginStopped, ev)
}

// OnConfigUpdate forwards a committed config to running cogs.
func (pm *Manager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	for _, p := range pm.running() {
		cp, ok := p.(ConfigurablePlugin)
		if !ok {
			continue
		}
		if err := pm.safeCall("plugin.config."+p.Name(), func() error { return cp.OnConfigChange(ctx, cfg) }); err != nil {
			pm.log.Warn("plugin config change failed", logx.String("plugin", p.Name()), logx.Err(err))
		}
	}
}

func (pm *Manager) dispatchEvent(ctx context.Context, up transport.Update) {
	for _, p := range pm.running() {
		h, ok := p.(EventHandler)
		if !ok {
			continue
		}
		_ = pm.safeCall("plugin.event."+p.Name(), func() error {
			h.HandleEvent(ctx, up)
			return nil
		})
	}
}

func (pm *Manager) running() []Plugin {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]Plugin, 0, len(pm.order))
	for _, name := range pm.order {
		if pm.run[name] {
			out = append(out, pm.reg[name])
		}
	}
	return out
}

func (pm *Manager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (pm *Manager) refreshRegistry() {
	if pm.cmdm == nil {
		return
	}
	var cmds []Command
	for _, p := range pm.running() {
		for _, c := range pm.safeCommands(p) {
			c.PluginName = p.Name()
			cmds = append(cmds, c)
		}
	}
	pm.cmdm.SetRegistry(cmds)
}

func (pm *Manager) safeCommands(p Plugin) (out []Command) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin Commands()", logx.String("plugin", p.Name()), logx.Any("panic", r))
			out = nil
		}
	}()
	return p.Commands()
}

// Snapshot reports every registered cog in registration order.
func (pm *Manager) Snapshot(ctx context.Context) []Status {
	pm.mu.Lock()
	out := make([]Status, 0, len(pm.order))
	plugins := make([]Plugin, 0, len(pm.order))
	for _, name := range pm.order {
		out = append(out, Status{Name: name, Running: pm.run[name], Err: pm.lastErr[name]})
		plugins = append(plugins, pm.reg[name])
	}
	pm.mu.Unlock()
	for i, p := range plugins {
		if hc, ok := p.(HealthChecker); ok && out[i].Running {
			st, err := hc.Health(ctx)
			out[i].Health = st
			if err != nil {
				out[i].Err = err.Error()
			}
		}
	}
	return out
}
