package autostats

import (
	"context"
	"errors"
	"sync"

	"github.com/benno1237/bennos-cogs/internal/runtime/supervisor"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

// DefaultGuildCap bounds tasks sharing one guild API key.
const DefaultGuildCap = 5

// Registry indexes running tasks by trigger. Tasks that end on their own
// are removed by a watcher goroutine.
type Registry struct {
	log logx.Logger
	obs Observer
	sup *supervisor.Supervisor

	mu       sync.Mutex
	guildCap int
	tasks    map[string]*Task
	closed   bool
}

func NewRegistry(ctx context.Context, guildCap int, log logx.Logger, obs Observer) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	if guildCap <= 0 {
		guildCap = DefaultGuildCap
	}
	log = log.With(logx.String("comp", "autostats.registry"))
	return &Registry{
		log:      log,
		obs:      obs,
		sup:      supervisor.New(ctx, supervisor.WithLogger(log)),
		guildCap: guildCap,
		tasks:    map[string]*Task{},
	}
}

func (r *Registry) SetGuildCap(n int) {
	if n <= 0 {
		n = DefaultGuildCap
	}
	r.mu.Lock()
	r.guildCap = n
	r.mu.Unlock()
}

// Register inserts t under its trigger. Guild scoped tasks are limited per
// guild; the check and the insert happen under one lock.
func (r *Registry) Register(t *Task) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrTaskStopped
	}
	if _, ok := r.tasks[t.Trigger()]; ok {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if t.Scope() == ScopeGuild && r.countLocked(ScopeGuild, t.GuildID()) >= r.guildCap {
		r.mu.Unlock()
		return ErrCapacityExceeded
	}
	r.tasks[t.Trigger()] = t
	n := r.countLocked(t.Scope(), "")
	r.mu.Unlock()

	r.observe(t.Scope(), n)
	r.sup.Go0("autostats.watch."+t.ID(), func(ctx context.Context) { r.watch(ctx, t) })
	return nil
}

func (r *Registry) watch(ctx context.Context, t *Task) {
	select {
	case <-ctx.Done():
		return
	case <-t.Done():
	}
	if r.remove(t) {
		if err := t.Err(); err != nil {
			r.log.Warn("task ended with error", logx.String("trigger", t.Trigger()), logx.Err(err))
		}
	}
}

// remove deletes t if it is still the task registered for its trigger.
func (r *Registry) remove(t *Task) bool {
	r.mu.Lock()
	cur, ok := r.tasks[t.Trigger()]
	if !ok || cur != t {
		r.mu.Unlock()
		return false
	}
	delete(r.tasks, t.Trigger())
	n := r.countLocked(t.Scope(), "")
	r.mu.Unlock()
	r.observe(t.Scope(), n)
	return true
}

func (r *Registry) countLocked(scope Scope, guildID string) int {
	n := 0
	for _, t := range r.tasks {
		if t.Scope() == scope && (guildID == "" || t.GuildID() == guildID) {
			n++
		}
	}
	return n
}

func (r *Registry) observe(scope Scope, n int) {
	if r.obs != nil {
		r.obs.ObserveTasks(scope.String(), n)
	}
}

func (r *Registry) Get(trigger string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[trigger]
	return t, ok
}

// Count returns the tasks in scope across all guilds.
func (r *Registry) Count(scope Scope) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(scope, "")
}

// CountGuild returns the tasks drawing from guildID's shared key.
func (r *Registry) CountGuild(guildID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(ScopeGuild, guildID)
}

// Tasks lists the registered tasks, optionally filtered by guild.
func (r *Registry) Tasks(guildID string) []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if guildID == "" || t.GuildID() == guildID {
			out = append(out, t)
		}
	}
	return out
}

// Stop cancels the task for trigger and waits for it, bounded by ctx.
func (r *Registry) Stop(ctx context.Context, trigger string) error {
	r.mu.Lock()
	t, ok := r.tasks[trigger]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.tasks, trigger)
	n := r.countLocked(t.Scope(), "")
	r.mu.Unlock()

	r.observe(t.Scope(), n)
	t.Cancel()
	return t.Wait(ctx)
}

// StopAll cancels every task in scope, limited to guildID when set, and
// returns how many were stopped.
func (r *Registry) StopAll(ctx context.Context, scope Scope, guildID string) (int, error) {
	r.mu.Lock()
	var victims []*Task
	for trig, t := range r.tasks {
		if t.Scope() == scope && (guildID == "" || t.GuildID() == guildID) {
			victims = append(victims, t)
			delete(r.tasks, trig)
		}
	}
	n := r.countLocked(scope, "")
	r.mu.Unlock()
	if len(victims) == 0 {
		return 0, nil
	}
	r.observe(scope, n)
	return len(victims), cancelAndWait(ctx, victims)
}

func cancelAndWait(ctx context.Context, tasks []*Task) error {
	for _, t := range tasks {
		go t.Cancel()
	}
	var errs []error
	for _, t := range tasks {
		if err := t.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Shutdown cancels every task and waits for all of them and the watchers.
// Later registrations fail.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	all := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		all = append(all, t)
	}
	r.tasks = map[string]*Task{}
	r.mu.Unlock()

	r.observe(ScopeUser, 0)
	r.observe(ScopeGuild, 0)
	if err := cancelAndWait(ctx, all); err != nil && ctx.Err() != nil {
		return err
	}
	r.log.Info("autostats registry stopped", logx.Int("tasks", len(all)))
	return r.sup.Stop(ctx)
}
