package autostats

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/benno1237/bennos-cogs/internal/eventbus"
	"github.com/benno1237/bennos-cogs/internal/hypixel"
	"github.com/benno1237/bennos-cogs/internal/render"
	"github.com/benno1237/bennos-cogs/internal/stats"
	"github.com/benno1237/bennos-cogs/internal/transport"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

var ErrTaskStopped = errors.New("autostats: task stopped")

const cleanupTimeout = 15 * time.Second

type State int32

const (
	StateStarting State = iota
	StatePolling
	StateRendering
	StateTimedOut
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateRendering:
		return "rendering"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// CardRenderer is satisfied by *render.Pool.
type CardRenderer interface {
	Render(ctx context.Context, c render.Card) ([]byte, error)
}

type TaskConfig struct {
	Trigger     string // user id or voice channel id
	Scope       Scope
	GuildID     string
	ChannelID   string // where cards are posted
	Mode        hypixel.Mode
	Modules     []stats.Module
	Header      stats.RGB
	Interval    time.Duration
	Timeout     time.Duration
	MaxEntities int
	Policy      ChangePolicy
}

type TaskDeps struct {
	Fetcher  Fetcher
	Renderer CardRenderer
	Adapter  transport.Adapter
	Log      logx.Logger
	Bus      eventbus.Bus
	Observer Observer
	Now      func() time.Time
}

// Task is one polling loop. It owns its goroutine, its cancel func and a
// done channel closed when the loop (or a failed start) is over.
type Task struct {
	id    string
	cfg   TaskConfig
	deps  TaskDeps
	watch string
	log   logx.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	cancelOnce sync.Once
	doneOnce   sync.Once
	state      atomic.Int32

	mu         sync.Mutex
	entities   []Entity
	handles    []transport.MessageRef
	lastUpdate time.Time
	started    bool
	cancelled  bool
	reason     string
	err        error
}

// NewTask builds a task bound to parent. Nothing runs until Start.
func NewTask(parent context.Context, cfg TaskConfig, deps TaskDeps, ents []Entity) *Task {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Hour
	}
	if cfg.Policy == nil {
		cfg.Policy = Representative{}
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	watch := cfg.Mode.WatchKey
	if watch == "" && len(cfg.Modules) > 0 {
		watch = cfg.Modules[0].Key
	}
	id := uuid.NewString()
	t := &Task{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		watch:    watch,
		done:     make(chan struct{}),
		entities: dedupe(ents),
		log: deps.Log.With(
			logx.String("comp", "autostats"),
			logx.String("task_id", id[:8]),
			logx.String("trigger", cfg.Trigger),
			logx.String("scope", cfg.Scope.String()),
		),
	}
	t.ctx, t.cancel = context.WithCancel(parent)
	return t
}

func dedupe(ents []Entity) []Entity {
	out := make([]Entity, 0, len(ents))
	for _, e := range ents {
		if !slices.ContainsFunc(out, func(x Entity) bool { return x.UUID == e.UUID }) {
			out = append(out, e)
		}
	}
	return out
}

func (t *Task) ID() string            { return t.id }
func (t *Task) Trigger() string       { return t.cfg.Trigger }
func (t *Task) Scope() Scope          { return t.cfg.Scope }
func (t *Task) GuildID() string       { return t.cfg.GuildID }
func (t *Task) ChannelID() string     { return t.cfg.ChannelID }
func (t *Task) Mode() hypixel.Mode    { return t.cfg.Mode }
func (t *Task) WatchKey() string      { return t.watch }
func (t *Task) Policy() string        { return t.cfg.Policy.Name() }
func (t *Task) State() State          { return State(t.state.Load()) }
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) Entities() []Entity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.entities)
}

func (t *Task) Handles() []transport.MessageRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.handles)
}

func (t *Task) LastUpdate() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUpdate
}

// Err is the error that ended the loop. Cancellation and timeouts are not
// errors.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Reason tells why the task ended: stopped, timeout, empty or error.
func (t *Task) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return t.Err()
	}
}

// Start posts the baseline cards and launches the polling loop. On error
// the task is cancelled and no loop runs.
func (t *Task) Start(ctx context.Context) error {
	t.mu.Lock()
	switch {
	case t.cancelled:
		t.mu.Unlock()
		return ErrTaskStopped
	case t.started:
		t.mu.Unlock()
		return errors.New("autostats: task already started")
	}
	ents := slices.Clone(t.entities)
	t.mu.Unlock()

	if len(ents) == 0 {
		t.cancelWith("empty")
		return ErrNoEntities
	}

	for i, e := range ents {
		if e.Valid {
			continue
		}
		fresh, err := t.refresh(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				t.cancelWith("stopped")
				return ctx.Err()
			}
			t.log.Warn("baseline fetch failed", logx.String("uuid", e.UUID), logx.Err(err))
			continue
		}
		ents[i] = fresh
	}

	files, err := t.renderAll(ctx, ents, nil)
	if err != nil {
		t.cancelWith("error")
		return fmt.Errorf("render baseline: %w", err)
	}
	refs, err := transport.SendFileBatches(ctx, t.deps.Adapter, t.cfg.ChannelID, files)
	if err != nil {
		t.mu.Lock()
		t.handles = refs
		t.mu.Unlock()
		t.cancelWith("error")
		return fmt.Errorf("send baseline: %w", err)
	}

	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		t.cleanup(refs)
		return ErrTaskStopped
	}
	t.entities = merge(t.entities, ents)
	t.handles = refs
	t.lastUpdate = t.deps.Now()
	t.started = true
	t.mu.Unlock()

	if !t.state.CompareAndSwap(int32(StateStarting), int32(StatePolling)) {
		// cancelled after the baseline went out; no loop will finish it
		t.finish(nil)
		return ErrTaskStopped
	}
	t.publish(eventbus.AutostatsStarted, "", nil)
	t.log.Info("autostats started",
		logx.String("mode", t.cfg.Mode.DbKey),
		logx.Int("entities", len(ents)),
		logx.String("policy", t.cfg.Policy.Name()),
		logx.Duration("interval", t.cfg.Interval),
	)
	go t.run()
	return nil
}

// Cancel stops the task and deletes its cards. Safe to call more than once
// and from any goroutine; only the first call has an effect.
func (t *Task) Cancel() { t.cancelWith("stopped") }

func (t *Task) cancelWith(reason string) {
	t.cancelOnce.Do(func() {
		t.mu.Lock()
		t.cancelled = true
		t.reason = reason
		refs := t.handles
		t.handles = nil
		started := t.started
		t.mu.Unlock()

		t.cancel()
		t.cleanup(refs)
		t.state.Store(int32(StateCancelled))
		if !started {
			t.finish(nil)
		}
	})
}

func (t *Task) cleanup(refs []transport.MessageRef) {
	if len(refs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := transport.DeleteBestEffort(ctx, t.deps.Adapter, refs); err != nil {
		t.log.Warn("delete cards failed", logx.Int("messages", len(refs)), logx.Err(err))
	}
}

func (t *Task) finish(err error) {
	t.doneOnce.Do(func() {
		t.mu.Lock()
		t.err = err
		reason := t.reason
		t.mu.Unlock()
		close(t.done)
		t.publish(eventbus.AutostatsStopped, reason, err)
		if err != nil {
			t.log.Error("autostats failed", logx.Err(err))
		} else {
			t.log.Info("autostats stopped", logx.String("reason", reason))
		}
	})
}

func (t *Task) run() {
	var err error
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("autostats panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("autostats loop panic: %v", r)
			t.cancelWith("error")
		}
		t.finish(err)
	}()

	tk := time.NewTicker(t.cfg.Interval)
	defer tk.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-tk.C:
		}
		stop, tickErr := t.tick(t.ctx)
		if tickErr != nil && t.ctx.Err() == nil {
			err = tickErr
			t.cancelWith("error")
			return
		}
		if stop || t.ctx.Err() != nil {
			return
		}
	}
}

// tick runs one poll. stop reports that the loop is over.
func (t *Task) tick(ctx context.Context) (stop bool, err error) {
	now := t.deps.Now()
	t.mu.Lock()
	idle := now.Sub(t.lastUpdate)
	ents := slices.Clone(t.entities)
	t.mu.Unlock()

	if idle > t.cfg.Timeout {
		t.state.Store(int32(StateTimedOut))
		t.observePoll(PollTimeout)
		t.log.Info("autostats idle timeout", logx.Duration("idle", idle))
		t.cancelWith("timeout")
		return true, nil
	}
	if len(ents) == 0 {
		t.cancelWith("empty")
		return true, nil
	}

	det := t.cfg.Policy.Detect(ctx, t.refresh, t.watch, ents)
	if ctx.Err() != nil {
		return true, nil
	}
	if !det.Changed {
		t.observePoll(PollUnchanged)
		return false, nil
	}
	t.observePoll(PollChanged)

	if !t.state.CompareAndSwap(int32(StatePolling), int32(StateRendering)) {
		return true, nil
	}
	defer t.state.CompareAndSwap(int32(StateRendering), int32(StatePolling))

	t.mu.Lock()
	old := t.handles
	t.handles = nil
	t.mu.Unlock()
	if err := transport.DeleteBestEffort(ctx, t.deps.Adapter, old); err != nil && ctx.Err() == nil {
		t.log.Warn("delete previous cards failed", logx.Err(err))
	}

	prev := make([]stats.Snapshot, len(ents))
	for i, e := range ents {
		prev[i] = e.Snapshot
		if fresh, ok := det.Fetched[i]; ok {
			ents[i] = fresh
			continue
		}
		fresh, err := t.refresh(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			t.log.Debug("refetch failed", logx.String("uuid", e.UUID), logx.Err(err))
			continue
		}
		ents[i] = fresh
	}

	files, err := t.renderAll(ctx, ents, prev)
	if err != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		return true, fmt.Errorf("render cards: %w", err)
	}
	refs, sendErr := transport.SendFileBatches(ctx, t.deps.Adapter, t.cfg.ChannelID, files)

	t.mu.Lock()
	cancelled := t.cancelled
	if !cancelled {
		t.handles = refs
		t.entities = merge(t.entities, ents)
		t.lastUpdate = now
	}
	t.mu.Unlock()
	if cancelled {
		t.cleanup(refs)
		return true, nil
	}
	if sendErr != nil {
		if ctx.Err() != nil {
			return true, nil
		}
		return true, fmt.Errorf("send cards: %w", sendErr)
	}

	if t.deps.Observer != nil {
		t.deps.Observer.ObserveRefresh()
	}
	t.publish(eventbus.AutostatsRefreshed, "", nil)
	t.log.Debug("cards refreshed", logx.Int("files", len(files)), logx.Int("messages", len(refs)))
	return false, nil
}

func (t *Task) refresh(ctx context.Context, e Entity) (Entity, error) {
	fresh, err := Refresh(ctx, t.deps.Fetcher, t.cfg.Mode, e)
	if errors.Is(err, hypixel.ErrInvalidCredential) {
		t.log.Warn("api key rejected", logx.String("uuid", e.UUID))
	}
	return fresh, err
}

// renderAll renders one card per fetched entity. prev may be nil.
func (t *Task) renderAll(ctx context.Context, ents []Entity, prev []stats.Snapshot) ([]transport.File, error) {
	files := make([]transport.File, 0, len(ents))
	for i, e := range ents {
		if !e.Valid {
			continue
		}
		var p stats.Snapshot
		if prev != nil {
			p = prev[i]
		}
		card := BuildCard(t.cfg.Mode, t.cfg.Modules, e, p, t.cfg.Header)
		data, err := t.deps.Renderer.Render(ctx, card)
		if err != nil {
			return nil, err
		}
		files = append(files, transport.File{Name: FileName(t.cfg.Mode, e), ContentType: "image/png", Data: data})
	}
	return files, nil
}

// merge writes fresh entity data back into cur, matched by uuid. Entities
// removed while a batch was in flight stay removed.
func merge(cur, fresh []Entity) []Entity {
	for _, f := range fresh {
		if i := slices.IndexFunc(cur, func(e Entity) bool { return e.UUID == f.UUID }); i >= 0 {
			owner := cur[i].OwnerID
			cur[i] = f
			if f.OwnerID == "" {
				cur[i].OwnerID = owner
			}
		}
	}
	return cur
}

// AddEntity tracks another player. The card appears with the next refresh.
func (t *Task) AddEntity(e Entity) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return ErrTaskStopped
	}
	if slices.ContainsFunc(t.entities, func(x Entity) bool { return x.UUID == e.UUID }) {
		return nil
	}
	if t.cfg.MaxEntities > 0 && len(t.entities) >= t.cfg.MaxEntities {
		return ErrTooManyEntities
	}
	t.entities = append(t.entities, e)
	return nil
}

// RemoveEntity stops tracking uuid. Removing the last player cancels the task.
func (t *Task) RemoveEntity(uuid string) bool {
	return t.removeWhere(func(e Entity) bool { return e.UUID == uuid })
}

// RemoveOwner drops every player bound to a Discord user.
func (t *Task) RemoveOwner(userID string) bool {
	if userID == "" {
		return false
	}
	return t.removeWhere(func(e Entity) bool { return e.OwnerID == userID })
}

func (t *Task) removeWhere(match func(Entity) bool) bool {
	t.mu.Lock()
	n := len(t.entities)
	t.entities = slices.DeleteFunc(t.entities, match)
	removed := len(t.entities) != n
	empty := len(t.entities) == 0
	t.mu.Unlock()
	if removed && empty {
		t.cancelWith("empty")
	}
	return removed
}

func (t *Task) observePoll(result string) {
	if t.deps.Observer != nil {
		t.deps.Observer.ObservePoll(result)
	}
}

func (t *Task) publish(typ, reason string, err error) {
	if t.deps.Bus == nil {
		return
	}
	ev := eventbus.TaskEvent{
		TaskID:  t.id,
		Trigger: t.cfg.Trigger,
		Scope:   t.cfg.Scope.String(),
		Mode:    t.cfg.Mode.DbKey,
		Reason:  reason,
	}
	if err != nil {
		ev.Err = err.Error()
	}
	t.deps.Bus.Publish(eventbus.Event{Type: typ, Time: t.deps.Now(), Data: ev})
}
