package autostats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benno1237/bennos-cogs/internal/hypixel"
	"github.com/benno1237/bennos-cogs/internal/render"
	"github.com/benno1237/bennos-cogs/internal/stats"
	"github.com/benno1237/bennos-cogs/internal/transport/transporttest"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

type fakeFetcher struct {
	mu    sync.Mutex
	games map[string]int
	calls map[string]int
	err   error
}

func newFetcher(uuids ...string) *fakeFetcher {
	f := &fakeFetcher{games: map[string]int{}, calls: map[string]int{}}
	for _, u := range uuids {
		f.games[u] = 10
	}
	return f
}

func (f *fakeFetcher) Player(_ context.Context, uuid string) (*hypixel.Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[uuid]++
	if f.err != nil {
		return nil, f.err
	}
	raw := fmt.Sprintf(`{"games_played_bedwars": %d, "wins_bedwars": 3}`, f.games[uuid])
	return &hypixel.Player{
		UUID:        uuid,
		DisplayName: "p_" + uuid,
		Rank:        hypixel.RankDefault,
		Stats:       map[string]json.RawMessage{"Bedwars": json.RawMessage(raw)},
	}, nil
}

func (f *fakeFetcher) play(uuid string) {
	f.mu.Lock()
	f.games[uuid]++
	f.mu.Unlock()
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeRenderer struct{ n atomic.Int32 }

func (r *fakeRenderer) Render(context.Context, render.Card) ([]byte, error) {
	r.n.Add(1)
	return []byte("png"), nil
}

var testModules = []stats.Module{
	{Name: "Games", Key: "games_played_bedwars", Mode: "Bedwars"},
	{Name: "Wins", Key: "wins_bedwars", Mode: "Bedwars"},
}

type harness struct {
	fetch   *fakeFetcher
	adapter *transporttest.Fake
	render  *fakeRenderer
}

func newHarness(uuids ...string) *harness {
	return &harness{fetch: newFetcher(uuids...), adapter: transporttest.New(), render: &fakeRenderer{}}
}

func (h *harness) task(trigger string, scope Scope, policy ChangePolicy, uuids ...string) *Task {
	ents := make([]Entity, 0, len(uuids))
	for _, u := range uuids {
		ents = append(ents, Entity{UUID: u})
	}
	return NewTask(context.Background(), TaskConfig{
		Trigger:   trigger,
		Scope:     scope,
		GuildID:   "g1",
		ChannelID: "c1",
		Mode:      hypixel.Bedwars,
		Modules:   testModules,
		Interval:  5 * time.Millisecond,
		Timeout:   time.Hour,
		Policy:    policy,
	}, TaskDeps{
		Fetcher:  h.fetch,
		Renderer: h.render,
		Adapter:  h.adapter,
		Log:      logx.Nop(),
	}, ents)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not finish")
	}
}

func TestStartPostsBaseline(t *testing.T) {
	h := newHarness("a", "b")
	task := h.task("u1", ScopeUser, nil, "a", "b")
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer task.Cancel()

	sent := h.adapter.Sent()
	if len(sent) != 1 || len(sent[0].Files) != 2 {
		t.Fatalf("baseline sent=%+v", sent)
	}
	if got := task.Handles(); len(got) != 1 || got[0].MessageID != sent[0].MessageID {
		t.Fatalf("handles=%+v", got)
	}
	for _, e := range task.Entities() {
		if !e.Valid || e.Name != "p_"+e.UUID {
			t.Fatalf("entity not refreshed: %+v", e)
		}
	}
}

func TestUnchangedWatchFieldSendsNothing(t *testing.T) {
	h := newHarness("a")
	task := h.task("u1", ScopeUser, nil, "a")
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	base := h.fetch.totalCalls()
	waitFor(t, "a few polls", func() bool { return h.fetch.totalCalls() >= base+5 })

	if n := len(h.adapter.Sent()); n != 1 {
		t.Fatalf("sent=%d, want only the baseline", n)
	}
	if n := h.adapter.DeleteCalls(); n != 0 {
		t.Fatalf("deletes=%d", n)
	}
	task.Cancel()
	waitDone(t, task)
}

func TestChangeReplacesCards(t *testing.T) {
	h := newHarness("a", "b")
	task := h.task("u1", ScopeUser, nil, "a", "b")
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer task.Cancel()
	baseline := task.Handles()
	before := task.LastUpdate()

	h.fetch.play("a")
	waitFor(t, "refresh", func() bool { return len(h.adapter.Sent()) == 2 })
	waitFor(t, "handles", func() bool {
		hs := task.Handles()
		return len(hs) == 1 && hs[0].MessageID != baseline[0].MessageID
	})

	if n := h.adapter.DeleteCalls(); n != 1 {
		t.Fatalf("delete batches=%d", n)
	}
	if d := h.adapter.Deleted(); len(d) != 1 || d[0] != baseline[0].MessageID {
		t.Fatalf("deleted=%v", d)
	}
	if sent := h.adapter.Sent(); len(sent[1].Files) != 2 {
		t.Fatalf("refresh should carry every player: %+v", sent[1])
	}
	if !task.LastUpdate().After(before) {
		t.Fatalf("last update not advanced")
	}
	if got := task.Entities()[0].Snapshot.Int("games_played_bedwars"); got != 11 {
		t.Fatalf("snapshot not updated: %d", got)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness("a")
	task := h.task("u1", ScopeUser, nil, "a")
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task.Cancel()
		}()
	}
	wg.Wait()
	task.Cancel()
	waitDone(t, task)

	if n := h.adapter.DeleteCalls(); n != 1 {
		t.Fatalf("delete batches=%d, want 1", n)
	}
	if task.State() != StateCancelled || task.Err() != nil || task.Reason() != "stopped" {
		t.Fatalf("state=%s err=%v reason=%s", task.State(), task.Err(), task.Reason())
	}
}

func TestCancelRacingStartAndPollsStaysCancelled(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness("a")
		task := h.task("u1", ScopeUser, nil, "a")
		stop := make(chan struct{})
		go func() {
			for {
				select {
				case <-stop:
					return
				default:
					h.fetch.play("a")
					time.Sleep(time.Millisecond)
				}
			}
		}()
		started := make(chan error, 1)
		go func() { started <- task.Start(context.Background()) }()
		time.Sleep(time.Duration(i%5) * time.Millisecond)
		task.Cancel()
		if err := <-started; err != nil && !errors.Is(err, ErrTaskStopped) {
			t.Fatalf("start: %v", err)
		}
		waitDone(t, task)
		close(stop)
		if s := task.State(); s != StateCancelled {
			t.Fatalf("run %d: state=%s after cancel", i, s)
		}
	}
}

func TestEmptyTaskIsCancelled(t *testing.T) {
	h := newHarness()
	task := h.task("u1", ScopeUser, nil)
	if err := task.Start(context.Background()); !errors.Is(err, ErrNoEntities) {
		t.Fatalf("err=%v", err)
	}
	waitDone(t, task)

	h = newHarness("a", "b")
	task = h.task("u2", ScopeUser, nil, "a", "b")
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	task.RemoveEntity("a")
	select {
	case <-task.Done():
		t.Fatalf("task ended with a player left")
	default:
	}
	task.RemoveEntity("b")
	waitDone(t, task)
	if task.Reason() != "empty" || len(h.adapter.Deleted()) != 1 {
		t.Fatalf("reason=%s deleted=%v", task.Reason(), h.adapter.Deleted())
	}
}

func TestIdleTimeoutBeforeFetch(t *testing.T) {
	h := newHarness("a")
	var now atomic.Int64
	now.Store(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	task := h.task("u1", ScopeUser, nil, "a")
	task.deps.Now = func() time.Time { return time.Unix(0, now.Load()) }
	task.cfg.Timeout = time.Minute
	task.cfg.Interval = 20 * time.Millisecond

	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	fetches := h.fetch.totalCalls()
	now.Add(int64(2 * time.Minute))
	waitDone(t, task)

	if got := h.fetch.totalCalls(); got != fetches {
		t.Fatalf("fetched %d times after timeout", got-fetches)
	}
	if task.Reason() != "timeout" || task.Err() != nil {
		t.Fatalf("reason=%s err=%v", task.Reason(), task.Err())
	}
	if len(h.adapter.Deleted()) != 1 {
		t.Fatalf("cards not deleted: %v", h.adapter.Deleted())
	}
}

func TestRemoteErrorCountsAsNoChange(t *testing.T) {
	h := newHarness("a")
	task := h.task("u1", ScopeUser, nil, "a")
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer task.Cancel()
	h.fetch.setErr(hypixel.ErrRemoteUnavailable)
	base := h.fetch.totalCalls()
	waitFor(t, "polls", func() bool { return h.fetch.totalCalls() >= base+3 })
	if len(h.adapter.Sent()) != 1 || task.Err() != nil {
		t.Fatalf("sent=%d err=%v", len(h.adapter.Sent()), task.Err())
	}
	select {
	case <-task.Done():
		t.Fatalf("remote errors must not stop the task")
	default:
	}
}

func TestPerEntityPolicySeesEveryPlayer(t *testing.T) {
	ents := []Entity{{UUID: "a"}, {UUID: "b"}}
	f := newFetcher("a", "b")
	refresh := func(ctx context.Context, e Entity) (Entity, error) { return Refresh(ctx, f, hypixel.Bedwars, e) }
	for i := range ents {
		ents[i], _ = refresh(context.Background(), ents[i])
	}
	f.play("b")

	if d := (Representative{}).Detect(context.Background(), refresh, "games_played_bedwars", ents); d.Changed || len(d.Fetched) != 1 {
		t.Fatalf("representative: %+v", d)
	}
	d := (PerEntity{}).Detect(context.Background(), refresh, "games_played_bedwars", ents)
	if !d.Changed || len(d.Fetched) != 2 {
		t.Fatalf("per-entity: %+v", d)
	}
	if PolicyByName("per-entity").Name() != "per-entity" || PolicyByName("bogus").Name() != "representative" {
		t.Fatalf("policy lookup")
	}
}

func TestSendFailureEndsTaskWithError(t *testing.T) {
	h := newHarness("a")
	reg := NewRegistry(context.Background(), 0, logx.Nop(), nil)
	defer reg.Shutdown(context.Background())

	task := h.task("u1", ScopeUser, nil, "a")
	if err := reg.Register(task); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := task.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	boom := errors.New("gateway down")
	h.adapter.SendFilesErr = boom
	h.fetch.play("a")
	waitDone(t, task)
	if !errors.Is(task.Err(), boom) {
		t.Fatalf("err=%v", task.Err())
	}
	waitFor(t, "registry cleanup", func() bool { _, ok := reg.Get("u1"); return !ok })
}

func TestRegistryGuildCap(t *testing.T) {
	h := newHarness("a")
	reg := NewRegistry(context.Background(), 5, logx.Nop(), nil)
	defer reg.Shutdown(context.Background())

	for i := 0; i < 5; i++ {
		if err := reg.Register(h.task(fmt.Sprintf("t%d", i), ScopeGuild, nil, "a")); err != nil {
			t.Fatalf("register %d: %v", i, err)
		}
	}
	if err := reg.Register(h.task("t5", ScopeGuild, nil, "a")); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("6th register: %v", err)
	}
	if _, ok := reg.Get("t5"); ok || reg.Count(ScopeGuild) != 5 {
		t.Fatalf("6th task must not exist, count=%d", reg.Count(ScopeGuild))
	}
	for i := 0; i < 7; i++ {
		if err := reg.Register(h.task(fmt.Sprintf("user%d", i), ScopeUser, nil, "a")); err != nil {
			t.Fatalf("user scope is uncapped: %v", err)
		}
	}
	if err := reg.Register(h.task("t0", ScopeUser, nil, "a")); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("duplicate trigger: %v", err)
	}
	if err := reg.Stop(context.Background(), "t0"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := reg.Register(h.task("t5", ScopeGuild, nil, "a")); err != nil {
		t.Fatalf("slot freed by stop: %v", err)
	}
	if err := reg.Stop(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stop unknown: %v", err)
	}
}

func TestRegistryCapUnderConcurrency(t *testing.T) {
	h := newHarness("a")
	reg := NewRegistry(context.Background(), 5, logx.Nop(), nil)
	defer reg.Shutdown(context.Background())

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if reg.Register(h.task(fmt.Sprintf("t%d", i), ScopeGuild, nil, "a")) == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if ok.Load() != 5 || reg.CountGuild("g1") != 5 {
		t.Fatalf("accepted=%d count=%d", ok.Load(), reg.CountGuild("g1"))
	}
}

func TestRegistryStopAllAndShutdown(t *testing.T) {
	h := newHarness("a")
	reg := NewRegistry(context.Background(), 5, logx.Nop(), nil)

	var tasks []*Task
	for i := 0; i < 3; i++ {
		task := h.task(fmt.Sprintf("g%d", i), ScopeGuild, nil, "a")
		if err := reg.Register(task); err != nil {
			t.Fatalf("register: %v", err)
		}
		if err := task.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		tasks = append(tasks, task)
	}
	user := h.task("u", ScopeUser, nil, "a")
	_ = reg.Register(user)
	_ = user.Start(context.Background())

	n, err := reg.StopAll(context.Background(), ScopeGuild, "")
	if err != nil || n != 3 || reg.Count(ScopeGuild) != 0 || reg.Count(ScopeUser) != 1 {
		t.Fatalf("stopall n=%d err=%v", n, err)
	}
	for _, task := range tasks {
		waitDone(t, task)
	}

	if err := reg.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	waitDone(t, user)
	if err := reg.Register(h.task("late", ScopeUser, nil, "a")); err == nil {
		t.Fatalf("register after shutdown should fail")
	}
}
