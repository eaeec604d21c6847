package birthday

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benno1237/bennos-cogs/internal/storage"
	"github.com/benno1237/bennos-cogs/internal/transport/transporttest"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

func TestNextMidnight(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	now := time.Date(2024, 3, 5, 22, 30, 0, 0, time.UTC) // 23:30 in Berlin
	got, err := NextMidnight(now, berlin)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := time.Date(2024, 3, 5, 23, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %s want %s", got, want)
	}
	// exactly midnight moves to the next day
	got, _ = NextMidnight(time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), time.UTC)
	if !got.Equal(time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("got %s", got)
	}
}

func TestValidateDateAndMatch(t *testing.T) {
	if err := ValidateDate(29, 2, 0); err != nil {
		t.Fatalf("leap day without year: %v", err)
	}
	for _, d := range [][3]int{{31, 4, 0}, {29, 2, 2023}, {0, 1, 0}, {1, 13, 0}, {1, 1, 1800}} {
		if err := ValidateDate(d[0], d[1], d[2]); !errors.Is(err, ErrInvalidDate) {
			t.Fatalf("%v accepted", d)
		}
	}
	leap := Entry{Day: 29, Month: 2}
	if !leap.Matches(time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC)) || leap.Matches(time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("leap day fallback")
	}
	if got := (Entry{Year: 2000}).Age(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)); got != 24 {
		t.Fatalf("age=%d", got)
	}
}

func TestPaginate(t *testing.T) {
	para := strings.Repeat("a", 400)
	text := strings.Join([]string{para, para, para}, "\n\n")
	pages := Paginate(text, 1000)
	if len(pages) != 2 || pages[0] != para+"\n\n"+para || pages[1] != para {
		t.Fatalf("pages=%d", len(pages))
	}
	for _, p := range Paginate(strings.Repeat("b", 2500), 1000) {
		if len([]rune(p)) > 1000 {
			t.Fatalf("page too long: %d", len(p))
		}
	}
	if Paginate("", 1000) != nil {
		t.Fatalf("empty text")
	}
}

func newFixture(t *testing.T) (*Birthdays, *transporttest.Fake) {
	t.Helper()
	ctx := context.Background()
	st := &Store{S: storage.NewMemory(), DefaultTZ: "UTC"}
	if err := st.SaveSettings(ctx, "g1", Settings{ChannelID: "c1", RoleID: "r1"}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	for _, e := range []Entry{
		{UserID: "alice", Day: 5, Month: 3, Year: 2000},
		{UserID: "bob", Day: 5, Month: 3, Message: "Cheers {mention}"},
		{UserID: "carol", Day: 6, Month: 3},
	} {
		if err := st.SetEntry(ctx, "g1", e); err != nil {
			t.Fatalf("set entry: %v", err)
		}
	}
	f := transporttest.New()
	return &Birthdays{Store: st, Adapter: f, Log: logx.Nop()}, f
}

func TestFireSwapsRoleToMatches(t *testing.T) {
	b, f := newFixture(t)
	f.SetRoleMembers("g1", "r1", "carol", "bob")

	if err := b.Fire(context.Background(), "g1", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("fire: %v", err)
	}
	holders, _ := f.RoleMembers(context.Background(), "g1", "r1")
	slices.Sort(holders)
	if !slices.Equal(holders, []string{"alice", "bob"}) {
		t.Fatalf("holders=%v", holders)
	}
	texts := f.Texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Happy birthday <@alice>") || !strings.Contains(texts[0], "Cheers <@bob>") {
		t.Fatalf("texts=%q", texts)
	}
}

func TestFireWithoutMatchesClearsRole(t *testing.T) {
	b, f := newFixture(t)
	f.SetRoleMembers("g1", "r1", "alice")
	if err := b.Fire(context.Background(), "g1", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if holders, _ := f.RoleMembers(context.Background(), "g1", "r1"); len(holders) != 0 {
		t.Fatalf("holders=%v", holders)
	}
	if len(f.Texts()) != 0 {
		t.Fatalf("nothing to announce")
	}
}

type recordingAnnouncer struct {
	mu    sync.Mutex
	fired []string
	ch    chan string
}

func (r *recordingAnnouncer) Fire(_ context.Context, guildID string, now time.Time) error {
	r.mu.Lock()
	r.fired = append(r.fired, guildID+"@"+now.Format("15:04"))
	r.mu.Unlock()
	r.ch <- guildID
	return nil
}

type utcOnly struct{}

func (utcOnly) Location(context.Context, string) *time.Location { return time.UTC }

func TestSchedulerFiresAtMidnight(t *testing.T) {
	ann := &recordingAnnouncer{ch: make(chan string, 4)}
	s := NewScheduler(ann, utcOnly{}, logx.Nop())
	start := time.Now()
	base := time.Date(2024, 3, 5, 23, 59, 59, 970_000_000, time.UTC)
	s.now = func() time.Time { return base.Add(time.Since(start)) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Init(ctx, []string{"g1"})
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	select {
	case g := <-ann.ch:
		if g != "g1" {
			t.Fatalf("fired %s", g)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no firing")
	}
	next, ok := s.Deadline("g1")
	if !ok || !next.Equal(time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("next deadline %s", next)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("run: %v", err)
	}
	ann.mu.Lock()
	defer ann.mu.Unlock()
	if len(ann.fired) != 1 || ann.fired[0] != "g1@00:00" {
		t.Fatalf("fired=%v", ann.fired)
	}
}

func TestSchedulerMembershipChanges(t *testing.T) {
	ann := &recordingAnnouncer{ch: make(chan string, 4)}
	s := NewScheduler(ann, utcOnly{}, logx.Nop())
	start := time.Now()
	base := time.Date(2024, 3, 5, 23, 59, 59, 900_000_000, time.UTC)
	s.now = func() time.Time { return base.Add(time.Since(start)) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Init(ctx, []string{"gone"})
	go s.Run(ctx)

	s.GuildRemoved("gone")
	s.GuildJoined(ctx, "new")
	if s.Guilds() != 1 {
		t.Fatalf("guilds=%d", s.Guilds())
	}
	select {
	case g := <-ann.ch:
		if g != "new" {
			t.Fatalf("removed guild fired: %s", g)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("joined guild never fired")
	}
}

func TestSchedulerIdleWithoutGuilds(t *testing.T) {
	s := NewScheduler(&recordingAnnouncer{ch: make(chan string, 1)}, nil, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestStoreEntries(t *testing.T) {
	ctx := context.Background()
	st := &Store{S: storage.NewMemory()}
	_ = st.SetEntry(ctx, "g", Entry{UserID: "b", Day: 2, Month: 1})
	_ = st.SetEntry(ctx, "g", Entry{UserID: "a", Day: 1, Month: 12})
	if err := st.SetMessage(ctx, "g", "b", " hi "); err != nil {
		t.Fatalf("set message: %v", err)
	}
	if err := st.SetMessage(ctx, "g", "zz", "hi"); !errors.Is(err, ErrNoEntry) {
		t.Fatalf("missing entry: %v", err)
	}
	// re-setting the date keeps the message
	_ = st.SetEntry(ctx, "g", Entry{UserID: "b", Day: 3, Month: 1})
	es, _ := st.Entries(ctx, "g")
	if len(es) != 2 || es[0].UserID != "b" || es[0].Message != "hi" || es[0].Day != 3 {
		t.Fatalf("entries=%+v", es)
	}
	if ok, _ := st.RemoveEntry(ctx, "g", "b"); !ok {
		t.Fatalf("remove")
	}
	if st.Location(ctx, "g") != time.UTC {
		t.Fatalf("default location")
	}
}

// slowStore widens the gap between read and write of a document.
type slowStore struct {
	storage.Store
}

func (s slowStore) GetRaw(ctx context.Context, ns storage.Namespace, path ...string) (json.RawMessage, bool, error) {
	time.Sleep(time.Millisecond)
	return s.Store.GetRaw(ctx, ns, path...)
}

func TestConcurrentWritesKeepEveryEntry(t *testing.T) {
	ctx := context.Background()
	st := &Store{S: slowStore{storage.NewMemory()}}

	var wg sync.WaitGroup
	for i := 1; i <= 4; i++ {
		wg.Add(1)
		go func(day int) {
			defer wg.Done()
			e := Entry{UserID: "u" + string(rune('0'+day)), Day: day, Month: 3}
			if err := st.SetEntry(ctx, "g1", e); err != nil {
				t.Errorf("set: %v", err)
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := st.UpdateSettings(ctx, "g1", func(s *Settings) { s.RoleID = "r1" }); err != nil {
			t.Errorf("settings: %v", err)
		}
	}()
	wg.Wait()

	got, err := st.Entries(ctx, "g1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("stored %d of 4 entries", len(got))
	}
	if s, _ := st.Settings(ctx, "g1"); s.RoleID != "r1" {
		t.Fatalf("settings=%+v", s)
	}
}
