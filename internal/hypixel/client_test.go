package hypixel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

type countingObserver struct {
	mu    sync.Mutex
	calls map[string][]int
}

func (o *countingObserver) ObserveRequest(endpoint string, status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = map[string][]int{}
	}
	o.calls[endpoint] = append(o.calls[endpoint], status)
}

const playerDoc = `{"success":true,"player":{
	"uuid":"0123456789abcdef0123456789abcdef",
	"displayname":"Notch",
	"networkExp":0,
	"rank":"NORMAL",
	"monthlyPackageRank":"SUPERSTAR",
	"newPackageRank":"MVP_PLUS",
	"stats":{"Bedwars":{"Experience":9500,"games_played_bedwars":42,"wins_bedwars":7}}
}}`

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *countingObserver) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	obs := &countingObserver{}
	return NewClient(Config{BaseURL: srv.URL, UserAgent: "cogs-test", RatePerSec: 100, Burst: 10, Observer: obs}, logx.Nop()), obs
}

func TestPlayerDecodes(t *testing.T) {
	c, obs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/player" || r.URL.Query().Get("uuid") != "abc" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.Header.Get("API-Key") != "k1" || r.Header.Get("User-Agent") != "cogs-test" {
			t.Errorf("missing headers: %v", r.Header)
		}
		_, _ = w.Write([]byte(playerDoc))
	})

	p, err := c.Player(context.Background(), "k1", "abc")
	if err != nil {
		t.Fatalf("player: %v", err)
	}
	if p.DisplayName != "Notch" || p.Rank.Name != "MVP++" {
		t.Fatalf("player=%+v", p)
	}
	s := p.ModeStats(Bedwars)
	if s.Int("games_played_bedwars") != 42 {
		t.Fatalf("stats=%v", s)
	}
	if lvl := ModeLevel(Bedwars, s); lvl.Level != 4 || lvl.Progress != 0.5 {
		t.Fatalf("level=%+v", lvl)
	}
	if got := p.ModeStats(SkyWars); len(got) != 0 {
		t.Fatalf("absent mode should be empty: %v", got)
	}
	if st := obs.calls["player"]; len(st) != 1 || st[0] != 200 {
		t.Fatalf("observer=%v", obs.calls)
	}
}

func TestPlayerNeverJoined(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"player":null}`))
	})
	p, err := c.Player(context.Background(), "k", "abc")
	if err != nil || p.UUID != "abc" || p.Rank != RankDefault {
		t.Fatalf("p=%+v err=%v", p, err)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"invalid key", http.StatusForbidden, `{"success":false,"cause":"Invalid API key"}`, ErrInvalidCredential},
		{"other forbidden", http.StatusForbidden, `{"success":false,"cause":"nope"}`, ErrRemoteUnavailable},
		{"server error", http.StatusBadGateway, `<html>`, ErrRemoteUnavailable},
		{"malformed", http.StatusOK, `{"success":`, ErrRemoteUnavailable},
		{"not successful", http.StatusOK, `{"success":false,"cause":"Key throttle"}`, ErrRemoteUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			if _, err := c.Player(context.Background(), "k", "u"); !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestCheckKey(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/key" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if r.Header.Get("API-Key") == "good" {
			_, _ = w.Write([]byte(`{"success":true,"record":{}}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"success":false,"cause":"Invalid API key"}`))
	})
	if err := c.CheckKey(context.Background(), "good"); err != nil {
		t.Fatalf("good key: %v", err)
	}
	if err := c.CheckKey(context.Background(), "bad"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("bad key: %v", err)
	}
	if err := c.CheckKey(context.Background(), " "); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("empty key: %v", err)
	}
}

func TestLimiterHonorsContext(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:0", RatePerSec: 0.001, Burst: 1}, logx.Nop())
	c.limiter("k").Allow() // drain the single token
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Player(ctx, "k", "u"); err == nil {
		t.Fatalf("expected limiter wait to fail")
	}
}

func TestMojangLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/profiles/minecraft/Notch":
			_, _ = w.Write([]byte(`{"id":"069a79f444e94726a5befca90e38aaf5","name":"Notch"}`))
		case "/users/profiles/minecraft/ghost":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	m := NewMojang(srv.URL, "cogs-test", time.Second, nil)

	p, err := m.Lookup(context.Background(), "Notch")
	if err != nil || p.ID != "069a79f444e94726a5befca90e38aaf5" {
		t.Fatalf("p=%+v err=%v", p, err)
	}
	if _, err := m.Lookup(context.Background(), "ghost"); !errors.Is(err, ErrUnknownName) {
		t.Fatalf("ghost: %v", err)
	}
	if _, err := m.Lookup(context.Background(), "boom"); !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("boom: %v", err)
	}
}
