package hypixel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/benno1237/bennos-cogs/internal/stats"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

const maxBody = 4 << 20

// Observer receives one call per finished HTTP request. status is 0 when
// no response was received.
type Observer interface {
	ObserveRequest(endpoint string, status int)
}

type Config struct {
	BaseURL    string
	UserAgent  string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	HTTPClient *http.Client
	Observer   Observer
}

// Client is the Hypixel REST client. Requests are rate limited per API key.
type Client struct {
	base string
	ua   string
	http *http.Client
	obs  Observer
	log  logx.Logger

	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	rps := rate.Limit(cfg.RatePerSec)
	if cfg.RatePerSec <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		ua:       cfg.UserAgent,
		http:     hc,
		obs:      cfg.Observer,
		log:      log.With(logx.String("comp", "hypixel")),
		rps:      rps,
		burst:    burst,
		limiters: map[string]*rate.Limiter{},
	}
}

func (c *Client) limiter(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.limiters[key]
	if l == nil {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[key] = l
	}
	return l
}

// Forget drops the limiter of a key that is no longer used.
func (c *Client) Forget(key string) {
	c.mu.Lock()
	delete(c.limiters, key)
	c.mu.Unlock()
}

type envelope struct {
	Success bool            `json:"success"`
	Cause   string          `json:"cause"`
	Player  json.RawMessage `json:"player"`
}

func (c *Client) get(ctx context.Context, endpoint, key string, q url.Values) (*envelope, error) {
	if err := c.limiter(key).Wait(ctx); err != nil {
		return nil, err
	}
	u := c.base + "/" + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("API-Key", key)
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(endpoint, 0)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, endpoint, err)
	}
	defer resp.Body.Close()
	c.observe(endpoint, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrRemoteUnavailable, endpoint, err)
	}
	c.log.Debug("request done", logx.String("endpoint", endpoint), logx.Int("status", resp.StatusCode), logx.Duration("dur", time.Since(start)))

	var env envelope
	decErr := json.Unmarshal(body, &env)
	if resp.StatusCode == http.StatusForbidden && decErr == nil && env.Cause == invalidKeyCause {
		return nil, ErrInvalidCredential
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d", ErrRemoteUnavailable, endpoint, resp.StatusCode)
	}
	if decErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRemoteUnavailable, endpoint, decErr)
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: %s: %s", ErrRemoteUnavailable, endpoint, env.Cause)
	}
	return &env, nil
}

func (c *Client) observe(endpoint string, status int) {
	if c.obs != nil {
		c.obs.ObserveRequest(endpoint, status)
	}
}

// CheckKey validates an API key.
func (c *Client) CheckKey(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidCredential
	}
	_, err := c.get(ctx, "key", key, nil)
	return err
}

// Player fetches the full player document. A player who never joined the
// network yields an empty Player rather than an error.
func (c *Client) Player(ctx context.Context, key, uuid string) (*Player, error) {
	env, err := c.get(ctx, "player", key, url.Values{"uuid": {uuid}})
	if err != nil {
		return nil, err
	}
	p, err := decodePlayer(uuid, env.Player)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return p, nil
}

// Player is the decoded subset of the player document.
type Player struct {
	UUID        string
	DisplayName string
	NetworkExp  float64
	Rank        Rank
	Stats       map[string]json.RawMessage
	FetchedAt   time.Time
}

type rawPlayer struct {
	UUID               string                     `json:"uuid"`
	DisplayName        string                     `json:"displayname"`
	NetworkExp         json.Number                `json:"networkExp"`
	Rank               string                     `json:"rank"`
	MonthlyPackageRank string                     `json:"monthlyPackageRank"`
	NewPackageRank     string                     `json:"newPackageRank"`
	PackageRank        string                     `json:"packageRank"`
	Stats              map[string]json.RawMessage `json:"stats"`
}

func decodePlayer(uuid string, raw json.RawMessage) (*Player, error) {
	p := &Player{UUID: uuid, Rank: RankDefault, Stats: map[string]json.RawMessage{}, FetchedAt: time.Now()}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rp rawPlayer
	if err := dec.Decode(&rp); err != nil {
		return nil, fmt.Errorf("decode player: %w", err)
	}
	if rp.UUID != "" {
		p.UUID = rp.UUID
	}
	p.DisplayName = rp.DisplayName
	if rp.NetworkExp != "" {
		p.NetworkExp, _ = rp.NetworkExp.Float64()
	}
	p.Rank = ResolveRank(rp.Rank, rp.MonthlyPackageRank, rp.NewPackageRank, rp.PackageRank)
	if rp.Stats != nil {
		p.Stats = rp.Stats
	}
	return p, nil
}

// ModeStats returns the snapshot for m; absent or malformed stats are empty.
func (p *Player) ModeStats(m Mode) stats.Snapshot {
	s, err := stats.DecodeSnapshot(p.Stats[m.DbKey])
	if err != nil {
		return stats.Snapshot{}
	}
	return s
}

func (p *Player) NetworkLevel() stats.Level { return NetworkLevel(p.NetworkExp) }
