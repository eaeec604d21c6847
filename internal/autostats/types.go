// Package autostats runs the recurring stats polling loops.
//
// A Task posts one card per tracked player, then polls the remote API on an
// interval and replaces the cards whenever the watched stat changes. The
// Registry indexes running tasks by trigger and enforces the shared guild
// credential cap.
package autostats

import (
	"context"
	"errors"
	"strings"

	"github.com/benno1237/bennos-cogs/internal/hypixel"
	"github.com/benno1237/bennos-cogs/internal/stats"
)

var (
	ErrCapacityExceeded = errors.New("autostats: too many tasks for this credential")
	ErrNotFound         = errors.New("autostats: no task for trigger")
	ErrAlreadyRunning   = errors.New("autostats: task already running for trigger")
	ErrNoEntities       = errors.New("autostats: no players to track")
	ErrTooManyEntities  = errors.New("autostats: player limit reached")
)

// Scope is the credential pool a task draws from.
type Scope string

const (
	ScopeNone  Scope = ""
	ScopeUser  Scope = "user"
	ScopeGuild Scope = "guild"
)

func (s Scope) String() string {
	if s == ScopeNone {
		return "none"
	}
	return string(s)
}

// ParseScope accepts "user" or "guild".
func ParseScope(s string) (Scope, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user":
		return ScopeUser, true
	case "guild", "server":
		return ScopeGuild, true
	}
	return ScopeNone, false
}

// Credential is an API key and the pool it belongs to.
type Credential struct {
	Key   string
	Scope Scope
}

func (c Credential) Valid() bool { return c.Key != "" && c.Scope != ScopeNone }

// Entity is one tracked player.
type Entity struct {
	UUID     string
	Name     string
	OwnerID  string // Discord user, empty for players looked up by name
	Rank     hypixel.Rank
	Snapshot stats.Snapshot
	Level    stats.Level
	Valid    bool // Snapshot holds fetched data
}

// Fetcher loads a player document.
type Fetcher interface {
	Player(ctx context.Context, uuid string) (*hypixel.Player, error)
}

// PlayerAPI is the keyed player endpoint, satisfied by *hypixel.Client.
type PlayerAPI interface {
	Player(ctx context.Context, key, uuid string) (*hypixel.Player, error)
}

// KeyedFetcher binds a client to one API key.
type KeyedFetcher struct {
	API PlayerAPI
	Key string
}

func (f KeyedFetcher) Player(ctx context.Context, uuid string) (*hypixel.Player, error) {
	return f.API.Player(ctx, f.Key, uuid)
}

// Refresh fetches e and returns the updated copy. e itself is not modified.
func Refresh(ctx context.Context, f Fetcher, mode hypixel.Mode, e Entity) (Entity, error) {
	p, err := f.Player(ctx, e.UUID)
	if err != nil {
		return e, err
	}
	e.Snapshot = p.ModeStats(mode)
	e.Level = hypixel.ModeLevel(mode, e.Snapshot)
	if mode.XPKey == "" {
		e.Level = p.NetworkLevel()
	}
	e.Rank = p.Rank
	if p.DisplayName != "" {
		e.Name = p.DisplayName
	}
	e.Valid = true
	return e, nil
}

// Observer receives loop outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObservePoll(result string)
	ObserveRefresh()
	ObserveTasks(scope string, n int)
}

const (
	PollUnchanged = "unchanged"
	PollChanged   = "changed"
	PollTimeout   = "timeout"
)
