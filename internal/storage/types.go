package storage

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrDisabled    = errors.New("storage disabled")
	ErrEmptyKey    = errors.New("storage: empty key path")
	ErrInvalidJSON = errors.New("storage: value is not valid JSON")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process map, nothing survives a restart
//   - "file": snapshot + journal files
//   - "sqlite": SQLite database file (modernc, pure Go)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeGuild  Scope = "guild"
	ScopeUser   Scope = "user"
)

// Namespace addresses one scope's document tree, e.g. guild 1234.
type Namespace struct {
	Scope Scope
	ID    string
}

func Global() Namespace          { return Namespace{Scope: ScopeGlobal, ID: "0"} }
func Guild(id string) Namespace { return Namespace{Scope: ScopeGuild, ID: id} }
func User(id string) Namespace  { return Namespace{Scope: ScopeUser, ID: id} }

func (n Namespace) String() string { return string(n.Scope) + "/" + n.ID }

// joinPath builds the dotted key for a path like ("Bedwars", "current_modules").
func joinPath(path []string) (string, error) {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyKey
	}
	return strings.Join(parts, "."), nil
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At       time.Time `json:"at"`
	ActorID  string    `json:"actor_id"`
	GuildID  string    `json:"guild_id,omitempty"`
	Plugin   string    `json:"plugin"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	Error    string    `json:"error,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}
