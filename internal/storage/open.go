package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

// Store is a scoped key/value store holding JSON documents.
type Store interface {
	// GetRaw returns the document at path; ok is false when nothing is stored.
	GetRaw(ctx context.Context, ns Namespace, path ...string) (raw json.RawMessage, ok bool, err error)
	SetRaw(ctx context.Context, ns Namespace, value json.RawMessage, path ...string) error
	// Delete removes path and everything below it.
	Delete(ctx context.Context, ns Namespace, path ...string) error
	// Clear removes the whole namespace (data-deletion requests).
	Clear(ctx context.Context, ns Namespace) error
	// IDs lists the namespace ids of a scope that hold data under path.
	IDs(ctx context.Context, scope Scope, path ...string) ([]string, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "memory":
		return NewMemory(), nil
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// Get decodes the document at path into a T, returning def when absent.
func Get[T any](ctx context.Context, s Store, ns Namespace, def T, path ...string) (T, error) {
	raw, ok, err := s.GetRaw(ctx, ns, path...)
	if err != nil || !ok {
		return def, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return def, fmt.Errorf("decode %s %v: %w", ns, path, err)
	}
	return out, nil
}

// Set encodes v as JSON and stores it at path.
func Set[T any](ctx context.Context, s Store, ns Namespace, v T, path ...string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %v: %w", ns, path, err)
	}
	return s.SetRaw(ctx, ns, b, path...)
}
