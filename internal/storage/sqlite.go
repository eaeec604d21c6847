package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) GetRaw(ctx context.Context, ns Namespace, path ...string) (json.RawMessage, bool, error) {
	key, err := joinPath(path)
	if err != nil {
		return nil, false, err
	}
	var v string
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE scope = ? AND ns_id = ? AND key = ?`,
		string(ns.Scope), ns.ID, key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return json.RawMessage(v), true, nil
}

func (s *sqliteStore) SetRaw(ctx context.Context, ns Namespace, value json.RawMessage, path ...string) error {
	key, err := joinPath(path)
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return ErrInvalidJSON
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv(scope, ns_id, key, value, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(scope, ns_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		string(ns.Scope), ns.ID, key, string(value), time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, ns Namespace, path ...string) error {
	key, err := joinPath(path)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE scope = ? AND ns_id = ? AND (key = ? OR substr(key, 1, ?) = ?)`,
		string(ns.Scope), ns.ID, key, len(key)+1, key+".",
	)
	return err
}

func (s *sqliteStore) Clear(ctx context.Context, ns Namespace) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE scope = ? AND ns_id = ?`, string(ns.Scope), ns.ID)
	return err
}

func (s *sqliteStore) IDs(ctx context.Context, scope Scope, path ...string) ([]string, error) {
	key, _ := joinPath(path)
	var (
		rows *sql.Rows
		err  error
	)
	if key == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT DISTINCT ns_id FROM kv WHERE scope = ? ORDER BY ns_id`, string(scope))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT DISTINCT ns_id FROM kv WHERE scope = ? AND (key = ? OR substr(key, 1, ?) = ?) ORDER BY ns_id`,
			string(scope), key, len(key)+1, key+".",
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, guild_id, plugin, action, target, err, meta) VALUES(?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.ActorID, nullStr(e.GuildID), e.Plugin, e.Action,
		nullStr(e.Target), nullStr(e.Error), nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
