package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"

	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{"memory": NewMemory()}

	fs, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "store")}, logx.Nop())
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	out["file"] = fs

	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(dir, "cogs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	out["sqlite"] = sq

	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			g := Guild("1001")
			if err := Set(ctx, s, g, []string{"wins_bedwars", "kills_bedwars"}, "Bedwars", "current_modules"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := Set(ctx, s, g, "key-1", "apikey"); err != nil {
				t.Fatalf("set apikey: %v", err)
			}

			got, err := Get(ctx, s, g, []string(nil), "Bedwars", "current_modules")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !reflect.DeepEqual(got, []string{"wins_bedwars", "kills_bedwars"}) {
				t.Fatalf("got %v", got)
			}

			def, err := Get(ctx, s, User("7"), "fallback", "apikey")
			if err != nil || def != "fallback" {
				t.Fatalf("default not returned: %q %v", def, err)
			}

			ids, err := s.IDs(ctx, ScopeGuild, "Bedwars")
			if err != nil || !reflect.DeepEqual(ids, []string{"1001"}) {
				t.Fatalf("ids=%v err=%v", ids, err)
			}

			if err := s.Delete(ctx, g, "Bedwars"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := s.GetRaw(ctx, g, "Bedwars", "current_modules"); ok {
				t.Fatalf("subtree not deleted")
			}
			if _, ok, _ := s.GetRaw(ctx, g, "apikey"); !ok {
				t.Fatalf("sibling deleted")
			}

			if err := s.Clear(ctx, g); err != nil {
				t.Fatalf("clear: %v", err)
			}
			if _, ok, _ := s.GetRaw(ctx, g, "apikey"); ok {
				t.Fatalf("namespace not cleared")
			}
		})
	}
}

func TestStoreRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.SetRaw(ctx, Global(), json.RawMessage(`{nope`), "x"); err != ErrInvalidJSON {
				t.Fatalf("expected ErrInvalidJSON, got %v", err)
			}
			if err := s.SetRaw(ctx, Global(), json.RawMessage(`1`)); err != ErrEmptyKey {
				t.Fatalf("expected ErrEmptyKey, got %v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store")

	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = Set(ctx, s, User("42"), "0123456789abcdef0123456789abcdef", "uuid")
	_ = Set(ctx, s, User("43"), "gone", "uuid")
	_ = s.Clear(ctx, User("43"))
	if err := s.AppendAudit(ctx, AuditEntry{ActorID: "42", Plugin: "hypixel", Action: "apikey.set"}); err != nil {
		t.Fatalf("audit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, _ := Get(ctx, s2, User("42"), "", "uuid")
	if got != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("uuid lost: %q", got)
	}
	if _, ok, _ := s2.GetRaw(ctx, User("43"), "uuid"); ok {
		t.Fatalf("cleared namespace came back")
	}
}
