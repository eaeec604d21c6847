package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

// fileStore keeps the document tree in memory and persists it as:
//   - <prefix>.snapshot.json  (compacted state)
//   - <prefix>.journal.jsonl  (append-only ops since the last snapshot)
//   - <prefix>.audit.jsonl    (append-only operator actions)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	docs         docs
	snapshotPath string
	journal      *os.File
	audit        *os.File
	writes       int
	compactEvery int
}

type journalOp struct {
	Op    string          `json:"op"` // set | del | clear
	Scope Scope           `json:"scope"`
	ID    string          `json:"id"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

type snapshotDoc struct {
	Scope Scope                      `json:"scope"`
	ID    string                     `json:"id"`
	Keys  map[string]json.RawMessage `json:"keys"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		docs:         docs{},
		snapshotPath: prefix + ".snapshot.json",
		compactEvery: 500,
	}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("store snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := s.replayJournal(prefix + ".journal.jsonl"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(prefix+".journal.jsonl", os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal, s.audit = jf, af
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var all []snapshotDoc
	if err := json.NewDecoder(f).Decode(&all); err != nil {
		return err
	}
	for _, d := range all {
		ns := Namespace{Scope: d.Scope, ID: d.ID}
		for k, v := range d.Keys {
			s.docs.set(ns, k, v)
		}
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			// A torn final line after a crash is expected; skip it.
			continue
		}
		s.apply(op)
	}
	return sc.Err()
}

func (s *fileStore) apply(op journalOp) {
	ns := Namespace{Scope: op.Scope, ID: op.ID}
	switch op.Op {
	case "set":
		s.docs.set(ns, op.Key, op.Value)
	case "del":
		s.docs.del(ns, op.Key)
	case "clear":
		delete(s.docs, ns)
	}
}

// appendLocked journals op, applies it and compacts when due.
func (s *fileStore) appendLocked(op journalOp) error {
	if s.journal == nil {
		return errors.New("store journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	s.apply(op)
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("store compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	all := make([]snapshotDoc, 0, len(s.docs))
	for ns, m := range s.docs {
		all = append(all, snapshotDoc{Scope: ns.Scope, ID: ns.ID, Keys: m})
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(all); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}

func (s *fileStore) GetRaw(_ context.Context, ns Namespace, path ...string) (json.RawMessage, bool, error) {
	key, err := joinPath(path)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.docs.get(ns, key)
	return v, ok, nil
}

func (s *fileStore) SetRaw(_ context.Context, ns Namespace, value json.RawMessage, path ...string) error {
	key, err := joinPath(path)
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return ErrInvalidJSON
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(journalOp{Op: "set", Scope: ns.Scope, ID: ns.ID, Key: key, Value: value})
}

func (s *fileStore) Delete(_ context.Context, ns Namespace, path ...string) error {
	key, err := joinPath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(journalOp{Op: "del", Scope: ns.Scope, ID: ns.ID, Key: key})
}

func (s *fileStore) Clear(_ context.Context, ns Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(journalOp{Op: "clear", Scope: ns.Scope, ID: ns.ID})
}

func (s *fileStore) IDs(_ context.Context, scope Scope, path ...string) ([]string, error) {
	key, _ := joinPath(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs.ids(scope, key), nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.audit).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.compactLocked(), s.journal.Close())
		s.journal = nil
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
		s.audit = nil
	}
	return errors.Join(errs...)
}
