package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// docs is the in-memory document tree shared by the memory and file drivers.
type docs map[Namespace]map[string]json.RawMessage

func (d docs) get(ns Namespace, key string) (json.RawMessage, bool) {
	v, ok := d[ns][key]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), v...), true
}

func (d docs) set(ns Namespace, key string, v json.RawMessage) {
	m := d[ns]
	if m == nil {
		m = map[string]json.RawMessage{}
		d[ns] = m
	}
	m[key] = append(json.RawMessage(nil), v...)
}

func (d docs) del(ns Namespace, key string) {
	m := d[ns]
	for k := range m {
		if k == key || strings.HasPrefix(k, key+".") {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		delete(d, ns)
	}
}

func (d docs) ids(scope Scope, key string) []string {
	var out []string
	for ns, m := range d {
		if ns.Scope != scope {
			continue
		}
		if key == "" {
			out = append(out, ns.ID)
			continue
		}
		for k := range m {
			if k == key || strings.HasPrefix(k, key+".") {
				out = append(out, ns.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Memory is a Store that keeps everything in process. Tests and the
// "memory" driver use it.
type Memory struct {
	mu    sync.RWMutex
	docs  docs
	audit []AuditEntry
}

func NewMemory() *Memory { return &Memory{docs: docs{}} }

func (m *Memory) GetRaw(_ context.Context, ns Namespace, path ...string) (json.RawMessage, bool, error) {
	key, err := joinPath(path)
	if err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.docs.get(ns, key)
	return v, ok, nil
}

func (m *Memory) SetRaw(_ context.Context, ns Namespace, value json.RawMessage, path ...string) error {
	key, err := joinPath(path)
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return ErrInvalidJSON
	}
	m.mu.Lock()
	m.docs.set(ns, key, value)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, ns Namespace, path ...string) error {
	key, err := joinPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs.del(ns, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context, ns Namespace) error {
	m.mu.Lock()
	delete(m.docs, ns)
	m.mu.Unlock()
	return nil
}

func (m *Memory) IDs(_ context.Context, scope Scope, path ...string) ([]string, error) {
	key, _ := joinPath(path)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docs.ids(scope, key), nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	m.audit = append(m.audit, e)
	m.mu.Unlock()
	return nil
}

// Audit returns a copy of the recorded audit entries.
func (m *Memory) Audit() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error { return nil }
