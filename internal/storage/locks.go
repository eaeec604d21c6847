package storage

import "sync"

// Locks serializes read-modify-write cycles per namespace. Drivers only
// make single writes atomic, so callers that load a document, change it
// and save it back hold the namespace lock for the whole cycle. The zero
// value is ready to use.
type Locks struct {
	mu    sync.Mutex
	locks map[Namespace]*nsLock
}

type nsLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until ns is free and returns its unlock func. Entries are
// dropped once nobody holds or waits for them.
func (l *Locks) Lock(ns Namespace) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[Namespace]*nsLock{}
	}
	e := l.locks[ns]
	if e == nil {
		e = &nsLock{}
		l.locks[ns] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			if e.refs--; e.refs == 0 {
				delete(l.locks, ns)
			}
			l.mu.Unlock()
		})
	}
}
