package storage

import (
	"sync"
	"testing"
	"time"
)

func TestLocksSerializePerNamespace(t *testing.T) {
	var l Locks
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(Guild("g1"))
			defer unlock()
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("max holders=%d", maxSeen)
	}
	if len(l.locks) != 0 {
		t.Fatalf("locks not released: %d", len(l.locks))
	}
}

func TestLocksIndependentNamespaces(t *testing.T) {
	var l Locks
	unlock := l.Lock(Guild("g1"))
	defer unlock()
	done := make(chan struct{})
	go func() {
		l.Lock(Guild("g2"))()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("g2 blocked by g1")
	}
}
