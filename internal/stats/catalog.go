package stats

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Catalog holds the field keys known per mode db key. Lookups are
// case-sensitive on keys and case-insensitive on modes.
type Catalog struct {
	mu      sync.RWMutex
	modes   map[string]map[string]struct{}
	updated time.Time
}

// NewCatalog returns a catalog seeded with the built-in default keys.
func NewCatalog() *Catalog {
	c := &Catalog{modes: map[string]map[string]struct{}{}}
	c.mergeLocked(defaultCatalog())
	return c
}

// Replace swaps in freshly fetched keys, keeping the built-in defaults.
func (c *Catalog) Replace(keys map[string][]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes = map[string]map[string]struct{}{}
	c.mergeLocked(defaultCatalog())
	c.mergeLocked(keys)
	c.updated = time.Now()
}

func (c *Catalog) mergeLocked(keys map[string][]string) {
	for mode, ks := range keys {
		m := strings.ToLower(mode)
		set := c.modes[m]
		if set == nil {
			set = map[string]struct{}{}
			c.modes[m] = set
		}
		for _, k := range ks {
			if k != "" {
				set[k] = struct{}{}
			}
		}
	}
}

func (c *Catalog) Has(mode, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.modes[strings.ToLower(mode)][key]
	return ok
}

// Known returns a predicate for Compile bound to mode.
func (c *Catalog) Known(mode string) func(string) bool {
	return func(key string) bool { return c.Has(mode, key) }
}

func (c *Catalog) Keys(mode string) []string {
	c.mu.RLock()
	set := c.modes[strings.ToLower(mode)]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	c.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, set := range c.modes {
		n += len(set)
	}
	return n
}

func (c *Catalog) Updated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}
