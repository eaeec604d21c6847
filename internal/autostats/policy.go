package autostats

import (
	"context"
	"strings"

	"github.com/benno1237/bennos-cogs/internal/stats"
)

// RefreshFunc fetches fresh data for an entity.
type RefreshFunc func(ctx context.Context, e Entity) (Entity, error)

// Detection is the outcome of one poll. Fetched holds the entities the
// policy already refreshed, keyed by index, so the refresh step can skip
// them.
type Detection struct {
	Changed bool
	Fetched map[int]Entity
}

// ChangePolicy decides whether a task's cards are stale.
type ChangePolicy interface {
	Name() string
	Detect(ctx context.Context, refresh RefreshFunc, watch string, ents []Entity) Detection
}

// Representative watches the first entity only. One request per tick, at
// the price of missing games the others play alone.
type Representative struct{}

func (Representative) Name() string { return "representative" }

func (Representative) Detect(ctx context.Context, refresh RefreshFunc, watch string, ents []Entity) Detection {
	if len(ents) == 0 {
		return Detection{}
	}
	fresh, err := refresh(ctx, ents[0])
	if err != nil {
		return Detection{}
	}
	return Detection{
		Changed: stats.Changed(watch, ents[0].Snapshot, fresh.Snapshot),
		Fetched: map[int]Entity{0: fresh},
	}
}

// PerEntity fetches every entity on each tick.
type PerEntity struct{}

func (PerEntity) Name() string { return "per-entity" }

func (PerEntity) Detect(ctx context.Context, refresh RefreshFunc, watch string, ents []Entity) Detection {
	d := Detection{Fetched: make(map[int]Entity, len(ents))}
	for i, e := range ents {
		if ctx.Err() != nil {
			return Detection{}
		}
		fresh, err := refresh(ctx, e)
		if err != nil {
			continue
		}
		d.Fetched[i] = fresh
		if stats.Changed(watch, e.Snapshot, fresh.Snapshot) {
			d.Changed = true
		}
	}
	return d
}

// PolicyByName maps a config or command value to a policy. Unknown names
// fall back to Representative.
func PolicyByName(name string) ChangePolicy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "per-entity", "per_entity", "perentity", "all":
		return PerEntity{}
	}
	return Representative{}
}
