package scheduler

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule is cron.Every with the first firing pushed back by a
// per-job jitter.
type spreadSchedule struct {
	every cron.ConstantDelaySchedule
	first time.Time
}

func (s spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.every.Next(t)
}

// intervalWithSpread derives the jitter from the job name and the clock,
// so two bots sharing an API key still drift apart.
func intervalWithSpread(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(now.UnixNano())))
	jitter := time.Duration(rng.Int64N(int64(window)))
	return spreadSchedule{every: base, first: now.Add(every + jitter)}, jitter
}
