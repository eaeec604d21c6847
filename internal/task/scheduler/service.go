// Package scheduler triggers recurring background jobs on cron or interval
// schedules. A job never overlaps with itself: a trigger that arrives while
// the previous run is still going is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

type job struct {
	name    string
	spec    string
	timeout time.Duration
	run     func(ctx context.Context) error
	sched   cron.Schedule
	entryID cron.EntryID

	running atomic.Bool
	mu      sync.Mutex
	lastRun time.Time
	lastErr string
	skipped uint64
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Next    time.Time
	Prev    time.Time
	LastErr string
	Skipped uint64
}

type Service struct {
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser

	mu   sync.Mutex
	ctx  context.Context
	c    *cron.Cron
	jobs map[string]*job
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		log:    log.With(logx.String("comp", "scheduler")),
		loc:    loc,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   map[string]*job{},
	}
}

// Add registers or replaces the job called name. See ParseSchedule for the
// accepted schedule forms.
func (s *Service) Add(name, schedule string, timeout time.Duration, run func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" || run == nil {
		return errors.New("scheduler: name and job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	var sched cron.Schedule
	switch ps.Kind {
	case SpecCron:
		if sched, err = s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("scheduler: %s: %w", name, err)
		}
	case SpecInterval:
		sched, _ = intervalWithSpread(ps.Every, time.Now(), name)
	}

	j := &job{name: name, spec: strings.TrimSpace(schedule), timeout: timeout, run: run, sched: sched}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.jobs[name] = j
	if s.c != nil {
		s.scheduleLocked(j)
	}
	return nil
}

func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	if s.c != nil && j.entryID != 0 {
		s.c.Remove(j.entryID)
	}
	delete(s.jobs, name)
	return true
}

func (s *Service) scheduleLocked(j *job) {
	ctx := s.ctx
	j.entryID = s.c.Schedule(j.sched, cron.FuncJob(func() { s.exec(ctx, j) }))
	s.log.Debug("schedule registered", logx.String("name", j.name), logx.String("spec", j.spec), logx.Time("next", j.sched.Next(time.Now().In(s.loc))))
}

// Start begins triggering. Jobs run under ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, j := range s.jobs {
		s.scheduleLocked(j)
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.jobs)))
}

// Stop halts triggering and waits for running jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, j := range s.jobs {
		j.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// RunNow executes name immediately, honoring the overlap guard.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	ctx := s.ctx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.exec(ctx, j)
}

func (s *Service) exec(ctx context.Context, j *job) (err error) {
	if !j.running.CompareAndSwap(false, true) {
		j.mu.Lock()
		j.skipped++
		j.mu.Unlock()
		s.log.Debug("job still running, trigger skipped", logx.String("name", j.name))
		return nil
	}
	defer j.running.Store(false)

	start := time.Now()
	runCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panic", logx.String("name", j.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
		j.mu.Lock()
		j.lastRun = start
		j.lastErr = ""
		if err != nil {
			j.lastErr = err.Error()
		}
		j.mu.Unlock()
		if err != nil {
			s.log.Warn("job failed", logx.String("name", j.name), logx.Duration("dur", time.Since(start)), logx.Err(err))
		} else {
			s.log.Debug("job done", logx.String("name", j.name), logx.Duration("dur", time.Since(start)))
		}
	}()
	return j.run(runCtx)
}

// Snapshot lists the jobs sorted by name.
func (s *Service) Snapshot() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		j.mu.Lock()
		info := ScheduleInfo{Name: j.name, Spec: j.spec, Prev: j.lastRun, LastErr: j.lastErr, Skipped: j.skipped}
		j.mu.Unlock()
		if s.c != nil && j.entryID != 0 {
			info.Next = s.c.Entry(j.entryID).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}
