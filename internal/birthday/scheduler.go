package birthday

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

// Announcer performs one guild's midnight work. now is in the guild's
// timezone.
type Announcer interface {
	Fire(ctx context.Context, guildID string, now time.Time) error
}

// TimezoneSource resolves a guild's timezone.
type TimezoneSource interface {
	Location(ctx context.Context, guildID string) *time.Location
}

// NextMidnight returns the first local midnight in loc strictly after now.
func NextMidnight(now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	sched, err := cron.ParseStandard("CRON_TZ=" + loc.String() + " 0 0 * * *")
	if err != nil {
		return time.Time{}, fmt.Errorf("midnight schedule for %s: %w", loc, err)
	}
	return sched.Next(now).UTC(), nil
}

type deadline struct {
	at  time.Time // UTC
	loc *time.Location
}

// Scheduler keeps one deadline per guild and fires the nearest one. Guild
// membership and timezone changes raise the reset signal so Run re-plans.
type Scheduler struct {
	ann Announcer
	tz  TimezoneSource
	log logx.Logger
	now func() time.Time

	mu        sync.Mutex
	deadlines map[string]deadline
	reset     chan struct{}
}

func NewScheduler(ann Announcer, tz TimezoneSource, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		ann:       ann,
		tz:        tz,
		log:       log.With(logx.String("comp", "birthday")),
		now:       time.Now,
		deadlines: map[string]deadline{},
		reset:     make(chan struct{}, 1),
	}
}

// Init plans every known guild. Call before Run.
func (s *Scheduler) Init(ctx context.Context, guilds []string) {
	for _, g := range guilds {
		s.plan(ctx, g)
	}
	s.log.Info("birthday scheduler ready", logx.Int("guilds", len(guilds)))
	s.signal()
}

func (s *Scheduler) plan(ctx context.Context, guildID string) {
	loc := time.UTC
	if s.tz != nil {
		loc = s.tz.Location(ctx, guildID)
	}
	at, err := NextMidnight(s.now(), loc)
	if err != nil {
		s.log.Warn("cannot plan guild", logx.String("guild_id", guildID), logx.Err(err))
		return
	}
	s.mu.Lock()
	s.deadlines[guildID] = deadline{at: at, loc: loc}
	s.mu.Unlock()
}

func (s *Scheduler) signal() {
	select {
	case s.reset <- struct{}{}:
	default:
	}
}

func (s *Scheduler) GuildJoined(ctx context.Context, guildID string) {
	s.plan(ctx, guildID)
	s.signal()
}

func (s *Scheduler) GuildRemoved(guildID string) {
	s.mu.Lock()
	delete(s.deadlines, guildID)
	s.mu.Unlock()
	s.signal()
}

// TimezoneChanged re-plans a guild after its timezone setting changed.
func (s *Scheduler) TimezoneChanged(ctx context.Context, guildID string) {
	s.plan(ctx, guildID)
	s.signal()
}

// Deadline returns the next firing time of a guild.
func (s *Scheduler) Deadline(guildID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deadlines[guildID]
	return d.at, ok
}

// GuildIDs lists the planned guilds.
func (s *Scheduler) GuildIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.deadlines))
	for g := range s.deadlines {
		out = append(out, g)
	}
	return out
}

func (s *Scheduler) Guilds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deadlines)
}

func (s *Scheduler) nearest() (string, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		guild string
		at    time.Time
	)
	for g, d := range s.deadlines {
		if guild == "" || d.at.Before(at) || (d.at.Equal(at) && g < guild) {
			guild, at = g, d.at
		}
	}
	return guild, at, guild != ""
}

// Run fires deadlines until ctx is done. Announcer errors end Run; the
// caller decides whether to restart it.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		guild, at, ok := s.nearest()
		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		if ok {
			timer = time.NewTimer(max(at.Sub(s.now()), 0))
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil
		case <-s.reset:
			stopTimer(timer)
			continue
		case <-fire:
		}

		if err := s.fire(ctx, guild); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("birthday guild %s: %w", guild, err)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil && !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, guildID string) error {
	s.mu.Lock()
	d, ok := s.deadlines[guildID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	now := s.now()
	if now.Before(d.at) {
		return nil
	}
	next, err := NextMidnight(now, d.loc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if _, still := s.deadlines[guildID]; still {
		s.deadlines[guildID] = deadline{at: next, loc: d.loc}
	}
	s.mu.Unlock()

	local := now.In(d.loc)
	s.log.Debug("birthday firing", logx.String("guild_id", guildID), logx.String("date", local.Format("2006-01-02")))
	return s.ann.Fire(ctx, guildID, local)
}
