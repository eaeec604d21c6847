// Package birthday announces member birthdays at each guild's local
// midnight and moves the birthday role to whoever is celebrating.
package birthday

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benno1237/bennos-cogs/internal/storage"
)

var (
	ErrInvalidDate = errors.New("birthday: invalid date")
	ErrNoEntry     = errors.New("birthday: no birthday set")
)

// Entry is one member's birthday. Year 0 means unknown.
type Entry struct {
	UserID  string `json:"user_id"`
	Day     int    `json:"day"`
	Month   int    `json:"month"`
	Year    int    `json:"year,omitempty"`
	Message string `json:"message,omitempty"`
}

// Matches reports whether e is celebrated on the date of now. Leap day
// birthdays move to Feb 28 in other years.
func (e Entry) Matches(now time.Time) bool {
	if e.Month == int(now.Month()) && e.Day == now.Day() {
		return true
	}
	return e.Month == 2 && e.Day == 29 && now.Month() == time.February && now.Day() == 28 && !isLeap(now.Year())
}

// Age on now's date, or 0 when the year is unknown.
func (e Entry) Age(now time.Time) int {
	if e.Year <= 0 || e.Year > now.Year() {
		return 0
	}
	return now.Year() - e.Year
}

func isLeap(y int) bool { return y%4 == 0 && (y%100 != 0 || y%400 == 0) }

// ValidateDate checks day/month (and year when set) form a real date.
func ValidateDate(day, month, year int) error {
	if month < 1 || month > 12 || day < 1 {
		return fmt.Errorf("%w: %02d.%02d", ErrInvalidDate, day, month)
	}
	y := year
	if y == 0 {
		y = 2000 // leap year so Feb 29 is accepted
	} else if y < 1900 || y > time.Now().Year() {
		return fmt.Errorf("%w: year %d", ErrInvalidDate, year)
	}
	t := time.Date(y, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return fmt.Errorf("%w: %02d.%02d", ErrInvalidDate, day, month)
	}
	return nil
}

// Settings are the per-guild birthday options.
type Settings struct {
	ChannelID      string `json:"channel_id,omitempty"`
	RoleID         string `json:"role_id,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	DefaultMessage string `json:"default_message,omitempty"`
}

const (
	settingsKey = "birthday_settings"
	entriesKey  = "birthdays"
)

// Store keeps settings and entries in the guild namespace.
type Store struct {
	S         storage.Store
	DefaultTZ string

	mu    sync.RWMutex
	locks storage.Locks
}

// SetDefaultTZ swaps the fallback timezone and reports whether it changed.
func (s *Store) SetDefaultTZ(tz string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tz == s.DefaultTZ {
		return false
	}
	s.DefaultTZ = tz
	return true
}

func (s *Store) Settings(ctx context.Context, guildID string) (Settings, error) {
	return storage.Get(ctx, s.S, storage.Guild(guildID), Settings{}, settingsKey)
}

func (s *Store) SaveSettings(ctx context.Context, guildID string, v Settings) error {
	return storage.Set(ctx, s.S, storage.Guild(guildID), v, settingsKey)
}

// UpdateSettings applies fn to the current settings and saves them.
func (s *Store) UpdateSettings(ctx context.Context, guildID string, fn func(*Settings)) (Settings, error) {
	defer s.locks.Lock(storage.Guild(guildID))()
	cur, err := s.Settings(ctx, guildID)
	if err != nil {
		return Settings{}, err
	}
	fn(&cur)
	return cur, s.SaveSettings(ctx, guildID, cur)
}

// Location is the guild's timezone, falling back to DefaultTZ and UTC.
func (s *Store) Location(ctx context.Context, guildID string) *time.Location {
	s.mu.RLock()
	tz := s.DefaultTZ
	s.mu.RUnlock()
	if st, err := s.Settings(ctx, guildID); err == nil && st.Timezone != "" {
		tz = st.Timezone
	}
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (s *Store) entryMap(ctx context.Context, guildID string) (map[string]Entry, error) {
	m, err := storage.Get(ctx, s.S, storage.Guild(guildID), map[string]Entry{}, entriesKey)
	if m == nil {
		m = map[string]Entry{}
	}
	return m, err
}

// Entries returns the guild's birthdays ordered by date.
func (s *Store) Entries(ctx context.Context, guildID string) ([]Entry, error) {
	m, err := s.entryMap(ctx, guildID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(m))
	for id, e := range m {
		e.UserID = id
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if a.Month != b.Month {
			return a.Month - b.Month
		}
		if a.Day != b.Day {
			return a.Day - b.Day
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out, nil
}

// SetEntry stores e, keeping an existing custom message unless e has one.
func (s *Store) SetEntry(ctx context.Context, guildID string, e Entry) error {
	if err := ValidateDate(e.Day, e.Month, e.Year); err != nil {
		return err
	}
	defer s.locks.Lock(storage.Guild(guildID))()
	m, err := s.entryMap(ctx, guildID)
	if err != nil {
		return err
	}
	if old, ok := m[e.UserID]; ok && e.Message == "" {
		e.Message = old.Message
	}
	m[e.UserID] = e
	return storage.Set(ctx, s.S, storage.Guild(guildID), m, entriesKey)
}

// SetMessage sets the custom announcement of an existing entry.
func (s *Store) SetMessage(ctx context.Context, guildID, userID, msg string) error {
	defer s.locks.Lock(storage.Guild(guildID))()
	m, err := s.entryMap(ctx, guildID)
	if err != nil {
		return err
	}
	e, ok := m[userID]
	if !ok {
		return ErrNoEntry
	}
	e.Message = strings.TrimSpace(msg)
	m[userID] = e
	return storage.Set(ctx, s.S, storage.Guild(guildID), m, entriesKey)
}

func (s *Store) RemoveEntry(ctx context.Context, guildID, userID string) (bool, error) {
	defer s.locks.Lock(storage.Guild(guildID))()
	m, err := s.entryMap(ctx, guildID)
	if err != nil {
		return false, err
	}
	if _, ok := m[userID]; !ok {
		return false, nil
	}
	delete(m, userID)
	return true, storage.Set(ctx, s.S, storage.Guild(guildID), m, entriesKey)
}

// ForgetGuild drops everything stored for a guild the bot left.
func (s *Store) ForgetGuild(ctx context.Context, guildID string) error {
	defer s.locks.Lock(storage.Guild(guildID))()
	return errors.Join(
		s.S.Delete(ctx, storage.Guild(guildID), settingsKey),
		s.S.Delete(ctx, storage.Guild(guildID), entriesKey),
	)
}
