package birthday

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/benno1237/bennos-cogs/internal/eventbus"
	"github.com/benno1237/bennos-cogs/internal/transport"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

const (
	// PageLimit bounds one announcement message.
	PageLimit = 1000

	DefaultMessage = "Happy birthday {mention}! :tada:"
	roleReason     = "birthday role"
)

// Observer counts firings.
type Observer interface {
	ObserveBirthdayFire(announced int)
}

// Birthdays is the Announcer backed by the store and the chat transport.
type Birthdays struct {
	Store    *Store
	Adapter  transport.Adapter
	Log      logx.Logger
	Bus      eventbus.Bus
	Observer Observer
}

// Fire announces today's birthdays and swaps the birthday role so exactly
// the celebrating members hold it. The swap runs even with no matches.
func (b *Birthdays) Fire(ctx context.Context, guildID string, now time.Time) error {
	log := b.Log.With(logx.String("comp", "birthday"), logx.String("guild_id", guildID))
	st, err := b.Store.Settings(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if st.ChannelID == "" && st.RoleID == "" {
		return nil
	}
	entries, err := b.Store.Entries(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load birthdays: %w", err)
	}
	var matches []Entry
	for _, e := range entries {
		if e.Matches(now) {
			matches = append(matches, e)
		}
	}

	ev := eventbus.BirthdayEvent{GuildID: guildID, Matches: len(matches)}
	var errs []error

	if st.ChannelID != "" && len(matches) > 0 {
		for _, page := range Paginate(Announcement(matches, st.DefaultMessage, now), PageLimit) {
			if _, err := b.Adapter.SendText(ctx, st.ChannelID, page); err != nil {
				errs = append(errs, fmt.Errorf("announce: %w", err))
				break
			}
			ev.Messages++
		}
	}

	if st.RoleID != "" {
		granted, revoked, err := b.swapRole(ctx, guildID, st.RoleID, matches)
		ev.Granted, ev.Revoked = granted, revoked
		if err != nil {
			errs = append(errs, err)
		}
	}

	if b.Observer != nil {
		b.Observer.ObserveBirthdayFire(len(matches))
	}
	if b.Bus != nil {
		b.Bus.Publish(eventbus.Event{Type: eventbus.BirthdayFired, Data: ev})
	}
	log.Info("birthdays fired",
		logx.Int("matches", ev.Matches),
		logx.Int("granted", ev.Granted),
		logx.Int("revoked", ev.Revoked),
	)

	// Permission problems are the guild's business, not the scheduler's.
	err = errors.Join(errs...)
	if errors.Is(err, transport.ErrForbidden) || errors.Is(err, transport.ErrNotFound) {
		log.Warn("birthday partially failed", logx.Err(err))
		return nil
	}
	return err
}

func (b *Birthdays) swapRole(ctx context.Context, guildID, roleID string, matches []Entry) (granted, revoked int, err error) {
	holders, err := b.Adapter.RoleMembers(ctx, guildID, roleID)
	if err != nil {
		return 0, 0, fmt.Errorf("list role members: %w", err)
	}
	want := make([]string, 0, len(matches))
	for _, e := range matches {
		want = append(want, e.UserID)
	}

	var errs []error
	for _, u := range holders {
		if slices.Contains(want, u) {
			continue
		}
		if err := b.Adapter.RemoveRole(ctx, guildID, u, roleID, roleReason); err != nil {
			errs = append(errs, fmt.Errorf("remove role from %s: %w", u, err))
			continue
		}
		revoked++
	}
	for _, u := range want {
		if slices.Contains(holders, u) {
			continue
		}
		if err := b.Adapter.AddRole(ctx, guildID, u, roleID, roleReason); err != nil {
			errs = append(errs, fmt.Errorf("add role to %s: %w", u, err))
			continue
		}
		granted++
	}
	return granted, revoked, errors.Join(errs...)
}

// Announcement builds the text for all matches, one paragraph each.
func Announcement(matches []Entry, guildDefault string, now time.Time) string {
	parts := make([]string, 0, len(matches))
	for _, e := range matches {
		tmpl := e.Message
		if tmpl == "" {
			tmpl = guildDefault
		}
		if tmpl == "" {
			tmpl = DefaultMessage
		}
		parts = append(parts, render(tmpl, e, now))
	}
	return strings.Join(parts, "\n\n")
}

func render(tmpl string, e Entry, now time.Time) string {
	age := ""
	if a := e.Age(now); a > 0 {
		age = strconv.Itoa(a)
	}
	r := strings.NewReplacer("{mention}", "<@"+e.UserID+">", "{age}", age)
	out := r.Replace(tmpl)
	if !strings.Contains(tmpl, "{mention}") {
		out = "<@" + e.UserID + "> " + out
	}
	return out
}

// Paginate splits text into pages of at most limit runes, breaking on
// paragraph boundaries. A single oversized paragraph is split hard.
func Paginate(text string, limit int) []string {
	if text == "" {
		return nil
	}
	var (
		pages []string
		cur   strings.Builder
		n     int
	)
	flush := func() {
		if cur.Len() > 0 {
			pages = append(pages, cur.String())
			cur.Reset()
			n = 0
		}
	}
	for _, para := range strings.Split(text, "\n\n") {
		rs := []rune(para)
		for len(rs) > limit {
			flush()
			pages = append(pages, string(rs[:limit]))
			rs = rs[limit:]
		}
		sep := 0
		if n > 0 {
			sep = 2
		}
		if n+sep+len(rs) > limit {
			flush()
			sep = 0
		}
		if sep > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(string(rs))
		n += sep + len(rs)
	}
	flush()
	return pages
}
