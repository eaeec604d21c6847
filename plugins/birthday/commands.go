package birthday

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	bday "github.com/benno1237/bennos-cogs/internal/birthday"
	"github.com/benno1237/bennos-cogs/internal/plugin"
	"github.com/benno1237/bennos-cogs/internal/storage"
	"github.com/benno1237/bennos-cogs/internal/transport/router"
)

func (c *Cog) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "birthday set",
			Description: "register your birthday",
			Usage:       "birthday set <day> <month> [year]",
			Access:      plugin.AccessGuild,
			Handle:      c.handleSet,
		},
		{
			Route:       "birthday remove",
			Description: "forget your birthday",
			Usage:       "birthday remove",
			Access:      plugin.AccessGuild,
			Handle:      c.handleRemove,
		},
		{
			Route:       "birthday list",
			Description: "every birthday in this server",
			Usage:       "birthday list",
			Access:      plugin.AccessGuild,
			Handle:      c.handleList,
		},
		{
			Route:       "birthday message",
			Description: "your own announcement; {mention} and {age} are replaced",
			Usage:       "birthday message <text>",
			Access:      plugin.AccessGuild,
			Handle:      c.handleMessage,
		},
		{
			Route:       "birthdayset channel",
			Description: "announcement channel",
			Usage:       "birthdayset channel <#channel|clear>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleSetChannel,
		},
		{
			Route:       "birthdayset role",
			Description: "role held by members on their birthday",
			Usage:       "birthdayset role <@role|role_id|clear>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleSetRole,
		},
		{
			Route:       "birthdayset timezone",
			Description: "IANA timezone midnight is computed in",
			Usage:       "birthdayset timezone <Europe/Berlin>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleSetTimezone,
		},
		{
			Route:       "birthdayset message",
			Description: "default announcement; {mention} and {age} are replaced",
			Usage:       "birthdayset message <text|clear>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleSetMessage,
		},
		{
			Route:       "birthdayset info",
			Description: "birthday settings and the next run",
			Usage:       "birthdayset info",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleInfo,
		},
		{
			Route:       "birthdayset reset",
			Description: "delete every birthday and setting of this server",
			Usage:       "birthdayset reset --confirm",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleReset,
		},
	}
}

var (
	channelRe = regexp.MustCompile(`^<#(\d+)>$`)
	roleRe    = regexp.MustCompile(`^<@&(\d+)>$`)
)

func parseRef(s string, re *regexp.Regexp) (string, bool) {
	if m := re.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
		s = m[1]
	}
	id, err := snowflake.ParseString(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return "", false
	}
	return id.String(), true
}

// parseDate accepts "24 12 [1990]" as well as "24.12.[1990]".
func parseDate(args []string) (day, month, year int, err error) {
	parts := strings.FieldsFunc(strings.Join(args, " "), func(r rune) bool {
		return r == ' ' || r == '.' || r == '/' || r == '-'
	})
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, bday.ErrInvalidDate
	}
	nums := make([]int, 3)
	for i, p := range parts {
		if nums[i], err = strconv.Atoi(p); err != nil {
			return 0, 0, 0, bday.ErrInvalidDate
		}
	}
	return nums[0], nums[1], nums[2], bday.ValidateDate(nums[0], nums[1], nums[2])
}

func formatDate(e bday.Entry) string {
	if e.Year > 0 {
		return fmt.Sprintf("%02d.%02d.%d", e.Day, e.Month, e.Year)
	}
	return fmt.Sprintf("%02d.%02d.", e.Day, e.Month)
}

func (c *Cog) handleSet(ctx context.Context, req *router.Request) error {
	day, month, year, err := parseDate(req.Args)
	if err != nil {
		return router.WrapUser(err, fmt.Sprintf("That is not a date. Usage: `%sbirthday set <day> <month> [year]`", req.Prefix))
	}
	e := bday.Entry{UserID: req.AuthorID, Day: day, Month: month, Year: year}
	if err := c.store.SetEntry(ctx, req.GuildID, e); err != nil {
		return err
	}
	return req.Replyf(ctx, "Birthday saved: %s", formatDate(e))
}

func (c *Cog) handleRemove(ctx context.Context, req *router.Request) error {
	ok, err := c.store.RemoveEntry(ctx, req.GuildID, req.AuthorID)
	if err != nil {
		return err
	}
	if !ok {
		return router.Userf("You have no birthday set here.")
	}
	return req.Reply(ctx, "Birthday removed.")
}

func (c *Cog) handleList(ctx context.Context, req *router.Request) error {
	entries, err := c.store.Entries(ctx, req.GuildID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return req.Reply(ctx, "No birthdays registered yet.")
	}
	var (
		paras []string
		cur   strings.Builder
		month int
	)
	for _, e := range entries {
		if e.Month != month {
			if cur.Len() > 0 {
				paras = append(paras, cur.String())
				cur.Reset()
			}
			month = e.Month
			cur.WriteString("**" + time.Month(month).String() + "**")
		}
		fmt.Fprintf(&cur, "\n<@%s> %s", e.UserID, formatDate(e))
	}
	paras = append(paras, cur.String())
	for _, page := range bday.Paginate(strings.Join(paras, "\n\n"), bday.PageLimit) {
		if err := req.Reply(ctx, page); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cog) handleMessage(ctx context.Context, req *router.Request) error {
	msg := strings.Join(req.RawArgs, " ")
	err := c.store.SetMessage(ctx, req.GuildID, req.AuthorID, msg)
	if errors.Is(err, bday.ErrNoEntry) {
		return router.Userf("Set your birthday first with `%sbirthday set`.", req.Prefix)
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(msg) == "" {
		return req.Reply(ctx, "Custom message cleared.")
	}
	return req.Reply(ctx, "Custom message saved.")
}

func (c *Cog) handleSetChannel(ctx context.Context, req *router.Request) error {
	id := req.ChannelID
	if a := req.Arg(0); strings.EqualFold(a, "clear") {
		id = ""
	} else if a != "" {
		var ok bool
		if id, ok = parseRef(a, channelRe); !ok {
			return router.Userf("`%s` is not a channel.", a)
		}
	}
	if _, err := c.store.UpdateSettings(ctx, req.GuildID, func(s *bday.Settings) { s.ChannelID = id }); err != nil {
		return err
	}
	if id == "" {
		return req.Reply(ctx, "Birthday announcements disabled.")
	}
	return req.Replyf(ctx, "Birthdays are announced in <#%s>.", id)
}

func (c *Cog) handleSetRole(ctx context.Context, req *router.Request) error {
	a := req.Arg(0)
	id := ""
	if a == "" {
		return router.Userf("Usage: `%sbirthdayset role <@role|role_id|clear>`", req.Prefix)
	}
	if !strings.EqualFold(a, "clear") {
		var ok bool
		if id, ok = parseRef(a, roleRe); !ok {
			return router.Userf("`%s` is not a role.", a)
		}
	}
	if _, err := c.store.UpdateSettings(ctx, req.GuildID, func(s *bday.Settings) { s.RoleID = id }); err != nil {
		return err
	}
	if id == "" {
		return req.Reply(ctx, "Birthday role disabled.")
	}
	return req.Reply(ctx, "Birthday role set. Make sure my role is above it.")
}

func (c *Cog) handleSetTimezone(ctx context.Context, req *router.Request) error {
	tz := req.Arg(0)
	loc, err := time.LoadLocation(tz)
	if tz == "" || err != nil {
		return router.Userf("`%s` is not an IANA timezone, try something like `Europe/Berlin`.", tz)
	}
	if _, err := c.store.UpdateSettings(ctx, req.GuildID, func(s *bday.Settings) { s.Timezone = loc.String() }); err != nil {
		return err
	}
	c.sched.TimezoneChanged(ctx, req.GuildID)
	return req.Replyf(ctx, "Timezone set to %s.", loc)
}

func (c *Cog) handleSetMessage(ctx context.Context, req *router.Request) error {
	msg := strings.TrimSpace(strings.Join(req.RawArgs, " "))
	if strings.EqualFold(msg, "clear") {
		msg = ""
	}
	if _, err := c.store.UpdateSettings(ctx, req.GuildID, func(s *bday.Settings) { s.DefaultMessage = msg }); err != nil {
		return err
	}
	if msg == "" {
		return req.Replyf(ctx, "Default message reset to `%s`.", bday.DefaultMessage)
	}
	return req.Reply(ctx, "Default message saved.")
}

func (c *Cog) handleInfo(ctx context.Context, req *router.Request) error {
	st, err := c.store.Settings(ctx, req.GuildID)
	if err != nil {
		return err
	}
	entries, err := c.store.Entries(ctx, req.GuildID)
	if err != nil {
		return err
	}
	loc := c.store.Location(ctx, req.GuildID)

	var b strings.Builder
	b.WriteString("**Birthdays**\n")
	if st.ChannelID != "" {
		fmt.Fprintf(&b, "Channel: <#%s>\n", st.ChannelID)
	} else {
		b.WriteString("Channel: not set\n")
	}
	if st.RoleID != "" {
		fmt.Fprintf(&b, "Role: <@&%s>\n", st.RoleID)
	}
	fmt.Fprintf(&b, "Timezone: %s\n", loc)
	fmt.Fprintf(&b, "Registered: %d\n", len(entries))
	if at, ok := c.sched.Deadline(req.GuildID); ok {
		fmt.Fprintf(&b, "Next run: %s", at.In(loc).Format("2006-01-02 15:04 MST"))
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (c *Cog) handleReset(ctx context.Context, req *router.Request) error {
	if !req.BoolFlags["confirm"] {
		return router.Userf("This deletes every birthday of this server. Run `%sbirthdayset reset --confirm` to go ahead.", req.Prefix)
	}
	err := c.store.ForgetGuild(ctx, req.GuildID)
	c.AppendAudit(ctx, storage.AuditEntry{
		ActorID: req.AuthorID,
		GuildID: req.GuildID,
		Action:  "birthday.reset",
		Target:  req.GuildID,
		Error:   errString(err),
	})
	if err != nil {
		return err
	}
	c.sched.TimezoneChanged(ctx, req.GuildID)
	return req.Reply(ctx, "All birthday data of this server was deleted.")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
