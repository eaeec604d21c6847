// Package discord implements transport.Adapter on top of discordgo.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/benno1237/bennos-cogs/internal/runtime/supervisor"
	"github.com/benno1237/bennos-cogs/internal/transport"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

const (
	textLimit        = 2000
	memberPageSize   = 1000
	deleteBulkWindow = 14 * 24 * time.Hour
)

type Config struct {
	Token string
}

type Adapter struct {
	log     logx.Logger
	session *discordgo.Session

	out     atomic.Value // chan<- transport.Update
	dropped atomic.Uint64

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	s.StateEnabled = true

	a := &Adapter{log: log, session: s}
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

// Session exposes the underlying discordgo session.
func (a *Adapter) Session() *discordgo.Session { return a.session }

func (a *Adapter) registerHandlers() {
	a.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.log.Info("discord ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
	})
	a.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		a.sendUpdate(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
			ID:         m.ID,
			ChannelID:  m.ChannelID,
			GuildID:    m.GuildID,
			AuthorID:   m.Author.ID,
			AuthorName: m.Author.Username,
			AuthorBot:  m.Author.Bot,
			Text:       m.Content,
		}})
	})
	a.session.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		if v.VoiceState == nil {
			return
		}
		vs := &transport.VoiceState{
			GuildID:        v.GuildID,
			UserID:         v.UserID,
			AfterChannelID: v.ChannelID,
		}
		if v.BeforeUpdate != nil {
			vs.BeforeChannelID = v.BeforeUpdate.ChannelID
		}
		if v.Member != nil && v.Member.User != nil {
			vs.Bot = v.Member.User.Bot
		}
		a.sendUpdate(transport.Update{Kind: transport.UpdateVoice, Voice: vs})
	})
	// GuildCreate also fires for every guild after connecting; consumers
	// treat joins as idempotent "guild available" notices.
	a.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		if g.Guild == nil || g.Unavailable {
			return
		}
		a.sendUpdate(transport.Update{Kind: transport.UpdateGuildJoin, Guild: toGuild(g.Guild)})
	})
	a.session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		// Unavailable means an outage, not a removal.
		if g.Guild == nil || g.Unavailable {
			return
		}
		a.sendUpdate(transport.Update{Kind: transport.UpdateGuildRemove, Guild: toGuild(g.Guild)})
	})
}

func toGuild(g *discordgo.Guild) *transport.Guild {
	return &transport.Guild{ID: g.ID, Name: g.Name, OwnerID: g.OwnerID}
}

func (a *Adapter) sendUpdate(up transport.Update) {
	out, _ := a.out.Load().(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.out.Store(out)
	if err := a.session.Open(); err != nil {
		var nilOut chan<- transport.Update
		a.out.Store(nilOut)
		return fmt.Errorf("open discord gateway: %w", err)
	}
	a.running = true
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "discord.adapter"))))

	a.sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := a.dropped.Swap(0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	wasRunning := a.running
	a.sup, a.running = nil, false
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("discord supervisor stop", logx.Err(err))
		}
	}
	if err := a.session.Close(); err != nil {
		return fmt.Errorf("close discord gateway: %w", err)
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, channelID, text string) (transport.MessageRef, error) {
	var ref transport.MessageRef
	for _, chunk := range splitText(text, textLimit) {
		m, err := a.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		if err != nil {
			return ref, mapErr(err)
		}
		ref = transport.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}
	}
	return ref, nil
}

func (a *Adapter) SendFiles(ctx context.Context, channelID string, files []transport.File) (transport.MessageRef, error) {
	if len(files) > transport.MaxFilesPerMessage {
		return transport.MessageRef{}, fmt.Errorf("discord: %d files exceed the per-message limit", len(files))
	}
	ms := &discordgo.MessageSend{Files: make([]*discordgo.File, 0, len(files))}
	for _, f := range files {
		ms.Files = append(ms.Files, &discordgo.File{Name: f.Name, ContentType: f.ContentType, Reader: bytes.NewReader(f.Data)})
	}
	m, err := a.session.ChannelMessageSendComplex(channelID, ms, discordgo.WithContext(ctx))
	if err != nil {
		return transport.MessageRef{}, mapErr(err)
	}
	return transport.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

// DeleteMessages bulk deletes recent messages and falls back to single
// deletes for the rest. Missing messages are not an error.
func (a *Adapter) DeleteMessages(ctx context.Context, channelID string, ids []string) error {
	recent := make([]string, 0, len(ids))
	var old []string
	for _, id := range ids {
		ts, err := discordgo.SnowflakeTimestamp(id)
		if err == nil && time.Since(ts) < deleteBulkWindow-time.Hour {
			recent = append(recent, id)
		} else {
			old = append(old, id)
		}
	}
	if len(recent) >= 2 {
		for chunk := range slices.Chunk(recent, 100) {
			if err := a.session.ChannelMessagesBulkDelete(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
				old = append(old, chunk...)
			}
		}
	} else {
		old = append(old, recent...)
	}

	var firstErr error
	for _, id := range old {
		err := mapErr(a.session.ChannelMessageDelete(channelID, id, discordgo.WithContext(ctx)))
		if err != nil && !errors.Is(err, transport.ErrNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Adapter) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return mapErr(a.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

func (a *Adapter) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return mapErr(a.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason)))
}

// RoleMembers pages through the guild member list.
func (a *Adapter) RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error) {
	var out []string
	after := ""
	for {
		page, err := a.session.GuildMembers(guildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return out, mapErr(err)
		}
		for _, m := range page {
			if m.User != nil && slices.Contains(m.Roles, roleID) {
				out = append(out, m.User.ID)
			}
		}
		if len(page) < memberPageSize {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (a *Adapter) Guilds(context.Context) ([]transport.Guild, error) {
	st := a.session.State
	st.RLock()
	defer st.RUnlock()
	out := make([]transport.Guild, 0, len(st.Guilds))
	for _, g := range st.Guilds {
		if g.Unavailable {
			continue
		}
		out = append(out, *toGuild(g))
	}
	return out, nil
}

func (a *Adapter) IsGuildAdmin(ctx context.Context, guildID, userID string) (bool, error) {
	g, err := a.session.State.Guild(guildID)
	if err != nil {
		if g, err = a.session.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
			return false, mapErr(err)
		}
	}
	if g.OwnerID == userID {
		return true, nil
	}
	m, err := a.session.State.Member(guildID, userID)
	if err != nil {
		if m, err = a.session.GuildMember(guildID, userID, discordgo.WithContext(ctx)); err != nil {
			return false, mapErr(err)
		}
	}
	var perms int64
	for _, r := range g.Roles {
		if r.ID == guildID || slices.Contains(m.Roles, r.ID) {
			perms |= r.Permissions
		}
	}
	return perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageServer) != 0, nil
}

// FindMember returns the first member whose username or nickname starts
// with query, preferring an exact match.
func (a *Adapter) FindMember(ctx context.Context, guildID, query string) (string, bool, error) {
	if guildID == "" || strings.TrimSpace(query) == "" {
		return "", false, nil
	}
	ms, err := a.session.GuildMembersSearch(guildID, query, 10, discordgo.WithContext(ctx))
	if err != nil {
		return "", false, mapErr(err)
	}
	for _, m := range ms {
		if m.User != nil && (strings.EqualFold(m.User.Username, query) || strings.EqualFold(m.Nick, query)) {
			return m.User.ID, true, nil
		}
	}
	if len(ms) > 0 && ms[0].User != nil {
		return ms[0].User.ID, true, nil
	}
	return "", false, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", transport.ErrForbidden, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", transport.ErrNotFound, err)
		}
	}
	return err
}

// splitText cuts s into chunks of at most limit runes, preferring newlines.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, len(rs)/limit+1)
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if chunk := strings.TrimRight(string(rs[start:end]), "\n"); chunk != "" {
			out = append(out, chunk)
		}
		start = end
	}
	return out
}

var (
	_ transport.Adapter      = (*Adapter)(nil)
	_ transport.MemberFinder = (*Adapter)(nil)
)
