package hypixel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benno1237/bennos-cogs/internal/autostats"
	hx "github.com/benno1237/bennos-cogs/internal/hypixel"
	"github.com/benno1237/bennos-cogs/internal/identity"
	"github.com/benno1237/bennos-cogs/internal/storage"
	"github.com/benno1237/bennos-cogs/internal/transport"
	"github.com/benno1237/bennos-cogs/internal/transport/router"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

const voiceEventTimeout = time.Minute

type taskRequest struct {
	trigger   string
	guildID   string
	channelID string
	authorID  string
	mode      hx.Mode
	cred      autostats.Credential
	ents      []autostats.Entity
}

// newTask assembles a task from the live config and the guild's settings.
func (c *Cog) newTask(ctx context.Context, tr taskRequest) (*autostats.Task, error) {
	set, err := c.set.modules(ctx, tr.guildID, tr.mode)
	if err != nil {
		return nil, err
	}
	if tr.mode.WatchKey == "" && set.Len() == 0 {
		return nil, router.Userf("%s has no active modules to watch.", tr.mode.Name())
	}
	as := c.autostatsConfig()
	cfg := autostats.TaskConfig{
		Trigger:     tr.trigger,
		Scope:       tr.cred.Scope,
		GuildID:     tr.guildID,
		ChannelID:   tr.channelID,
		Mode:        tr.mode,
		Modules:     set.Modules(),
		Header:      c.set.header(ctx, tr.guildID, tr.authorID),
		Interval:    as.IntervalOrDefault(),
		Timeout:     as.TimeoutOrDefault(),
		MaxEntities: as.MaxEntitiesOrDefault(),
		Policy:      c.set.policy(ctx, tr.guildID, as.PolicyOrDefault()),
	}
	deps := autostats.TaskDeps{
		Fetcher:  autostats.KeyedFetcher{API: c.opt.API, Key: tr.cred.Key},
		Renderer: c.opt.Renderer,
		Adapter:  c.Deps.Adapter,
		Log:      c.Log,
		Bus:      c.Deps.Bus,
		Observer: c.opt.Observer,
	}
	return autostats.NewTask(c.Context(), cfg, deps, tr.ents), nil
}

// launch registers and starts t. A task that fails to start is already
// gone from the registry when this returns.
func (c *Cog) launch(ctx context.Context, t *autostats.Task) error {
	if err := c.opt.Registry.Register(t); err != nil {
		t.Cancel()
		switch {
		case errors.Is(err, autostats.ErrCapacityExceeded):
			return router.WrapUser(err, "This server's API key already runs the maximum number of autostats tasks.")
		case errors.Is(err, autostats.ErrAlreadyRunning):
			return router.WrapUser(err, "Autostats is already running here.")
		case errors.Is(err, autostats.ErrTaskStopped):
			return router.WrapUser(err, "Autostats is shutting down.")
		}
		return err
	}
	if err := t.Start(ctx); err != nil {
		if errors.Is(err, autostats.ErrNoEntities) {
			return router.WrapUser(err, "None of the players could be loaded.")
		}
		return err
	}
	return nil
}

func (c *Cog) handleAutostats(ctx context.Context, req *router.Request) error {
	mode, err := c.lookupMode(req)
	if err != nil {
		return err
	}
	if c.opt.Registry == nil {
		return router.Userf("Autostats is disabled.")
	}
	if _, running := c.opt.Registry.Get(req.AuthorID); running {
		return router.Userf("You already have an autostats task. Stop it with `%sautostats stop`.", req.Prefix)
	}
	inputs := req.Args[1:]
	limit := c.autostatsConfig().MaxEntitiesOrDefault()
	if len(inputs) > limit {
		return router.Userf("Autostats tracks at most %d players.", limit)
	}
	cred, err := c.requireCredential(ctx, req)
	if err != nil {
		return err
	}

	ents, failed, err := c.resolveAll(ctx, req, inputs)
	if err != nil {
		return err
	}
	if len(failed) > 0 {
		return router.Userf("%s", failedText(failed))
	}
	ents, failed, err = c.fetchAll(ctx, autostats.KeyedFetcher{API: c.opt.API, Key: cred.Key}, mode, ents)
	if err != nil {
		return remoteError(err, req.Prefix)
	}
	if len(failed) > 0 {
		return router.Userf("%s", failedText(failed))
	}

	t, err := c.newTask(ctx, taskRequest{
		trigger:   req.AuthorID,
		guildID:   req.GuildID,
		channelID: req.ChannelID,
		authorID:  req.AuthorID,
		mode:      mode,
		cred:      cred,
		ents:      ents,
	})
	if err != nil {
		return err
	}
	return c.launch(ctx, t)
}

func (c *Cog) handleAutostatsStop(ctx context.Context, req *router.Request) error {
	if c.opt.Registry == nil {
		return router.Userf("Autostats is disabled.")
	}
	err := c.opt.Registry.Stop(ctx, req.AuthorID)
	if errors.Is(err, autostats.ErrNotFound) {
		return router.Userf("You have no autostats task running.")
	}
	if err != nil && !errors.Is(err, autostats.ErrTaskStopped) {
		return err
	}
	return req.Reply(ctx, "Autostats stopped.")
}

// handleAutostatsStopAll: owners stop a scope everywhere, guild admins stop
// the guild-key tasks of their own guild.
func (c *Cog) handleAutostatsStopAll(ctx context.Context, req *router.Request) error {
	if c.opt.Registry == nil {
		return router.Userf("Autostats is disabled.")
	}
	scope := autostats.ScopeGuild
	if s := req.Arg(0); s != "" {
		var ok bool
		if scope, ok = autostats.ParseScope(s); !ok {
			return router.Userf("Scope must be `guild` or `user`.")
		}
	}

	guildID := ""
	if !req.IsOwner {
		admin, err := req.Adapter.IsGuildAdmin(ctx, req.GuildID, req.AuthorID)
		if err != nil || !admin || scope != autostats.ScopeGuild {
			return router.Userf("Only bot owners can stop user-key tasks; server admins can stop this server's tasks.")
		}
		guildID = req.GuildID
	}

	n, err := c.opt.Registry.StopAll(ctx, scope, guildID)
	c.AppendAudit(ctx, storage.AuditEntry{
		ActorID:  req.AuthorID,
		GuildID:  guildID,
		Action:   "autostats.stop_all",
		Target:   scope.String(),
		Error:    errString(err),
		MetaJSON: fmt.Sprintf(`{"stopped":%d}`, n),
	})
	if err != nil && !errors.Is(err, autostats.ErrTaskStopped) {
		return err
	}
	return req.Replyf(ctx, "Stopped %d %s-key task(s).", n, scope)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (c *Cog) handleAutostatsChannel(ctx context.Context, req *router.Request) error {
	arg := req.Arg(0)
	if strings.EqualFold(arg, "clear") {
		if err := c.set.setString(ctx, req.GuildID, keyAutostatsChannel, ""); err != nil {
			return err
		}
		return req.Reply(ctx, "Autostats channel cleared.")
	}
	id := req.ChannelID
	if arg != "" {
		var ok bool
		if id, ok = parseChannelRef(arg); !ok {
			return router.Userf("`%s` is not a channel.", arg)
		}
	}
	if err := c.set.setString(ctx, req.GuildID, keyAutostatsChannel, id); err != nil {
		return err
	}
	return req.Replyf(ctx, "Voice autostats cards go to <#%s>.", id)
}

func (c *Cog) handleAutostatsVoice(ctx context.Context, req *router.Request) error {
	arg := req.Arg(0)
	if arg == "" || strings.EqualFold(arg, "clear") {
		if err := c.Deps.Store.Delete(ctx, storage.Guild(req.GuildID), keyAutostatsVoice); err != nil {
			return err
		}
		return req.Reply(ctx, "Voice channel autostats disabled.")
	}
	id, ok := parseChannelRef(arg)
	if !ok {
		return router.Userf("`%s` is not a channel id.", arg)
	}
	mode := hx.Bedwars
	if m := req.Arg(1); m != "" {
		if mode, ok = hx.LookupMode(m); !ok {
			return router.Userf("Unknown game mode `%s`.", m)
		}
	}
	if mode.WatchKey == "" {
		return router.Userf("%s does not support autostats.", mode.Name())
	}
	v := voiceSetting{ChannelID: id, Mode: mode.DbKey}
	if err := storage.Set(ctx, c.Deps.Store, storage.Guild(req.GuildID), v, keyAutostatsVoice); err != nil {
		return err
	}
	return req.Replyf(ctx, "Members joining <#%s> get %s autostats.", id, mode.Name())
}

func (c *Cog) handleAutostatsPolicy(ctx context.Context, req *router.Request) error {
	p := strings.ToLower(req.Arg(0))
	if !validPolicy(p) {
		return router.Userf("Policy must be `representative` or `per-entity`.")
	}
	if err := c.set.setString(ctx, req.GuildID, keyAutostatsPolicy, p); err != nil {
		return err
	}
	return req.Replyf(ctx, "Autostats policy set to `%s`. Running tasks keep theirs.", p)
}

func (c *Cog) handleAutostatsInfo(ctx context.Context, req *router.Request) error {
	as := c.autostatsConfig()
	ch, err := c.set.autostatsChannel(ctx, req.GuildID)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("**Autostats**\n")
	if ch != "" {
		fmt.Fprintf(&b, "Card channel: <#%s>\n", ch)
	} else {
		b.WriteString("Card channel: not set\n")
	}
	if v, mode, ok := c.set.voice(ctx, req.GuildID); ok {
		fmt.Fprintf(&b, "Voice channel: <#%s> (%s)\n", v.ChannelID, mode.Name())
	}
	fmt.Fprintf(&b, "Policy: %s\n", c.set.policy(ctx, req.GuildID, as.PolicyOrDefault()).Name())
	fmt.Fprintf(&b, "Interval: %s, idle timeout: %s\n", as.IntervalOrDefault(), as.TimeoutOrDefault())

	if c.opt.Registry != nil {
		tasks := c.opt.Registry.Tasks(req.GuildID)
		fmt.Fprintf(&b, "Running: %d (%d/%d on the server key)\n", len(tasks), c.opt.Registry.CountGuild(req.GuildID), as.GuildCapOrDefault())
		for _, t := range tasks {
			fmt.Fprintf(&b, "- %s %s, %d player(s), %s, %s key\n",
				t.Mode().Name(), t.State(), len(t.Entities()), t.Policy(), t.Scope())
		}
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

// HandleEvent drives voice channel autostats and drops tasks of guilds the
// bot left.
func (c *Cog) HandleEvent(ctx context.Context, up transport.Update) error {
	switch up.Kind {
	case transport.UpdateVoice:
		if up.Voice == nil || up.Voice.Bot {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, voiceEventTimeout)
		defer cancel()
		return c.onVoice(ctx, up.Voice)
	case transport.UpdateGuildRemove:
		if up.Guild == nil || c.opt.Registry == nil {
			return nil
		}
		for _, scope := range []autostats.Scope{autostats.ScopeUser, autostats.ScopeGuild} {
			if _, err := c.opt.Registry.StopAll(ctx, scope, up.Guild.ID); err != nil {
				c.Log.Warn("stopping tasks of removed guild", logx.String("guild_id", up.Guild.ID), logx.Err(err))
			}
		}
	}
	return nil
}

func (c *Cog) onVoice(ctx context.Context, vs *transport.VoiceState) error {
	if c.opt.Registry == nil {
		return nil
	}
	v, mode, ok := c.set.voice(ctx, vs.GuildID)
	if !ok {
		return nil
	}
	log := c.Log.With(logx.String("guild_id", vs.GuildID), logx.String("user_id", vs.UserID))

	if vs.Left(v.ChannelID) {
		if t, ok := c.opt.Registry.Get(v.ChannelID); ok {
			t.RemoveOwner(vs.UserID)
		}
		return nil
	}
	if !vs.Joined(v.ChannelID) {
		return nil
	}

	raw, bound, err := c.bindings.UUIDFor(ctx, vs.UserID)
	if err != nil || !bound {
		return err
	}
	uuid, ok := identity.NormalizeUUID(raw)
	if !ok {
		return nil
	}
	ent := autostats.Entity{UUID: uuid, OwnerID: vs.UserID}

	if t, ok := c.opt.Registry.Get(v.ChannelID); ok {
		if err := t.AddEntity(ent); err != nil && !errors.Is(err, autostats.ErrTooManyEntities) {
			return err
		}
		return nil
	}

	cred, err := c.set.credential(ctx, vs.GuildID, "")
	if err != nil || !cred.Valid() {
		log.Debug("voice autostats skipped, no server key")
		return err
	}
	ch, err := c.set.autostatsChannel(ctx, vs.GuildID)
	if err != nil || ch == "" {
		log.Debug("voice autostats skipped, no card channel")
		return err
	}
	t, err := c.newTask(ctx, taskRequest{
		trigger:   v.ChannelID,
		guildID:   vs.GuildID,
		channelID: ch,
		mode:      mode,
		cred:      cred,
		ents:      []autostats.Entity{ent},
	})
	if err != nil {
		return err
	}
	if err := c.launch(ctx, t); err != nil {
		var ue *router.UserError
		if errors.As(err, &ue) {
			log.Info("voice autostats not started", logx.String("reason", ue.Msg))
			return nil
		}
		return err
	}
	return nil
}
