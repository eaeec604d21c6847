package hypixel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"

	"github.com/benno1237/bennos-cogs/internal/autostats"
	hx "github.com/benno1237/bennos-cogs/internal/hypixel"
	"github.com/benno1237/bennos-cogs/internal/identity"
	"github.com/benno1237/bennos-cogs/internal/plugin"
	"github.com/benno1237/bennos-cogs/internal/stats"
	"github.com/benno1237/bennos-cogs/internal/storage"
	"github.com/benno1237/bennos-cogs/internal/transport"
	"github.com/benno1237/bennos-cogs/internal/transport/router"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

func (c *Cog) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "stats",
			Description: "stats card for a game mode",
			Usage:       "stats <mode> [players...]",
			Access:      plugin.AccessGuild,
			Handle:      c.handleStats,
		},
		{
			Route:       "gamemodes",
			Description: "list game modes",
			Usage:       "gamemodes",
			Handle:      c.handleGamemodes,
		},
		{
			Route:       "autostats",
			Description: "post stats after every finished game",
			Usage:       "autostats <mode> [players...]",
			Access:      plugin.AccessGuild,
			Handle:      c.handleAutostats,
		},
		{
			Route:       "autostats stop",
			Description: "stop your autostats task",
			Usage:       "autostats stop",
			Access:      plugin.AccessGuild,
			Handle:      c.handleAutostatsStop,
		},
		{
			Route:       "autostats stop all",
			Description: "stop every autostats task of a key scope",
			Usage:       "autostats stop all [guild|user]",
			Access:      plugin.AccessGuild,
			Handle:      c.handleAutostatsStopAll,
		},
		{
			Route:       "hypixelset apikey",
			Description: "set or clear a Hypixel API key (set it in DMs)",
			Usage:       "hypixelset apikey <key|clear> [guild_id]",
			Handle:      c.handleAPIKey,
		},
		{
			Route:       "hypixelset username",
			Aliases:     []string{"mcname"},
			Description: "link your Minecraft account",
			Usage:       "hypixelset username <name>",
			Handle:      c.handleUsername,
		},
		{
			Route:       "hypixelset color",
			Description: "card header color for you, or the server with --guild",
			Usage:       "hypixelset color <#rrggbb|r,g,b> [--guild]",
			Handle:      c.handleColor,
		},
		{
			Route:       "hypixelset forgetme",
			Description: "delete everything stored about you",
			Usage:       "hypixelset forgetme",
			Handle:      c.handleForgetMe,
		},
		{
			Route:       "hypixelset modules add",
			Description: "show a stat on the cards",
			Usage:       "hypixelset modules add <mode> <key> <name...>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleModulesAdd,
		},
		{
			Route:       "hypixelset modules remove",
			Description: "hide a stat",
			Usage:       "hypixelset modules remove <mode> <key|name>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleModulesRemove,
		},
		{
			Route:       "hypixelset modules reorder",
			Description: "set the order of all active stats",
			Usage:       "hypixelset modules reorder <mode> <key|name...>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleModulesReorder,
		},
		{
			Route:       "hypixelset modules list",
			Description: "active stats and every available key",
			Usage:       "hypixelset modules list <mode>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleModulesList,
		},
		{
			Route:       "hypixelset modules create",
			Description: "define a computed stat, e.g. round(wins_bedwars / losses_bedwars, 2)",
			Usage:       "hypixelset modules create <mode> <key> <formula...>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleModulesCreate,
		},
		{
			Route:       "hypixelset autostats channel",
			Description: "channel for voice-triggered autostats cards",
			Usage:       "hypixelset autostats channel <#channel|clear>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleAutostatsChannel,
		},
		{
			Route:       "hypixelset autostats voicechannel",
			Description: "start autostats for members joining this voice channel",
			Usage:       "hypixelset autostats voicechannel [channel_id] [mode]",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleAutostatsVoice,
		},
		{
			Route:       "hypixelset autostats policy",
			Description: "how autostats detects a finished game",
			Usage:       "hypixelset autostats policy <representative|per-entity>",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleAutostatsPolicy,
		},
		{
			Route:       "hypixelset autostats info",
			Description: "autostats settings and running tasks",
			Usage:       "hypixelset autostats info",
			Access:      plugin.AccessGuildAdmin,
			Handle:      c.handleAutostatsInfo,
		},
	}
}

var channelMentionRe = regexp.MustCompile(`^<#(\d{15,21})>$`)

// parseChannelRef accepts a channel mention or a bare channel id.
func parseChannelRef(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if m := channelMentionRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	id, err := snowflake.ParseString(s)
	if err != nil || id <= 0 {
		return "", false
	}
	return id.String(), true
}

func (c *Cog) lookupMode(req *router.Request) (hx.Mode, error) {
	if req.Arg(0) == "" {
		return hx.Mode{}, router.Userf("Which game mode? See `%sgamemodes`.", req.Prefix)
	}
	m, ok := hx.LookupMode(req.Arg(0))
	if !ok {
		return hx.Mode{}, router.Userf("Unknown game mode `%s`. See `%sgamemodes`.", req.Arg(0), req.Prefix)
	}
	return m, nil
}

func (c *Cog) requireCredential(ctx context.Context, req *router.Request) (autostats.Credential, error) {
	cred, err := c.set.credential(ctx, req.GuildID, req.AuthorID)
	if err != nil {
		return cred, err
	}
	if !cred.Valid() {
		return cred, router.Userf("No Hypixel API key set. DM me `%shypixelset apikey <key>` to add one.", req.Prefix)
	}
	return cred, nil
}

// remoteError maps client errors onto replies; unknown errors pass through.
func remoteError(err error, prefix string) error {
	switch {
	case errors.Is(err, hx.ErrInvalidCredential):
		return router.WrapUser(err, "The API key in use is not valid anymore. Set a new one with `"+prefix+"hypixelset apikey`.")
	case errors.Is(err, hx.ErrRemoteUnavailable):
		return router.WrapUser(err, "Hypixel did not answer, try again in a moment.")
	}
	return err
}

// resolveAll resolves inputs (the author when empty). Names that could not
// be resolved are returned separately and do not abort the rest.
func (c *Cog) resolveAll(ctx context.Context, req *router.Request, inputs []string) ([]autostats.Entity, []string, error) {
	if len(inputs) == 0 {
		inputs = []string{req.AuthorID}
	}
	var (
		out    []autostats.Entity
		failed []string
	)
	for _, in := range inputs {
		id, err := c.resolver.Resolve(ctx, req.GuildID, in)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			if in == req.AuthorID {
				in = "you (link your account with `" + req.Prefix + "hypixelset username <name>`)"
			}
			failed = append(failed, in)
			continue
		}
		out = append(out, autostats.Entity{UUID: id.UUID, Name: id.Name, OwnerID: id.OwnerID})
	}
	return out, failed, nil
}

func failedText(failed []string) string {
	return "Could not find a Hypixel player for: " + strings.Join(failed, ", ")
}

// fetchAll refreshes every entity. Players the API does not return are
// reported by name; a bad key aborts.
func (c *Cog) fetchAll(ctx context.Context, f autostats.Fetcher, mode hx.Mode, ents []autostats.Entity) ([]autostats.Entity, []string, error) {
	out := make([]autostats.Entity, 0, len(ents))
	var failed []string
	for _, e := range ents {
		fresh, err := autostats.Refresh(ctx, f, mode, e)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, hx.ErrInvalidCredential) {
				return nil, nil, err
			}
			c.Log.Debug("player fetch failed", logx.String("uuid", e.UUID), logx.Err(err))
			name := e.Name
			if name == "" {
				name = e.UUID
			}
			failed = append(failed, name)
			continue
		}
		out = append(out, fresh)
	}
	return out, failed, nil
}

func (c *Cog) handleStats(ctx context.Context, req *router.Request) error {
	mode, err := c.lookupMode(req)
	if err != nil {
		return err
	}
	cred, err := c.requireCredential(ctx, req)
	if err != nil {
		return err
	}
	set, err := c.set.modules(ctx, req.GuildID, mode)
	if err != nil {
		return err
	}
	ents, failed, err := c.resolveAll(ctx, req, req.Args[1:])
	if err != nil {
		return err
	}
	fetched, notFound, err := c.fetchAll(ctx, autostats.KeyedFetcher{API: c.opt.API, Key: cred.Key}, mode, ents)
	if err != nil {
		return remoteError(err, req.Prefix)
	}
	failed = append(failed, notFound...)

	header := c.set.header(ctx, req.GuildID, req.AuthorID)
	files := make([]transport.File, 0, len(fetched))
	for _, e := range fetched {
		png, err := c.opt.Renderer.Render(ctx, autostats.BuildCard(mode, set.Modules(), e, nil, header))
		if err != nil {
			return fmt.Errorf("render %s: %w", e.UUID, err)
		}
		files = append(files, transport.File{Name: autostats.FileName(mode, e), ContentType: "image/png", Data: png})
	}
	if len(files) > 0 {
		if _, err := transport.SendFileBatches(ctx, req.Adapter, req.ChannelID, files); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return req.Reply(ctx, failedText(failed))
	}
	return nil
}

func (c *Cog) handleGamemodes(ctx context.Context, req *router.Request) error {
	var b strings.Builder
	b.WriteString("**Game modes**\n")
	for _, m := range hx.Modes() {
		b.WriteString("`" + m.DbKey + "`")
		if m.Name() != m.DbKey {
			b.WriteString(" (" + m.Name() + ")")
		}
		if m.WatchKey != "" {
			b.WriteString(" autostats")
		}
		b.WriteString("\n")
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (c *Cog) handleAPIKey(ctx context.Context, req *router.Request) error {
	key := req.Arg(0)
	if key == "" {
		return router.Userf("Usage: `%shypixelset apikey <key|clear> [guild_id]`", req.Prefix)
	}
	clear := strings.EqualFold(key, "clear")
	if !clear && req.GuildID != "" {
		// The key is already public; delete it and refuse.
		if msg := req.Update.Message; msg != nil {
			_ = req.Adapter.DeleteMessages(ctx, req.ChannelID, []string{msg.ID})
		}
		return router.Userf("Please send API keys in a direct message only.")
	}

	ns := storage.User(req.AuthorID)
	target := "your"
	if g := req.Arg(1); g != "" {
		guildID, ok := parseChannelRef(g)
		if !ok {
			return router.Userf("`%s` is not a server id.", g)
		}
		if !req.IsOwner {
			admin, err := req.Adapter.IsGuildAdmin(ctx, guildID, req.AuthorID)
			if err != nil || !admin {
				return router.Userf("You need the Manage Server permission in that server to set its key.")
			}
		}
		ns = storage.Guild(guildID)
		target = "the server's"
	}

	audit := storage.AuditEntry{ActorID: req.AuthorID, Action: "apikey.set", Target: ns.String()}
	if ns.Scope == storage.ScopeGuild {
		audit.GuildID = ns.ID
	}
	if clear {
		if err := c.set.setKey(ctx, ns, ""); err != nil {
			return err
		}
		audit.Action = "apikey.clear"
		c.AppendAudit(ctx, audit)
		return req.Replyf(ctx, "Removed %s API key.", target)
	}

	if err := c.opt.API.CheckKey(ctx, key); err != nil {
		if errors.Is(err, hx.ErrInvalidCredential) {
			return router.Userf("This API key does not seem to be valid.")
		}
		return remoteError(err, req.Prefix)
	}
	if err := c.set.setKey(ctx, ns, key); err != nil {
		return err
	}
	c.AppendAudit(ctx, audit)
	return req.Replyf(ctx, "Saved %s API key.", target)
}

func (c *Cog) handleUsername(ctx context.Context, req *router.Request) error {
	name := req.Arg(0)
	if !identity.IsName(name) {
		return router.Userf("`%s` is not a valid Minecraft name.", name)
	}
	p, err := c.opt.Names.Lookup(ctx, name)
	if err != nil {
		if errors.Is(err, hx.ErrUnknownName) {
			return router.Userf("No Minecraft account is called `%s`.", name)
		}
		return remoteError(err, req.Prefix)
	}
	if err := c.bindings.Bind(ctx, req.AuthorID, p.ID); err != nil {
		return err
	}
	return req.Replyf(ctx, "Linked to %s (`%s`).", p.Name, p.ID)
}

func (c *Cog) handleColor(ctx context.Context, req *router.Request) error {
	src := strings.Join(req.Args, "")
	guild := req.BoolFlags["guild"]
	if v, ok := req.Flags["guild"]; ok {
		guild = true
		src = v + src
	}
	col, err := stats.ParseRGB(src)
	if err != nil {
		return router.Userf("Use a hex color like `#ff0000` or `255,0,0`.")
	}
	ns := storage.User(req.AuthorID)
	if guild {
		if req.GuildID == "" {
			return router.Userf("--guild only works in a server.")
		}
		admin, err := req.Adapter.IsGuildAdmin(ctx, req.GuildID, req.AuthorID)
		if !req.IsOwner && (err != nil || !admin) {
			return router.Userf("You need the Manage Server permission to set the server color.")
		}
		ns = storage.Guild(req.GuildID)
	}
	if err := c.set.setHeader(ctx, ns, col); err != nil {
		return err
	}
	return req.Replyf(ctx, "Header color set to `%s`.", col.Hex())
}

func (c *Cog) handleForgetMe(ctx context.Context, req *router.Request) error {
	if c.opt.Registry != nil {
		if err := c.opt.Registry.Stop(ctx, req.AuthorID); err != nil && !errors.Is(err, autostats.ErrNotFound) {
			c.Log.Warn("stopping task on forgetme", logx.Err(err))
		}
		for _, t := range c.opt.Registry.Tasks("") {
			t.RemoveOwner(req.AuthorID)
		}
	}
	if err := c.Deps.Store.Clear(ctx, storage.User(req.AuthorID)); err != nil {
		return err
	}
	c.AppendAudit(ctx, storage.AuditEntry{ActorID: req.AuthorID, Action: "user.forget", Target: req.AuthorID})
	return req.Reply(ctx, "Your data has been deleted.")
}

func (c *Cog) handleModulesAdd(ctx context.Context, req *router.Request) error {
	mode, err := c.lookupMode(req)
	if err != nil {
		return err
	}
	key := req.Arg(1)
	name := strings.Join(req.Args[min(2, len(req.Args)):], " ")
	if key == "" {
		return router.Userf("Usage: `%shypixelset modules add <mode> <key> <name...>`", req.Prefix)
	}
	_, err = c.set.updateModules(ctx, req.GuildID, mode, func(set *stats.ModuleSet, formulas map[string]string) error {
		m := stats.Module{Key: key, Name: name}
		if src, custom := formulas[key]; custom {
			f, err := stats.Parse(src)
			if err != nil {
				return err
			}
			m.Formula = f
		} else if !c.opt.Catalog.Has(mode.DbKey, key) {
			return router.Userf("`%s` is neither a known %s key nor a custom module. See `%shypixelset modules list %s`.", key, mode.DbKey, req.Prefix, mode.DbKey)
		}
		if err := set.Add(m); err != nil {
			if errors.Is(err, stats.ErrDuplicateModule) {
				return router.Userf("`%s` is already on the card.", key)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return req.Replyf(ctx, "Added `%s` to %s.", key, mode.Name())
}

func (c *Cog) handleModulesRemove(ctx context.Context, req *router.Request) error {
	mode, err := c.lookupMode(req)
	if err != nil {
		return err
	}
	which := strings.Join(req.Args[min(1, len(req.Args)):], " ")
	var m stats.Module
	_, err = c.set.updateModules(ctx, req.GuildID, mode, func(set *stats.ModuleSet, _ map[string]string) error {
		var rerr error
		if m, rerr = set.Remove(which); rerr != nil {
			return router.Userf("No active module matches `%s`.", which)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return req.Replyf(ctx, "Removed `%s` from %s.", m.Key, mode.Name())
}

func (c *Cog) handleModulesReorder(ctx context.Context, req *router.Request) error {
	mode, err := c.lookupMode(req)
	if err != nil {
		return err
	}
	set, err := c.set.updateModules(ctx, req.GuildID, mode, func(set *stats.ModuleSet, _ map[string]string) error {
		if err := set.Reorder(req.Args[1:]); err != nil {
			return router.WrapUser(err, "List every active module exactly once, in the new order.")
		}
		return nil
	})
	if err != nil {
		return err
	}
	return req.Reply(ctx, "New order: "+moduleNames(set))
}

func moduleNames(set *stats.ModuleSet) string {
	names := make([]string, 0, set.Len())
	for _, m := range set.Modules() {
		names = append(names, m.Name)
	}
	return strings.Join(names, ", ")
}

func (c *Cog) handleModulesList(ctx context.Context, req *router.Request) error {
	mode, err := c.lookupMode(req)
	if err != nil {
		return err
	}
	set, err := c.set.modules(ctx, req.GuildID, mode)
	if err != nil {
		return err
	}
	formulas, err := c.set.formulas(ctx, req.GuildID, mode)
	if err != nil {
		return err
	}

	var b strings.Builder
	for _, k := range c.opt.Catalog.Keys(mode.DbKey) {
		b.WriteString(k + "\n")
	}
	for k, src := range formulas {
		b.WriteString(k + " = " + src + "\n")
	}
	text := fmt.Sprintf("**%s**: %s", mode.Name(), moduleNames(set))
	if err := req.Reply(ctx, text); err != nil {
		return err
	}
	_, err = transport.SendFileBatches(ctx, req.Adapter, req.ChannelID, []transport.File{{
		Name: "modules.txt", ContentType: "text/plain", Data: []byte(b.String()),
	}})
	return err
}

func (c *Cog) handleModulesCreate(ctx context.Context, req *router.Request) error {
	mode, err := c.lookupMode(req)
	if err != nil {
		return err
	}
	key := req.Arg(1)
	src := strings.Join(req.RawArgs[min(2, len(req.RawArgs)):], " ")
	if key == "" || strings.TrimSpace(src) == "" {
		return router.Userf("Usage: `%shypixelset modules create <mode> <key> <formula...>`", req.Prefix)
	}
	e, err := c.set.createFormula(ctx, req.GuildID, mode, key, src)
	switch {
	case errors.Is(err, stats.ErrDuplicateModule):
		return router.Userf("`%s` is already in use.", key)
	case errors.Is(err, stats.ErrUnknownField), errors.Is(err, stats.ErrSyntax):
		return router.WrapUser(err, "That formula does not work")
	case err != nil:
		return err
	}
	return req.Replyf(ctx, "Created `%s = %s`. Add it with `%shypixelset modules add %s %s <name>`.", key, e.String(), req.Prefix, mode.DbKey, key)
}
