package router

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benno1237/bennos-cogs/internal/runtime/supervisor"
	"github.com/benno1237/bennos-cogs/internal/transport"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	// AccessGuild rejects direct messages.
	AccessGuild
	// AccessGuildAdmin requires guild owner, administrator or manage-guild.
	AccessGuildAdmin
	AccessOwnerOnly
)

type Command struct {
	// Route is a space-separated command path, e.g. "hypixel autostats".
	Route       string
	Aliases     []string // root-level aliases
	Description string
	Usage       string
	Access      Access

	PluginName string
	Timeout    time.Duration
	Handle     HandlerFunc
}

// EventHandler receives every non-message update.
type EventHandler func(ctx context.Context, up transport.Update)

type Options struct {
	Prefix   string
	Owners   []string
	Workers  int
	Timeout  time.Duration // default per-command timeout
	Observer Observer
}

type CommandManager struct {
	mu     sync.RWMutex
	root   *routeNode
	alias  map[string]*routeNode
	prefix string
	owners []string

	defTimeout time.Duration
	workers    int
	observer   Observer

	log     logx.Logger
	adapter transport.Adapter

	evMu   sync.RWMutex
	events []EventHandler

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter transport.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Prefix == "" {
		opt.Prefix = "!"
	}
	if opt.Workers <= 0 {
		opt.Workers = 4
	}
	return &CommandManager{
		root:       newRoot(),
		alias:      map[string]*routeNode{},
		prefix:     opt.Prefix,
		owners:     slices.Clone(opt.Owners),
		defTimeout: opt.Timeout,
		workers:    opt.Workers,
		observer:   opt.Observer,
		log:        log,
		adapter:    adapter,
		jobs:       make(chan func(), 256),
	}
}

// SetPrefix and SetOwners are safe during hot-reload.
func (m *CommandManager) SetPrefix(p string) {
	if strings.TrimSpace(p) == "" {
		return
	}
	m.mu.Lock()
	m.prefix = p
	m.mu.Unlock()
}

func (m *CommandManager) SetOwners(owners []string) {
	cp := slices.Clone(owners)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) Prefix() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefix
}

func (m *CommandManager) OnEvent(h EventHandler) {
	if h == nil {
		return
	}
	m.evMu.Lock()
	m.events = append(m.events, h)
	m.evMu.Unlock()
}

func (m *CommandManager) SetRegistry(cmds []Command) {
	cmds = append(cmds, Command{
		Route:       "help",
		Aliases:     []string{"h"},
		Description: "show commands",
		Usage:       "help [command] [sub...]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Prefix, req.Args))
		},
	})

	root := newRoot()
	alias := map[string]*routeNode{}
	for _, c := range cmds {
		route := splitRoute(c.Route)
		if len(route) == 0 || c.Handle == nil {
			continue
		}
		root.add(route, c)
		leaf := root.find(route)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = leaf
		}
	}

	m.mu.Lock()
	m.root = root
	m.alias = alias
	m.mu.Unlock()
}

// DispatchLoop routes updates until ctx ends or updates closes. Commands run
// on a bounded worker pool; events are delivered inline in arrival order.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx, supervisor.WithLogger(m.log.With(logx.String("comp", "router"))))
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.Route(ctx, up)
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Route handles a single update.
func (m *CommandManager) Route(ctx context.Context, up transport.Update) {
	if up.Kind == transport.UpdateMessage {
		m.routeMessage(ctx, up)
		return
	}
	m.evMu.RLock()
	hs := slices.Clone(m.events)
	m.evMu.RUnlock()
	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in event handler", logx.String("kind", string(up.Kind)), logx.Any("panic", r))
				}
			}()
			h(ctx, up)
		}()
	}
}

func (m *CommandManager) routeMessage(ctx context.Context, up transport.Update) {
	msg := up.Message
	if msg == nil || msg.AuthorBot {
		return
	}
	m.mu.RLock()
	prefix, rootNode, aliasMap := m.prefix, m.root, m.alias
	m.mu.RUnlock()

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, prefix) {
		return
	}
	parts := tokenizeCommandLine(strings.TrimPrefix(text, prefix))
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(parts[0])
	args := parts[1:]

	if leaf, ok := aliasMap[word]; ok && leaf != nil && leaf.cmd != nil {
		m.enqueue(ctx, msg, *leaf.cmd, splitRoute(leaf.cmd.Route), prefix, args)
		return
	}

	cur, path, args := rootNode.walk(parts)
	if len(path) == 0 {
		// Unknown commands stay silent; other bots may share the prefix.
		return
	}

	if cur.cmd == nil {
		_, _ = m.adapter.SendText(ctx, msg.ChannelID, m.helpText(prefix, path))
		return
	}
	m.enqueue(ctx, msg, *cur.cmd, path, prefix, args)
}

func (m *CommandManager) isOwner(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.owners, id)
}

func (m *CommandManager) allowed(ctx context.Context, msg *transport.Message, cmd Command, owner bool) (bool, string) {
	if owner {
		return true, ""
	}
	switch cmd.Access {
	case AccessOwnerOnly:
		return false, "This command is restricted to the bot owner."
	case AccessGuild:
		if msg.IsDM() {
			return false, "This command can only be used in a server."
		}
	case AccessGuildAdmin:
		if msg.IsDM() {
			return false, "This command can only be used in a server."
		}
		ok, err := m.adapter.IsGuildAdmin(ctx, msg.GuildID, msg.AuthorID)
		if err != nil || !ok {
			return false, "You need the Manage Server permission to use this command."
		}
	}
	return true, ""
}

func (m *CommandManager) enqueue(ctx context.Context, msg *transport.Message, cmd Command, path []string, prefix string, raw []string) {
	owner := m.isOwner(msg.AuthorID)
	if ok, why := m.allowed(ctx, msg, cmd, owner); !ok {
		_, _ = m.adapter.SendText(ctx, msg.ChannelID, why)
		return
	}

	pos, flags, bools := parseFlags(raw)
	rid := newReqID()
	req := &Request{
		Update:    transport.Update{Kind: transport.UpdateMessage, Message: msg},
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		AuthorID:  msg.AuthorID,
		Path:      path,
		Command:   strings.Join(path, " "),
		Args:      pos,
		RawArgs:   raw,
		Flags:     flags,
		BoolFlags: bools,
		ReqID:     rid,
		Prefix:    prefix,
		Adapter:   m.adapter,
		IsOwner:   owner,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("guild_id", msg.GuildID),
			logx.String("author_id", msg.AuthorID),
			logx.String("cmd", cmd.Route),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.defTimeout
	}
	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWObserve(m.observer),
		MWRequestLog(m.log),
		MWReplyError(),
		MWTimeout(timeout),
	)

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = m.adapter.SendText(ctx, msg.ChannelID, "Busy, try again in a moment.")
	}
}
