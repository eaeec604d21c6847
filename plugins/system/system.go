package system

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/benno1237/bennos-cogs/internal/autostats"
	"github.com/benno1237/bennos-cogs/internal/plugin"
)

// PluginLister reports cog status; *plugin.Manager implements it.
type PluginLister interface {
	Snapshot(ctx context.Context) []plugin.Status
}

// DropCounter is implemented by the log service and the event bus.
type DropCounter interface {
	Dropped() uint64
}

type Options struct {
	Plugins PluginLister
	Tasks   *autostats.Registry
	Logs    DropCounter
	Bus     DropCounter
}

// Cog exposes process and bot health commands.
type Cog struct {
	plugin.PluginBase

	opt       Options
	startedAt time.Time
}

func New(opt Options) *Cog   { return &Cog{opt: opt} }
func (c *Cog) Name() string { return "system" }

func (c *Cog) Init(ctx context.Context, deps plugin.Deps) error {
	c.InitBase(deps, c.Name())
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
	return nil
}

func (c *Cog) Start(ctx context.Context) error {
	c.StartBase(ctx)
	return nil
}

func (c *Cog) Stop(ctx context.Context) error { return c.StopBase(ctx) }

func (c *Cog) Commands() []plugin.Command {
	return []plugin.Command{
		{
			Route:       "ping",
			Description: "health check",
			Usage:       "ping",
			Access:      plugin.AccessEveryone,
			Handle: func(ctx context.Context, req *plugin.Request) error {
				_, err := req.Adapter.SendText(ctx, req.ChannelID, "pong")
				return err
			},
		},
		{
			Route:       "uptime",
			Aliases:     []string{"up"},
			Description: "show process uptime",
			Usage:       "uptime",
			Access:      plugin.AccessEveryone,
			Handle: func(ctx context.Context, req *plugin.Request) error {
				_, err := req.Adapter.SendText(ctx, req.ChannelID, "uptime: "+durRel(time.Since(c.startedAt)))
				return err
			},
		},
		{
			Route:       "sysinfo",
			Description: "runtime info (owner only)",
			Usage:       "sysinfo",
			Access:      plugin.AccessOwnerOnly,
			Handle:      c.cmdSysinfo,
		},
		{
			Route:       "sched list",
			Aliases:     []string{"jobs"},
			Description: "list scheduled jobs (owner only)",
			Usage:       "sched list",
			Access:      plugin.AccessOwnerOnly,
			Handle:      c.cmdSchedList,
		},
		{
			Route:       "health",
			Description: "cog and task overview (owner only)",
			Usage:       "health",
			Access:      plugin.AccessOwnerOnly,
			Handle:      c.cmdHealth,
		},
		{
			Route:       "tasks",
			Description: "list running autostats tasks (owner only)",
			Usage:       "tasks [guild_id]",
			Access:      plugin.AccessOwnerOnly,
			Handle:      c.cmdTasks,
		},
	}
}

func (c *Cog) cmdSysinfo(ctx context.Context, req *plugin.Request) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mod := ""
	if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
		mod = bi.Main.Path + " " + bi.Main.Version
	}

	lines := []string{
		"**sysinfo**",
		"- go: " + runtime.Version(),
		"- module: " + mod,
		fmt.Sprintf("- goroutines: %d", runtime.NumGoroutine()),
		"- mem_alloc: " + humanize.IBytes(m.Alloc),
		"- mem_sys: " + humanize.IBytes(m.Sys),
		fmt.Sprintf("- gc_runs: %d", m.NumGC),
	}
	if c.opt.Logs != nil {
		lines = append(lines, fmt.Sprintf("- log_dropped: %d", c.opt.Logs.Dropped()))
	}
	if c.opt.Bus != nil {
		lines = append(lines, fmt.Sprintf("- events_dropped: %d", c.opt.Bus.Dropped()))
	}
	_, err := req.Adapter.SendText(ctx, req.ChannelID, strings.Join(lines, "\n"))
	return err
}

func (c *Cog) cmdSchedList(ctx context.Context, req *plugin.Request) error {
	s := c.Deps.Scheduler
	if s == nil {
		_, err := req.Adapter.SendText(ctx, req.ChannelID, "scheduler is disabled")
		return err
	}
	snap := s.Snapshot()
	if len(snap) == 0 {
		_, err := req.Adapter.SendText(ctx, req.ChannelID, "no scheduled jobs")
		return err
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].Name < snap[j].Name })

	now := time.Now()
	lines := make([]string, 0, len(snap)+1)
	lines = append(lines, "scheduled jobs:")
	for _, j := range snap {
		next := "-"
		if !j.Next.IsZero() {
			next = j.Next.UTC().Format("2006-01-02 15:04:05")
			if j.Next.After(now) {
				next += " (in " + durRel(j.Next.Sub(now)) + ")"
			}
		}
		line := fmt.Sprintf("- %s: spec=%s, next=%s", j.Name, j.Spec, next)
		if j.Skipped > 0 {
			line += fmt.Sprintf(", skipped=%d", j.Skipped)
		}
		if j.LastErr != "" {
			line += ", last_err=" + j.LastErr
		}
		lines = append(lines, line)
	}
	_, err := req.Adapter.SendText(ctx, req.ChannelID, strings.Join(lines, "\n"))
	return err
}

func (c *Cog) cmdHealth(ctx context.Context, req *plugin.Request) error {
	var b strings.Builder
	status := "running"

	var cogs []plugin.Status
	if c.opt.Plugins != nil {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		cogs = c.opt.Plugins.Snapshot(cctx)
		cancel()
	}
	for _, st := range cogs {
		if !st.Running || st.Err != "" {
			status = "degraded"
		}
	}

	fmt.Fprintf(&b, "status: %s\nuptime: %s\n", status, durRel(time.Since(c.startedAt)))
	if c.opt.Tasks != nil {
		fmt.Fprintf(&b, "autostats: %d user, %d guild\n",
			c.opt.Tasks.Count(autostats.ScopeUser), c.opt.Tasks.Count(autostats.ScopeGuild))
	}
	if c.Deps.Scheduler != nil {
		fmt.Fprintf(&b, "scheduled jobs: %d\n", len(c.Deps.Scheduler.Snapshot()))
	}
	b.WriteString("cogs:\n")
	if len(cogs) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, st := range cogs {
		state := "stopped"
		if st.Running {
			state = st.Health
			if state == "" {
				state = "ok"
			}
		}
		line := fmt.Sprintf("- %s: %s", st.Name, state)
		if st.Err != "" {
			line += " (" + st.Err + ")"
		}
		b.WriteString(line + "\n")
	}
	_, err := req.Adapter.SendText(ctx, req.ChannelID, strings.TrimRight(b.String(), "\n"))
	return err
}

func (c *Cog) cmdTasks(ctx context.Context, req *plugin.Request) error {
	if c.opt.Tasks == nil {
		_, err := req.Adapter.SendText(ctx, req.ChannelID, "autostats is unavailable")
		return err
	}
	guild := ""
	if len(req.Args) > 0 {
		guild = req.Args[0]
	}
	tasks := c.opt.Tasks.Tasks(guild)
	if len(tasks) == 0 {
		_, err := req.Adapter.SendText(ctx, req.ChannelID, "no autostats tasks")
		return err
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Trigger() < tasks[j].Trigger() })

	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		last := "never"
		if ts := t.LastUpdate(); !ts.IsZero() {
			last = humanize.Time(ts)
		}
		lines = append(lines, fmt.Sprintf("- %s [%s] guild=%s mode=%s players=%d state=%s updated=%s",
			t.Trigger(), t.Scope(), t.GuildID(), t.Mode().CleanName, len(t.Entities()), t.State(), last))
	}
	_, err := req.Adapter.SendText(ctx, req.ChannelID, strings.Join(lines, "\n"))
	return err
}

func durRel(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
}
