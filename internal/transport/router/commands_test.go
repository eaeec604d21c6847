package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/benno1237/bennos-cogs/internal/transport"
	"github.com/benno1237/bennos-cogs/internal/transport/transporttest"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

func startManager(t *testing.T, f *transporttest.Fake, cmds ...Command) (*CommandManager, chan transport.Update) {
	t.Helper()
	m := NewCommandManager(logx.Nop(), f, Options{Prefix: "!", Owners: []string{"owner"}, Workers: 2})
	m.SetRegistry(cmds)
	ups := make(chan transport.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, ups)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, ups
}

func msg(guild, author, text string) transport.Update {
	return transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{
		ID: "1", ChannelID: "chan", GuildID: guild, AuthorID: author, Text: text,
	}}
}

func waitFor(t *testing.T, ch <-chan *Request) *Request {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not called")
		return nil
	}
}

func waitText(t *testing.T, f *transporttest.Fake, contains string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range f.Texts() {
			if strings.Contains(s, contains) {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no reply containing %q, got %v", contains, f.Texts())
}

func TestRoutesSubcommandWithArgsAndFlags(t *testing.T) {
	got := make(chan *Request, 1)
	f := transporttest.New()
	_, ups := startManager(t, f, Command{
		Route:  "hypixel stats",
		Handle: func(ctx context.Context, req *Request) error { got <- req; return nil },
	})

	ups <- msg("g1", "u1", `!Hypixel stats "Some Name" --mode bedwars`)
	req := waitFor(t, got)
	if req.Command != "hypixel stats" {
		t.Fatalf("command=%q", req.Command)
	}
	if !reflect.DeepEqual(req.Args, []string{"Some Name"}) || req.Flags["mode"] != "bedwars" {
		t.Fatalf("args=%v flags=%v", req.Args, req.Flags)
	}
}

func TestAliasAndGroupHelp(t *testing.T) {
	got := make(chan *Request, 1)
	f := transporttest.New()
	_, ups := startManager(t, f,
		Command{Route: "birthday set", Aliases: []string{"bdset"}, Description: "remember your birthday",
			Handle: func(ctx context.Context, req *Request) error { got <- req; return nil }},
	)

	ups <- msg("g1", "u1", "!bdset 24.12")
	if req := waitFor(t, got); req.Arg(0) != "24.12" {
		t.Fatalf("args=%v", req.Args)
	}

	ups <- msg("g1", "u1", "!birthday")
	waitText(t, f, "remember your birthday")
}

func TestAccessChecks(t *testing.T) {
	got := make(chan *Request, 4)
	f := transporttest.New()
	f.SetAdmin("g1", "admin")
	h := func(ctx context.Context, req *Request) error { got <- req; return nil }
	_, ups := startManager(t, f,
		Command{Route: "set", Access: AccessGuildAdmin, Handle: h},
		Command{Route: "shutdown", Access: AccessOwnerOnly, Handle: h},
		Command{Route: "guildonly", Access: AccessGuild, Handle: h},
	)

	ups <- msg("g1", "member", "!set")
	waitText(t, f, "Manage Server")
	ups <- msg("g1", "admin", "!set")
	waitFor(t, got)

	ups <- msg("g1", "admin", "!shutdown")
	waitText(t, f, "bot owner")
	ups <- msg("", "owner", "!shutdown")
	if req := waitFor(t, got); !req.IsOwner {
		t.Fatalf("owner flag not set")
	}

	ups <- msg("", "u1", "!guildonly")
	waitText(t, f, "only be used in a server")
}

func TestUserErrorIsReplied(t *testing.T) {
	f := transporttest.New()
	_, ups := startManager(t, f, Command{
		Route: "fail",
		Handle: func(ctx context.Context, req *Request) error {
			return WrapUser(errors.New("internal"), "That player does not exist.")
		},
	})
	ups <- msg("g1", "u1", "!fail")
	waitText(t, f, "That player does not exist.")
}

func TestEventsReachHandlers(t *testing.T) {
	f := transporttest.New()
	m, ups := startManager(t, f)
	seen := make(chan transport.UpdateKind, 1)
	m.OnEvent(func(ctx context.Context, up transport.Update) { seen <- up.Kind })

	ups <- transport.Update{Kind: transport.UpdateGuildJoin, Guild: &transport.Guild{ID: "g9"}}
	select {
	case k := <-seen:
		if k != transport.UpdateGuildJoin {
			t.Fatalf("kind=%s", k)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestParseFlagsKeepsNegativeNumbers(t *testing.T) {
	pos, flags, bools := parseFlags([]string{"-5", "--mode=duels", "--all", "x"})
	if !reflect.DeepEqual(pos, []string{"-5"}) {
		t.Fatalf("pos=%v", pos)
	}
	if flags["mode"] != "duels" || flags["all"] != "x" || len(bools) != 0 {
		t.Fatalf("flags=%v bools=%v", flags, bools)
	}
}

func TestTokenizeQuotes(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{in: `stats "Some Name" --mode bedwars`, want: []string{"stats", "Some Name", "--mode", "bedwars"}},
		{in: "stats \u201cSmart Quote\u201d x", want: []string{"stats", "Smart Quote", "x"}},
		{in: `a\ b  c`, want: []string{"a b", "c"}},
		{in: "   ", want: nil},
	}
	for _, tc := range cases {
		if got := tokenizeCommandLine(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("tokenize(%q) = %#v, want %#v", tc.in, got, tc.want)
		}
	}
}

func TestWalkStopsAtFlags(t *testing.T) {
	root := newRoot()
	root.add(splitRoute("autostats stop all"), Command{Route: "autostats stop all"})
	root.add(splitRoute("autostats"), Command{Route: "autostats"})

	leaf, path, rest := root.walk([]string{"autostats", "--mode", "stop"})
	if leaf.cmd == nil || leaf.cmd.Route != "autostats" || len(path) != 1 || len(rest) != 2 {
		t.Fatalf("walk = %v %v %v", leaf.name, path, rest)
	}
	leaf, path, _ = root.walk([]string{"AUTOSTATS", "Stop", "all"})
	if leaf.cmd == nil || leaf.cmd.Route != "autostats stop all" || strings.Join(path, " ") != "autostats stop all" {
		t.Fatalf("walk = %v %v", leaf.name, path)
	}
}
