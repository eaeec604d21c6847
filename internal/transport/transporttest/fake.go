// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/benno1237/bennos-cogs/internal/transport"
)

type Sent struct {
	ChannelID string
	MessageID string
	Text      string
	Files     []string
}

type RoleOp struct {
	GuildID, UserID, RoleID string
	Add                     bool
}

// Fake records every call. Error fields make the next matching call fail.
type Fake struct {
	mu      sync.Mutex
	seq     int
	sent    []Sent
	deleted []string
	delCall int
	roleOps []RoleOp
	members map[string][]string // guild/role -> users
	admins  map[string]bool     // guild/user
	guilds  []transport.Guild
	names   map[string]string // guild/name -> user

	SendFilesErr error
	SendTextErr  error
	DeleteErr    error
	AddRoleErr   error
	RemoveErr    error
}

func New() *Fake {
	return &Fake{members: map[string][]string{}, admins: map[string]bool{}, names: map[string]string{}}
}

func (f *Fake) Start(context.Context, chan<- transport.Update) error { return nil }

func (f *Fake) Stop(context.Context) error { return nil }

func (f *Fake) nextID() string {
	f.seq++
	return "m" + strconv.Itoa(f.seq)
}

func (f *Fake) SendText(_ context.Context, channelID, text string) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendTextErr != nil {
		return transport.MessageRef{}, f.SendTextErr
	}
	id := f.nextID()
	f.sent = append(f.sent, Sent{ChannelID: channelID, MessageID: id, Text: text})
	return transport.MessageRef{ChannelID: channelID, MessageID: id}, nil
}

func (f *Fake) SendFiles(_ context.Context, channelID string, files []transport.File) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendFilesErr != nil {
		return transport.MessageRef{}, f.SendFilesErr
	}
	names := make([]string, 0, len(files))
	for _, fl := range files {
		names = append(names, fl.Name)
	}
	id := f.nextID()
	f.sent = append(f.sent, Sent{ChannelID: channelID, MessageID: id, Files: names})
	return transport.MessageRef{ChannelID: channelID, MessageID: id}, nil
}

func (f *Fake) DeleteMessages(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.delCall++
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *Fake) AddRole(_ context.Context, guildID, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddRoleErr != nil {
		return f.AddRoleErr
	}
	f.roleOps = append(f.roleOps, RoleOp{GuildID: guildID, UserID: userID, RoleID: roleID, Add: true})
	k := guildID + "/" + roleID
	if !slices.Contains(f.members[k], userID) {
		f.members[k] = append(f.members[k], userID)
	}
	return nil
}

func (f *Fake) RemoveRole(_ context.Context, guildID, userID, roleID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	f.roleOps = append(f.roleOps, RoleOp{GuildID: guildID, UserID: userID, RoleID: roleID})
	k := guildID + "/" + roleID
	f.members[k] = slices.DeleteFunc(f.members[k], func(u string) bool { return u == userID })
	return nil
}

func (f *Fake) RoleMembers(_ context.Context, guildID, roleID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.members[guildID+"/"+roleID]), nil
}

func (f *Fake) Guilds(context.Context) ([]transport.Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.guilds), nil
}

func (f *Fake) IsGuildAdmin(_ context.Context, guildID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[guildID+"/"+userID], nil
}

func (f *Fake) FindMember(_ context.Context, guildID, query string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.names[guildID+"/"+query]
	return id, ok, nil
}

// Test setup helpers.

func (f *Fake) SetMemberName(guildID, name, userID string) {
	f.mu.Lock()
	f.names[guildID+"/"+name] = userID
	f.mu.Unlock()
}

func (f *Fake) SetAdmin(guildID, userID string) {
	f.mu.Lock()
	f.admins[guildID+"/"+userID] = true
	f.mu.Unlock()
}

func (f *Fake) SetRoleMembers(guildID, roleID string, users ...string) {
	f.mu.Lock()
	f.members[guildID+"/"+roleID] = slices.Clone(users)
	f.mu.Unlock()
}

func (f *Fake) AddGuild(g transport.Guild) {
	f.mu.Lock()
	f.guilds = append(f.guilds, g)
	f.mu.Unlock()
}

func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

// DeleteCalls counts successful DeleteMessages calls.
func (f *Fake) DeleteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delCall
}

func (f *Fake) RoleOps() []RoleOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.roleOps)
}

// Texts returns the text of every plain message, in order.
func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.Text != "" {
			out = append(out, s.Text)
		}
	}
	return out
}

var (
	_ transport.Adapter      = (*Fake)(nil)
	_ transport.MemberFinder = (*Fake)(nil)
)
