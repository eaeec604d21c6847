package transport

import (
	"context"
	"errors"
)

// Platform errors adapters map their REST failures onto.
var (
	ErrForbidden = errors.New("transport: forbidden")
	ErrNotFound  = errors.New("transport: not found")
)

// MaxFilesPerMessage is the attachment limit of a single chat message.
const MaxFilesPerMessage = 10

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateVoice       UpdateKind = "voice"
	UpdateGuildJoin   UpdateKind = "guild_join"
	UpdateGuildRemove UpdateKind = "guild_remove"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Voice   *VoiceState
	Guild   *Guild
}

type Message struct {
	ID         string
	ChannelID  string
	GuildID    string // empty in direct messages
	AuthorID   string
	AuthorName string
	AuthorBot  bool
	Text       string
}

func (m *Message) IsDM() bool { return m.GuildID == "" }

// VoiceState is a member moving between voice channels. An empty channel id
// means "not connected".
type VoiceState struct {
	GuildID         string
	UserID          string
	Bot             bool
	BeforeChannelID string
	AfterChannelID  string
}

func (v *VoiceState) Joined(channelID string) bool {
	return channelID != "" && v.AfterChannelID == channelID && v.BeforeChannelID != channelID
}

func (v *VoiceState) Left(channelID string) bool {
	return channelID != "" && v.BeforeChannelID == channelID && v.AfterChannelID != channelID
}

type Guild struct {
	ID      string
	Name    string
	OwnerID string
}

type MessageRef struct {
	ChannelID string
	MessageID string
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Adapter is the chat platform as seen by the cogs.
type Adapter interface {
	// Start connects and returns; updates flow into out until Stop or ctx ends.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, channelID, text string) (MessageRef, error)
	// SendFiles posts at most MaxFilesPerMessage files in one message.
	SendFiles(ctx context.Context, channelID string, files []File) (MessageRef, error)
	DeleteMessages(ctx context.Context, channelID string, messageIDs []string) error

	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error)

	Guilds(ctx context.Context) ([]Guild, error)
	// IsGuildAdmin reports owner, administrator or manage-guild permission.
	IsGuildAdmin(ctx context.Context, guildID, userID string) (bool, error)
}

// MemberFinder is implemented by adapters that can search guild members by
// name or nickname.
type MemberFinder interface {
	FindMember(ctx context.Context, guildID, query string) (userID string, ok bool, err error)
}
