// Package identity turns user input (Minecraft names, Discord mentions or
// ids) into canonical Minecraft profile ids.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"

	"github.com/benno1237/bennos-cogs/internal/hypixel"
	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

var ErrUnresolved = errors.New("identity: could not resolve player")

// discordEpoch is the first millisecond of 2015, the origin of Discord ids.
const discordEpoch int64 = 1420070400000

var (
	mentionRe = regexp.MustCompile(`^<@!?(\d{15,21})>$`)
	nameRe    = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)
)

// Identity is a resolved player.
type Identity struct {
	UUID    string // 32 lowercase hex chars
	Name    string
	OwnerID string // Discord user bound to the uuid, if known
}

// Bindings maps Discord users to the Minecraft uuid they registered.
type Bindings interface {
	UUIDFor(ctx context.Context, userID string) (string, bool, error)
}

type NameLookup interface {
	Lookup(ctx context.Context, name string) (hypixel.Profile, error)
}

// MemberFinder resolves a guild member from a display name.
type MemberFinder interface {
	FindMember(ctx context.Context, guildID, query string) (string, bool, error)
}

type Resolver struct {
	bindings Bindings
	names    NameLookup
	members  MemberFinder // optional
	log      logx.Logger
}

func NewResolver(b Bindings, names NameLookup, members MemberFinder, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{bindings: b, names: names, members: members, log: log.With(logx.String("comp", "identity"))}
}

// Resolve tries, in order: a bound account for a mention or user id, a
// Mojang name lookup, and finally the bound account of a guild member
// matching the input.
func (r *Resolver) Resolve(ctx context.Context, guildID, input string) (Identity, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Identity{}, ErrUnresolved
	}

	// A numeric Minecraft name can look like a user id, so a missing
	// binding falls through to the remaining steps.
	userID, isUser := UserRef(input)
	if isUser {
		if id, ok := r.bound(ctx, userID); ok {
			return id, nil
		}
	}

	if nameRe.MatchString(input) && r.names != nil {
		p, err := r.names.Lookup(ctx, input)
		if err == nil {
			if u, ok := NormalizeUUID(p.ID); ok {
				return Identity{UUID: u, Name: p.Name}, nil
			}
		} else if ctx.Err() != nil {
			return Identity{}, ctx.Err()
		} else if !errors.Is(err, hypixel.ErrUnknownName) {
			r.log.Warn("name lookup failed", logx.String("name", input), logx.Err(err))
		}
	}

	if r.members != nil && guildID != "" {
		memberID, ok, err := r.members.FindMember(ctx, guildID, input)
		if err != nil {
			r.log.Debug("member search failed", logx.String("guild_id", guildID), logx.Err(err))
		}
		if ok {
			if id, ok := r.bound(ctx, memberID); ok {
				return id, nil
			}
		}
	}
	if isUser {
		return Identity{}, fmt.Errorf("%w: %s has no linked account", ErrUnresolved, input)
	}
	return Identity{}, fmt.Errorf("%w: %s", ErrUnresolved, input)
}

func (r *Resolver) bound(ctx context.Context, userID string) (Identity, bool) {
	if r.bindings == nil {
		return Identity{}, false
	}
	raw, ok, err := r.bindings.UUIDFor(ctx, userID)
	if err != nil {
		r.log.Warn("binding lookup failed", logx.String("user_id", userID), logx.Err(err))
		return Identity{}, false
	}
	if !ok {
		return Identity{}, false
	}
	u, ok := NormalizeUUID(raw)
	if !ok {
		return Identity{}, false
	}
	return Identity{UUID: u, OwnerID: userID}, true
}

// UserRef extracts a Discord user id from a mention or a bare snowflake.
// Bare ids need at least 17 digits; shorter ones are left to name lookup.
func UserRef(s string) (string, bool) {
	minLen := 17
	if m := mentionRe.FindStringSubmatch(s); m != nil {
		s, minLen = m[1], 15
	}
	if len(s) < minLen || len(s) > 21 {
		return "", false
	}
	id, err := snowflake.ParseString(s)
	if err != nil || id.Int64() <= 0 {
		return "", false
	}
	ts := id.Int64()>>22 + discordEpoch
	if ts > time.Now().Add(time.Hour).UnixMilli() {
		return "", false
	}
	return id.String(), true
}

// NormalizeUUID returns u as 32 lowercase hex chars without dashes.
func NormalizeUUID(s string) (string, bool) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	return strings.ReplaceAll(u.String(), "-", ""), true
}

// IsName reports whether s is a syntactically valid Minecraft name.
func IsName(s string) bool { return nameRe.MatchString(s) }
