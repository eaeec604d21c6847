package hypixel

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/benno1237/bennos-cogs/internal/autostats"
	"github.com/benno1237/bennos-cogs/internal/config"
	hx "github.com/benno1237/bennos-cogs/internal/hypixel"
	"github.com/benno1237/bennos-cogs/internal/stats"
	"github.com/benno1237/bennos-cogs/internal/storage"
)

// Store keys. Module lists live under "<ModeDbKey>.current_modules".
const (
	keyAPIKey           = "apikey"
	keyHeaderColor      = "header_color"
	keyAutostatsChannel = "autostats_channel"
	keyAutostatsVoice   = "autostats_voice"
	keyAutostatsPolicy  = "autostats_policy"
	keyCurrentModules   = "current_modules"
	keyCustomModules    = "custom_modules"
)

type voiceSetting struct {
	ChannelID string `json:"channel_id"`
	Mode      string `json:"mode"`
}

type settings struct {
	st      storage.Store
	catalog *stats.Catalog
	// locks guards module and formula edits; shared by every copy.
	locks *storage.Locks
}

// credential prefers the user's own key over the guild key.
func (s settings) credential(ctx context.Context, guildID, userID string) (autostats.Credential, error) {
	if userID != "" {
		k, err := storage.Get(ctx, s.st, storage.User(userID), "", keyAPIKey)
		if err != nil {
			return autostats.Credential{}, err
		}
		if k != "" {
			return autostats.Credential{Key: k, Scope: autostats.ScopeUser}, nil
		}
	}
	if guildID != "" {
		k, err := storage.Get(ctx, s.st, storage.Guild(guildID), "", keyAPIKey)
		if err != nil {
			return autostats.Credential{}, err
		}
		if k != "" {
			return autostats.Credential{Key: k, Scope: autostats.ScopeGuild}, nil
		}
	}
	return autostats.Credential{}, nil
}

func (s settings) setKey(ctx context.Context, ns storage.Namespace, key string) error {
	if key == "" {
		return s.st.Delete(ctx, ns, keyAPIKey)
	}
	return storage.Set(ctx, s.st, ns, key, keyAPIKey)
}

// header resolves the card accent: user, then guild, then the default.
func (s settings) header(ctx context.Context, guildID, userID string) stats.RGB {
	for _, ns := range []storage.Namespace{storage.User(userID), storage.Guild(guildID)} {
		if ns.ID == "" {
			continue
		}
		raw, _ := storage.Get(ctx, s.st, ns, "", keyHeaderColor)
		if c, err := stats.ParseRGB(raw); err == nil {
			return c
		}
	}
	return autostats.DefaultHeader
}

func (s settings) setHeader(ctx context.Context, ns storage.Namespace, c stats.RGB) error {
	return storage.Set(ctx, s.st, ns, c.Hex(), keyHeaderColor)
}

// formulas returns the built-in formulas of mode overlaid with the guild's.
func (s settings) formulas(ctx context.Context, guildID string, mode hx.Mode) (map[string]string, error) {
	out := stats.DefaultFormulas(mode.DbKey)
	stored, err := storage.Get(ctx, s.st, storage.Guild(guildID), map[string]string(nil), mode.DbKey, keyCustomModules)
	if err != nil {
		return nil, err
	}
	maps.Copy(out, stored)
	return out, nil
}

// modules loads the active module set, falling back to the defaults when the
// guild never stored one.
func (s settings) modules(ctx context.Context, guildID string, mode hx.Mode) (*stats.ModuleSet, error) {
	formulas, err := s.formulas(ctx, guildID, mode)
	if err != nil {
		return nil, err
	}
	recs := stats.DefaultRecords(mode.DbKey)
	raw, ok, err := s.st.GetRaw(ctx, storage.Guild(guildID), mode.DbKey, keyCurrentModules)
	if err != nil {
		return nil, err
	}
	if ok {
		recs = nil
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, fmt.Errorf("decode %s modules: %w", mode.DbKey, err)
		}
	}
	return stats.Build(mode.DbKey, recs, formulas)
}

// updateModules loads the active set and the formulas of mode, applies fn
// and saves the set, holding the guild lock throughout.
func (s settings) updateModules(ctx context.Context, guildID string, mode hx.Mode, fn func(set *stats.ModuleSet, formulas map[string]string) error) (*stats.ModuleSet, error) {
	defer s.locks.Lock(storage.Guild(guildID))()
	set, err := s.modules(ctx, guildID, mode)
	if err != nil {
		return nil, err
	}
	formulas, err := s.formulas(ctx, guildID, mode)
	if err != nil {
		return nil, err
	}
	if err := fn(set, formulas); err != nil {
		return nil, err
	}
	return set, storage.Set(ctx, s.st, storage.Guild(guildID), set.Records(), set.Mode(), keyCurrentModules)
}

// createFormula compiles src against the catalog and stores it under key.
// The module still has to be added to become visible.
func (s settings) createFormula(ctx context.Context, guildID string, mode hx.Mode, key, src string) (*stats.Expr, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", stats.ErrUnknownField)
	}
	defer s.locks.Lock(storage.Guild(guildID))()
	existing, err := s.formulas(ctx, guildID, mode)
	if err != nil {
		return nil, err
	}
	if _, dup := existing[key]; dup || s.catalog.Has(mode.DbKey, key) {
		return nil, fmt.Errorf("%w: %s", stats.ErrDuplicateModule, key)
	}
	e, err := stats.Compile(src, s.catalog.Known(mode.DbKey))
	if err != nil {
		return nil, err
	}
	stored, err := storage.Get(ctx, s.st, storage.Guild(guildID), map[string]string{}, mode.DbKey, keyCustomModules)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		stored = map[string]string{}
	}
	stored[key] = e.String()
	return e, storage.Set(ctx, s.st, storage.Guild(guildID), stored, mode.DbKey, keyCustomModules)
}

func (s settings) autostatsChannel(ctx context.Context, guildID string) (string, error) {
	return storage.Get(ctx, s.st, storage.Guild(guildID), "", keyAutostatsChannel)
}

func (s settings) voice(ctx context.Context, guildID string) (voiceSetting, hx.Mode, bool) {
	v, err := storage.Get(ctx, s.st, storage.Guild(guildID), voiceSetting{}, keyAutostatsVoice)
	if err != nil || v.ChannelID == "" {
		return voiceSetting{}, hx.Mode{}, false
	}
	mode, ok := hx.LookupMode(v.Mode)
	if !ok {
		mode = hx.Bedwars
	}
	return v, mode, true
}

func (s settings) policy(ctx context.Context, guildID string, def string) autostats.ChangePolicy {
	p, _ := storage.Get(ctx, s.st, storage.Guild(guildID), "", keyAutostatsPolicy)
	if p == "" {
		p = def
	}
	return autostats.PolicyByName(p)
}

func validPolicy(p string) bool {
	return p == config.PolicyRepresentative || p == config.PolicyPerEntity
}

func (s settings) setString(ctx context.Context, guildID, key, v string) error {
	if v == "" {
		return s.st.Delete(ctx, storage.Guild(guildID), key)
	}
	return storage.Set(ctx, s.st, storage.Guild(guildID), v, key)
}
