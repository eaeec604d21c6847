package config

// Config is the root of the bot's config file (JSON or YAML).
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Hypixel   HypixelConfig   `json:"hypixel"`
	Autostats AutostatsConfig `json:"autostats"`
	Birthday  BirthdayConfig  `json:"birthday"`
	Render    RenderConfig    `json:"render"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

// DiscordConfig holds gateway settings. The token itself never lives in the
// config file; TokenEnv names the environment variable that carries it.
type DiscordConfig struct {
	TokenEnv     string   `json:"token_env,omitempty"` // default: DISCORD_TOKEN
	Prefix       string   `json:"prefix,omitempty"`    // default: "!"
	OwnerUserIDs []string `json:"owner_user_ids"`
	Workers      int      `json:"workers,omitempty"`
	// CommandTimeout is a Go duration string (e.g. "30s").
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Channel LoggingChannel `json:"channel"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChannel mirrors warn+ log records into a Discord channel.
type LoggingChannel struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the key/value store backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cogs.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HypixelConfig configures the stats and naming API clients.
type HypixelConfig struct {
	BaseURL        string  `json:"base_url,omitempty"`   // default: https://api.hypixel.net
	MojangURL      string  `json:"mojang_url,omitempty"` // default: https://api.mojang.com
	UserAgent      string  `json:"user_agent,omitempty"`
	RatePerSec     float64 `json:"rate_per_sec,omitempty"` // per API key, default 2
	Burst          int     `json:"burst,omitempty"`        // default 5
	RequestTimeout string  `json:"request_timeout,omitempty"`
	CatalogURL     string  `json:"catalog_url,omitempty"`
	// CatalogRefresh is a cron spec or "@every" descriptor (default "@every 6h").
	CatalogRefresh string `json:"catalog_refresh,omitempty"`
}

type AutostatsConfig struct {
	Interval string `json:"interval,omitempty"` // default 10s
	Timeout  string `json:"timeout,omitempty"`  // default 1h
	GuildCap int    `json:"guild_cap,omitempty"`
	// Policy is "representative" (default) or "per-entity".
	Policy      string `json:"policy,omitempty"`
	MaxEntities int    `json:"max_entities,omitempty"`
}

type BirthdayConfig struct {
	Enabled         bool   `json:"enabled"`
	DefaultTimezone string `json:"default_timezone,omitempty"`
}

type RenderConfig struct {
	Workers int `json:"workers,omitempty"`
	Width   int `json:"width,omitempty"`
	Height  int `json:"height,omitempty"`
}

// MetricsConfig controls the observability HTTP server (/metrics, optional pprof).
//
// Prefer binding to localhost (e.g. "127.0.0.1:9090").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
}
