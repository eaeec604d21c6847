package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

const (
	DefaultPrefix          = "!"
	DefaultTokenEnv        = "DISCORD_TOKEN"
	DefaultHypixelURL      = "https://api.hypixel.net"
	DefaultMojangURL       = "https://api.mojang.com"
	DefaultCatalogURL      = "https://raw.githubusercontent.com/HypixelDatabase/HypixelTracking/master/API/player.json"
	DefaultCatalogRefresh  = "@every 6h"
	DefaultUserAgent       = "bennos-cogs/1.0 (+https://github.com/benno1237/bennos-cogs)"
	DefaultPollInterval    = 10 * time.Second
	DefaultIdleTimeout     = time.Hour
	DefaultGuildCap        = 5
	DefaultMaxEntities     = 8
	DefaultRequestTimeout  = 10 * time.Second
	DefaultCommandTimeout  = 60 * time.Second
	DefaultRenderWorkers   = 2
	DefaultMetricsAddr     = "127.0.0.1:9090"
	DefaultBirthdayTZ      = "UTC"
	PolicyRepresentative   = "representative"
	PolicyPerEntity        = "per-entity"
	defaultHypixelRate     = 2.0
	defaultHypixelBurst    = 5
	defaultStorageFilePath = "./cogs_store"
)

// Validate rejects configs that would fail later at runtime.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if c.Logging.Level != "" {
		if _, ok := logx.ParseLevel(c.Logging.Level); !ok {
			errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
		}
	}
	if _, err := ParseDurationField("discord.command_timeout", c.Discord.CommandTimeout); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("hypixel.request_timeout", c.Hypixel.RequestTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Hypixel.RatePerSec < 0 || c.Hypixel.Burst < 0 {
		errs = append(errs, errors.New("hypixel: rate_per_sec and burst must be >= 0"))
	}
	if spec := strings.TrimSpace(c.Hypixel.CatalogRefresh); spec != "" {
		p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := p.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("hypixel.catalog_refresh: %w", err))
		}
	}
	if _, err := ParseDurationField("autostats.interval", c.Autostats.Interval); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("autostats.timeout", c.Autostats.Timeout); err != nil {
		errs = append(errs, err)
	}
	if c.Autostats.GuildCap < 0 || c.Autostats.MaxEntities < 0 {
		errs = append(errs, errors.New("autostats: guild_cap and max_entities must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Autostats.Policy)) {
	case "", PolicyRepresentative, PolicyPerEntity:
	default:
		errs = append(errs, fmt.Errorf("autostats.policy: unknown policy %q", c.Autostats.Policy))
	}
	if tz := strings.TrimSpace(c.Birthday.DefaultTimezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("birthday.default_timezone: %w", err))
		}
	}
	if c.Render.Workers < 0 || c.Render.Width < 0 || c.Render.Height < 0 {
		errs = append(errs, errors.New("render: workers, width and height must be >= 0"))
	}
	return errors.Join(errs...)
}

func (c DiscordConfig) PrefixOrDefault() string {
	if p := strings.TrimSpace(c.Prefix); p != "" {
		return p
	}
	return DefaultPrefix
}

func (c DiscordConfig) TokenEnvOrDefault() string {
	if e := strings.TrimSpace(c.TokenEnv); e != "" {
		return e
	}
	return DefaultTokenEnv
}

func (c DiscordConfig) CommandTimeoutOrDefault() time.Duration {
	return durationOr(c.CommandTimeout, DefaultCommandTimeout, 0)
}

func (c StorageConfig) WithDefaults() StorageConfig {
	if strings.TrimSpace(c.Driver) == "" {
		c.Driver = "file"
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = defaultStorageFilePath
	}
	return c
}

func (c HypixelConfig) WithDefaults() HypixelConfig {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultHypixelURL
	}
	if strings.TrimSpace(c.MojangURL) == "" {
		c.MojangURL = DefaultMojangURL
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = defaultHypixelRate
	}
	if c.Burst <= 0 {
		c.Burst = defaultHypixelBurst
	}
	if strings.TrimSpace(c.CatalogURL) == "" {
		c.CatalogURL = DefaultCatalogURL
	}
	if strings.TrimSpace(c.CatalogRefresh) == "" {
		c.CatalogRefresh = DefaultCatalogRefresh
	}
	return c
}

func (c HypixelConfig) RequestTimeoutOrDefault() time.Duration {
	return durationOr(c.RequestTimeout, DefaultRequestTimeout, 0)
}

func (c AutostatsConfig) IntervalOrDefault() time.Duration {
	return durationOr(c.Interval, DefaultPollInterval, MinPollInterval)
}

func (c AutostatsConfig) TimeoutOrDefault() time.Duration {
	return durationOr(c.Timeout, DefaultIdleTimeout, 0)
}

func (c AutostatsConfig) GuildCapOrDefault() int {
	if c.GuildCap > 0 {
		return c.GuildCap
	}
	return DefaultGuildCap
}

func (c AutostatsConfig) MaxEntitiesOrDefault() int {
	if c.MaxEntities > 0 {
		return c.MaxEntities
	}
	return DefaultMaxEntities
}

func (c AutostatsConfig) PolicyOrDefault() string {
	if p := strings.ToLower(strings.TrimSpace(c.Policy)); p != "" {
		return p
	}
	return PolicyRepresentative
}

func (c BirthdayConfig) TimezoneOrDefault() string {
	if tz := strings.TrimSpace(c.DefaultTimezone); tz != "" {
		return tz
	}
	return DefaultBirthdayTZ
}

func (c RenderConfig) WorkersOrDefault() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return DefaultRenderWorkers
}

func (c MetricsConfig) AddrOrDefault() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultMetricsAddr
}

// ToLogx maps the logging section onto the logx service config.
func (c LoggingConfig) ToLogx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Channel: logx.ChannelConfig{
			Enabled:    c.Channel.Enabled,
			ChannelID:  c.Channel.ChannelID,
			MinLevel:   c.Channel.MinLevel,
			RatePerSec: c.Channel.RatePerSec,
		},
	}
}
