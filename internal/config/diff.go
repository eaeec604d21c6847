package config

import (
	"reflect"

	logx "github.com/benno1237/bennos-cogs/pkg/logx"
)

// SummarizeConfigChange lists the changed top-level sections and returns
// log-safe attributes describing them. Secrets (metrics token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if !reflect.DeepEqual(oldCfg.Discord, newCfg.Discord) {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.String("discord.prefix", newCfg.Discord.PrefixOrDefault()),
			logx.Int("discord.owner_count", len(newCfg.Discord.OwnerUserIDs)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.channel_enabled", newCfg.Logging.Channel.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.WithDefaults().Driver))
	}
	if oldCfg.Hypixel != newCfg.Hypixel {
		changed = append(changed, "hypixel")
		h := newCfg.Hypixel.WithDefaults()
		attrs = append(attrs,
			logx.Float64("hypixel.rate_per_sec", h.RatePerSec),
			logx.String("hypixel.catalog_refresh", h.CatalogRefresh),
		)
	}
	if oldCfg.Autostats != newCfg.Autostats {
		changed = append(changed, "autostats")
		a := newCfg.Autostats
		attrs = append(attrs,
			logx.Duration("autostats.interval", a.IntervalOrDefault()),
			logx.Duration("autostats.timeout", a.TimeoutOrDefault()),
			logx.String("autostats.policy", a.PolicyOrDefault()),
		)
	}
	if oldCfg.Birthday != newCfg.Birthday {
		changed = append(changed, "birthday")
		attrs = append(attrs, logx.Bool("birthday.enabled", newCfg.Birthday.Enabled))
	}
	if oldCfg.Render != newCfg.Render {
		changed = append(changed, "render")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", newCfg.Metrics.Enabled),
			logx.Bool("metrics.token_set", newCfg.Metrics.Token != ""),
		)
	}
	return changed, attrs
}

// RestartRequired reports sections whose changes only apply after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Discord.TokenEnvOrDefault() != newCfg.Discord.TokenEnvOrDefault() {
		out = append(out, "discord.token_env")
	}
	if oldCfg.Storage.WithDefaults() != newCfg.Storage.WithDefaults() {
		out = append(out, "storage")
	}
	if oldCfg.Render != newCfg.Render {
		out = append(out, "render")
	}
	if oldCfg.Metrics != newCfg.Metrics {
		out = append(out, "metrics")
	}
	return out
}
