package eventbus

// Event types published by the cogs.
const (
	AutostatsStarted   = "autostats.started"
	AutostatsRefreshed = "autostats.refreshed"
	AutostatsStopped   = "autostats.stopped"
	BirthdayFired      = "birthday.fired"
	CatalogRefreshed   = "catalog.refreshed"
	ConfigReloaded     = "config.reload"
	PluginStarted      = "plugin.started"
	PluginStopped      = "plugin.stopped"
	PluginFailed       = "plugin.failed"
)

// TaskEvent describes an autostats task lifecycle change.
type TaskEvent struct {
	TaskID  string `json:"task_id"`
	Trigger string `json:"trigger"`
	Scope   string `json:"scope"`
	Mode    string `json:"mode"`
	Reason  string `json:"reason,omitempty"`
	Err     string `json:"err,omitempty"`
}

// BirthdayEvent describes one scheduler firing for a guild.
type BirthdayEvent struct {
	GuildID  string `json:"guild_id"`
	Matches  int    `json:"matches"`
	Granted  int    `json:"granted"`
	Revoked  int    `json:"revoked"`
	Messages int    `json:"messages"`
}

// PluginEvent describes a cog lifecycle change.
type PluginEvent struct {
	Plugin string `json:"plugin"`
	Stage  string `json:"stage,omitempty"`
	Err    string `json:"err,omitempty"`
	TookMS int64  `json:"took_ms,omitempty"`
}
