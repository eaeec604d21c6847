package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
discord:
  prefix: "?"
  owner_user_ids: ["133049272517001216"]
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./cogs.db
hypixel:
  rate_per_sec: 1.5
autostats:
  interval: 5s
  policy: per-entity
birthday:
  enabled: true
  default_timezone: Europe/Berlin
`

func TestParseBytesYAML(t *testing.T) {
	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Discord.PrefixOrDefault() != "?" {
		t.Fatalf("prefix=%q", cfg.Discord.PrefixOrDefault())
	}
	if cfg.Autostats.IntervalOrDefault() != 5*time.Second {
		t.Fatalf("interval=%v", cfg.Autostats.IntervalOrDefault())
	}
	if cfg.Autostats.TimeoutOrDefault() != time.Hour {
		t.Fatalf("timeout default=%v", cfg.Autostats.TimeoutOrDefault())
	}
	if cfg.Autostats.GuildCapOrDefault() != 5 {
		t.Fatalf("guild cap default=%d", cfg.Autostats.GuildCapOrDefault())
	}
	if cfg.Autostats.PolicyOrDefault() != PolicyPerEntity {
		t.Fatalf("policy=%q", cfg.Autostats.PolicyOrDefault())
	}
	if h := cfg.Hypixel.WithDefaults(); h.BaseURL != DefaultHypixelURL || h.Burst != 5 {
		t.Fatalf("hypixel defaults not applied: %+v", h)
	}
}

func TestParseBytesRejectsUnknownFields(t *testing.T) {
	_, err := ParseBytes("config.json", []byte(`{"discord":{"prefix":"!"},"webhooks":{}}`))
	if err == nil || !strings.Contains(err.Error(), "webhooks") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestParseBytesRejectsTrailingData(t *testing.T) {
	if _, err := ParseBytes("config.json", []byte(`{} {}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := &Config{
		Logging:   LoggingConfig{Level: "loud"},
		Storage:   StorageConfig{Driver: "mongo"},
		Autostats: AutostatsConfig{Interval: "soon", Policy: "random"},
		Birthday:  BirthdayConfig{DefaultTimezone: "Mars/Olympus"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"logging.level", "storage.driver", "autostats.interval", "autostats.policy", "birthday.default_timezone"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %q in %v", want, err)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Autostats: AutostatsConfig{Interval: "10s"}}
	b := &Config{Autostats: AutostatsConfig{Interval: "20s"}, Metrics: MetricsConfig{Token: "secret"}}
	changed, attrs := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "autostats,metrics" {
		t.Fatalf("changed=%v", changed)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected attrs")
	}
	if got := RestartRequired(a, b); len(got) != 1 || got[0] != "metrics" {
		t.Fatalf("restart=%v", got)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"autostats":{"interval":"10s"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Autostats.IntervalOrDefault() != 30*time.Second {
				t.Fatalf("interval=%v", cfg.Autostats.IntervalOrDefault())
			}
			return
		case <-tick.C:
			// Rewrite until the watcher has been armed.
			_ = os.WriteFile(path, []byte(`{"autostats":{"interval":"30s"}}`), 0o644)
		case <-deadline:
			t.Fatalf("no reload published")
		}
	}
}

func TestDurationAccessorsClampAndFallback(t *testing.T) {
	a := AutostatsConfig{Interval: "100ms", Timeout: "nonsense"}
	if got := a.IntervalOrDefault(); got != MinPollInterval {
		t.Fatalf("interval=%v want %v", got, MinPollInterval)
	}
	if got := a.TimeoutOrDefault(); got != DefaultIdleTimeout {
		t.Fatalf("timeout=%v want %v", got, DefaultIdleTimeout)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative duration accepted")
	}
}

func TestYAMLSingleDocument(t *testing.T) {
	if _, err := ParseBytes("c.yaml", []byte("discord:\n  prefix: \"!\"\n---\ndiscord: {}\n")); err == nil {
		t.Fatalf("multi-document yaml accepted")
	}
	cfg, err := ParseBytes("c.yml", []byte(""))
	if err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
	if cfg.Discord.PrefixOrDefault() != DefaultPrefix {
		t.Fatalf("prefix=%q", cfg.Discord.PrefixOrDefault())
	}
}
