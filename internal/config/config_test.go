package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("default http port = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Engine.Interval != 5*time.Second {
		t.Errorf("default engine interval = %v, want 5s", cfg.Engine.Interval)
	}
	if cfg.Classify.IncidentScoreCutoff != 70 {
		t.Errorf("default score cutoff = %d, want 70", cfg.Classify.IncidentScoreCutoff)
	}
	if cfg.Autonomy.Thresholds["block_ip"] != 0.80 {
		t.Errorf("default block_ip threshold = %v, want 0.80", cfg.Autonomy.Thresholds["block_ip"])
	}
	if cfg.Events.Kafka.Enabled || cfg.State.Redis.Enabled || cfg.Storage.Enabled || cfg.Archive.Enabled {
		t.Error("external integrations must all be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  http_port: 9999
engine:
  interval: 30s
  event_window: 1h
autonomy:
  default_threshold: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRIAGE_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPPort != 9999 {
		t.Errorf("http port = %d, want 9999", cfg.Server.HTTPPort)
	}
	if cfg.Engine.Interval != 30*time.Second {
		t.Errorf("engine interval = %v, want 30s", cfg.Engine.Interval)
	}
	if cfg.Engine.EventWindow != time.Hour {
		t.Errorf("event window = %v, want 1h", cfg.Engine.EventWindow)
	}
	if cfg.Autonomy.DefaultThreshold != 0.5 {
		t.Errorf("default threshold = %v, want 0.5", cfg.Autonomy.DefaultThreshold)
	}

	// Settings absent from the file keep their defaults.
	if cfg.Classify.IncidentScoreCutoff != 70 {
		t.Errorf("score cutoff = %d, want default 70", cfg.Classify.IncidentScoreCutoff)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("TRIAGE_CONFIG_PATH", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http port = %d, want default 8080", cfg.Server.HTTPPort)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TRIAGE_CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Error("malformed YAML must fail to load")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRIAGE_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("TRIAGE_HTTP_PORT", "8181")
	t.Setenv("TRIAGE_LOG_LEVEL", "debug")
	t.Setenv("TRIAGE_KAFKA_BROKERS", "broker-1:9092")
	t.Setenv("TRIAGE_REDIS_ADDR", "cache-1:6379")
	t.Setenv("TRIAGE_ARCHIVE_BUCKET", "triage-archive")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.HTTPPort != 8181 {
		t.Errorf("http port = %d, want 8181", cfg.Server.HTTPPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	if !cfg.Events.Kafka.Enabled || cfg.Events.Kafka.Brokers[0] != "broker-1:9092" {
		t.Errorf("kafka not enabled from env: %+v", cfg.Events.Kafka)
	}
	if !cfg.State.Redis.Enabled || cfg.State.Redis.Addr != "cache-1:6379" {
		t.Errorf("redis not enabled from env: %+v", cfg.State.Redis)
	}
	if !cfg.Archive.Enabled || cfg.Archive.Bucket != "triage-archive" {
		t.Errorf("archive not enabled from env: %+v", cfg.Archive)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"port too large", func(c *Config) { c.Server.HTTPPort = 70000 }},
		{"zero interval", func(c *Config) { c.Engine.Interval = 0 }},
		{"negative window", func(c *Config) { c.Engine.EventWindow = -time.Minute }},
		{"cutoff above 100", func(c *Config) { c.Classify.IncidentScoreCutoff = 101 }},
		{"zero classify timeout", func(c *Config) { c.Classify.Timeout = 0 }},
		{"threshold above 1", func(c *Config) { c.Autonomy.DefaultThreshold = 1.5 }},
		{"per-action threshold negative", func(c *Config) { c.Autonomy.Thresholds["block_ip"] = -0.1 }},
		{"archive enabled without bucket", func(c *Config) { c.Archive.Enabled = true; c.Archive.Bucket = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
