// Package config handles configuration loading for the triage core.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Engine   EngineConfig   `yaml:"engine"`
	Classify ClassifyConfig `yaml:"classify"`
	Autonomy AutonomyConfig `yaml:"autonomy"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Events   EventsConfig   `yaml:"events"`
	State    StateConfig    `yaml:"state"`
	Storage  StorageConfig  `yaml:"storage"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig holds evaluation loop settings.
type EngineConfig struct {
	Interval    time.Duration `yaml:"interval"`     // full re-evaluation period
	EventWindow time.Duration `yaml:"event_window"` // security event lookback
}

// ClassifyConfig holds risk classifier settings.
type ClassifyConfig struct {
	IncidentScoreCutoff int           `yaml:"incident_score_cutoff"` // riskScore >= cutoff escalates
	Timeout             time.Duration `yaml:"timeout"`
}

// AutonomyConfig holds the named auto-approval thresholds per action type.
// An action type absent from Thresholds falls back to DefaultThreshold.
type AutonomyConfig struct {
	DefaultThreshold float64            `yaml:"default_threshold"`
	Thresholds       map[string]float64 `yaml:"thresholds"`
	ExecutorTimeout  time.Duration      `yaml:"executor_timeout"`
	RetryDelay       time.Duration      `yaml:"retry_delay"`
}

// CatalogConfig holds the catalog/order store client settings.
type CatalogConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// EventsConfig holds security event intake settings.
type EventsConfig struct {
	BufferSize int         `yaml:"buffer_size"`
	Kafka      KafkaConfig `yaml:"kafka"`
}

// KafkaConfig holds Kafka consumer settings for the security event topic.
type KafkaConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Brokers  []string      `yaml:"brokers"`
	Topic    string        `yaml:"topic"`
	GroupID  string        `yaml:"group_id"`
	MinBytes int           `yaml:"min_bytes"`
	MaxBytes int           `yaml:"max_bytes"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// StateConfig holds operator-state persistence settings.
type StateConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// StorageConfig holds audit persistence settings.
type StorageConfig struct {
	Enabled     bool              `yaml:"enabled"`
	ClickHouse  ClickHouseConfig  `yaml:"clickhouse"`
	BatchWriter BatchWriterConfig `yaml:"batch_writer"`
}

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// BatchWriterConfig holds audit batch writer settings.
type BatchWriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// ArchiveConfig holds cold archive settings for closed incidents.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			Interval:    5 * time.Second,
			EventWindow: 15 * time.Minute,
		},
		Classify: ClassifyConfig{
			IncidentScoreCutoff: 70,
			Timeout:             2 * time.Second,
		},
		Autonomy: AutonomyConfig{
			DefaultThreshold: 0.85,
			Thresholds: map[string]float64{
				"block_ip":     0.80,
				"suspend_user": 0.90,
				"update_rule":  0.75,
			},
			ExecutorTimeout: 10 * time.Second,
			RetryDelay:      time.Second,
		},
		Catalog: CatalogConfig{
			BaseURL: "http://localhost:9090",
			Timeout: 5 * time.Second,
		},
		Events: EventsConfig{
			BufferSize: 10000,
			Kafka: KafkaConfig{
				Enabled:  false, // enable when a broker is available
				Brokers:  []string{"localhost:9092"},
				Topic:    "security-events",
				GroupID:  "triage-core",
				MinBytes: 1,
				MaxBytes: 10 * 1024 * 1024,
				MaxWait:  time.Second,
			},
		},
		State: StateConfig{
			Redis: RedisConfig{
				Enabled:      false, // memory-only read/dismiss state by default
				Addr:         "localhost:6379",
				DB:           0,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				PoolSize:     10,
			},
		},
		Storage: StorageConfig{
			Enabled: false, // disabled by default for development without ClickHouse
			ClickHouse: ClickHouseConfig{
				Hosts:           []string{"localhost:9000"},
				Database:        "triage",
				Username:        "default",
				Password:        "",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				TLSEnabled:      false,
				DialTimeout:     10 * time.Second,
			},
			BatchWriter: BatchWriterConfig{
				BatchSize:     500,
				FlushInterval: 5 * time.Second,
				MaxRetries:    3,
				RetryDelay:    time.Second,
			},
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Prefix:  "incidents",
			Region:  "us-east-1",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("TRIAGE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("TRIAGE_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("TRIAGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if url := os.Getenv("TRIAGE_CATALOG_URL"); url != "" {
		c.Catalog.BaseURL = url
	}

	if brokers := os.Getenv("TRIAGE_KAFKA_BROKERS"); brokers != "" {
		c.Events.Kafka.Brokers = []string{brokers}
		c.Events.Kafka.Enabled = true
	}

	if addr := os.Getenv("TRIAGE_REDIS_ADDR"); addr != "" {
		c.State.Redis.Addr = addr
		c.State.Redis.Enabled = true
	}

	if enabled := os.Getenv("TRIAGE_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if bucket := os.Getenv("TRIAGE_ARCHIVE_BUCKET"); bucket != "" {
		c.Archive.Bucket = bucket
		c.Archive.Enabled = true
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Engine.Interval <= 0 {
		return fmt.Errorf("engine interval must be positive")
	}

	if c.Engine.EventWindow <= 0 {
		return fmt.Errorf("event window must be positive")
	}

	if c.Classify.IncidentScoreCutoff < 0 || c.Classify.IncidentScoreCutoff > 100 {
		return fmt.Errorf("incident_score_cutoff must be in [0,100]: %d", c.Classify.IncidentScoreCutoff)
	}

	if c.Classify.Timeout <= 0 {
		return fmt.Errorf("classify timeout must be positive")
	}

	if c.Autonomy.DefaultThreshold < 0 || c.Autonomy.DefaultThreshold > 1 {
		return fmt.Errorf("default_threshold must be in [0,1]: %f", c.Autonomy.DefaultThreshold)
	}
	for action, t := range c.Autonomy.Thresholds {
		if t < 0 || t > 1 {
			return fmt.Errorf("threshold for %q must be in [0,1]: %f", action, t)
		}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive enabled but no bucket configured")
	}

	return nil
}
