package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for brokerwatch.
// All configuration is loaded from YAML and can be overridden by environment variables.
//
// A Config is captured once by the supervisor on Connect and treated as
// read-only afterwards.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Probe     ProbeConfig     `yaml:"probe"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Logging   LoggingConfig   `yaml:"logging"`
	Journal   JournalConfig   `yaml:"journal"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
}

// BrokerConfig contains message broker connection settings.
type BrokerConfig struct {
	// URL is the broker address. The scheme selects the transport:
	// amqp/amqps for RabbitMQ, mqtt/mqtts/tcp/ssl for MQTT.
	URL string `yaml:"url"`

	// Username and Password are applied when the URL carries no userinfo.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ClientID identifies the client to MQTT brokers. Ignored for AMQP.
	ClientID string `yaml:"client_id"`

	// Heartbeat is the AMQP heartbeat / MQTT keepalive interval.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// ConnectTimeout bounds the broker handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// ProbeConfig contains the out-of-band HTTP liveness probe settings.
type ProbeConfig struct {
	// URL is the status endpoint, e.g. the RabbitMQ management
	// "http://host:15672/api/health/checks/alarms".
	URL string `yaml:"url"`

	// Interval is how often the probe runs.
	Interval time.Duration `yaml:"interval"`

	// Timeout bounds a single probe request.
	Timeout time.Duration `yaml:"timeout"`

	// Username and Password authenticate the probe. When empty the broker
	// credentials are used.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ReconnectConfig contains reconnect sequencing settings.
type ReconnectConfig struct {
	// Delay is the grace period between tearing a connection down and
	// requesting a fresh connect.
	Delay time.Duration `yaml:"delay"`

	// MaxDelay caps the backoff between failed signal-driven connects.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Used when Output is "file".
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// JournalConfig contains the SQLite transition journal settings.
type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention drops entries older than this at startup. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the HTTP server settings for /metrics, the status
// API, and the transition WebSocket.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Listen    string           `yaml:"listen"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings (in seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
// An empty AllowedOrigins list allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BROKERWATCH_SECTION_KEY
// For example: BROKERWATCH_BROKER_URL, BROKERWATCH_PROBE_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults.
// The broker URL is left pointing at a local RabbitMQ.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:            "amqp://localhost:5672/",
			ClientID:       "brokerwatch",
			Heartbeat:      10 * time.Second,
			ConnectTimeout: 10 * time.Second,
		},
		Probe: ProbeConfig{
			URL:      "http://localhost:15672/api/health/checks/alarms",
			Interval: 5 * time.Second,
			Timeout:  5 * time.Second,
		},
		Reconnect: ReconnectConfig{
			Delay:    2 * time.Second,
			MaxDelay: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "./logs/brokerwatch.log",
				MaxSize:    50,
				MaxBackups: 4,
				MaxAge:     10,
			},
		},
		Journal: JournalConfig{
			Path:        "./data/brokerwatch.db",
			WALMode:     true,
			BusyTimeout: 5,
			Retention:   30 * 24 * time.Hour,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Listen: ":9464",
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BROKERWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Broker
	if v := os.Getenv("BROKERWATCH_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("BROKERWATCH_BROKER_USERNAME"); v != "" {
		cfg.Broker.Username = v
	}
	if v := os.Getenv("BROKERWATCH_BROKER_PASSWORD"); v != "" {
		cfg.Broker.Password = v
	}

	// Probe
	if v := os.Getenv("BROKERWATCH_PROBE_URL"); v != "" {
		cfg.Probe.URL = v
	}
	if v := os.Getenv("BROKERWATCH_PROBE_USERNAME"); v != "" {
		cfg.Probe.Username = v
	}
	if v := os.Getenv("BROKERWATCH_PROBE_PASSWORD"); v != "" {
		cfg.Probe.Password = v
	}

	// Journal
	if v := os.Getenv("BROKERWATCH_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}

	// InfluxDB
	if v := os.Getenv("BROKERWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Broker validation
	if c.Broker.URL == "" {
		errs = append(errs, "broker.url is required")
	} else if u, err := url.Parse(c.Broker.URL); err != nil || u.Host == "" {
		errs = append(errs, "broker.url must be an absolute URL with a host")
	}

	// Probe validation
	if c.Probe.URL == "" {
		errs = append(errs, "probe.url is required")
	} else if u, err := url.Parse(c.Probe.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, "probe.url must use http or https")
	}
	if c.Probe.Interval <= 0 {
		errs = append(errs, "probe.interval must be positive")
	}
	if c.Probe.Timeout < 0 {
		errs = append(errs, "probe.timeout must not be negative")
	}

	// Reconnect validation
	if c.Reconnect.Delay < 0 {
		errs = append(errs, "reconnect.delay must not be negative")
	}
	if c.Reconnect.MaxDelay > 0 && c.Reconnect.MaxDelay < c.Reconnect.Delay {
		errs = append(errs, "reconnect.max_delay must not be less than reconnect.delay")
	}

	// Optional sinks
	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal is enabled")
	}
	if c.Journal.Retention < 0 {
		errs = append(errs, "journal.retention must not be negative")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.API.Enabled {
		if c.API.Listen == "" {
			errs = append(errs, "api.listen is required when the api is enabled")
		}
		if c.API.WebSocket.PingInterval <= 0 || c.API.WebSocket.PongTimeout <= 0 {
			errs = append(errs, "api.websocket ping_interval and pong_timeout must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ProbeCredentials returns the username and password the probe should use.
// Probe-specific credentials win; otherwise the broker credentials apply.
func (c *Config) ProbeCredentials() (string, string) {
	if c.Probe.Username != "" {
		return c.Probe.Username, c.Probe.Password
	}
	return c.Broker.Username, c.Broker.Password
}
