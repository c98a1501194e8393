package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/purifier-bridge/internal/profile"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the purifier bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Polling  PollingConfig  `yaml:"polling"`
	Profiles ProfilesConfig `yaml:"profiles"`
	Filters  FiltersConfig  `yaml:"filters"`
	Devices  []DeviceConfig `yaml:"devices"`
	Security SecurityConfig `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays prunes history older than this. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`

	// HealthInterval is how often bridge health is published, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`

	// PanelDir serves the status panel from disk instead of the embedded
	// copy. Empty uses the embedded copy.
	PanelDir string `yaml:"panel_dir"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket settings for live updates.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// PollingConfig holds the default poll policy for every device.
type PollingConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Timeout           time.Duration `yaml:"timeout"`
	FailureThreshold  int           `yaml:"failure_threshold"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	ConfirmDelay      time.Duration `yaml:"confirm_delay"`
}

// ProfilesConfig selects the device profile source.
type ProfilesConfig struct {
	// Path to a profiles YAML file. Empty uses the built-in profiles.
	Path string `yaml:"path"`
}

// FiltersConfig controls filter-life alerts.
type FiltersConfig struct {
	// AlertThreshold is the remaining percentage below which a filter is low.
	AlertThreshold int `yaml:"alert_threshold"`
}

// DeviceConfig describes one purifier.
type DeviceConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Model      string `yaml:"model"`
	Generation string `yaml:"generation"`

	// Secret is the device key for encrypted devices and the hex PSK for
	// encrypted_v2 devices.
	Secret string `yaml:"secret"`

	// Obfuscated enables payload obfuscation on legacy devices.
	Obfuscated bool `yaml:"obfuscated"`

	// Interval overrides polling.interval for this device.
	Interval time.Duration `yaml:"interval"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT settings for the API's write endpoints.
type JWTConfig struct {
	// Secret enables bearer-token checks on write endpoints when set.
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PURIFIER_SECTION_KEY
// For example: PURIFIER_DATABASE_PATH, PURIFIER_API_PORT. Device secrets
// use PURIFIER_DEVICE_<ID>_SECRET.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes, applying defaults and
// environment overrides.
func Parse(data []byte) (*Config, error) {
	cfg := defaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Home",
		},
		Database: DatabaseConfig{
			Enabled:              true,
			Path:                 "./data/purifier.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "purifier-bridge",
			},
			QoS:         1,
			TopicPrefix: "purifier",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Polling: PollingConfig{
			Interval:          15 * time.Second,
			Timeout:           5 * time.Second,
			FailureThreshold:  3,
			BackoffInitial:    30 * time.Second,
			BackoffMultiplier: 2,
			BackoffMax:        5 * time.Minute,
			ConfirmDelay:      2 * time.Second,
		},
		Filters: FiltersConfig{
			AlertThreshold: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PURIFIER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("PURIFIER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PURIFIER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PURIFIER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PURIFIER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PURIFIER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PURIFIER_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("PURIFIER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("PURIFIER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security
	if v := os.Getenv("PURIFIER_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Device secrets stay out of the config file.
	for i := range cfg.Devices {
		if v := os.Getenv(deviceSecretEnv(cfg.Devices[i].ID)); v != "" {
			cfg.Devices[i].Secret = v
		}
	}
}

// deviceSecretEnv returns the environment variable holding a device secret.
func deviceSecretEnv(id string) string {
	id = strings.ToUpper(id)
	id = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, id)
	return "PURIFIER_DEVICE_" + id + "_SECRET"
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if c.Polling.Interval < time.Second {
		errs = append(errs, "polling.interval must be at least 1s")
	}
	if c.Polling.BackoffMultiplier < 1 {
		errs = append(errs, "polling.backoff_multiplier must be at least 1")
	}
	if c.Polling.BackoffMax < c.Polling.BackoffInitial {
		errs = append(errs, "polling.backoff_max must not be less than polling.backoff_initial")
	}

	if c.Filters.AlertThreshold < 0 || c.Filters.AlertThreshold > 100 {
		errs = append(errs, "filters.alert_threshold must be between 0 and 100")
	}

	errs = append(errs, c.validateDevices()...)

	// An HS256 key shorter than 32 bytes is brute-forceable.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateDevices() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		switch {
		case d.ID == "":
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
			continue
		case seen[d.ID]:
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true

		if d.Host == "" {
			errs = append(errs, fmt.Sprintf("device %s: host is required", d.ID))
		}
		if d.Port < 0 || d.Port > 65535 {
			errs = append(errs, fmt.Sprintf("device %s: port must be between 1 and 65535", d.ID))
		}
		if d.Generation != "" {
			if _, err := profile.ParseGeneration(d.Generation); err != nil {
				errs = append(errs, fmt.Sprintf("device %s: unknown generation %q", d.ID, d.Generation))
			}
		}
		if d.Interval != 0 && d.Interval < time.Second {
			errs = append(errs, fmt.Sprintf("device %s: interval must be at least 1s", d.ID))
		}
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Redacted returns a copy with secrets masked, for diagnostics output.
func (c *Config) Redacted() Config {
	out := *c
	out.MQTT.Auth.Password = mask(out.MQTT.Auth.Password)
	out.InfluxDB.Token = mask(out.InfluxDB.Token)
	out.Security.JWT.Secret = mask(out.Security.JWT.Secret)
	out.Devices = make([]DeviceConfig, len(c.Devices))
	for i, d := range c.Devices {
		d.Secret = mask(d.Secret)
		d.Host = mask(d.Host)
		out.Devices[i] = d
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "**REDACTED**"
}
