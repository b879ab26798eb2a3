package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// unsetValue marks a desired page or channel the operator left unconfigured.
const unsetValue = 0xFF

// maxPage is the highest IEEE 802.15.4 channel page.
const maxPage = 31

// Config is the root configuration structure for wpand.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	WPAN      WPANConfig      `yaml:"wpan"`
	ObjectBus ObjectBusConfig `yaml:"object_bus"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// WPANConfig contains the radio management settings.
type WPANConfig struct {
	Netlink NetlinkConfig `yaml:"netlink"`

	// Desired is the page and channel every discovered PHY is moved to.
	// 255 leaves the value unset and disables reconciliation.
	Desired DesiredChannelConfig `yaml:"desired"`

	// LowpanMonitor enables the rtnetlink 6LoWPAN link monitor.
	LowpanMonitor bool `yaml:"lowpan_monitor"`

	// PowerControl lets the Powered property bring interfaces up and down.
	PowerControl bool `yaml:"power_control"`

	// QueueSize is the engine's inbound event capacity.
	QueueSize int `yaml:"queue_size"`
}

// NetlinkConfig contains generic netlink settings.
type NetlinkConfig struct {
	// Family is the generic netlink family name. Default: "nl802154"
	Family string `yaml:"family"`

	// FamilyWait is how long (seconds) startup waits for the family to
	// register. 0 fails startup immediately.
	FamilyWait int `yaml:"family_wait"`

	// Timeout bounds each request (seconds). 0 disables the deadline.
	Timeout int `yaml:"timeout"`
}

// DesiredChannelConfig is the operator's requested page and channel.
type DesiredChannelConfig struct {
	Page    int `yaml:"page"`
	Channel int `yaml:"channel"`
}

// IsSet reports whether both page and channel were configured.
func (d DesiredChannelConfig) IsSet() bool {
	return d.Page != unsetValue && d.Channel != unsetValue
}

// ObjectBusConfig contains the MQTT object bus settings.
type ObjectBusConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TopicPrefix    string `yaml:"topic_prefix"`
	HealthInterval int    `yaml:"health_interval"`
	RequestTimeout int    `yaml:"request_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long journal events are kept. 0 keeps them forever.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads the YAML file at path over Default, then applies WPAND_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with sensible defaults. The daemon runs on
// defaults alone when no file is given.
func Default() *Config {
	return &Config{
		WPAN: WPANConfig{
			Netlink: NetlinkConfig{
				Family:     "nl802154",
				FamilyWait: 0,
				Timeout:    5,
			},
			Desired: DesiredChannelConfig{
				Page:    unsetValue,
				Channel: unsetValue,
			},
			LowpanMonitor: true,
			PowerControl:  true,
			QueueSize:     64,
		},
		ObjectBus: ObjectBusConfig{
			Enabled:        true,
			TopicPrefix:    "wpand",
			HealthInterval: 30,
			RequestTimeout: 5,
		},
		Database: DatabaseConfig{
			Enabled:       true,
			Path:          "./data/wpand.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "wpand",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8154,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				Path:       "/var/log/wpand/wpand.log",
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			},
		},
	}
}

// envOverride maps one WPAND_* variable onto a field.
type envOverride struct {
	key   string
	apply func(cfg *Config, v string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

// envOverrides lists every supported variable. Empty values are ignored.
var envOverrides = []envOverride{
	{"WPAND_WPAN_PAGE", setInt(func(c *Config) *int { return &c.WPAN.Desired.Page })},
	{"WPAND_WPAN_CHANNEL", setInt(func(c *Config) *int { return &c.WPAN.Desired.Channel })},
	{"WPAND_WPAN_FAMILY", setString(func(c *Config) *string { return &c.WPAN.Netlink.Family })},
	{"WPAND_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"WPAND_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"WPAND_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"WPAND_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"WPAND_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"WPAND_INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"WPAND_LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
}

func applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides {
		v := os.Getenv(o.key)
		if v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return fmt.Errorf("parsing %s: %w", o.key, err)
		}
	}
	return nil
}

// Validate reports every problem at once, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	w := c.WPAN
	check(w.Netlink.Family != "", "wpan.netlink.family is required")
	check(w.Netlink.FamilyWait >= 0 && w.Netlink.Timeout >= 0, "wpan.netlink durations must not be negative")
	check(w.Desired.Page == unsetValue || (w.Desired.Page >= 0 && w.Desired.Page <= maxPage), "wpan.desired.page must be 0-31 or 255")
	check(w.Desired.Channel >= 0 && w.Desired.Channel <= unsetValue, "wpan.desired.channel must be 0-255")

	if c.ObjectBus.Enabled {
		prefix := c.ObjectBus.TopicPrefix
		check(prefix != "" && !strings.ContainsAny(prefix, "#+"), "object_bus.topic_prefix must be non-empty and free of wildcards")
		check(c.ObjectBus.HealthInterval >= 1, "object_bus.health_interval must be at least 1")
	}

	check(!c.Database.Enabled || c.Database.Path != "", "database.path is required")
	check(c.Database.RetentionDays >= 0, "database.retention_days must not be negative")
	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	check(!c.API.Enabled || (c.API.Port >= 1 && c.API.Port <= 65535), "api.port must be between 1 and 65535")
	check(!strings.EqualFold(c.Logging.Output, "file") || c.Logging.File.Path != "", "logging.file.path is required when output is file")

	return errors.Join(errs...)
}

// Durations converts the configured seconds.
func (t APITimeoutConfig) Durations() (read, write, idle time.Duration) {
	return time.Duration(t.Read) * time.Second,
		time.Duration(t.Write) * time.Second,
		time.Duration(t.Idle) * time.Second
}
