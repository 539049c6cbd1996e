package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/bpbridge/internal/protocol"
)

// Config holds application configuration
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Users   []UserConfig  `yaml:"users"`
	Cloud   CloudConfig   `yaml:"cloud"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Retry   RetryConfig   `yaml:"retry"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
}

type DeviceConfig struct {
	Model          string        `yaml:"model" default:"HEM-7361T"`
	Address        string        `yaml:"address"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	// ReadMode is "all" or "new_only"
	ReadMode string `yaml:"read_mode" default:"new_only"`
	SyncTime bool   `yaml:"sync_time" default:"true"`
	// PairingKey is 32 hex digits; empty selects the built-in key
	PairingKey string `yaml:"pairing_key"`
}

// UserConfig binds a person to a device slot. Cloud and Broker default to
// enabled when omitted.
type UserConfig struct {
	Name    string `yaml:"name"`
	Account string `yaml:"account"`
	Slot    int    `yaml:"slot"`
	Cloud   *bool  `yaml:"cloud"`
	Broker  *bool  `yaml:"broker"`
}

func (u UserConfig) CloudEnabled() bool  { return u.Cloud == nil || *u.Cloud }
func (u UserConfig) BrokerEnabled() bool { return u.Broker == nil || *u.Broker }

type CloudConfig struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	BaseURL         string        `yaml:"base_url" default:"https://connectapi.garmin.com/bloodpressure-service"`
	TokensPath      string        `yaml:"tokens_path" default:"./data/tokens"`
	Timeout         time.Duration `yaml:"timeout" default:"30s"`
	RatePerSecond   float64       `yaml:"rate_per_second" default:"1"`
	CheckDuplicates bool          `yaml:"check_duplicates" default:"true"`
	BreakerFailures uint32        `yaml:"breaker_failures" default:"5"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" default:"60s"`
}

type MQTTConfig struct {
	Enabled   bool   `yaml:"enabled" default:"false"`
	Host      string `yaml:"host" default:"localhost"`
	Port      int    `yaml:"port" default:"1883"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	ClientID  string `yaml:"client_id"`
	BaseTopic string `yaml:"base_topic" default:"omron/blood_pressure"`
}

type LedgerConfig struct {
	Path string `yaml:"path" default:"./data/bpbridge.db"`
}

type RetryConfig struct {
	Attempts  int           `yaml:"attempts" default:"3"`
	BaseDelay time.Duration `yaml:"base_delay" default:"2s"`
	MaxDelay  time.Duration `yaml:"max_delay" default:"30s"`
}

type DaemonConfig struct {
	// Interval is used when Schedule is empty
	Interval time.Duration `yaml:"interval" default:"60m"`
	// Schedule is a cron expression, e.g. "0 */2 * * *"
	Schedule    string        `yaml:"schedule"`
	RunTimeout  time.Duration `yaml:"run_timeout" default:"10m"`
	MetricsAddr string        `yaml:"metrics_addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level" default:"info"`
	File  string `yaml:"file"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults and validates the result.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the parts every command relies on. RequireDevice adds the
// checks of commands that talk to the monitor.
func (c *Config) Validate() error {
	var errs []error

	if _, err := protocol.LookupModel(c.Device.Model); err != nil {
		errs = append(errs, err)
	}
	switch c.Device.ReadMode {
	case "all", "new_only":
	default:
		errs = append(errs, fmt.Errorf("device.read_mode must be all or new_only, got %q", c.Device.ReadMode))
	}
	if c.Device.PairingKey != "" {
		if _, err := protocol.ParseKey(c.Device.PairingKey); err != nil {
			errs = append(errs, fmt.Errorf("device.pairing_key: %w", err))
		}
	}

	slots := map[int]string{}
	for i, u := range c.Users {
		if u.Name == "" {
			errs = append(errs, fmt.Errorf("users[%d]: name is required", i))
		}
		if u.Slot < 1 || u.Slot > 2 {
			errs = append(errs, fmt.Errorf("users[%d] %s: slot must be 1 or 2, got %d", i, u.Name, u.Slot))
		} else if other, dup := slots[u.Slot]; dup {
			errs = append(errs, fmt.Errorf("users[%d] %s: slot %d already bound to %s", i, u.Name, u.Slot, other))
		} else {
			slots[u.Slot] = u.Name
		}
		if c.Cloud.Enabled && u.CloudEnabled() && u.Account == "" {
			errs = append(errs, fmt.Errorf("users[%d] %s: account is required when cloud upload is enabled", i, u.Name))
		}
	}

	if c.MQTT.Enabled && c.MQTT.Host == "" {
		errs = append(errs, fmt.Errorf("mqtt.host is required when mqtt is enabled"))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("retry.attempts must be at least 1"))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// RequireDevice checks what a device session needs on top of Validate.
func (c *Config) RequireDevice() error {
	if c.Device.Address == "" {
		return fmt.Errorf("invalid config: device.address is required, pair the monitor and set its address")
	}
	if len(c.Users) == 0 {
		return fmt.Errorf("invalid config: at least one user is required")
	}
	return nil
}

// Layout returns the protocol layout of the configured model.
func (c *Config) Layout() (*protocol.Layout, error) {
	return protocol.LookupModel(c.Device.Model)
}

// PairingKey returns the configured key, or nil for the built-in one.
func (c *Config) PairingKey() ([]byte, error) {
	if c.Device.PairingKey == "" {
		return nil, nil
	}
	return protocol.ParseKey(c.Device.PairingKey)
}

// DaemonSchedule is the cron schedule, or the interval when none is set.
func (c *Config) DaemonSchedule() string {
	if c.Daemon.Schedule != "" {
		return c.Daemon.Schedule
	}
	return c.Daemon.Interval.String()
}

// LogLevel returns the configured level, info when unparsable.
func (c *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	if c.Logging.File != "" {
		f, err := os.OpenFile(c.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.WithField("error", err).Warn("Cannot open log file, logging to stderr")
		} else {
			logger.SetOutput(f)
		}
	}

	return logger
}
