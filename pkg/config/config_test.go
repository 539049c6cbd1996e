package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bpbridge/internal/protocol"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "HEM-7361T", cfg.Device.Model)
	assert.Equal(t, 30*time.Second, cfg.Device.ConnectTimeout)
	assert.Equal(t, "new_only", cfg.Device.ReadMode)
	assert.True(t, cfg.Device.SyncTime)
	assert.True(t, cfg.Cloud.Enabled)
	assert.Equal(t, "./data/tokens", cfg.Cloud.TokensPath)
	assert.Equal(t, 1.0, cfg.Cloud.RatePerSecond)
	assert.Equal(t, uint32(5), cfg.Cloud.BreakerFailures)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "omron/blood_pressure", cfg.MQTT.BaseTopic)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 60*time.Minute, cfg.Daemon.Interval)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel())
	assert.NoError(t, cfg.Validate(), "defaults MUST be valid")
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
device:
  model: hem-7361t-d
  address: "AA:BB:CC:DD:EE:FF"
  read_mode: all
  sync_time: false
  pairing_key: "00112233445566778899aabbccddeeff"
users:
  - name: Alice
    account: alice@example.com
    slot: 1
  - name: Bob
    slot: 2
    cloud: false
mqtt:
  enabled: true
  host: broker.local
daemon:
  schedule: "0 */2 * * *"
logging:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Device.Address)
	assert.Equal(t, "all", cfg.Device.ReadMode)
	assert.False(t, cfg.Device.SyncTime, "explicit false MUST override the default")
	assert.Equal(t, 30*time.Second, cfg.Device.ConnectTimeout, "unset fields MUST keep defaults")

	require.Len(t, cfg.Users, 2)
	assert.True(t, cfg.Users[0].CloudEnabled())
	assert.True(t, cfg.Users[0].BrokerEnabled())
	assert.False(t, cfg.Users[1].CloudEnabled())
	assert.True(t, cfg.Users[1].BrokerEnabled())

	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.Equal(t, "0 */2 * * *", cfg.DaemonSchedule())
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel())
	assert.NoError(t, cfg.RequireDevice())

	layout, err := cfg.Layout()
	require.NoError(t, err)
	assert.Same(t, protocol.HEM7361T, layout, "alias MUST resolve to its model")

	key, err := cfg.PairingKey()
	require.NoError(t, err)
	assert.Len(t, key, protocol.KeySize)
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, "1h0m0s", cfg.DaemonSchedule())

	key, err := cfg.PairingKey()
	require.NoError(t, err)
	assert.Nil(t, key)

	assert.Error(t, cfg.RequireDevice(), "address MUST be required for device commands")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown model", "device: {model: HEM-9999}", "HEM-9999"},
		{"bad read mode", "device: {read_mode: some}", "read_mode"},
		{"bad pairing key", "device: {pairing_key: zz}", "pairing_key"},
		{"slot out of range", "users: [{name: a, account: x, slot: 3}]", "slot must be 1 or 2"},
		{"duplicate slot", "users: [{name: a, account: x, slot: 1}, {name: b, account: y, slot: 1}]", "already bound to a"},
		{"missing account", "users: [{name: a, slot: 1}]", "account is required"},
		{"missing name", "users: [{account: x, slot: 1}]", "name is required"},
		{"bad log level", "logging: {level: chatty}", "logging.level"},
		{"unknown key", "device: {modle: HEM-7361T}", "modle"},
		{"no retries", "retry: {attempts: 0}", "retry.attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAccountNotRequiredWithoutCloud(t *testing.T) {
	_, err := Parse([]byte("cloud: {enabled: false}\nusers: [{name: a, slot: 1}]"))
	assert.NoError(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: {address: 'AA:BB:CC:DD:EE:FF'}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Device.Address)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		logLevel logrus.Level
	}{
		{"creates logger with debug level", "debug", logrus.DebugLevel},
		{"creates logger with info level", "info", logrus.InfoLevel},
		{"creates logger with warn level", "warn", logrus.WarnLevel},
		{"creates logger with error level", "error", logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Logging: LoggingConfig{Level: tt.level}}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_NewLoggerToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bpbridge.log")
	cfg := &Config{Logging: LoggingConfig{Level: "info", File: path}}

	cfg.NewLogger().Info("hello from the bridge")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the bridge")
}
