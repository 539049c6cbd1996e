package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bpbridge/internal/bridge"
	goble "github.com/srg/bpbridge/internal/device/go-ble"
	"github.com/srg/bpbridge/internal/ledger"
	"github.com/srg/bpbridge/internal/session"
	"github.com/srg/bpbridge/internal/sink"
	"github.com/srg/bpbridge/pkg/config"
)

// app is what every command starts from: the configuration and a logger.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// loadApp reads --config. A missing file is only an error when the path was
// given explicitly; otherwise the defaults apply.
func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}

	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}
	logger.WithField("config", path).Debug("Configuration loaded")
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) openLedger() (*ledger.Ledger, error) {
	if dir := filepath.Dir(a.cfg.Ledger.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	return ledger.Open(a.cfg.Ledger.Path, a.logger)
}

func (a *app) sessionOptions() (session.Options, error) {
	key, err := a.cfg.PairingKey()
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		Address:        a.cfg.Device.Address,
		ConnectTimeout: a.cfg.Device.ConnectTimeout,
		PairingKey:     key,
		ReadMode:       session.ReadMode(a.cfg.Device.ReadMode),
		SyncTime:       a.cfg.Device.SyncTime,
	}, nil
}

func (a *app) buildSource() (*bridge.DeviceSource, error) {
	if err := a.cfg.RequireDevice(); err != nil {
		return nil, err
	}
	return a.newDeviceSource()
}

func (a *app) newDeviceSource() (*bridge.DeviceSource, error) {
	layout, err := a.cfg.Layout()
	if err != nil {
		return nil, err
	}
	opts, err := a.sessionOptions()
	if err != nil {
		return nil, err
	}
	return &bridge.DeviceSource{
		Transport: goble.NewTransport(a.logger),
		Layout:    layout,
		Options:   opts,
		Logger:    a.logger,
	}, nil
}

// buildUploader returns nil when cloud upload is disabled.
func (a *app) buildUploader() sink.Uploader {
	c := a.cfg.Cloud
	if !c.Enabled {
		return nil
	}
	tokens := sink.NewFileTokenStore(c.TokensPath)
	inner := sink.NewHTTPUploader(sink.HTTPConfig{
		BaseURL:         c.BaseURL,
		Timeout:         c.Timeout,
		CheckDuplicates: c.CheckDuplicates,
	}, tokens, a.logger)
	return sink.NewGuardedUploader(inner, sink.GuardConfig{
		RatePerSecond: c.RatePerSecond,
		MaxFailures:   c.BreakerFailures,
		OpenTimeout:   c.BreakerTimeout,
	}, a.logger)
}

// buildPublisher returns nil when MQTT is disabled.
func (a *app) buildPublisher() *sink.MQTTPublisher {
	m := a.cfg.MQTT
	if !m.Enabled {
		return nil
	}
	return sink.NewMQTTPublisher(sink.MQTTConfig{
		Host:      m.Host,
		Port:      m.Port,
		Username:  m.Username,
		Password:  m.Password,
		ClientID:  m.ClientID,
		BaseTopic: m.BaseTopic,
	}, a.logger)
}

func (a *app) users() []bridge.User {
	users := make([]bridge.User, 0, len(a.cfg.Users))
	for _, u := range a.cfg.Users {
		users = append(users, bridge.User{
			Name:    u.Name,
			Account: u.Account,
			Slot:    u.Slot,
			Cloud:   u.CloudEnabled(),
			Broker:  u.BrokerEnabled(),
		})
	}
	return users
}

// buildBridge wires a bridge over the given ledger. pub may be nil.
func (a *app) buildBridge(l bridge.Ledger, pub *sink.MQTTPublisher, progress bridge.ProgressCallback) (*bridge.Bridge, error) {
	source, err := a.buildSource()
	if err != nil {
		return nil, err
	}
	cfg := bridge.Config{
		Users:  a.users(),
		Source: source,
		Ledger: l,
		Retry: bridge.RetryPolicy{
			Attempts:  a.cfg.Retry.Attempts,
			BaseDelay: a.cfg.Retry.BaseDelay,
			MaxDelay:  a.cfg.Retry.MaxDelay,
		},
		Progress: progress,
	}
	if up := a.buildUploader(); up != nil {
		cfg.Uploader = up
	}
	// a nil *MQTTPublisher must not become a non-nil interface
	if pub != nil {
		cfg.Publisher = pub
		cfg.BaseTopic = a.cfg.MQTT.BaseTopic
	}
	return bridge.New(cfg, a.logger)
}

// withInterrupt returns a context cancelled on Ctrl+C or SIGTERM.
func withInterrupt(parent context.Context, what string) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintf(os.Stderr, "\nInterrupted, cancelling %s...\n", what)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
