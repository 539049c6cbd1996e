package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bpbridge/internal/device"
	"github.com/srg/bpbridge/internal/groutine"
	"github.com/srg/bpbridge/internal/ringchan"
)

const (
	// DefaultNotificationBuffer is the capacity of the per-connection notification queue
	DefaultNotificationBuffer = 256

	// DefaultConnectTimeout is used when ConnectOptions carries no timeout
	DefaultConnectTimeout = 30 * time.Second
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Transport is a device.Transport on top of go-ble.
type Transport struct {
	logger *logrus.Logger

	connMutex  sync.RWMutex
	writeMutex sync.Mutex
	client     ble.Client
	chars      map[string]*ble.Characteristic
	subscribed map[string]bool
	queue      *ringchan.RingChannel[device.Notification]

	ctx    context.Context
	cancel context.CancelCauseFunc
}

var _ device.Transport = (*Transport)(nil)

// NewTransport creates a disconnected transport.
func NewTransport(logger *logrus.Logger) *Transport {
	return &Transport{
		logger: logger,
		ctx:    context.Background(),
	}
}

// Connect dials the peripheral and discovers its GATT profile.
func (t *Transport) Connect(ctx context.Context, address string, opts *device.ConnectOptions) error {
	t.connMutex.Lock()
	defer t.connMutex.Unlock()

	if strings.TrimSpace(address) == "" {
		return fmt.Errorf("device address is empty")
	}
	if t.client != nil {
		t.logger.WithField("address", address).Warn("Connection attempt while already connected")
		return device.ErrAlreadyConnected
	}
	if opts == nil {
		opts = &device.ConnectOptions{}
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	t.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("failed to create BLE device: %w", device.NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		if ctx.Err() == nil && errors.Is(connCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("no connection to %q within %s: %w", address, timeout, device.ErrTimeout)
		}
		return fmt.Errorf("failed to connect to device with address %q: %w", address, device.NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", device.NormalizeError(err))
	}

	wantService := device.NormalizeUUID(opts.Service)
	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		if wantService != "" && device.NormalizeUUID(svc.UUID.String()) != wantService {
			continue
		}
		for _, c := range svc.Characteristics {
			chars[device.NormalizeUUID(c.UUID.String())] = c
		}
	}
	if wantService != "" && len(chars) == 0 {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection")
		}
		return &device.NotFoundError{Resource: "service", UUIDs: []string{opts.Service}}
	}

	t.client = client
	t.chars = chars
	t.subscribed = make(map[string]bool)
	t.queue = ringchan.New[device.Notification](DefaultNotificationBuffer)
	t.ctx, t.cancel = context.WithCancelCause(context.Background())

	queue, linkCtx, linkCancel := t.queue, t.ctx, t.cancel
	groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
		select {
		case <-client.Disconnected():
			t.logger.Warn("Peripheral reported disconnection")
			linkCancel(device.ErrNotConnected)
			queue.Close()
		case <-linkCtx.Done():
		}
	})

	t.logger.WithFields(logrus.Fields{
		"address":         address,
		"characteristics": len(chars),
	}).Info("BLE device connected successfully")
	return nil
}

// Subscribe enables notifications on the given characteristics. Every call
// returns the same per-connection stream.
func (t *Transport) Subscribe(_ context.Context, characteristics ...string) (<-chan device.Notification, error) {
	t.connMutex.Lock()
	defer t.connMutex.Unlock()

	if t.client == nil {
		return nil, device.ErrNotConnected
	}

	queue := t.queue
	for _, raw := range characteristics {
		uuid := device.NormalizeUUID(raw)
		if t.subscribed[uuid] {
			continue
		}
		c, ok := t.chars[uuid]
		if !ok {
			return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{raw}}
		}
		indicate := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
		err := device.NormalizeError(t.client.Subscribe(c, indicate, func(data []byte) {
			queue.Send(device.Notification{
				Characteristic: uuid,
				Data:           append([]byte(nil), data...),
			})
		}))
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", raw, err)
		}
		t.subscribed[uuid] = true
		t.logger.WithField("char_uuid", uuid).Debug("Subscribed to characteristic")
	}
	return queue.C(), nil
}

// Write sends data to a characteristic with response.
func (t *Transport) Write(ctx context.Context, characteristic string, data []byte) error {
	t.connMutex.RLock()
	client := t.client
	c, ok := t.chars[device.NormalizeUUID(characteristic)]
	connCtx := t.ctx
	t.connMutex.RUnlock()

	if client == nil {
		return device.ErrNotConnected
	}
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{characteristic}}
	}
	if connCtx.Err() != nil {
		return context.Cause(connCtx)
	}

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	done := make(chan error, 1)
	groutine.Go(ctx, "ble-write", func(context.Context) {
		done <- device.NormalizeError(client.WriteCharacteristic(c, data, false))
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-connCtx.Done():
		return context.Cause(connCtx)
	}
}

// Disconnect tears the link down. It is safe to call when not connected.
func (t *Transport) Disconnect() error {
	t.connMutex.Lock()
	client, queue, cancel := t.client, t.queue, t.cancel
	t.client, t.chars, t.subscribed, t.cancel = nil, nil, nil, nil
	t.connMutex.Unlock()

	if client == nil {
		t.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	t.logger.Info("Disconnecting BLE device...")
	if cancel != nil {
		cancel(nil)
	}
	if err := client.ClearSubscriptions(); err != nil {
		t.logger.WithField("error", err).Debug("Failed to clear subscriptions during disconnect")
	}
	err := client.CancelConnection()
	queue.Close()
	if dropped := queue.Dropped(); dropped > 0 {
		t.logger.WithField("dropped", dropped).Warn("Notifications overwritten before they were read")
	}

	if err != nil {
		t.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return device.NormalizeError(err)
	}
	t.logger.Info("BLE device disconnected successfully")
	return nil
}

// IsConnected reports whether the link is up.
func (t *Transport) IsConnected() bool {
	t.connMutex.RLock()
	defer t.connMutex.RUnlock()
	return t.client != nil && t.ctx.Err() == nil
}
