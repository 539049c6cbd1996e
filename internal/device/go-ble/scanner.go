package goble

import (
	"context"
	"errors"
	"time"

	"github.com/go-ble/ble"

	"github.com/srg/bpbridge/internal/device"
)

// Scanner is a device.Scanner on the host's default BLE adapter.
type Scanner struct {
	dev ble.Device
}

var _ device.Scanner = (*Scanner)(nil)

// NewScanner opens the platform BLE device for scanning.
func NewScanner() (*Scanner, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, device.NormalizeError(err)
	}
	return &Scanner{dev: dev}, nil
}

func (s *Scanner) Scan(ctx context.Context, allowDuplicates bool, handler func(device.Advertisement)) error {
	err := s.dev.Scan(ctx, allowDuplicates, func(adv ble.Advertisement) {
		handler(advertisement(adv, time.Now()))
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return device.NormalizeError(err)
	}
	return nil
}

func advertisement(adv ble.Advertisement, at time.Time) device.Advertisement {
	services := make([]string, 0, len(adv.Services()))
	for _, u := range adv.Services() {
		services = append(services, u.String())
	}
	return device.Advertisement{
		Address:          adv.Addr().String(),
		Name:             adv.LocalName(),
		RSSI:             adv.RSSI(),
		Connectable:      adv.Connectable(),
		Services:         device.NormalizeUUIDs(services),
		ManufacturerData: append([]byte(nil), adv.ManufacturerData()...),
		SeenAt:           at,
	}
}
