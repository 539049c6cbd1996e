package bridge

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/srg/bpbridge/internal/device"
	"github.com/srg/bpbridge/internal/protocol"
	"github.com/srg/bpbridge/internal/session"
)

// Source produces the records of one device session.
type Source interface {
	Read(ctx context.Context, slots []int, dryRun bool) (*session.Result, error)
}

// DeviceSource reads a monitor over a BLE transport. Every Read runs a fresh
// session on the same transport.
type DeviceSource struct {
	Transport device.Transport
	Layout    *protocol.Layout
	Options   session.Options
	Logger    *logrus.Logger
}

func (d *DeviceSource) Read(ctx context.Context, slots []int, dryRun bool) (*session.Result, error) {
	opts := d.Options
	opts.Slots = slots
	opts.DryRun = opts.DryRun || dryRun

	s, err := session.New(d.Transport, d.Layout, opts, d.Logger)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx)
}
