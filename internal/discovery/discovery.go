// Package discovery finds OMRON monitors advertising nearby, so their
// address can be put into the configuration.
package discovery

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/bpbridge/internal/device"
	"github.com/srg/bpbridge/internal/protocol"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Options configures a scan.
type Options struct {
	Duration time.Duration
	// All lists every advertising device, not only OMRON monitors
	All bool
}

// Found is a device seen during a scan.
type Found struct {
	Address  string    `json:"address"`
	Name     string    `json:"name"`
	RSSI     int       `json:"rssi"`
	Omron    bool      `json:"omron"`
	LastSeen time.Time `json:"last_seen"`
}

// entry is the live record of one address. Later advertisements update it
// in place.
type entry struct {
	mu sync.Mutex
	f  Found
}

func newEntry(adv device.Advertisement, omron bool) *entry {
	return &entry{f: Found{
		Address:  adv.Address,
		Name:     adv.Name,
		RSSI:     adv.RSSI,
		Omron:    omron,
		LastSeen: adv.SeenAt,
	}}
}

func (e *entry) update(adv device.Advertisement, omron bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if adv.SeenAt.Before(e.f.LastSeen) {
		return
	}
	e.f.RSSI, e.f.LastSeen = adv.RSSI, adv.SeenAt
	if adv.Name != "" {
		e.f.Name = adv.Name
	}
	e.f.Omron = e.f.Omron || omron
}

func (e *entry) snapshot() Found {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.f
}

// Discoverer runs scans on a device.Scanner.
type Discoverer struct {
	scanner device.Scanner
	logger  *logrus.Logger
}

func New(scanner device.Scanner, logger *logrus.Logger) *Discoverer {
	return &Discoverer{scanner: scanner, logger: logger}
}

// IsOmron tells monitors apart by advertised name or by the OMRON
// measurement service.
func IsOmron(adv device.Advertisement) bool {
	name := strings.ToUpper(adv.Name)
	if strings.Contains(name, "BLESMART") || strings.Contains(name, "OMRON") || strings.Contains(name, "HEM-") {
		return true
	}
	return slices.Contains(adv.Services, device.NormalizeUUID(protocol.ServiceUUID))
}

// Scan listens for opts.Duration and returns the devices seen, strongest
// signal first. Cancelling ctx ends the scan early with what was found.
func (d *Discoverer) Scan(ctx context.Context, opts Options, progress ProgressCallback) ([]Found, error) {
	if opts.Duration <= 0 {
		opts.Duration = 10 * time.Second
	}
	if progress == nil {
		progress = func(string) {}
	}

	// handler runs on the BLE stack's goroutines
	devices := hashmap.New[string, *entry]()
	handler := func(adv device.Advertisement) {
		omron := IsOmron(adv)
		e, existing := devices.Get(adv.Address)
		if !existing {
			if !opts.All && !omron {
				return
			}
			e, existing = devices.GetOrInsert(adv.Address, newEntry(adv, omron))
		}
		if existing {
			e.update(adv, omron)
			return
		}
		d.logger.WithFields(logrus.Fields{
			"address": adv.Address,
			"name":    adv.Name,
			"rssi":    adv.RSSI,
		}).Info("Discovered device")
	}

	d.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progress("Scanning")

	scanCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()
	if err := d.scanner.Scan(scanCtx, true, handler); err != nil {
		progress("Failed")
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	progress("Processing results")
	found := make([]Found, 0, devices.Len())
	devices.Range(func(_ string, e *entry) bool {
		found = append(found, e.snapshot())
		return true
	})
	slices.SortFunc(found, func(a, b Found) int {
		if a.RSSI != b.RSSI {
			return b.RSSI - a.RSSI
		}
		return strings.Compare(a.Address, b.Address)
	})

	d.logger.WithField("device_count", len(found)).Info("BLE scan completed")
	progress("Done")
	return found, nil
}
