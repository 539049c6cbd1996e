package record

import (
	"errors"
	"fmt"
	"time"
)

// TimestampLayout is the naive (zone-less) layout used for the device clock.
// Device timestamps carry no timezone, so they are formatted without one.
const TimestampLayout = "2006-01-02T15:04:05"

// DeviceTime returns a device wall-clock reading as a time.Time. The values
// are kept in UTC, which has no DST gaps, so every stored reading keeps its
// fields and its Identity.
func DeviceTime(year int, month time.Month, day, hour, minute, second int) time.Time {
	return time.Date(year, month, day, hour, minute, second, 0, time.UTC)
}

// ParseDeviceTime parses a TimestampLayout value as a device wall-clock reading.
func ParseDeviceTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}

// Slots supported by the device
const (
	MinSlot = 1
	MaxSlot = 2
)

// ErrInvalidMeasurement is returned by Validate for readings that cannot be physical
var ErrInvalidMeasurement = errors.New("invalid measurement")

// Measurement is one blood-pressure reading as stored by the device.
type Measurement struct {
	Timestamp          time.Time
	Systolic           int
	Diastolic          int
	Pulse              int
	IrregularHeartbeat bool
	BodyMovement       bool
	Slot               int
	Model              string
}

// Validate checks systolic > diastolic > 0 and that the slot is in range.
func (m Measurement) Validate() error {
	if m.Diastolic <= 0 || m.Systolic <= m.Diastolic {
		return fmt.Errorf("%w: %d/%d mmHg", ErrInvalidMeasurement, m.Systolic, m.Diastolic)
	}
	if m.Slot < MinSlot || m.Slot > MaxSlot {
		return fmt.Errorf("%w: slot %d out of range", ErrInvalidMeasurement, m.Slot)
	}
	return nil
}

// Category returns the clinical category of the reading.
func (m Measurement) Category() Category {
	return Classify(m.Systolic, m.Diastolic)
}

// Identity returns the content-derived key used for delivery bookkeeping.
//
// Only the reading's own fields participate, so the key survives process
// restarts and device re-pairing. Two distinct readings taken in the same
// second with identical values share an identity.
func (m Measurement) Identity() Identity {
	return Identity(fmt.Sprintf("%s_%d_%d_%d_%d",
		m.Timestamp.Format(TimestampLayout), m.Systolic, m.Diastolic, m.Pulse, m.Slot))
}

func (m Measurement) String() string {
	return fmt.Sprintf("%s slot %d: %d/%d mmHg, pulse %d bpm (%s)",
		m.Timestamp.Format(TimestampLayout), m.Slot, m.Systolic, m.Diastolic, m.Pulse, m.Category())
}

// Identity is a stable, content-derived record key.
type Identity string

func (i Identity) String() string {
	return string(i)
}
