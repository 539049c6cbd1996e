package testutils

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bpbridge/internal/record"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// Reading builds a valid measurement taken at the given naive time.
func Reading(ts string, sys, dia, pulse, slot int) record.Measurement {
	t, err := record.ParseDeviceTime(ts)
	if err != nil {
		panic(fmt.Sprintf("bad reading timestamp %q: %v", ts, err))
	}
	return record.Measurement{
		Timestamp: t,
		Systolic:  sys,
		Diastolic: dia,
		Pulse:     pulse,
		Slot:      slot,
		Model:     "HEM-7361T",
	}
}

// Readings builds n readings for slot one minute apart, starting at start.
func Readings(start string, n, slot int) []record.Measurement {
	first := Reading(start, 120, 80, 60, slot)
	out := make([]record.Measurement, n)
	for i := range out {
		m := first
		m.Timestamp = first.Timestamp.Add(time.Duration(i) * time.Minute)
		m.Systolic = 120 + i%30
		m.Pulse = 60 + i%20
		out[i] = m
	}
	return out
}
