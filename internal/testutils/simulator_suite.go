//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bpbridge/internal/protocol"
	"github.com/srg/bpbridge/internal/record"
)

// OmronSimulatorSuite provides a fresh simulated monitor per test.
//
// Basic usage:
//
//	type SessionSuite struct {
//	    testutils.OmronSimulatorSuite
//	}
//
//	func (s *SessionSuite) TestRead() {
//	    s.StoreReadings(1, testutils.Readings("2026-03-01T08:00:00", 3, 1)...)
//	    ...
//	}
//
// Set Layout before SetupTest runs to simulate another model.
type OmronSimulatorSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Layout      *protocol.Layout
	Sim         *OmronSimulator
	TestTimeout time.Duration
}

// SetupSuite is called once before all tests in the suite.
func (s *OmronSimulatorSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 10 * time.Second
	if s.Layout == nil {
		s.Layout = protocol.HEM7361T
	}
	s.Logger.Debug("Suite setup completed")
}

// SetupTest creates an empty simulated device before each test.
func (s *OmronSimulatorSuite) SetupTest() {
	s.Sim = NewOmronSimulator(s.Layout)
	s.Logger.WithField("model", s.Layout.ID).Debug("Simulator ready")
}

// StoreReadings appends readings to the ring of slot and marks them unread,
// the way the device does after each measurement.
func (s *OmronSimulatorSuite) StoreReadings(slot int, readings ...record.Measurement) {
	info := s.Sim.Ring(slot)
	next, unread := info.NextSlot, info.Unread
	capacity := s.Layout.RecordsPerUser[slot-1]
	for _, m := range readings {
		s.Require().NoError(s.Sim.Store(slot, next, m), "MUST store reading %s", m)
		next = (next + 1) % capacity
		unread = min(unread+1, capacity)
	}
	s.Sim.SetRing(slot, next, unread)
}
