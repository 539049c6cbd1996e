package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bpbridge/internal/device"
	"github.com/srg/bpbridge/internal/protocol"
	"github.com/srg/bpbridge/internal/record"
)

// ReadMode selects which stored records a session reads.
type ReadMode string

const (
	// ReadAll reads every slot's full ring
	ReadAll ReadMode = "all"
	// ReadNewOnly reads the records the device counts as unread and clears
	// the counters afterwards
	ReadNewOnly ReadMode = "new_only"
)

const (
	DefaultResponseTimeout  = time.Second
	DefaultMaxAttempts      = 5
	DefaultHandshakeTimeout = 5 * time.Second
)

// Options configures a session.
type Options struct {
	Address        string
	ConnectTimeout time.Duration
	PairingKey     []byte
	ReadMode       ReadMode
	SyncTime       bool
	// DryRun leaves the device untouched: no counter reset, no time sync
	DryRun bool
	// Slots to enumerate, in order. Empty means every slot of the model.
	Slots []int

	ResponseTimeout  time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration

	// OnState observes every transition, e.g. for progress output
	OnState func(State)
	Now     func() time.Time
}

func (o *Options) applyDefaults(l *protocol.Layout) {
	if o.PairingKey == nil {
		o.PairingKey = protocol.DefaultPairingKey
	}
	if o.ReadMode == "" {
		o.ReadMode = ReadAll
	}
	if len(o.Slots) == 0 {
		for slot := 1; slot <= l.Slots(); slot++ {
			o.Slots = append(o.Slots, slot)
		}
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Session drives one BLE connection from connect to disconnect. A Session
// is single use and not safe for concurrent use.
type Session struct {
	transport device.Transport
	layout    *protocol.Layout
	opts      Options
	logger    *logrus.Logger

	state    State
	stream   <-chan device.Notification
	asm      *protocol.Assembler
	settings []byte // cached unread region
	result   *Result
}

// New creates a session for the given model layout.
func New(transport device.Transport, layout *protocol.Layout, opts Options, logger *logrus.Logger) (*Session, error) {
	if layout == nil {
		return nil, &protocol.UnsupportedModelError{}
	}
	opts.applyDefaults(layout)
	for _, slot := range opts.Slots {
		if slot < 1 || slot > layout.Slots() {
			return nil, fmt.Errorf("%s has no user slot %d", layout.ID, slot)
		}
	}
	if len(opts.PairingKey) != protocol.KeySize {
		return nil, fmt.Errorf("pairing key must be %d bytes, got %d", protocol.KeySize, len(opts.PairingKey))
	}
	return &Session{
		transport: transport,
		layout:    layout,
		opts:      opts,
		logger:    logger,
		asm:       protocol.NewAssembler(),
	}, nil
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Run executes the whole session.
//
// A connect timeout, handshake failure or cancellation returns an error and
// no records. A link lost while enumerating returns the records read so far
// with Result.Partial set and a nil error. The link is released on every path.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.result = &Result{Model: s.layout.ID}
	s.state = State{Phase: Disconnected}

	defer func() {
		if s.transport.IsConnected() {
			if err := s.transport.Disconnect(); err != nil {
				s.logger.WithField("error", err).Warn("Failed to release BLE link")
			}
		}
	}()

	ev := Event{Kind: EventStart, Slots: s.opts.Slots}
	for {
		next, effects := Transition(s.state, ev)
		s.logger.WithFields(logrus.Fields{
			"from":  s.state.String(),
			"event": ev.Kind.String(),
			"to":    next.String(),
		}).Debug("Session transition")
		s.state = next
		if s.opts.OnState != nil {
			s.opts.OnState(next)
		}
		if len(effects) == 0 {
			break
		}
		for _, eff := range effects {
			ev = s.perform(ctx, eff)
		}
	}

	if s.state.Phase == Error {
		if s.result.Partial {
			return s.result, nil
		}
		return nil, s.state.Err
	}
	if s.state.Err != nil {
		s.result.DrainErr = s.state.Err
		s.logger.WithField("error", s.state.Err).Warn("Session ended without a clean end-of-data acknowledgement")
	}
	return s.result, nil
}

func (s *Session) perform(ctx context.Context, eff Effect) Event {
	if eff.Kind != EffectDisconnect && ctx.Err() != nil {
		return Event{Kind: EventAbort, Err: ctx.Err()}
	}

	switch eff.Kind {
	case EffectConnect:
		if err := s.connect(ctx); err != nil {
			return failure(ctx, err)
		}
		return Event{Kind: EventConnected}

	case EffectHandshake:
		if err := s.handshake(ctx); err != nil {
			return failure(ctx, err)
		}
		return Event{Kind: EventHandshakeDone}

	case EffectEnumerate:
		if err := s.enumerate(ctx, eff.Slot); err != nil {
			ev := failure(ctx, err)
			if ev.Kind == EventLinkLost && len(s.result.Slots) > 0 {
				s.result.Partial = true
				s.result.LinkErr = err
				s.logger.WithFields(logrus.Fields{
					"slot":  eff.Slot,
					"error": err,
				}).Warn("Link lost while reading records, keeping partial result")
			}
			return ev
		}
		return Event{Kind: EventSlotDone}

	case EffectDrain:
		if err := s.drain(ctx); err != nil {
			return failure(ctx, err)
		}
		return Event{Kind: EventDrained}

	case EffectDisconnect:
		if err := s.transport.Disconnect(); err != nil {
			s.logger.WithField("error", err).Warn("Disconnect reported an error")
		}
		return Event{Kind: EventDisconnected}
	}
	return Event{Kind: EventFailed, Err: fmt.Errorf("unknown effect %s", eff.Kind)}
}

// failure classifies err into the event the state machine understands.
func failure(ctx context.Context, err error) Event {
	switch {
	case ctx.Err() != nil:
		return Event{Kind: EventAbort, Err: ctx.Err()}
	case errors.Is(err, ErrLinkLost):
		return Event{Kind: EventLinkLost, Err: err}
	default:
		return Event{Kind: EventFailed, Err: err}
	}
}

func (s *Session) connect(ctx context.Context) error {
	err := s.transport.Connect(ctx, s.opts.Address, &device.ConnectOptions{
		ConnectTimeout: s.opts.ConnectTimeout,
		Service:        protocol.ServiceUUID,
	})
	if err != nil {
		if errors.Is(err, device.ErrTimeout) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
			return &ConnectTimeoutError{Address: s.opts.Address, Timeout: s.opts.ConnectTimeout}
		}
		return err
	}

	chars := append([]string{protocol.UnlockUUID}, protocol.RXChannelUUIDs[:]...)
	stream, err := s.transport.Subscribe(ctx, chars...)
	if err != nil {
		return fmt.Errorf("failed to subscribe to device channels: %w", err)
	}
	s.stream = stream
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	reply, err := s.unlockExchange(ctx, protocol.UnlockRequest(s.opts.PairingKey))
	if err != nil {
		return err
	}
	if !protocol.IsUnlockAck(reply) {
		return &ProtocolMismatchError{Step: "unlock", Detail: fmt.Sprintf("pairing key rejected (reply %x)", reply)}
	}

	if _, err := s.exchange(ctx, protocol.StartCommand()); err != nil {
		return err
	}
	s.logger.Info("Device unlocked, transmission started")
	return nil
}

// loadSettings reads the unread-counter region once per session. It is the
// record-count query behind both read modes.
func (s *Session) loadSettings(ctx context.Context) ([]byte, error) {
	if s.settings != nil {
		return s.settings, nil
	}
	region := s.layout.UnreadRegion
	data, err := s.readSpan(ctx, protocol.ReadSpan{
		Address: s.layout.SettingsReadAddress + uint16(region.Start),
		Size:    region.Size(),
	})
	if err != nil {
		return nil, err
	}
	s.settings = data
	return data, nil
}

func (s *Session) enumerate(ctx context.Context, slot int) error {
	log := s.logger.WithField("slot", slot)

	settings, err := s.loadSettings(ctx)
	if err != nil {
		return err
	}

	plan, err := s.readPlan(settings, slot)
	if err != nil {
		// a garbled counter loses this slot, not the session
		log.WithField("error", err).Warn("Cannot plan slot read, skipping slot")
		s.result.DecodeFailures = append(s.result.DecodeFailures, DecodeFailure{Slot: slot, Index: -1, Err: err})
		s.result.Slots = append(s.result.Slots, SlotRecords{Slot: slot})
		return nil
	}

	var data []byte
	for _, span := range plan {
		chunk, err := s.readSpan(ctx, span)
		data = append(data, chunk...)
		if err != nil {
			s.collect(slot, data)
			return err
		}
	}
	s.collect(slot, data)
	return nil
}

func (s *Session) readPlan(settings []byte, slot int) ([]protocol.ReadSpan, error) {
	info, err := s.layout.ParseUnread(settings, slot)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"slot":      slot,
		"next_slot": info.NextSlot,
		"unread":    info.Unread,
		"mode":      s.opts.ReadMode,
	}).Info("Slot ring state")

	if s.opts.ReadMode == ReadNewOnly {
		return s.layout.UnreadReadPlan(slot, info)
	}
	return s.layout.FullReadPlan(slot, info.NextSlot)
}

// collect decodes the raw bytes read for a slot. Whole records only; a
// trailing fragment from an interrupted read is dropped.
func (s *Session) collect(slot int, data []byte) {
	size := s.layout.RecordSize
	var records []record.Measurement
	for i := 0; (i+1)*size <= len(data); i++ {
		raw := data[i*size : (i+1)*size]
		m, err := protocol.ParseRecord(s.layout, raw, slot)
		switch {
		case errors.Is(err, protocol.ErrEmptyRecord):
			continue
		case err != nil:
			s.logger.WithFields(logrus.Fields{
				"slot":  slot,
				"index": i,
				"raw":   fmt.Sprintf("%x", raw),
				"error": err,
			}).Warn("Skipping undecodable record")
			s.result.DecodeFailures = append(s.result.DecodeFailures, DecodeFailure{
				Slot: slot, Index: i, Raw: slices.Clone(raw), Err: err,
			})
			continue
		}
		records = append(records, m)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	s.result.Slots = append(s.result.Slots, SlotRecords{Slot: slot, Records: records})
	s.logger.WithFields(logrus.Fields{
		"slot":    slot,
		"records": len(records),
	}).Info("Slot read")
}

// drain updates the settings block where requested and acknowledges
// end-of-data.
func (s *Session) drain(ctx context.Context) error {
	if !s.opts.DryRun {
		if err := s.resetUnread(ctx); err != nil {
			return err
		}
		if err := s.syncTime(ctx); err != nil {
			return err
		}
	}
	_, err := s.exchange(ctx, protocol.EndCommand())
	return err
}

func (s *Session) resetUnread(ctx context.Context) error {
	if s.opts.ReadMode != ReadNewOnly || s.settings == nil {
		return nil
	}
	// counters are shared by both slots; clearing them after reading a
	// subset would hide the other slot's unread records
	if len(s.opts.Slots) != s.layout.Slots() {
		s.logger.Info("Not every slot was read, leaving unread counters untouched")
		return nil
	}
	reset, err := s.layout.ResetUnread(s.settings)
	if err != nil {
		return err
	}
	addr := s.layout.SettingsWriteAddress + uint16(s.layout.UnreadRegion.Start)
	if _, err := s.exchange(ctx, protocol.WriteCommand(addr, reset)); err != nil {
		return fmt.Errorf("failed to reset unread counters: %w", err)
	}
	s.logger.Info("Unread counters reset")
	return nil
}

func (s *Session) syncTime(ctx context.Context) error {
	if !s.opts.SyncTime {
		return nil
	}
	if !s.layout.SupportsTimeSync() {
		s.logger.WithField("model", s.layout.ID).Info("Model does not support time sync, skipping")
		return nil
	}
	region := s.layout.TimeSyncRegion
	current, err := s.readSpan(ctx, protocol.ReadSpan{
		Address: s.layout.SettingsReadAddress + uint16(region.Start),
		Size:    region.Size(),
	})
	if err != nil {
		return err
	}
	now := s.opts.Now()
	update, err := s.layout.TimeSyncBytes(current, now)
	if err != nil {
		return err
	}
	addr := s.layout.SettingsWriteAddress + uint16(region.Start)
	if _, err := s.exchange(ctx, protocol.WriteCommand(addr, update)); err != nil {
		return fmt.Errorf("failed to sync device time: %w", err)
	}
	s.logger.WithField("time", now.Format(time.RFC3339)).Info("Device time synced")
	return nil
}
