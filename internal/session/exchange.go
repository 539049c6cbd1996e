package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bpbridge/internal/device"
	"github.com/srg/bpbridge/internal/protocol"
)

// readSpan reads a contiguous EEPROM span block by block. On failure it
// returns what was read so far together with the error.
func (s *Session) readSpan(ctx context.Context, span protocol.ReadSpan) ([]byte, error) {
	data := make([]byte, 0, span.Size)
	for _, cmd := range span.Blocks(s.layout.BlockSize) {
		msg, err := s.exchange(ctx, cmd)
		if err != nil {
			return data, err
		}
		data = append(data, msg.Data...)
	}
	return data, nil
}

// exchange sends cmd and waits for its response, retransmitting when none
// arrives within the response timeout.
func (s *Session) exchange(ctx context.Context, cmd protocol.Command) (protocol.Message, error) {
	frame, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return protocol.Message{}, err
	}
	chunks, err := protocol.SplitChunks(frame)
	if err != nil {
		return protocol.Message{}, err
	}

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		s.asm.Reset()
		for i, chunk := range chunks {
			if err := s.transport.Write(ctx, protocol.TXChannelUUIDs[i], chunk); err != nil {
				if ctx.Err() != nil {
					return protocol.Message{}, ctx.Err()
				}
				return protocol.Message{}, fmt.Errorf("%w: write %s: %v", ErrLinkLost, cmd.Kind, err)
			}
		}

		msg, err := s.awaitResponse(ctx, cmd)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, errResponseTimeout) {
			return protocol.Message{}, err
		}
		s.logger.WithFields(logrus.Fields{
			"command": cmd.Kind.String(),
			"address": fmt.Sprintf("0x%04x", cmd.Address),
			"attempt": attempt,
		}).Warn("No response from device, retransmitting")
	}
	return protocol.Message{}, fmt.Errorf("%w: no response to %s after %d attempts", ErrLinkLost, cmd.Kind, s.opts.MaxAttempts)
}

// awaitResponse consumes notifications until a frame answering cmd arrives.
// Corrupt frames and stale answers to earlier retransmissions are dropped.
func (s *Session) awaitResponse(ctx context.Context, cmd protocol.Command) (protocol.Message, error) {
	timer := time.NewTimer(s.opts.ResponseTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return protocol.Message{}, ctx.Err()
		case <-timer.C:
			return protocol.Message{}, errResponseTimeout
		case n, ok := <-s.stream:
			if !ok {
				return protocol.Message{}, fmt.Errorf("%w: notification stream closed", ErrLinkLost)
			}
			channel := protocol.RXChannel(n.Characteristic)
			if channel < 0 {
				continue
			}
			raw, err := s.asm.Push(channel, n.Data)
			if err != nil {
				s.logger.WithField("error", err).Debug("Dropping unusable chunk")
				s.asm.Reset()
				continue
			}
			if raw == nil {
				continue
			}
			msg, err := protocol.DecodeFrame(raw)
			if err != nil {
				s.logger.WithFields(logrus.Fields{
					"frame": fmt.Sprintf("%x", raw),
					"error": err,
				}).Warn("Dropping corrupt frame")
				continue
			}
			if !msg.Type.IsResponse() {
				s.logger.WithField("type", msg.Type).Debug("Ignoring echoed request")
				continue
			}
			if err := cmd.CheckResponse(msg); err != nil {
				if msg.Type == cmd.ExpectedResponse() && cmd.Kind == protocol.CommandEnd {
					return protocol.Message{}, err
				}
				if cmd.Kind == protocol.CommandStart {
					return protocol.Message{}, &ProtocolMismatchError{Step: "start", Detail: err.Error()}
				}
				s.logger.WithField("reason", err).Debug("Ignoring stale response")
				continue
			}
			return msg, nil
		}
	}
}

// unlockExchange writes req to the unlock characteristic and returns the
// device's reply. The unlock channel has no framing and no retransmission.
func (s *Session) unlockExchange(ctx context.Context, req []byte) ([]byte, error) {
	if err := s.transport.Write(ctx, protocol.UnlockUUID, req); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: unlock write: %v", ErrLinkLost, err)
	}
	return awaitUnlock(ctx, s.stream, s.opts.HandshakeTimeout)
}

func awaitUnlock(ctx context.Context, stream <-chan device.Notification, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	want := device.NormalizeUUID(protocol.UnlockUUID)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, &ProtocolMismatchError{Step: "unlock", Detail: fmt.Sprintf("no reply within %s", timeout)}
		case n, ok := <-stream:
			if !ok {
				return nil, fmt.Errorf("%w: notification stream closed", ErrLinkLost)
			}
			if device.NormalizeUUID(n.Characteristic) == want {
				return n.Data, nil
			}
		}
	}
}
