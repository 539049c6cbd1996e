package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/srg/bpbridge/internal/protocol"
)

// Pair programs newKey into a device in pairing mode (blinking "P"), then
// runs an empty start/end transmission to complete the bond. settle is the
// pause after connecting that some hosts need before the unlock channel
// accepts writes.
//
// Pair uses the session's address, timeouts and transport but not its state
// machine; the session cannot Run afterwards.
func (s *Session) Pair(ctx context.Context, newKey []byte, settle time.Duration) (err error) {
	if len(newKey) != protocol.KeySize {
		return fmt.Errorf("pairing key must be %d bytes, got %d", protocol.KeySize, len(newKey))
	}

	defer func() {
		if dErr := s.transport.Disconnect(); dErr != nil {
			s.logger.WithField("error", dErr).Warn("Disconnect after pairing reported an error")
		}
	}()

	if err := s.connect(ctx); err != nil {
		return err
	}

	if settle > 0 {
		s.logger.WithField("delay", settle).Info("Waiting for the connection to settle...")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settle):
		}
	}

	reply, err := s.unlockExchange(ctx, protocol.EnterPairingRequest())
	if err != nil {
		return pairingHint(err)
	}
	if !protocol.IsPairingAck(reply) {
		return &ProtocolMismatchError{Step: "pairing", Detail: fmt.Sprintf("device refused key programming (reply %x); is it showing P?", reply)}
	}

	reply, err = s.unlockExchange(ctx, protocol.ProgramKeyRequest(newKey))
	if err != nil {
		return err
	}
	if !protocol.IsProgramKeyAck(reply) {
		return &ProtocolMismatchError{Step: "pairing", Detail: fmt.Sprintf("key not accepted (reply %x)", reply)}
	}
	s.logger.WithField("key", fmt.Sprintf("%x", newKey)).Info("Pairing key programmed")

	if _, err := s.exchange(ctx, protocol.StartCommand()); err != nil {
		return err
	}
	if _, err := s.exchange(ctx, protocol.EndCommand()); err != nil {
		return err
	}
	s.logger.Info("Pairing completed")
	return nil
}

func pairingHint(err error) error {
	var mismatch *ProtocolMismatchError
	if errors.As(err, &mismatch) {
		return &ProtocolMismatchError{Step: "pairing", Detail: mismatch.Detail + "; hold the Bluetooth button until P blinks"}
	}
	return err
}
