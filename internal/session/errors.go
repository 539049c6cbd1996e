package session

import (
	"errors"
	"fmt"
	"time"
)

// ConnectTimeoutError is returned when no link came up within the deadline.
// This is the usual outcome when nobody pressed the device's Bluetooth
// button, so it is reported and never retried within a session.
type ConnectTimeoutError struct {
	Address string
	Timeout time.Duration
}

func (e *ConnectTimeoutError) Error() string {
	return fmt.Sprintf("no connection to %s within %s (press the Bluetooth button on the device)", e.Address, e.Timeout)
}

// Is matches any ConnectTimeoutError
func (e *ConnectTimeoutError) Is(target error) bool {
	_, ok := target.(*ConnectTimeoutError)
	return ok
}

// ProtocolMismatchError is returned when the device answers the handshake
// with something other than the expected response.
type ProtocolMismatchError struct {
	Step   string // "unlock", "start"
	Detail string
}

func (e *ProtocolMismatchError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("protocol mismatch during %s", e.Step)
	}
	return fmt.Sprintf("protocol mismatch during %s: %s", e.Step, e.Detail)
}

// Is matches any ProtocolMismatchError
func (e *ProtocolMismatchError) Is(target error) bool {
	_, ok := target.(*ProtocolMismatchError)
	return ok
}

var (
	ErrConnectTimeout   = &ConnectTimeoutError{}
	ErrProtocolMismatch = &ProtocolMismatchError{}

	// ErrLinkLost covers every transport-level failure after the link was up:
	// notification stream closed, a write failed, or the device stopped
	// answering after all retransmissions.
	ErrLinkLost = errors.New("link lost")

	// errResponseTimeout triggers a retransmission
	errResponseTimeout = errors.New("response timeout")
)
