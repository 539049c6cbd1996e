package sink

import (
	"errors"
	"fmt"
)

// DeliveryKind tells whether retrying a failed delivery can help.
type DeliveryKind string

const (
	Transient DeliveryKind = "transient"
	Permanent DeliveryKind = "permanent"
)

// DeliveryError is a failed delivery to a sink.
type DeliveryError struct {
	Sink string
	Kind DeliveryKind
	Msg  string
	Err  error
}

func (e *DeliveryError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	return fmt.Sprintf("%s delivery failed (%s): %s", e.Sink, e.Kind, msg)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is matches DeliveryErrors of the same kind, or any kind when the target
// kind is empty.
func (e *DeliveryError) Is(target error) bool {
	t, ok := target.(*DeliveryError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// Predefined sentinel errors for delivery kinds
var (
	ErrDelivery  = &DeliveryError{}
	ErrTransient = &DeliveryError{Kind: Transient}
	ErrPermanent = &DeliveryError{Kind: Permanent}
)

// IsPermanent reports whether err is a delivery failure retries cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

func transient(sink string, err error, format string, args ...any) *DeliveryError {
	return &DeliveryError{Sink: sink, Kind: Transient, Msg: fmt.Sprintf(format, args...), Err: err}
}

func permanent(sink string, err error, format string, args ...any) *DeliveryError {
	return &DeliveryError{Sink: sink, Kind: Permanent, Msg: fmt.Sprintf(format, args...), Err: err}
}
