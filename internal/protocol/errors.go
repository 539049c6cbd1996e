package protocol

import (
	"errors"
	"fmt"
)

// DecodeErrorKind classifies frame and record decoding failures
type DecodeErrorKind string

const (
	Malformed   DecodeErrorKind = "malformed"
	UnknownType DecodeErrorKind = "unknown_type"
	Truncated   DecodeErrorKind = "truncated"
)

// DecodeError is returned for any input the codec cannot interpret.
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return "decode: " + string(e.Kind)
	}
	return fmt.Sprintf("decode: %s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare DecodeError values by Kind
func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for decode kinds
var (
	ErrMalformed   = &DecodeError{Kind: Malformed}
	ErrUnknownType = &DecodeError{Kind: UnknownType}
	ErrTruncated   = &DecodeError{Kind: Truncated}
)

func decodeErrorf(kind DecodeErrorKind, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedModelError is returned when no layout exists for a device model.
type UnsupportedModelError struct {
	Model string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("unsupported device model %q (supported: %s)", e.Model, supportedList())
}

// Is matches any UnsupportedModelError
func (e *UnsupportedModelError) Is(target error) bool {
	_, ok := target.(*UnsupportedModelError)
	return ok
}

// ErrUnsupportedModel is the sentinel for errors.Is checks
var ErrUnsupportedModel = &UnsupportedModelError{}

// ErrEmptyRecord marks an unused ring-buffer slot (all bytes 0xFF).
var ErrEmptyRecord = errors.New("empty record slot")

// ErrUnsupported is returned for operations a model layout does not provide
var ErrUnsupported = errors.New("unsupported by device model")
