package session

import (
	"fmt"

	"github.com/srg/bpbridge/internal/record"
)

// SlotRecords holds what was read from one user slot, oldest first.
type SlotRecords struct {
	Slot    int
	Records []record.Measurement
}

// DecodeFailure is a stored record that could not be decoded.
type DecodeFailure struct {
	Slot  int
	Index int // record position within the slot's read
	Raw   []byte
	Err   error
}

func (f DecodeFailure) Error() string {
	return fmt.Sprintf("slot %d record %d: %v", f.Slot, f.Index, f.Err)
}

// Result is the output of one session.
type Result struct {
	Model string
	Slots []SlotRecords

	DecodeFailures []DecodeFailure

	// Partial is set when the link dropped mid-enumeration; Slots holds
	// everything read before that and LinkErr the cause.
	Partial bool
	LinkErr error

	// DrainErr is a failed end-of-data acknowledgement or settings write.
	// The records are complete regardless.
	DrainErr error
}

// Records returns every record ordered by slot, oldest first within a slot.
func (r *Result) Records() []record.Measurement {
	var out []record.Measurement
	for _, s := range r.Slots {
		out = append(out, s.Records...)
	}
	return out
}

// ForSlot returns the records of one slot.
func (r *Result) ForSlot(slot int) []record.Measurement {
	for _, s := range r.Slots {
		if s.Slot == slot {
			return s.Records
		}
	}
	return nil
}
