package protocol

import (
	"bytes"
	"fmt"
	"time"

	"github.com/srg/bpbridge/internal/record"
)

const maxSecond = 59

// ParseRecord decodes one stored record for the given user slot.
//
// An all-0xFF record is an unused ring slot and yields ErrEmptyRecord.
// Short input yields a Truncated DecodeError; impossible dates or pressures
// yield a Malformed one.
func ParseRecord(l *Layout, b []byte, slot int) (record.Measurement, error) {
	if l == nil {
		return record.Measurement{}, &UnsupportedModelError{}
	}
	if len(b) < l.RecordSize {
		return record.Measurement{}, decodeErrorf(Truncated, "record has %d of %d bytes", len(b), l.RecordSize)
	}
	b = b[:l.RecordSize]
	if isErased(b) {
		return record.Measurement{}, ErrEmptyRecord
	}

	f := l.Fields
	get := func(r BitRange) int { return extractBits(b, l.Endianness, r) }

	year := get(f.Year) + f.YearBase
	month := get(f.Month)
	day := get(f.Day)
	hour := get(f.Hour)
	minute := get(f.Minute)
	second := min(get(f.Second), maxSecond)

	ts := record.DeviceTime(year, time.Month(month), day, hour, minute, second)
	if month < 1 || month > 12 || ts.Day() != day || hour > 23 || minute > 59 {
		return record.Measurement{}, decodeErrorf(Malformed, "invalid timestamp %04d-%02d-%02d %02d:%02d:%02d",
			year, month, day, hour, minute, second)
	}

	m := record.Measurement{
		Timestamp:          ts,
		Systolic:           get(f.Systolic) + f.SystolicOffset,
		Diastolic:          get(f.Diastolic),
		Pulse:              get(f.Pulse),
		IrregularHeartbeat: get(f.IrregularHeartbeat) == 1,
		BodyMovement:       get(f.BodyMovement) == 1,
		Slot:               slot,
		Model:              l.ID,
	}
	if err := m.Validate(); err != nil {
		return record.Measurement{}, decodeErrorf(Malformed, "%v", err)
	}
	return m, nil
}

func isErased(b []byte) bool {
	return len(bytes.Trim(b, "\xff")) == 0
}

// EncodeRecord renders m in the layout's storage format, the inverse of
// ParseRecord. Bytes not covered by a field are zero.
func EncodeRecord(l *Layout, m record.Measurement) ([]byte, error) {
	if l == nil {
		return nil, &UnsupportedModelError{}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	f := l.Fields
	year := m.Timestamp.Year() - f.YearBase
	if year < 0 || year >= 1<<f.Year.width() {
		return nil, fmt.Errorf("year %d cannot be stored by %s", m.Timestamp.Year(), l.ID)
	}
	systolic := m.Systolic - f.SystolicOffset
	if systolic < 0 || systolic >= 1<<f.Systolic.width() {
		return nil, fmt.Errorf("systolic %d cannot be stored by %s", m.Systolic, l.ID)
	}

	b := make([]byte, l.RecordSize)
	put := func(r BitRange, v int) { insertBits(b, l.Endianness, r, v) }
	put(f.Year, year)
	put(f.Month, int(m.Timestamp.Month()))
	put(f.Day, m.Timestamp.Day())
	put(f.Hour, m.Timestamp.Hour())
	put(f.Minute, m.Timestamp.Minute())
	put(f.Second, m.Timestamp.Second())
	put(f.Systolic, systolic)
	put(f.Diastolic, m.Diastolic)
	put(f.Pulse, m.Pulse)
	put(f.IrregularHeartbeat, boolBit(m.IrregularHeartbeat))
	put(f.BodyMovement, boolBit(m.BodyMovement))
	return b, nil
}

func boolBit(v bool) int {
	if v {
		return 1
	}
	return 0
}
