package protocol

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/bpbridge/internal/record"
)

type expectedReading struct {
	ts        time.Time
	systolic  int
	diastolic int
	pulse     int
	ihb       bool
	mov       bool
}

func at(y int, mo time.Month, d, h, mi, s int) time.Time {
	return record.DeviceTime(y, mo, d, h, mi, s)
}

// Reference records per model. Each entry is the raw EEPROM record and the
// reading the device displays for it.
var referenceRecords = map[*Layout][]struct {
	raw      string
	expected expectedReading
}{
	HEM7361T: {
		{"67524319c84d5e010000000000000000", expectedReading{at(2025, 3, 14, 8, 5, 30), 128, 82, 67, true, false}},
		{"5e4f3c19d48d400b0000000000000000", expectedReading{at(2025, 3, 14, 20, 45, 0), 119, 79, 60, false, true}},
		{"a0465a18f733fb0e0000000000000000", expectedReading{at(2024, 12, 31, 23, 59, 59), 185, 70, 90, false, false}},
		{"645f481947c40c000000000000000000", expectedReading{at(2025, 1, 2, 7, 0, 12), 125, 95, 72, true, true}},
		// seconds field of 63 is clamped
		{"695546192618bf070000000000000000", expectedReading{at(2025, 6, 1, 6, 30, 59), 130, 85, 70, false, false}},
	},
	HEM7322T: {
		{"526719434dc8015e000000000000", expectedReading{at(2025, 3, 14, 8, 5, 30), 128, 82, 67, true, false}},
		{"4f5e193c8dd40b40000000000000", expectedReading{at(2025, 3, 14, 20, 45, 0), 119, 79, 60, false, true}},
		{"46a0185a33f70efb000000000000", expectedReading{at(2024, 12, 31, 23, 59, 59), 185, 70, 90, false, false}},
		{"5f641948c447000c000000000000", expectedReading{at(2025, 1, 2, 7, 0, 12), 125, 95, 72, true, true}},
	},
}

func TestParseRecord_ReferenceRecords(t *testing.T) {
	for layout, records := range referenceRecords {
		for _, ref := range records {
			t.Run(layout.ID+"/"+ref.raw, func(t *testing.T) {
				m, err := ParseRecord(layout, mustHex(t, ref.raw), 2)
				require.NoError(t, err)

				assert.True(t, ref.expected.ts.Equal(m.Timestamp), "timestamp: got %s want %s", m.Timestamp, ref.expected.ts)
				assert.Equal(t, ref.expected.systolic, m.Systolic)
				assert.Equal(t, ref.expected.diastolic, m.Diastolic)
				assert.Equal(t, ref.expected.pulse, m.Pulse)
				assert.Equal(t, ref.expected.ihb, m.IrregularHeartbeat)
				assert.Equal(t, ref.expected.mov, m.BodyMovement)
				assert.Equal(t, 2, m.Slot)
				assert.Equal(t, layout.ID, m.Model)
			})
		}
	}
}

func TestEncodeRecord_ReferenceRecords(t *testing.T) {
	for layout, records := range referenceRecords {
		for _, ref := range records {
			if layout == HEM7361T && ref.raw == "695546192618bf070000000000000000" {
				continue // clamped seconds do not round trip
			}
			m := record.Measurement{
				Timestamp:          ref.expected.ts,
				Systolic:           ref.expected.systolic,
				Diastolic:          ref.expected.diastolic,
				Pulse:              ref.expected.pulse,
				IrregularHeartbeat: ref.expected.ihb,
				BodyMovement:       ref.expected.mov,
				Slot:               1,
			}
			raw, err := EncodeRecord(layout, m)
			require.NoError(t, err)
			assert.Equal(t, ref.raw, hex.EncodeToString(raw), layout.ID)
		}
	}

	t.Run("stored layout round trips through the parser", func(t *testing.T) {
		m := record.Measurement{Timestamp: at(2026, 2, 28, 23, 1, 2), Systolic: 142, Diastolic: 91, Pulse: 58, BodyMovement: true, Slot: 2}
		for _, l := range layouts {
			raw, err := EncodeRecord(l, m)
			require.NoError(t, err)
			got, err := ParseRecord(l, raw, 2)
			require.NoError(t, err)
			m.Model = l.ID
			assert.Equal(t, m, got, l.ID)
		}
	})

	t.Run("out of range values are rejected", func(t *testing.T) {
		_, err := EncodeRecord(HEM7361T, record.Measurement{Timestamp: at(2090, 1, 1, 0, 0, 0), Systolic: 120, Diastolic: 80, Pulse: 60, Slot: 1})
		assert.Error(t, err, "year beyond 6 bits MUST fail")
		_, err = EncodeRecord(HEM7361T, record.Measurement{Timestamp: at(2025, 1, 1, 0, 0, 0), Systolic: 80, Diastolic: 120, Pulse: 60, Slot: 1})
		assert.ErrorIs(t, err, record.ErrInvalidMeasurement)
	})
}

func TestParseRecord_FromReadResponse(t *testing.T) {
	// decode the notification frame first, then the record it carries
	msg, err := DecodeFrame(mustHex(t, "18810000981067524319c84d5e01000000000000000000a4"))
	require.NoError(t, err)

	m, err := ParseRecord(HEM7361T, msg.Data, 1)
	require.NoError(t, err)
	assert.Equal(t, record.Identity("2025-03-14T08:05:30_128_82_67_1"), m.Identity())
}

// GOAL: Verify a device time that falls into a local DST gap keeps its fields and identity
//
// TEST SCENARIO: Host zone Europe/Warsaw, reading stored at 2025-03-30 02:30 (skipped locally) → parsed as 02:30, identity and payload unchanged
func TestParseRecord_DSTGap(t *testing.T) {
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Skipf("zone data unavailable: %v", err)
	}
	local := time.Local
	time.Local = warsaw
	t.Cleanup(func() { time.Local = local })

	stored := record.Measurement{Timestamp: at(2025, 3, 30, 2, 30, 0), Systolic: 120, Diastolic: 80, Pulse: 60, Slot: 1}
	for _, l := range layouts {
		raw, err := EncodeRecord(l, stored)
		require.NoError(t, err, l.ID)

		m, err := ParseRecord(l, raw, 1)
		require.NoError(t, err, l.ID)
		assert.Equal(t, 2, m.Timestamp.Hour(), "%s: device hour MUST NOT move", l.ID)
		assert.Equal(t, record.Identity("2025-03-30T02:30:00_120_80_60_1"), m.Identity(), l.ID)

		back, err := record.NewPayload(m).Measurement()
		require.NoError(t, err)
		assert.Equal(t, m.Identity(), back.Identity(), "%s: payload MUST round trip the identity", l.ID)
	}
}

func TestParseRecord_Errors(t *testing.T) {
	t.Run("erased slot", func(t *testing.T) {
		raw := make([]byte, 16)
		for i := range raw {
			raw[i] = 0xFF
		}
		_, err := ParseRecord(HEM7361T, raw, 1)
		assert.ErrorIs(t, err, ErrEmptyRecord)
	})

	t.Run("short record", func(t *testing.T) {
		_, err := ParseRecord(HEM7361T, make([]byte, 10), 1)
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("zero month", func(t *testing.T) {
		_, err := ParseRecord(HEM7361T, make([]byte, 16), 1)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("systolic not above diastolic", func(t *testing.T) {
		raw := mustHex(t, "67524319c84d5e010000000000000000")
		raw[1] = 0xF0 // diastolic 240 > systolic 128
		_, err := ParseRecord(HEM7361T, raw, 1)
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("nil layout", func(t *testing.T) {
		_, err := ParseRecord(nil, make([]byte, 16), 1)
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})
}

func TestExtractBits(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		order    Endianness
		r        BitRange
		expected int
	}{
		{"single bit set", []byte{0b10000000}, LittleEndian, Bit(0), 1},
		{"single bit unset", []byte{0b01111111}, LittleEndian, Bit(0), 0},
		{"full byte", []byte{0xAB}, LittleEndian, BitRange{0, 7}, 0xAB},
		{"upper nibble", []byte{0xF0}, BigEndian, BitRange{0, 3}, 15},
		{"lower nibble", []byte{0x0F}, BigEndian, BitRange{4, 7}, 15},
		{"little endian upper byte", []byte{0xFF, 0x00}, LittleEndian, BitRange{0, 7}, 0x00},
		{"little endian lower byte", []byte{0xFF, 0x00}, LittleEndian, BitRange{8, 15}, 0xFF},
		{"big endian lower byte", []byte{0x12, 0x34}, BigEndian, BitRange{8, 15}, 0x34},
		{"spanning bytes", []byte{0x01, 0x80}, BigEndian, BitRange{7, 8}, 3},
		{"out of range reads zero", []byte{0xFF}, BigEndian, BitRange{6, 9}, 0b1100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractBits(tt.data, tt.order, tt.r))
		})
	}
}

func TestLookupModel(t *testing.T) {
	for _, id := range []string{"HEM-7361T", "hem-7361t", " HEM-7361T-D "} {
		l, err := LookupModel(id)
		require.NoError(t, err, id)
		assert.Same(t, HEM7361T, l)
	}

	l, err := LookupModel("HEM-7322T")
	require.NoError(t, err)
	assert.Same(t, HEM7322T, l)
	assert.False(t, l.SupportsTimeSync())

	_, err = LookupModel("HEM-9999")
	require.ErrorIs(t, err, ErrUnsupportedModel)
	assert.Contains(t, err.Error(), "HEM-7361T")

	assert.Equal(t, []string{"HEM-7322T", "HEM-7361T", "HEM-7361T-D"}, SupportedModels())
}

func TestLayoutGeometry(t *testing.T) {
	for _, l := range layouts {
		t.Run(l.ID, func(t *testing.T) {
			assert.Len(t, l.RecordsPerUser, l.Slots())
			assert.LessOrEqual(t, l.UnreadRegion.End, int(l.SettingsWriteAddress-l.SettingsReadAddress))
			for _, records := range referenceRecords[l] {
				assert.Len(t, records.raw, 2*l.RecordSize, "fixture size MUST match record size")
			}
		})
	}
}
