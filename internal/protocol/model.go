package protocol

import (
	"sort"
	"strings"
)

// Region is a half-open byte range [Start, End) inside the settings block.
type Region struct {
	Start, End int
}

func (r Region) Size() int { return r.End - r.Start }

// RecordFields locates every record field. Year and systolic are stored
// with an offset that is added after extraction.
type RecordFields struct {
	Year, Month, Day, Hour, Minute, Second BitRange
	Systolic, Diastolic, Pulse             BitRange
	IrregularHeartbeat, BodyMovement       BitRange

	YearBase       int
	SystolicOffset int
}

// Layout is the capability set of one supported device model: record
// geometry, field positions and EEPROM map. Supported models form a closed
// set; a new model is a new Layout value plus reference fixtures.
type Layout struct {
	ID      string
	Aliases []string

	Endianness Endianness
	RecordSize int
	BlockSize  int

	// per user slot, index 0 is slot 1
	UserStartAddresses []uint16
	RecordsPerUser     []int

	SettingsReadAddress  uint16
	SettingsWriteAddress uint16
	UnreadRegion         Region
	// TimeSyncRegion is nil when the model does not support setting its clock
	TimeSyncRegion *Region

	Fields RecordFields
}

// Slots returns how many user slots the model stores.
func (l *Layout) Slots() int { return len(l.UserStartAddresses) }

// SupportsTimeSync reports whether the device clock can be written.
func (l *Layout) SupportsTimeSync() bool { return l.TimeSyncRegion != nil }

// HEM7361T is the M7 Intelli IT layout.
var HEM7361T = &Layout{
	ID:                   "HEM-7361T",
	Aliases:              []string{"HEM-7361T-D"},
	Endianness:           LittleEndian,
	RecordSize:           0x10,
	BlockSize:            0x10,
	UserStartAddresses:   []uint16{0x0098, 0x06D8},
	RecordsPerUser:       []int{100, 100},
	SettingsReadAddress:  0x0010,
	SettingsWriteAddress: 0x0054,
	UnreadRegion:         Region{0x00, 0x10},
	TimeSyncRegion:       &Region{0x2C, 0x3C},
	Fields: RecordFields{
		Minute:             BitRange{68, 73},
		Second:             BitRange{74, 79},
		BodyMovement:       Bit(80),
		IrregularHeartbeat: Bit(81),
		Month:              BitRange{82, 85},
		Day:                BitRange{86, 90},
		Hour:               BitRange{91, 95},
		Year:               BitRange{98, 103},
		Pulse:              BitRange{104, 111},
		Diastolic:          BitRange{112, 119},
		Systolic:           BitRange{120, 127},
		YearBase:           2000,
		SystolicOffset:     25,
	},
}

// HEM7322T is the M500 IT / M6 Comfort IT layout. Its clock cannot be set
// through the settings block.
var HEM7322T = &Layout{
	ID:                   "HEM-7322T",
	Endianness:           BigEndian,
	RecordSize:           0x0E,
	BlockSize:            0x10,
	UserStartAddresses:   []uint16{0x02AC, 0x0824},
	RecordsPerUser:       []int{100, 100},
	SettingsReadAddress:  0x0260,
	SettingsWriteAddress: 0x0286,
	UnreadRegion:         Region{0x00, 0x08},
	Fields: RecordFields{
		Diastolic:          BitRange{0, 7},
		Systolic:           BitRange{8, 15},
		Year:               BitRange{16, 23},
		Pulse:              BitRange{24, 31},
		BodyMovement:       Bit(32),
		IrregularHeartbeat: Bit(33),
		Month:              BitRange{34, 37},
		Day:                BitRange{38, 42},
		Hour:               BitRange{43, 47},
		Minute:             BitRange{52, 57},
		Second:             BitRange{58, 63},
		YearBase:           2000,
		SystolicOffset:     25,
	},
}

var layouts = []*Layout{HEM7361T, HEM7322T}

// LookupModel selects the layout for a model identifier (case-insensitive,
// aliases accepted). Unknown models fail with UnsupportedModelError.
func LookupModel(model string) (*Layout, error) {
	id := strings.ToUpper(strings.TrimSpace(model))
	for _, l := range layouts {
		if l.ID == id {
			return l, nil
		}
		for _, alias := range l.Aliases {
			if alias == id {
				return l, nil
			}
		}
	}
	return nil, &UnsupportedModelError{Model: model}
}

// SupportedModels lists every accepted model identifier, aliases included.
func SupportedModels() []string {
	var ids []string
	for _, l := range layouts {
		ids = append(ids, l.ID)
		ids = append(ids, l.Aliases...)
	}
	sort.Strings(ids)
	return ids
}

func supportedList() string {
	return strings.Join(SupportedModels(), ", ")
}
