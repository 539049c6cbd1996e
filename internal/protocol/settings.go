package protocol

import (
	"fmt"
	"time"
)

// unreadResetValue marks "no unread records" in the unread counter words
const unreadResetValue = 0x8000

// UnreadInfo is the ring-buffer state of one user slot.
type UnreadInfo struct {
	// NextSlot is the ring index the device writes its next record to
	NextSlot int
	Unread   int
}

// ReadSpan is one contiguous EEPROM read.
type ReadSpan struct {
	Address uint16
	Size    int
}

// ParseUnread extracts the ring state of slot (1-based) from the unread
// region of the settings block.
func (l *Layout) ParseUnread(region []byte, slot int) (UnreadInfo, error) {
	if err := l.checkSlot(slot); err != nil {
		return UnreadInfo{}, err
	}
	u := slot - 1
	if len(region) < 2*u+6 {
		return UnreadInfo{}, decodeErrorf(Truncated, "unread region has %d bytes", len(region))
	}
	low := BitRange{8, 15}
	return UnreadInfo{
		NextSlot: extractBits(region[2*u:2*u+2], l.Endianness, low),
		Unread:   extractBits(region[2*u+4:2*u+6], l.Endianness, low),
	}, nil
}

// FullReadPlan reads every stored record of slot, oldest first. The ring
// is rotated so reading starts at nextSlot, the oldest entry once wrapped.
func (l *Layout) FullReadPlan(slot, nextSlot int) ([]ReadSpan, error) {
	if err := l.checkSlot(slot); err != nil {
		return nil, err
	}
	start := int(l.UserStartAddresses[slot-1])
	capacity := l.RecordsPerUser[slot-1]
	if nextSlot < 0 || nextSlot >= capacity {
		nextSlot = 0
	}
	return compact([]ReadSpan{
		{Address: uint16(start + nextSlot*l.RecordSize), Size: (capacity - nextSlot) * l.RecordSize},
		{Address: uint16(start), Size: nextSlot * l.RecordSize},
	}), nil
}

// UnreadReadPlan reads only the unread records of slot, oldest first. When
// the unread run wraps past the end of the ring the tail chunk comes first.
func (l *Layout) UnreadReadPlan(slot int, info UnreadInfo) ([]ReadSpan, error) {
	if err := l.checkSlot(slot); err != nil {
		return nil, err
	}
	start := int(l.UserStartAddresses[slot-1])
	capacity := l.RecordsPerUser[slot-1]
	unread := min(info.Unread, capacity)
	next := info.NextSlot
	if next < 0 || next >= capacity {
		return nil, decodeErrorf(Malformed, "slot %d ring position %d outside capacity %d", slot, next, capacity)
	}

	if next < unread {
		return compact([]ReadSpan{
			{Address: uint16(start + (capacity+next-unread)*l.RecordSize), Size: (unread - next) * l.RecordSize},
			{Address: uint16(start), Size: next * l.RecordSize},
		}), nil
	}
	return compact([]ReadSpan{
		{Address: uint16(start + (next-unread)*l.RecordSize), Size: unread * l.RecordSize},
	}), nil
}

// ResetUnread returns the unread region with both unread counters cleared.
func (l *Layout) ResetUnread(region []byte) ([]byte, error) {
	if len(region) < 8 {
		return nil, decodeErrorf(Truncated, "unread region has %d bytes", len(region))
	}
	reset := putUint16(unreadResetValue, l.Endianness)
	out := make([]byte, 0, len(region))
	out = append(out, region[:4]...)
	out = append(out, reset...)
	out = append(out, reset...)
	return append(out, region[8:]...), nil
}

// TimeSyncBytes returns the time-sync region rewritten with now.
func (l *Layout) TimeSyncBytes(region []byte, now time.Time) ([]byte, error) {
	if !l.SupportsTimeSync() {
		return nil, fmt.Errorf("time sync for %s: %w", l.ID, ErrUnsupported)
	}
	if len(region) < 8 {
		return nil, decodeErrorf(Truncated, "time sync region has %d bytes", len(region))
	}
	year := now.Year() - l.Fields.YearBase
	if year < 0 || year > 0xFF {
		return nil, fmt.Errorf("year %d cannot be stored", now.Year())
	}

	out := make([]byte, 0, l.TimeSyncRegion.Size())
	out = append(out, region[:8]...)
	out = append(out,
		byte(year), byte(now.Month()), byte(now.Day()),
		byte(now.Hour()), byte(now.Minute()), byte(now.Second()))
	var sum byte
	for _, b := range out {
		sum += b
	}
	return append(out, sum, 0x00), nil
}

func (l *Layout) checkSlot(slot int) error {
	if slot < 1 || slot > l.Slots() {
		return fmt.Errorf("%s has no user slot %d", l.ID, slot)
	}
	return nil
}

func compact(spans []ReadSpan) []ReadSpan {
	out := spans[:0]
	for _, s := range spans {
		if s.Size > 0 {
			out = append(out, s)
		}
	}
	return out
}

// Blocks splits a span into read commands of at most blockSize bytes.
func (s ReadSpan) Blocks(blockSize int) []Command {
	var cmds []Command
	addr, remaining := int(s.Address), s.Size
	for remaining > 0 {
		n := min(remaining, blockSize)
		cmds = append(cmds, ReadCommand(uint16(addr), byte(n)))
		addr += n
		remaining -= n
	}
	return cmds
}
