package protocol

// Endianness is the byte order a model stores multi-byte values in
type Endianness int

const (
	BigEndian Endianness = iota
	LittleEndian
)

func (e Endianness) String() string {
	if e == LittleEndian {
		return "little"
	}
	return "big"
}

// BitRange addresses bits First..Last (inclusive) where bit 0 is the most
// significant bit of the integer formed by the whole byte slice.
type BitRange struct {
	First, Last int
}

// Bit returns a single-bit range.
func Bit(n int) BitRange { return BitRange{n, n} }

func (r BitRange) width() int { return r.Last - r.First + 1 }

// extractBits reads r from data interpreted as one integer in the given byte
// order. Ranges outside data read as zero bits.
func extractBits(data []byte, order Endianness, r BitRange) int {
	total := len(data) * 8
	value := 0
	for bit := r.First; bit <= r.Last; bit++ {
		value <<= 1
		if bit < 0 || bit >= total {
			continue
		}
		idx := bit / 8
		if order == LittleEndian {
			idx = len(data) - 1 - idx
		}
		value |= int(data[idx]>>(7-bit%8)) & 1
	}
	return value
}

// putUint16 renders v in the given byte order.
func putUint16(v uint16, order Endianness) []byte {
	if order == LittleEndian {
		return []byte{byte(v), byte(v >> 8)}
	}
	return []byte{byte(v >> 8), byte(v)}
}

// insertBits writes the low r.width() bits of value into r, the inverse of
// extractBits. Bits outside data are dropped.
func insertBits(data []byte, order Endianness, r BitRange, value int) {
	total := len(data) * 8
	for bit := r.Last; bit >= r.First; bit-- {
		v := byte(value & 1)
		value >>= 1
		if bit < 0 || bit >= total {
			continue
		}
		idx := bit / 8
		if order == LittleEndian {
			idx = len(data) - 1 - idx
		}
		mask := byte(1) << (7 - bit%8)
		data[idx] = data[idx]&^mask | v<<(7-bit%8)
	}
}
