package protocol

import (
	"bytes"
	"fmt"
)

// Frame layout, all multi-byte fields big endian:
//
//	[0]    total length L (including this byte and the checksum)
//	[1:3]  message type
//	[3:5]  EEPROM address
//	[5]    data byte count n
//	[6:6+n] data
//	[L-2]  0x00
//	[L-1]  XOR checksum; XOR over all L bytes is zero
const (
	frameHeaderSize  = 6
	frameTrailerSize = 2
	minFrameSize     = frameHeaderSize + frameTrailerSize
	maxFrameSize     = 0xFF
)

// MessageType is the two-byte type word of a frame.
type MessageType uint16

const (
	// host → device
	TypeStart MessageType = 0x0000
	TypeRead  MessageType = 0x0100
	TypeWrite MessageType = 0x01c0
	TypeEnd   MessageType = 0x0f00

	// device → host
	TypeStartAck MessageType = 0x8000
	TypeReadAck  MessageType = 0x8100
	TypeWriteAck MessageType = 0x81c0
	TypeEndAck   MessageType = 0x8f00
)

var knownTypes = map[MessageType]string{
	TypeStart:    "start",
	TypeRead:     "read",
	TypeWrite:    "write",
	TypeEnd:      "end",
	TypeStartAck: "start_ack",
	TypeReadAck:  "read_ack",
	TypeWriteAck: "write_ack",
	TypeEndAck:   "end_ack",
}

func (t MessageType) String() string {
	if name, ok := knownTypes[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%04x", uint16(t))
}

// IsResponse reports whether the type is sent by the device.
func (t MessageType) IsResponse() bool {
	return t&0x8000 != 0
}

// countIsSize reports whether the count byte of t is a size rather than the
// length of data carried: a read request asks for Count bytes and the start
// request sends its session parameter there.
func countIsSize(t MessageType) bool {
	return t == TypeStart || t == TypeRead
}

// Message is a decoded protocol frame.
type Message struct {
	Type    MessageType
	Address uint16
	// Count is the raw data count byte. For read requests it is the requested size.
	Count byte
	Data  []byte
}

// Status returns the device status byte of an end-of-transmission response.
func (m Message) Status() byte {
	if len(m.Data) == 0 {
		return 0
	}
	return m.Data[0]
}

// DecodeFrame parses one complete frame. Bytes past the declared length are
// ignored (notification chunks are padded). It never panics.
func DecodeFrame(b []byte) (Message, error) {
	if len(b) == 0 {
		return Message{}, decodeErrorf(Truncated, "empty frame")
	}

	size := int(b[0])
	if size < minFrameSize {
		return Message{}, decodeErrorf(Malformed, "declared length %d below minimum %d", size, minFrameSize)
	}
	if len(b) < size {
		return Message{}, decodeErrorf(Truncated, "have %d of %d bytes", len(b), size)
	}

	frame := b[:size]
	if sum := checksum(frame); sum != 0 {
		return Message{}, decodeErrorf(Malformed, "checksum mismatch (xor=0x%02x)", sum)
	}

	msgType := MessageType(uint16(frame[1])<<8 | uint16(frame[2]))
	if _, ok := knownTypes[msgType]; !ok {
		return Message{}, decodeErrorf(UnknownType, "type %s", msgType)
	}

	msg := Message{
		Type:    msgType,
		Address: uint16(frame[3])<<8 | uint16(frame[4]),
		Count:   frame[5],
	}

	n := int(frame[5])
	available := size - minFrameSize
	switch {
	case msgType == TypeEndAck:
		// status byte sits where data starts, whatever the count says
		msg.Data = []byte{frame[frameHeaderSize]}
	case msgType == TypeReadAck && n > available:
		// read responses advertising more than they carry denote an
		// unreadable region; the device reports it as erased memory
		msg.Data = bytes.Repeat([]byte{0xFF}, n)
	case countIsSize(msgType):
		if available != 0 {
			return Message{}, decodeErrorf(Malformed, "%s carries %d unexpected data bytes", msgType, available)
		}
	case n != available:
		return Message{}, decodeErrorf(Malformed, "%s declares %d data bytes but carries %d", msgType, n, available)
	default:
		msg.Data = append([]byte(nil), frame[frameHeaderSize:frameHeaderSize+n]...)
	}

	return msg, nil
}

// EncodeFrame builds a frame with the given type, address and data.
// The count byte equals len(data).
func EncodeFrame(t MessageType, address uint16, data []byte) ([]byte, error) {
	if len(data) > maxFrameSize-minFrameSize {
		return nil, fmt.Errorf("frame data too large: %d bytes", len(data))
	}
	return encode(t, address, byte(len(data)), data), nil
}

func encode(t MessageType, address uint16, count byte, data []byte) []byte {
	size := len(data) + minFrameSize
	buf := make([]byte, 0, size)
	buf = append(buf, byte(size), byte(t>>8), byte(t), byte(address>>8), byte(address), count)
	buf = append(buf, data...)
	buf = append(buf, 0x00)
	return append(buf, checksum(buf))
}

func checksum(b []byte) byte {
	var x byte
	for _, c := range b {
		x ^= c
	}
	return x
}
