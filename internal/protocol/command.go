package protocol

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// CommandKind identifies an outbound session command
type CommandKind int

const (
	CommandStart CommandKind = iota
	CommandRead
	CommandWrite
	CommandEnd
)

func (k CommandKind) String() string {
	switch k {
	case CommandStart:
		return "start"
	case CommandRead:
		return "read"
	case CommandWrite:
		return "write"
	case CommandEnd:
		return "end"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// startCount is the fixed count byte of the start-transmission request
const startCount = 0x10

// Command is an outbound request to the device.
type Command struct {
	Kind    CommandKind
	Address uint16
	Size    byte   // read size for CommandRead
	Data    []byte // payload for CommandWrite
}

func StartCommand() Command { return Command{Kind: CommandStart} }
func EndCommand() Command   { return Command{Kind: CommandEnd} }

func ReadCommand(address uint16, size byte) Command {
	return Command{Kind: CommandRead, Address: address, Size: size}
}

func WriteCommand(address uint16, data []byte) Command {
	return Command{Kind: CommandWrite, Address: address, Data: data}
}

// EncodeCommand renders c as a frame. It is deterministic and performs no I/O.
func EncodeCommand(c Command) ([]byte, error) {
	switch c.Kind {
	case CommandStart:
		return encode(TypeStart, 0, startCount, nil), nil
	case CommandRead:
		if c.Size == 0 {
			return nil, fmt.Errorf("read of zero bytes at 0x%04x", c.Address)
		}
		return encode(TypeRead, c.Address, c.Size, nil), nil
	case CommandWrite:
		if len(c.Data) == 0 {
			return nil, fmt.Errorf("write of zero bytes at 0x%04x", c.Address)
		}
		return EncodeFrame(TypeWrite, c.Address, c.Data)
	case CommandEnd:
		return encode(TypeEnd, 0, 0, nil), nil
	default:
		return nil, fmt.Errorf("unknown command %s", c.Kind)
	}
}

// ExpectedResponse returns the response type the device answers c with.
func (c Command) ExpectedResponse() MessageType {
	switch c.Kind {
	case CommandStart:
		return TypeStartAck
	case CommandRead:
		return TypeReadAck
	case CommandWrite:
		return TypeWriteAck
	default:
		return TypeEndAck
	}
}

// CheckResponse validates that msg answers c: matching type and, for EEPROM
// access, matching address. End responses with a non-zero status fail.
func (c Command) CheckResponse(msg Message) error {
	if want := c.ExpectedResponse(); msg.Type != want {
		return fmt.Errorf("%s: expected %s response, got %s", c.Kind, want, msg.Type)
	}
	switch c.Kind {
	case CommandRead, CommandWrite:
		if msg.Address != c.Address {
			return fmt.Errorf("%s: response address 0x%04x does not match 0x%04x", c.Kind, msg.Address, c.Address)
		}
	case CommandEnd:
		if status := msg.Status(); status != 0 {
			return fmt.Errorf("end: device reported error code %d", status)
		}
	}
	return nil
}

// Unlock channel messages

const KeySize = 16

// DefaultPairingKey is programmed by the pair command unless overridden.
var DefaultPairingKey = mustKey("deadbeaf12341234deadbeaf12341234")

var (
	unlockAck     = []byte{0x81, 0x00}
	pairingAck    = []byte{0x82, 0x00}
	programKeyAck = []byte{0x80, 0x00}
)

// ParseKey decodes a 32-character hex pairing key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid pairing key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("pairing key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

func mustKey(s string) []byte {
	key, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return key
}

// UnlockRequest authenticates the session with a previously programmed key.
func UnlockRequest(key []byte) []byte {
	return append([]byte{0x01}, key...)
}

// EnterPairingRequest switches a device showing "P" into key programming mode.
func EnterPairingRequest() []byte {
	return append([]byte{0x02}, make([]byte, KeySize)...)
}

// ProgramKeyRequest stores a new pairing key.
func ProgramKeyRequest(key []byte) []byte {
	return append([]byte{0x00}, key...)
}

func IsUnlockAck(b []byte) bool     { return bytes.HasPrefix(b, unlockAck) }
func IsPairingAck(b []byte) bool    { return bytes.HasPrefix(b, pairingAck) }
func IsProgramKeyAck(b []byte) bool { return bytes.HasPrefix(b, programKeyAck) }
