//go:build test

package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/bpbridge/internal/device"
	"github.com/srg/bpbridge/internal/protocol"
	"github.com/srg/bpbridge/internal/record"
	"github.com/srg/bpbridge/internal/ringchan"
)

const simulatorEEPROMSize = 0x2000

// OmronSimulator is a device.Transport that behaves like an OMRON monitor:
// it reassembles command frames written to the TX channels, serves them from
// an in-memory EEPROM image and answers on the RX channels.
//
// Exported fields inject faults and must be set before the session starts.
type OmronSimulator struct {
	mu sync.Mutex

	layout    *protocol.Layout
	key       []byte
	eeprom    []byte
	connected bool
	stream    *ringchan.RingChannel[device.Notification]
	tx        [protocol.ChannelCount][]byte
	armed     bool // key programming mode entered
	reads     int

	ConnectErr error
	// UnlockReply replaces the reply to unlock requests
	UnlockReply []byte
	// StartReply replaces the response type to start-transmission
	StartReply protocol.MessageType
	EndStatus  byte
	// DropResponses silently swallows that many upcoming responses
	DropResponses int
	// DropLinkAfterReads drops the link instead of answering read number N+1
	DropLinkAfterReads int
	// PairingMode makes the device accept key programming
	PairingMode bool
	// ReverseChannels delivers multi-channel responses last channel first
	ReverseChannels bool
	// EchoRequests reflects every command frame back before answering it
	EchoRequests bool

	Connects    int
	Disconnects int
	Commands    []protocol.Message
	Addresses   []string
}

var _ device.Transport = (*OmronSimulator)(nil)

// NewOmronSimulator creates a simulated device with empty rings and the
// default pairing key.
func NewOmronSimulator(layout *protocol.Layout) *OmronSimulator {
	eeprom := make([]byte, simulatorEEPROMSize)
	for slot := 1; slot <= layout.Slots(); slot++ {
		start := int(layout.UserStartAddresses[slot-1])
		end := start + layout.RecordsPerUser[slot-1]*layout.RecordSize
		for i := start; i < end; i++ {
			eeprom[i] = 0xFF
		}
	}
	return &OmronSimulator{
		layout: layout,
		key:    append([]byte(nil), protocol.DefaultPairingKey...),
		eeprom: eeprom,
	}
}

// Store writes m into ring position index of slot.
func (s *OmronSimulator) Store(slot, index int, m record.Measurement) error {
	m.Slot = slot
	raw, err := protocol.EncodeRecord(s.layout, m)
	if err != nil {
		return err
	}
	return s.StoreRaw(slot, index, raw)
}

// StoreRaw writes raw record bytes into ring position index of slot.
func (s *OmronSimulator) StoreRaw(slot, index int, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot < 1 || slot > s.layout.Slots() || index < 0 || index >= s.layout.RecordsPerUser[slot-1] {
		return fmt.Errorf("no ring position %d in slot %d", index, slot)
	}
	addr := int(s.layout.UserStartAddresses[slot-1]) + index*s.layout.RecordSize
	copy(s.eeprom[addr:addr+s.layout.RecordSize], raw)
	return nil
}

// SetRing sets the ring write position and unread counter of slot.
func (s *OmronSimulator) SetRing(slot, next, unread int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := int(s.layout.SettingsReadAddress) + s.layout.UnreadRegion.Start
	u := slot - 1
	s.putCounter(base+2*u, next)
	s.putCounter(base+2*u+4, unread)
}

func (s *OmronSimulator) putCounter(addr, v int) {
	if s.layout.Endianness == protocol.LittleEndian {
		s.eeprom[addr], s.eeprom[addr+1] = byte(v), 0
		return
	}
	s.eeprom[addr], s.eeprom[addr+1] = 0, byte(v)
}

// Ring returns the ring state the device currently reports for slot.
func (s *OmronSimulator) Ring(slot int) protocol.UnreadInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.layout.ParseUnread(s.settingsRegion(s.layout.UnreadRegion), slot)
	if err != nil {
		panic(err)
	}
	return info
}

// UnreadRegion returns a copy of the unread counter region.
func (s *OmronSimulator) UnreadRegion() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.settingsRegion(s.layout.UnreadRegion)...)
}

// ClockRegion returns a copy of the time-sync region, nil if unsupported.
func (s *OmronSimulator) ClockRegion() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layout.TimeSyncRegion == nil {
		return nil
	}
	return append([]byte(nil), s.settingsRegion(*s.layout.TimeSyncRegion)...)
}

// Key returns the pairing key the device currently accepts.
func (s *OmronSimulator) Key() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.key...)
}

// Writes returns the write commands received so far.
func (s *OmronSimulator) Writes() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Message
	for _, c := range s.Commands {
		if c.Type == protocol.TypeWrite {
			out = append(out, c)
		}
	}
	return out
}

// DropLink makes the device vanish, as when it powers down mid-session.
func (s *OmronSimulator) DropLink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked()
}

func (s *OmronSimulator) settingsRegion(r protocol.Region) []byte {
	base := int(s.layout.SettingsReadAddress)
	return s.eeprom[base+r.Start : base+r.End]
}

// ----------------------------
// device.Transport
// ----------------------------

func (s *OmronSimulator) Connect(_ context.Context, address string, _ *device.ConnectOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Addresses = append(s.Addresses, address)
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	if s.connected {
		return device.ErrAlreadyConnected
	}
	s.connected = true
	s.stream = ringchan.New[device.Notification](64)
	s.tx = [protocol.ChannelCount][]byte{}
	s.Connects++
	return nil
}

func (s *OmronSimulator) Subscribe(_ context.Context, _ ...string) (<-chan device.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, device.ErrNotConnected
	}
	return s.stream.C(), nil
}

func (s *OmronSimulator) Write(_ context.Context, characteristic string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return device.ErrNotConnected
	}

	uuid := device.NormalizeUUID(characteristic)
	if uuid == device.NormalizeUUID(protocol.UnlockUUID) {
		s.handleUnlock(data)
		return nil
	}

	channel := protocol.TXChannel(uuid)
	if channel < 0 {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{characteristic}}
	}
	s.tx[channel] = append([]byte(nil), data...)
	if len(s.tx[0]) == 0 {
		return nil
	}
	size := int(s.tx[0][0])
	var frame []byte
	for i := 0; i < (size+protocol.ChunkSize-1)/protocol.ChunkSize; i++ {
		if s.tx[i] == nil {
			return nil
		}
		frame = append(frame, s.tx[i]...)
	}
	s.tx = [protocol.ChannelCount][]byte{}
	s.handleFrame(frame)
	return nil
}

func (s *OmronSimulator) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		s.Disconnects++
	}
	s.dropLocked()
	return nil
}

func (s *OmronSimulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *OmronSimulator) dropLocked() {
	if !s.connected {
		return
	}
	s.connected = false
	s.stream.Close()
}

// ----------------------------
// Device behaviour
// ----------------------------

func (s *OmronSimulator) handleUnlock(data []byte) {
	if len(data) == 0 {
		return
	}
	var reply []byte
	switch data[0] {
	case 0x01:
		reply = []byte{0x81, 0x01}
		if string(data[1:]) == string(s.key) {
			reply = []byte{0x81, 0x00}
		}
		if s.UnlockReply != nil {
			reply = s.UnlockReply
		}
	case 0x02:
		reply = []byte{0x82, 0x01}
		if s.PairingMode {
			s.armed = true
			reply = []byte{0x82, 0x00}
		}
	case 0x00:
		reply = []byte{0x80, 0x01}
		if s.armed && len(data) == 1+protocol.KeySize {
			s.key = append([]byte(nil), data[1:]...)
			s.armed = false
			reply = []byte{0x80, 0x00}
		}
	default:
		return
	}
	s.stream.Send(device.Notification{
		Characteristic: device.NormalizeUUID(protocol.UnlockUUID),
		Data:           reply,
	})
}

func (s *OmronSimulator) handleFrame(frame []byte) {
	msg, err := protocol.DecodeFrame(frame)
	if err != nil {
		return // a real device ignores garbage
	}
	s.Commands = append(s.Commands, msg)
	if s.EchoRequests {
		s.respond(frame)
	}

	var response []byte
	switch msg.Type {
	case protocol.TypeStart:
		t := protocol.TypeStartAck
		if s.StartReply != 0 {
			t = s.StartReply
		}
		response, _ = protocol.EncodeFrame(t, 0, nil)

	case protocol.TypeRead:
		if s.DropLinkAfterReads > 0 && s.reads >= s.DropLinkAfterReads {
			s.dropLocked()
			return
		}
		s.reads++
		addr, n := int(msg.Address), int(msg.Count)
		response, _ = protocol.EncodeFrame(protocol.TypeReadAck, msg.Address, s.eeprom[addr:addr+n])

	case protocol.TypeWrite:
		s.applyWrite(int(msg.Address), msg.Data)
		response, _ = protocol.EncodeFrame(protocol.TypeWriteAck, msg.Address, nil)

	case protocol.TypeEnd:
		response, _ = protocol.EncodeFrame(protocol.TypeEndAck, 0, []byte{s.EndStatus})

	default:
		return
	}

	if s.DropResponses > 0 {
		s.DropResponses--
		return
	}
	s.respond(response)
}

// applyWrite stores data; writes to the settings write window show up in
// the settings read window as they do on the device.
func (s *OmronSimulator) applyWrite(addr int, data []byte) {
	copy(s.eeprom[addr:], data)
	write, read := int(s.layout.SettingsWriteAddress), int(s.layout.SettingsReadAddress)
	if size := write - read; addr >= write && addr < write+size {
		copy(s.eeprom[read+addr-write:], data)
	}
}

func (s *OmronSimulator) respond(frame []byte) {
	chunks, err := protocol.SplitChunks(frame)
	if err != nil {
		return
	}
	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
		if s.ReverseChannels {
			order[i] = len(chunks) - 1 - i
		}
	}
	for _, i := range order {
		s.stream.Send(device.Notification{
			Characteristic: device.NormalizeUUID(protocol.RXChannelUUIDs[i]),
			Data:           chunks[i],
		})
	}
}
