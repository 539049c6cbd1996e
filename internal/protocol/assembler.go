package protocol

import (
	"fmt"

	"github.com/smallnest/ringbuffer"
)

// ChunkSize is the payload size of a single TX/RX characteristic.
const ChunkSize = 16

// SplitChunks cuts an encoded frame into per-channel chunks.
// Chunk i is written to TX channel i.
func SplitChunks(frame []byte) ([][]byte, error) {
	n := chunksFor(len(frame))
	if n > ChannelCount {
		return nil, fmt.Errorf("frame of %d bytes needs %d channels, only %d available", len(frame), n, ChannelCount)
	}
	chunks := make([][]byte, 0, n)
	for len(frame) > 0 {
		end := min(ChunkSize, len(frame))
		chunks = append(chunks, frame[:end])
		frame = frame[end:]
	}
	return chunks, nil
}

func chunksFor(size int) int {
	return (size + ChunkSize - 1) / ChunkSize
}

// Assembler rebuilds frames from RX channel notifications.
//
// The first byte on channel 0 declares the frame length, which fixes how
// many channels carry the frame. Once all of them arrived the chunks are
// stitched in channel order and the frame is returned. An Assembler is not
// safe for concurrent use.
type Assembler struct {
	chunks [ChannelCount][]byte
	buf    *ringbuffer.RingBuffer
}

func NewAssembler() *Assembler {
	return &Assembler{buf: ringbuffer.New(ChannelCount * ChunkSize)}
}

// Push records a chunk received on channel. It returns the complete frame
// once every required channel is present, or nil while more are pending.
// A chunk on an already filled channel replaces the previous one.
func (a *Assembler) Push(channel int, chunk []byte) ([]byte, error) {
	if channel < 0 || channel >= ChannelCount {
		return nil, fmt.Errorf("invalid rx channel %d", channel)
	}
	if len(chunk) > ChunkSize {
		return nil, decodeErrorf(Malformed, "chunk of %d bytes on channel %d", len(chunk), channel)
	}
	a.chunks[channel] = append([]byte(nil), chunk...)

	head := a.chunks[0]
	if len(head) == 0 {
		return nil, nil
	}

	size := int(head[0])
	required := chunksFor(size)
	if required == 0 || required > ChannelCount {
		a.Reset()
		return nil, decodeErrorf(Malformed, "declared length %d", size)
	}
	for i := 0; i < required; i++ {
		if a.chunks[i] == nil {
			return nil, nil
		}
	}

	a.buf.Reset()
	for i := 0; i < required; i++ {
		if _, err := a.buf.Write(a.chunks[i]); err != nil {
			a.Reset()
			return nil, fmt.Errorf("stitch channel %d: %w", i, err)
		}
	}

	available := a.buf.Length()
	a.clearChunks()
	if available < size {
		a.buf.Reset()
		return nil, decodeErrorf(Truncated, "have %d of %d bytes", available, size)
	}

	frame := make([]byte, size)
	if _, err := a.buf.Read(frame); err != nil {
		a.buf.Reset()
		return nil, fmt.Errorf("read stitched frame: %w", err)
	}
	a.buf.Reset()
	return frame, nil
}

// Reset drops any partially received frame.
func (a *Assembler) Reset() {
	a.clearChunks()
	a.buf.Reset()
}

func (a *Assembler) clearChunks() {
	for i := range a.chunks {
		a.chunks[i] = nil
	}
}
