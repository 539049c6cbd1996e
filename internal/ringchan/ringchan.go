// Package ringchan provides a bounded channel with overwrite-oldest semantics.
package ringchan

import "sync"

// RingChannel is a bounded channel-like buffer whose producers never block:
// when the buffer is full the oldest element is discarded.
//
// Readers treat C() as a normal <-chan T and observe Close as channel close.
// Unlike a bare channel, Send after Close is a no-op, so producers running on
// foreign goroutines (BLE callbacks) need no coordination with the closer.
type RingChannel[T any] struct {
	mu      sync.Mutex
	ch      chan T
	closed  bool
	dropped uint64
}

// New creates a RingChannel with the given capacity.
func New[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts an item, discarding the oldest one if the buffer is full.
// Reports false if the channel is already closed.
func (rc *RingChannel[T]) Send(v T) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return false
	}
	for {
		select {
		case rc.ch <- v:
			return true
		default:
		}
		select {
		case <-rc.ch:
			rc.dropped++
		default:
		}
	}
}

// Dropped returns how many items were overwritten so far.
func (rc *RingChannel[T]) Dropped() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.dropped
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Close closes the underlying channel. It is safe to call more than once.
func (rc *RingChannel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		return
	}
	rc.closed = true
	close(rc.ch)
}
