package session

import (
	"fmt"
)

// Phase is the coarse session state.
type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Handshaking
	EnumeratingSlot
	Draining
	Disconnecting
	Closed
	Error
)

var phaseNames = map[Phase]string{
	Disconnected:    "disconnected",
	Connecting:      "connecting",
	Handshaking:     "handshaking",
	EnumeratingSlot: "enumerating_slot",
	Draining:        "draining",
	Disconnecting:   "disconnecting",
	Closed:          "closed",
	Error:           "error",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is a session state. Slot is set while enumerating; Err holds the
// cause once the session failed, or a non-fatal drain failure.
type State struct {
	Phase Phase
	Slot  int
	Err   error

	pending []int
}

// Terminal reports whether no further transitions happen from s.
func (s State) Terminal() bool {
	return s.Phase == Closed || s.Phase == Error
}

func (s State) String() string {
	if s.Phase == EnumeratingSlot {
		return fmt.Sprintf("%s(%d)", s.Phase, s.Slot)
	}
	return s.Phase.String()
}

// EventKind enumerates what the driver observed.
type EventKind int

const (
	EventStart EventKind = iota
	EventConnected
	EventHandshakeDone
	EventSlotDone
	EventDrained
	EventDisconnected
	// EventFailed is a step failing with Err, the link still being up
	EventFailed
	// EventLinkLost is the transport dropping underneath the session
	EventLinkLost
	// EventAbort is an external stop (context cancellation)
	EventAbort
)

var eventNames = map[EventKind]string{
	EventStart:         "start",
	EventConnected:     "connected",
	EventHandshakeDone: "handshake_done",
	EventSlotDone:      "slot_done",
	EventDrained:       "drained",
	EventDisconnected:  "disconnected",
	EventFailed:        "failed",
	EventLinkLost:      "link_lost",
	EventAbort:         "abort",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event drives a transition. Slots is only read by EventStart.
type Event struct {
	Kind  EventKind
	Slots []int
	Err   error
}

// EffectKind enumerates the work a transition asks the driver to perform.
type EffectKind int

const (
	EffectConnect EffectKind = iota
	EffectHandshake
	EffectEnumerate
	EffectDrain
	EffectDisconnect
)

var effectNames = map[EffectKind]string{
	EffectConnect:    "connect",
	EffectHandshake:  "handshake",
	EffectEnumerate:  "enumerate",
	EffectDrain:      "drain",
	EffectDisconnect: "disconnect",
}

func (k EffectKind) String() string {
	if name, ok := effectNames[k]; ok {
		return name
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

// Effect is one unit of I/O for the driver. Slot is set for EffectEnumerate.
type Effect struct {
	Kind EffectKind
	Slot int
}

// Transition is the session state machine. It is pure: the driver performs
// the returned effects and feeds back what happened as the next event.
//
// Every path out of a connected state passes through EffectDisconnect.
// Terminal states ignore further events.
func Transition(s State, e Event) (State, []Effect) {
	if s.Terminal() {
		return s, nil
	}

	if e.Kind == EventLinkLost {
		switch s.Phase {
		case Draining:
			return State{Phase: Disconnecting, Err: e.Err}, []Effect{{Kind: EffectDisconnect}}
		case Disconnecting:
			return State{Phase: Closed, Err: s.Err}, nil
		}
	}

	switch e.Kind {
	case EventAbort, EventLinkLost:
		if s.Phase == Disconnected {
			return State{Phase: Error, Err: e.Err}, nil
		}
		return State{Phase: Error, Err: e.Err}, []Effect{{Kind: EffectDisconnect}}
	}

	switch s.Phase {
	case Disconnected:
		if e.Kind == EventStart {
			return State{Phase: Connecting, pending: append([]int(nil), e.Slots...)}, []Effect{{Kind: EffectConnect}}
		}

	case Connecting:
		switch e.Kind {
		case EventConnected:
			return State{Phase: Handshaking, pending: s.pending}, []Effect{{Kind: EffectHandshake}}
		case EventFailed:
			// the transport may hold a half-open link
			return State{Phase: Error, Err: e.Err}, []Effect{{Kind: EffectDisconnect}}
		}

	case Handshaking:
		switch e.Kind {
		case EventHandshakeDone:
			return nextSlot(s.pending)
		case EventFailed:
			return State{Phase: Error, Err: e.Err}, []Effect{{Kind: EffectDisconnect}}
		}

	case EnumeratingSlot:
		switch e.Kind {
		case EventSlotDone:
			return nextSlot(s.pending)
		case EventFailed:
			return State{Phase: Error, Slot: s.Slot, Err: e.Err}, []Effect{{Kind: EffectDisconnect}}
		}

	case Draining:
		switch e.Kind {
		case EventDrained:
			return State{Phase: Disconnecting}, []Effect{{Kind: EffectDisconnect}}
		case EventFailed:
			// all records are already read; a failed acknowledgement does not void them
			return State{Phase: Disconnecting, Err: e.Err}, []Effect{{Kind: EffectDisconnect}}
		}

	case Disconnecting:
		if e.Kind == EventDisconnected {
			return State{Phase: Closed, Err: s.Err}, nil
		}
	}

	err := fmt.Errorf("unexpected event %s in state %s", e.Kind, s)
	if s.Phase == Disconnected {
		return State{Phase: Error, Err: err}, nil
	}
	return State{Phase: Error, Err: err}, []Effect{{Kind: EffectDisconnect}}
}

func nextSlot(pending []int) (State, []Effect) {
	if len(pending) == 0 {
		return State{Phase: Draining}, []Effect{{Kind: EffectDrain}}
	}
	slot := pending[0]
	return State{Phase: EnumeratingSlot, Slot: slot, pending: pending[1:]},
		[]Effect{{Kind: EffectEnumerate, Slot: slot}}
}
