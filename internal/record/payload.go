package record

import (
	"encoding/json"
	"fmt"
)

// Payload is the sink-agnostic JSON shape of a measurement.
// It is published to the broker and kept as the ledger's audit snapshot.
type Payload struct {
	Timestamp          string   `json:"timestamp"`
	Systolic           int      `json:"systolic"`
	Diastolic          int      `json:"diastolic"`
	Pulse              int      `json:"pulse"`
	Category           Category `json:"category"`
	IrregularHeartbeat bool     `json:"irregular_heartbeat"`
	BodyMovement       bool     `json:"body_movement"`
	UserSlot           int      `json:"user_slot"`
	Device             string   `json:"device"`
	PublishedAt        string   `json:"published_at,omitempty"`
}

// NewPayload builds the payload for m.
func NewPayload(m Measurement) Payload {
	return Payload{
		Timestamp:          m.Timestamp.Format(TimestampLayout),
		Systolic:           m.Systolic,
		Diastolic:          m.Diastolic,
		Pulse:              m.Pulse,
		Category:           m.Category(),
		IrregularHeartbeat: m.IrregularHeartbeat,
		BodyMovement:       m.BodyMovement,
		UserSlot:           m.Slot,
		Device:             m.Model,
	}
}

// Measurement reconstructs the reading from its payload.
func (p Payload) Measurement() (Measurement, error) {
	ts, err := ParseDeviceTime(p.Timestamp)
	if err != nil {
		return Measurement{}, fmt.Errorf("invalid payload timestamp %q: %w", p.Timestamp, err)
	}
	return Measurement{
		Timestamp:          ts,
		Systolic:           p.Systolic,
		Diastolic:          p.Diastolic,
		Pulse:              p.Pulse,
		IrregularHeartbeat: p.IrregularHeartbeat,
		BodyMovement:       p.BodyMovement,
		Slot:               p.UserSlot,
		Model:              p.Device,
	}, nil
}

// Marshal encodes the payload as JSON.
func (p Payload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPayload decodes a JSON payload.
func UnmarshalPayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("invalid payload: %w", err)
	}
	return p, nil
}
