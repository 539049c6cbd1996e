package device

import (
	"context"
	"time"
)

// Advertisement is one received advertising packet.
type Advertisement struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
	// Services are normalized UUIDs
	Services         []string
	ManufacturerData []byte
	SeenAt           time.Time
}

// Scanner listens for advertisements until ctx is done. A finished scan
// returns nil even when ctx expired.
type Scanner interface {
	Scan(ctx context.Context, allowDuplicates bool, handler func(Advertisement)) error
}
