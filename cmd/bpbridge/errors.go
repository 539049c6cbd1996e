package main

import (
	"errors"
	"fmt"

	"github.com/srg/bpbridge/internal/ledger"
	"github.com/srg/bpbridge/internal/protocol"
	"github.com/srg/bpbridge/internal/session"
	"github.com/srg/bpbridge/internal/sink"
)

// ErrSyncIncomplete is returned when a sync finished but not every delivery succeeded.
var ErrSyncIncomplete = errors.New("sync incomplete")

// FormatUserError turns an error into a message with a hint on what to do.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, session.ErrConnectTimeout):
		return fmt.Sprintf("%v\n  Press the Bluetooth button on the monitor and run the command again within 30 seconds.", err)
	case errors.Is(err, session.ErrProtocolMismatch):
		return fmt.Sprintf("%v\n  The monitor rejected the handshake. Pair it again with 'bpbridge pair'.", err)
	case errors.Is(err, protocol.ErrUnsupportedModel):
		return err.Error()
	case errors.Is(err, ledger.ErrLedgerIO):
		return fmt.Sprintf("%v\n  The ledger database is unusable; nothing further was delivered. Check ledger.path and disk space.", err)
	case errors.Is(err, sink.ErrTokenMissing):
		return fmt.Sprintf("%v\n  Log in to the cloud account and store its token under cloud.tokens_path.", err)
	default:
		return err.Error()
	}
}
