// Package ledger is the durable record of which measurement reached which
// sink. It is the only source of delivery truth: a record is delivered to a
// sink exactly when the ledger says so.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/srg/bpbridge/internal/record"
)

// Sink names a delivery destination.
type Sink string

const (
	Cloud  Sink = "cloud"
	Broker Sink = "broker"
)

// Sinks lists every sink in report order.
func Sinks() []Sink { return []Sink{Cloud, Broker} }

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Delivered bool
	Reason    string // failure reason, empty on success
}

// Success marks a delivered attempt.
func Success() Outcome { return Outcome{Delivered: true} }

// Failure marks an attempt that gave up with err.
func Failure(err error) Outcome {
	if err == nil {
		return Outcome{Reason: "unknown failure"}
	}
	return Outcome{Reason: err.Error()}
}

const timeLayout = time.RFC3339Nano

const schema = `
CREATE TABLE IF NOT EXISTS records (
	identity   TEXT PRIMARY KEY,
	slot       INTEGER NOT NULL,
	taken_at   TEXT NOT NULL,
	category   TEXT NOT NULL,
	payload    TEXT NOT NULL,
	first_seen TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS records_slot_taken ON records (slot, taken_at);
CREATE TABLE IF NOT EXISTS deliveries (
	identity     TEXT NOT NULL REFERENCES records (identity),
	sink         TEXT NOT NULL,
	delivered    INTEGER NOT NULL DEFAULT 0,
	delivered_at TEXT,
	last_attempt TEXT NOT NULL,
	last_error   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (identity, sink)
);
`

// lockStripes bounds the per-identity write locks.
const lockStripes = 64

// Ledger persists delivery state in SQLite. It is safe for concurrent use;
// writes for the same identity are serialised.
type Ledger struct {
	db     *sql.DB
	locks  [lockStripes]sync.Mutex
	logger *logrus.Logger
	now    func() time.Time
}

// Open opens (or creates) the ledger database at path.
func Open(path string, logger *logrus.Logger) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ioError("open", err)
	}
	// one connection: a single writer, and ":memory:" stays one database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, ioError("set WAL mode", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, ioError("migrate", err)
	}

	logger.WithField("path", path).Debug("Ledger opened")
	return New(db, logger), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, logger *logrus.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return ioError("close", l.db.Close())
}

// stripe picks the lock guarding id. Distinct identities may share one.
func stripe(id record.Identity) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % lockStripes)
}

func (l *Ledger) lock(id record.Identity) func() {
	mu := &l.locks[stripe(id)]
	mu.Lock()
	return mu.Unlock
}

// IsDelivered reports whether the record reached sink. It never writes.
func (l *Ledger) IsDelivered(ctx context.Context, id record.Identity, sink Sink) (bool, error) {
	var delivered bool
	err := l.db.QueryRowContext(ctx,
		"SELECT delivered FROM deliveries WHERE identity = ? AND sink = ?",
		string(id), string(sink),
	).Scan(&delivered)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, ioError("lookup", err)
	}
	return delivered, nil
}

// RecordDelivery stores the outcome of a delivery attempt. It is an
// idempotent upsert: the record is created on first sight, a repeated
// success only refreshes the attempt time, and a failure never clears an
// earlier success.
func (l *Ledger) RecordDelivery(ctx context.Context, id record.Identity, sink Sink, payload record.Payload, outcome Outcome) (err error) {
	unlock := l.lock(id)
	defer unlock()

	snapshot, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", id, err)
	}
	now := l.now().UTC().Format(timeLayout)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return ioError("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO records (identity, slot, taken_at, category, payload, first_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity) DO NOTHING`,
		string(id), payload.UserSlot, payload.Timestamp, string(payload.Category), string(snapshot), now,
	); err != nil {
		return ioError("insert record", err)
	}

	var deliveredAt any
	if outcome.Delivered {
		deliveredAt = now
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO deliveries (identity, sink, delivered, delivered_at, last_attempt, last_error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (identity, sink) DO UPDATE SET
			delivered    = deliveries.delivered OR excluded.delivered,
			delivered_at = COALESCE(deliveries.delivered_at, excluded.delivered_at),
			last_attempt = excluded.last_attempt,
			last_error   = CASE WHEN deliveries.delivered OR excluded.delivered THEN '' ELSE excluded.last_error END`,
		string(id), string(sink), outcome.Delivered, deliveredAt, now, outcome.Reason,
	); err != nil {
		return ioError("upsert delivery", err)
	}

	if err = tx.Commit(); err != nil {
		return ioError("commit", err)
	}

	l.logger.WithFields(logrus.Fields{
		"identity":  id,
		"sink":      sink,
		"delivered": outcome.Delivered,
	}).Debug("Delivery recorded")
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
