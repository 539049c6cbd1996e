package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bpbridge/internal/record"
)

// SinkState is the delivery state of one record for one sink.
type SinkState struct {
	Delivered   bool
	DeliveredAt time.Time
	LastAttempt time.Time
	LastError   string
}

// Entry is one ledger record with its per-sink state.
type Entry struct {
	Identity  record.Identity
	Payload   record.Payload
	FirstSeen time.Time
	Sinks     map[Sink]SinkState
}

// HistoryFilter narrows History. Zero values mean no restriction.
type HistoryFilter struct {
	Slot  int
	Limit int
}

// History returns entries newest first.
func (l *Ledger) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT r.identity, r.payload, r.first_seen, d.sink, d.delivered, d.delivered_at, d.last_attempt, d.last_error
		FROM (
			SELECT identity, payload, first_seen, taken_at FROM records
			WHERE ? = 0 OR slot = ?
			ORDER BY taken_at DESC, identity
			LIMIT ?
		) r
		LEFT JOIN deliveries d ON d.identity = r.identity
		ORDER BY r.taken_at DESC, r.identity, d.sink`,
		filter.Slot, filter.Slot, limit,
	)
	if err != nil {
		return nil, ioError("history", err)
	}
	defer rows.Close()

	entries := orderedmap.New[record.Identity, *Entry]()
	for rows.Next() {
		var (
			id, payload, firstSeen                    string
			sink, deliveredAt, lastAttempt, lastError sql.NullString
			delivered                                 sql.NullBool
		)
		if err := rows.Scan(&id, &payload, &firstSeen, &sink, &delivered, &deliveredAt, &lastAttempt, &lastError); err != nil {
			return nil, ioError("history scan", err)
		}

		entry, ok := entries.Get(record.Identity(id))
		if !ok {
			p, err := record.UnmarshalPayload([]byte(payload))
			if err != nil {
				return nil, ioError("history decode", fmt.Errorf("%s: %w", id, err))
			}
			entry = &Entry{
				Identity:  record.Identity(id),
				Payload:   p,
				FirstSeen: parseTime(firstSeen),
				Sinks:     map[Sink]SinkState{},
			}
			entries.Set(entry.Identity, entry)
		}
		if sink.Valid {
			entry.Sinks[Sink(sink.String)] = SinkState{
				Delivered:   delivered.Bool,
				DeliveredAt: parseTime(deliveredAt.String),
				LastAttempt: parseTime(lastAttempt.String),
				LastError:   lastError.String,
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, ioError("history", err)
	}

	out := make([]Entry, 0, entries.Len())
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, *pair.Value)
	}
	return out, nil
}

// Stats summarises the ledger.
type Stats struct {
	Total int
	// Delivered counts records that reached each sink
	Delivered map[Sink]int
	// Pending counts records whose last attempt on a sink failed
	Pending    map[Sink]int
	First      string // naive timestamp of the oldest record
	Last       string
	Categories map[record.Category]int
}

// Stats summarises the records of slot, or of every slot when slot is 0.
func (l *Ledger) Stats(ctx context.Context, slot int) (Stats, error) {
	st := Stats{
		Delivered:  map[Sink]int{},
		Pending:    map[Sink]int{},
		Categories: map[record.Category]int{},
	}

	if err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MIN(taken_at), ''), COALESCE(MAX(taken_at), '')
		FROM records WHERE ? = 0 OR slot = ?`,
		slot, slot,
	).Scan(&st.Total, &st.First, &st.Last); err != nil {
		return Stats{}, ioError("stats", err)
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM records WHERE ? = 0 OR slot = ? GROUP BY category`,
		slot, slot,
	)
	if err != nil {
		return Stats{}, ioError("stats categories", err)
	}
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			rows.Close()
			return Stats{}, ioError("stats categories", err)
		}
		st.Categories[record.Category(category)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Stats{}, ioError("stats categories", err)
	}

	rows, err = l.db.QueryContext(ctx,
		`SELECT d.sink, SUM(d.delivered), SUM(1 - d.delivered)
		FROM deliveries d JOIN records r ON r.identity = d.identity
		WHERE ? = 0 OR r.slot = ?
		GROUP BY d.sink`,
		slot, slot,
	)
	if err != nil {
		return Stats{}, ioError("stats sinks", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sink string
		var delivered, pending int
		if err := rows.Scan(&sink, &delivered, &pending); err != nil {
			return Stats{}, ioError("stats sinks", err)
		}
		st.Delivered[Sink(sink)] = delivered
		st.Pending[Sink(sink)] = pending
	}
	if err := rows.Err(); err != nil {
		return Stats{}, ioError("stats sinks", err)
	}
	return st, nil
}

// PendingDelivery is a record whose delivery to a sink has not succeeded.
type PendingDelivery struct {
	Identity    record.Identity
	Payload     record.Payload
	LastAttempt time.Time
	LastError   string
}

// Pending lists records not yet delivered to sink, oldest first. Records
// never attempted on sink are not listed. limit <= 0 means no limit.
func (l *Ledger) Pending(ctx context.Context, sink Sink, limit int) ([]PendingDelivery, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT d.identity, r.payload, d.last_attempt, d.last_error
		FROM deliveries d JOIN records r ON r.identity = d.identity
		WHERE d.sink = ? AND d.delivered = 0
		ORDER BY r.taken_at, d.identity
		LIMIT ?`,
		string(sink), limit,
	)
	if err != nil {
		return nil, ioError("pending", err)
	}
	defer rows.Close()

	var out []PendingDelivery
	for rows.Next() {
		var id, payload, lastAttempt, lastError string
		if err := rows.Scan(&id, &payload, &lastAttempt, &lastError); err != nil {
			return nil, ioError("pending scan", err)
		}
		p, err := record.UnmarshalPayload([]byte(payload))
		if err != nil {
			return nil, ioError("pending decode", fmt.Errorf("%s: %w", id, err))
		}
		out = append(out, PendingDelivery{
			Identity:    record.Identity(id),
			Payload:     p,
			LastAttempt: parseTime(lastAttempt),
			LastError:   lastError,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, ioError("pending", err)
	}
	return out, nil
}

// Prune deletes records measured before cutoff together with their
// delivery state and returns how many records were removed. It is a manual
// maintenance operation; syncs never prune.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (n int64, err error) {
	// taken_at is device wall clock, so compare against cutoff's own wall clock
	before := cutoff.Format(record.TimestampLayout)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, ioError("begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM deliveries WHERE identity IN (SELECT identity FROM records WHERE taken_at < ?)`,
		before,
	); err != nil {
		return 0, ioError("prune deliveries", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE taken_at < ?`, before)
	if err != nil {
		return 0, ioError("prune records", err)
	}
	if n, err = res.RowsAffected(); err != nil {
		return 0, ioError("prune", err)
	}
	if err = tx.Commit(); err != nil {
		return 0, ioError("commit", err)
	}

	l.logger.WithFields(logrus.Fields{
		"cutoff":  before,
		"removed": n,
	}).Info("Ledger pruned")
	return n, nil
}
