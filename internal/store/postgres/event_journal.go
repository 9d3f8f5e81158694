package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/orderwatch/internal/domain"
)

// JournalEntry is a single recorded ledger event.
type JournalEntry struct {
	Seq         int64           `json:"seq"`
	Kind        string          `json:"kind"`
	OrderID     *uint64         `json:"order_id,omitempty"`
	BlockNumber uint64          `json:"block_number"`
	TxHash      string          `json:"tx_hash"`
	LogIndex    uint            `json:"log_index"`
	Payload     json.RawMessage `json:"payload"`
	ObservedAt  time.Time       `json:"observed_at"`
}

// EventJournal appends every observed ledger event to the event_journal
// table. The journal is a side channel for auditing; the in-memory cache
// never reads from it.
type EventJournal struct {
	pool *pgxpool.Pool
}

// NewEventJournal creates an EventJournal backed by the given pool.
func NewEventJournal(pool *pgxpool.Pool) *EventJournal {
	return &EventJournal{pool: pool}
}

// Record appends one ledger event to the journal.
func (j *EventJournal) Record(ctx context.Context, ev domain.LedgerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %s: %w", ev.Kind(), err)
	}

	meta := ev.Meta()

	var orderID *uint64
	switch e := ev.(type) {
	case domain.OrderCreatedEvent:
		orderID = &e.Order.ID
	case domain.OrderFilledEvent:
		orderID = &e.ID
	case domain.OrderCanceledEvent:
		orderID = &e.ID
	}

	const query = `
		INSERT INTO event_journal (kind, order_id, block_number, tx_hash, log_index, payload)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = j.pool.Exec(ctx, query,
		ev.Kind(), orderID,
		meta.BlockNumber, meta.TxHash.Hex(), meta.LogIndex,
		payload,
	)
	if err != nil {
		return fmt.Errorf("postgres: record event %s: %w", ev.Kind(), err)
	}
	return nil
}

// Recent returns the most recent journal entries, newest first.
func (j *EventJournal) Recent(ctx context.Context, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT seq, kind, order_id, block_number, tx_hash, log_index, payload, observed_at
		FROM event_journal
		ORDER BY seq DESC
		LIMIT $1`

	rows, err := j.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(
			&e.Seq, &e.Kind, &e.OrderID,
			&e.BlockNumber, &e.TxHash, &e.LogIndex,
			&e.Payload, &e.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate journal: %w", err)
	}
	return entries, nil
}

// RecentByOrder returns the most recent journal entries for one order,
// newest first.
func (j *EventJournal) RecentByOrder(ctx context.Context, orderID uint64, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT seq, kind, order_id, block_number, tx_hash, log_index, payload, observed_at
		FROM event_journal
		WHERE order_id = $1
		ORDER BY seq DESC
		LIMIT $2`

	rows, err := j.pool.Query(ctx, query, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query journal for order %d: %w", orderID, err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(
			&e.Seq, &e.Kind, &e.OrderID,
			&e.BlockNumber, &e.TxHash, &e.LogIndex,
			&e.Payload, &e.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate journal: %w", err)
	}
	return entries, nil
}
