package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

// LedgerStore records which provider events have been applied.
type LedgerStore struct {
	q database.Querier
}

func NewLedgerStore(db *database.DB) *LedgerStore {
	return &LedgerStore{q: db}
}

func (s *LedgerStore) WithTx(tx *database.Tx) *LedgerStore {
	return &LedgerStore{q: tx}
}

// Record inserts the event into the ledger. It reports false when the event id
// was already present, in which case nothing is written.
func (s *LedgerStore) Record(ctx context.Context, eventID, eventType string, now time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(
		`INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`),
		eventID, eventType, now.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Get returns the ledger row for eventID.
func (s *LedgerStore) Get(ctx context.Context, eventID string) (*model.ProcessedEvent, error) {
	var ev model.ProcessedEvent
	err := s.q.QueryRowContext(ctx, s.q.Rebind(
		`SELECT event_id, event_type, processed_at FROM processed_events WHERE event_id = ?`), eventID,
	).Scan(&ev.EventID, &ev.EventType, &ev.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &ev, nil
}

// Count returns the number of recorded events.
func (s *LedgerStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
