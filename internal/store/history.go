package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

// HistoryStore is the append-only payment history.
type HistoryStore struct {
	q database.Querier
}

func NewHistoryStore(db *database.DB) *HistoryStore {
	return &HistoryStore{q: db}
}

func (s *HistoryStore) WithTx(tx *database.Tx) *HistoryStore {
	return &HistoryStore{q: tx}
}

const historyCols = `id, subscriber_id, event_id, amount, status, plan_tier, created_at`

func scanHistoryEntry(scanner interface{ Scan(...any) error }) (*model.PaymentHistoryEntry, error) {
	var (
		e    model.PaymentHistoryEntry
		tier string
	)
	if err := scanner.Scan(&e.ID, &e.SubscriberID, &e.EventID, &e.Amount, &e.Status, &tier, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.PlanTier = model.PlanTier(tier)
	return &e, nil
}

// Append stores a new entry. ID and CreatedAt are assigned when empty.
func (s *HistoryStore) Append(ctx context.Context, e *model.PaymentHistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.CreatedAt = e.CreatedAt.UTC()

	_, err := s.q.ExecContext(ctx, s.q.Rebind(
		`INSERT INTO payment_history (`+historyCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.SubscriberID, e.EventID, e.Amount, e.Status, string(e.PlanTier), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append payment history: %w", err)
	}
	return nil
}

// ListBySubscriber returns the newest entries first, at most limit rows.
func (s *HistoryStore) ListBySubscriber(ctx context.Context, subscriberID string, limit int) ([]model.PaymentHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q.QueryContext(ctx, s.q.Rebind(
		`SELECT `+historyCols+` FROM payment_history WHERE subscriber_id = ? ORDER BY created_at DESC, id LIMIT ?`),
		subscriberID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list payment history: %w", err)
	}
	defer rows.Close()

	var entries []model.PaymentHistoryEntry
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment history: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
