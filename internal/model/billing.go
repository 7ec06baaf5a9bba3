package model

import "time"

// ProcessedEvent is a row of the idempotency ledger. Its existence means the
// event's mutation has been durably applied.
type ProcessedEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}

// PaymentHistoryEntry is an append-only record of an activating payment.
type PaymentHistoryEntry struct {
	ID           string    `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	EventID      string    `json:"event_id"`
	Amount       int64     `json:"amount"`
	Status       string    `json:"status"`
	PlanTier     PlanTier  `json:"plan_tier"`
	CreatedAt    time.Time `json:"created_at"`
}

type Session struct {
	Token        string    `json:"-"`
	SubscriberID string    `json:"subscriber_id"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}
