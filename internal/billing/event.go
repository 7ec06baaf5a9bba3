package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

// EventType is the provider's notification type.
type EventType string

const (
	EventPayment           EventType = "payment"
	EventAuthorizedPayment EventType = "subscription_authorized_payment"
	EventCancelled         EventType = "subscription_cancelled"
	EventSuspended         EventType = "subscription_suspended"
)

// Payment statuses read from notifications.
const (
	StatusApproved   = "approved"
	StatusPending    = "pending"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
	StatusAuthorized = "authorized"
)

// FlexString decodes a JSON string or number into a string. Providers send
// ids in either form.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// Notification is the subset of the provider payload this service reads.
type Notification struct {
	ID       FlexString        `json:"id"`
	Type     string            `json:"type" validate:"required"`
	Action   string            `json:"action"`
	LiveMode *bool             `json:"live_mode"`
	Data     *NotificationData `json:"data" validate:"required"`
}

type NotificationData struct {
	ID                FlexString `json:"id"`
	Status            string     `json:"status"`
	ExternalReference string     `json:"external_reference"`
	TransactionAmount *float64   `json:"transaction_amount"`
	Payer             *Payer     `json:"payer"`
	PayerID           FlexString `json:"payer_id"`
	PreapprovalID     FlexString `json:"preapproval_id"`
}

type Payer struct {
	ID    FlexString `json:"id"`
	Email string     `json:"email"`
}

// ParseNotification decodes a webhook body and trims the fields validation
// and routing key on. It does not validate.
func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	n.Type = strings.TrimSpace(n.Type)
	n.Action = strings.TrimSpace(n.Action)
	if n.Data != nil {
		n.Data.Status = strings.TrimSpace(n.Data.Status)
	}
	return &n, nil
}

// PaymentEvent is the normalised view of a validated notification.
type PaymentEvent struct {
	EventID           string
	Type              EventType
	Status            string
	DataID            string
	ExternalReference string
	Amount            *int64
	PayerRef          string
	PreapprovalID     string
	ReceivedAt        time.Time
}

// NewPaymentEvent normalises n, which must already be valid.
func NewPaymentEvent(n *Notification, receivedAt time.Time) PaymentEvent {
	ev := PaymentEvent{
		Type:       EventType(strings.TrimSpace(n.Type)),
		ReceivedAt: receivedAt.UTC(),
	}
	if d := n.Data; d != nil {
		ev.Status = strings.ToLower(strings.TrimSpace(d.Status))
		ev.DataID = d.ID.String()
		ev.ExternalReference = strings.TrimSpace(d.ExternalReference)
		ev.PreapprovalID = d.PreapprovalID.String()
		if d.Payer != nil && d.Payer.ID != "" {
			ev.PayerRef = d.Payer.ID.String()
		} else {
			ev.PayerRef = d.PayerID.String()
		}
		if d.TransactionAmount != nil {
			amt := int64(math.Round(*d.TransactionAmount))
			ev.Amount = &amt
		}
	}
	ev.EventID = n.ID.String()
	if ev.EventID == "" {
		ev.EventID = fmt.Sprintf("%s:%s:%s", ev.Type, ev.DataID, ev.Status)
	}
	return ev
}

const referencePrefix = "subscription_"

// Reference is the parsed external reference "subscription_<tier>_<ref>".
type Reference struct {
	Tier          model.PlanTier
	SubscriberRef string
}

// ParseReference accepts only purchasable tiers and a non-empty subscriber ref.
func ParseReference(s string) (Reference, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), referencePrefix)
	if !ok {
		return Reference{}, false
	}
	tier, ref, ok := strings.Cut(rest, "_")
	if !ok || ref == "" {
		return Reference{}, false
	}
	switch t := model.PlanTier(tier); t {
	case model.TierPro, model.TierStudio:
		return Reference{Tier: t, SubscriberRef: ref}, true
	}
	return Reference{}, false
}

// FormatReference builds the external reference a checkout must carry.
func FormatReference(tier model.PlanTier, subscriberRef string) string {
	return referencePrefix + string(tier) + "_" + subscriberRef
}
