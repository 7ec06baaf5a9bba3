package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

// Activation describes a subscriber that just became active.
type Activation struct {
	SubscriberID  string
	Email         string
	PlanTier      model.PlanTier
	Amount        int64
	PaidAt        time.Time
	NextPaymentAt time.Time
	EventID       string
}

// Verification carries a single-use email verification token to its owner.
type Verification struct {
	SubscriberID string
	Email        string
	Token        string
	ExpiresAt    time.Time
}

// Notifier tells a subscriber about account and billing changes.
type Notifier interface {
	SubscriptionActivated(ctx context.Context, act Activation) error
	EmailVerification(ctx context.Context, v Verification) error
}

// LogNotifier only logs. Used when no mail provider is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SubscriptionActivated(ctx context.Context, act Activation) error {
	n.logger.InfoContext(ctx, "subscription activated",
		"subscriber_id", act.SubscriberID,
		"plan", act.PlanTier,
		"amount", act.Amount,
		"next_payment_at", act.NextPaymentAt,
	)
	return nil
}

// EmailVerification logs the token at debug level only, so local setups
// without a mail provider can still complete sign-up.
func (n *LogNotifier) EmailVerification(ctx context.Context, v Verification) error {
	n.logger.InfoContext(ctx, "email verification issued",
		"subscriber_id", v.SubscriberID,
		"expires_at", v.ExpiresAt,
	)
	n.logger.DebugContext(ctx, "email verification token", "subscriber_id", v.SubscriberID, "token", v.Token)
	return nil
}
