package billing

import (
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

// Trigger is an input to the subscription state machine.
type Trigger string

const (
	TriggerPaymentApproved Trigger = "payment_approved"
	TriggerPaymentPending  Trigger = "payment_pending"
	TriggerPaymentFailed   Trigger = "payment_failed"
	TriggerAuthorized      Trigger = "authorized_payment"
	TriggerCancelled       Trigger = "subscription_cancelled"
	TriggerSuspended       Trigger = "subscription_suspended"
	TriggerTrialExpired    Trigger = "trial_expired"
	TriggerNone            Trigger = ""
)

// Triggers lists every trigger that can change state.
var Triggers = []Trigger{
	TriggerPaymentApproved,
	TriggerPaymentPending,
	TriggerPaymentFailed,
	TriggerAuthorized,
	TriggerCancelled,
	TriggerSuspended,
	TriggerTrialExpired,
}

// TriggerFor maps a provider event to a trigger. Unknown combinations map to
// TriggerNone.
func TriggerFor(typ EventType, status string) Trigger {
	switch typ {
	case EventPayment:
		switch status {
		case StatusApproved:
			return TriggerPaymentApproved
		case StatusPending:
			return TriggerPaymentPending
		case StatusRejected, StatusCancelled:
			return TriggerPaymentFailed
		}
	case EventAuthorizedPayment:
		if status == StatusAuthorized {
			return TriggerAuthorized
		}
	case EventCancelled:
		return TriggerCancelled
	case EventSuspended:
		return TriggerSuspended
	}
	return TriggerNone
}

// Next returns the state reached from `from` on t, and false when the pair is
// not a transition.
func Next(from model.Status, t Trigger) (model.Status, bool) {
	switch from {
	case model.StatusCancelled:
		return from, false
	case model.StatusExpired:
		switch t {
		case TriggerPaymentApproved, TriggerAuthorized:
			return model.StatusActive, true
		case TriggerCancelled:
			return model.StatusCancelled, true
		}
		return from, false
	}

	switch t {
	case TriggerPaymentApproved, TriggerAuthorized:
		return model.StatusActive, true
	case TriggerPaymentPending:
		return model.StatusPendingPayment, true
	case TriggerPaymentFailed:
		return model.StatusGracePeriod, true
	case TriggerCancelled:
		return model.StatusCancelled, true
	case TriggerSuspended:
		return model.StatusSuspended, true
	case TriggerTrialExpired:
		if from == model.StatusTrial {
			return model.StatusExpired, true
		}
	}
	return from, false
}

// BillingPeriod is how far nextPaymentAt is pushed on each activation.
const BillingPeriod = 30 * 24 * time.Hour

// Input carries the event data a transition needs.
type Input struct {
	Trigger         Trigger
	Tier            model.PlanTier
	CustomerRef     string
	SubscriptionRef string
}

// Outcome describes what Apply did.
type Outcome struct {
	From      model.Status
	To        model.Status
	Changed   bool
	Activated bool
}

// Apply runs the transition for in against sub and returns the resulting
// subscriber. sub is never modified; when the pair is not a transition the
// returned subscriber equals a copy of sub and Changed is false.
func Apply(sub *model.Subscriber, in Input, now time.Time) (*model.Subscriber, Outcome) {
	next := sub.Clone()
	out := Outcome{From: sub.Status, To: sub.Status}

	to, ok := Next(sub.Status, in.Trigger)
	if !ok {
		return next, out
	}
	now = now.UTC()

	switch in.Trigger {
	case TriggerPaymentApproved, TriggerAuthorized:
		paid := now
		due := now.Add(BillingPeriod)
		next.LastPaymentAt = &paid
		next.NextPaymentAt = &due
		if in.Tier.Valid() {
			next.PlanTier = in.Tier
		}
		if in.CustomerRef != "" && next.ExternalCustomerRef == nil {
			ref := in.CustomerRef
			next.ExternalCustomerRef = &ref
		}
		if in.SubscriptionRef != "" {
			ref := in.SubscriptionRef
			next.ExternalSubscriptionRef = &ref
		}
		out.Activated = true
	case TriggerPaymentFailed:
		start := now
		next.GracePeriodStart = &start
	case TriggerCancelled:
		at := now
		next.ExternalSubscriptionRef = nil
		next.CancellationDate = &at
		next.PlanTier = model.TierFree
	case TriggerSuspended:
		at := now
		next.SuspensionDate = &at
	}

	next.Status = to
	out.To = to
	out.Changed = true
	return next, out
}
