package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

// transitions is the complete set of allowed (state, trigger) pairs.
var transitions = map[model.Status]map[Trigger]model.Status{
	model.StatusTrial: {
		TriggerPaymentApproved: model.StatusActive,
		TriggerAuthorized:      model.StatusActive,
		TriggerPaymentPending:  model.StatusPendingPayment,
		TriggerPaymentFailed:   model.StatusGracePeriod,
		TriggerCancelled:       model.StatusCancelled,
		TriggerSuspended:       model.StatusSuspended,
		TriggerTrialExpired:    model.StatusExpired,
	},
	model.StatusActive: {
		TriggerPaymentApproved: model.StatusActive,
		TriggerAuthorized:      model.StatusActive,
		TriggerPaymentPending:  model.StatusPendingPayment,
		TriggerPaymentFailed:   model.StatusGracePeriod,
		TriggerCancelled:       model.StatusCancelled,
		TriggerSuspended:       model.StatusSuspended,
	},
	model.StatusPendingPayment: {
		TriggerPaymentApproved: model.StatusActive,
		TriggerAuthorized:      model.StatusActive,
		TriggerPaymentPending:  model.StatusPendingPayment,
		TriggerPaymentFailed:   model.StatusGracePeriod,
		TriggerCancelled:       model.StatusCancelled,
		TriggerSuspended:       model.StatusSuspended,
	},
	model.StatusGracePeriod: {
		TriggerPaymentApproved: model.StatusActive,
		TriggerAuthorized:      model.StatusActive,
		TriggerPaymentPending:  model.StatusPendingPayment,
		TriggerPaymentFailed:   model.StatusGracePeriod,
		TriggerCancelled:       model.StatusCancelled,
		TriggerSuspended:       model.StatusSuspended,
	},
	model.StatusSuspended: {
		TriggerPaymentApproved: model.StatusActive,
		TriggerAuthorized:      model.StatusActive,
		TriggerPaymentPending:  model.StatusPendingPayment,
		TriggerPaymentFailed:   model.StatusGracePeriod,
		TriggerCancelled:       model.StatusCancelled,
		TriggerSuspended:       model.StatusSuspended,
	},
	model.StatusExpired: {
		TriggerPaymentApproved: model.StatusActive,
		TriggerAuthorized:      model.StatusActive,
		TriggerCancelled:       model.StatusCancelled,
	},
	model.StatusCancelled: {},
}

func TestNextIsClosed(t *testing.T) {
	all := append([]Trigger{TriggerNone, Trigger("refund")}, Triggers...)
	for _, from := range model.Statuses {
		for _, trig := range all {
			want, allowed := transitions[from][trig]
			got, ok := Next(from, trig)
			if ok != allowed {
				t.Errorf("Next(%s, %q) allowed = %v, want %v", from, trig, ok, allowed)
				continue
			}
			if !allowed {
				want = from
			}
			if got != want {
				t.Errorf("Next(%s, %q) = %s, want %s", from, trig, got, want)
			}
		}
	}
}

func TestTriggerFor(t *testing.T) {
	tests := []struct {
		typ    EventType
		status string
		want   Trigger
	}{
		{EventPayment, StatusApproved, TriggerPaymentApproved},
		{EventPayment, StatusPending, TriggerPaymentPending},
		{EventPayment, StatusRejected, TriggerPaymentFailed},
		{EventPayment, StatusCancelled, TriggerPaymentFailed},
		{EventPayment, "in_process", TriggerNone},
		{EventPayment, StatusAuthorized, TriggerNone},
		{EventAuthorizedPayment, StatusAuthorized, TriggerAuthorized},
		{EventAuthorizedPayment, StatusApproved, TriggerNone},
		{EventCancelled, "", TriggerCancelled},
		{EventSuspended, "whatever", TriggerSuspended},
		{EventType("plan_updated"), StatusApproved, TriggerNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TriggerFor(tt.typ, tt.status), "TriggerFor(%s, %s)", tt.typ, tt.status)
	}
}

func trialSubscriber() *model.Subscriber {
	start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 14)
	return &model.Subscriber{
		ID:         "sub_1",
		Email:      "pro@example.com",
		PlanTier:   model.TierTrial,
		Status:     model.StatusTrial,
		TrialStart: &start,
		TrialEnd:   &end,
		Version:    1,
	}
}

func TestApplyActivation(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sub := trialSubscriber()

	next, out := Apply(sub, Input{Trigger: TriggerPaymentApproved, Tier: model.TierStudio, CustomerRef: "payer_9"}, now)
	assert.True(t, out.Changed)
	assert.True(t, out.Activated)
	assert.Equal(t, model.StatusTrial, out.From)
	assert.Equal(t, model.StatusActive, out.To)

	assert.Equal(t, model.StatusActive, next.Status)
	assert.Equal(t, model.TierStudio, next.PlanTier)
	require.NotNil(t, next.LastPaymentAt)
	assert.True(t, next.LastPaymentAt.Equal(now))
	require.NotNil(t, next.NextPaymentAt)
	assert.True(t, next.NextPaymentAt.Equal(now.AddDate(0, 0, 30)))
	require.NotNil(t, next.ExternalCustomerRef)
	assert.Equal(t, "payer_9", *next.ExternalCustomerRef)

	// Input subscriber untouched.
	assert.Equal(t, model.StatusTrial, sub.Status)
	assert.Nil(t, sub.LastPaymentAt)
}

func TestApplyKeepsExistingCustomerRef(t *testing.T) {
	sub := trialSubscriber()
	ref := "payer_1"
	sub.ExternalCustomerRef = &ref

	next, _ := Apply(sub, Input{Trigger: TriggerAuthorized, Tier: model.TierPro, CustomerRef: "payer_2", SubscriptionRef: "pre_1"}, time.Now())
	assert.Equal(t, "payer_1", *next.ExternalCustomerRef)
	require.NotNil(t, next.ExternalSubscriptionRef)
	assert.Equal(t, "pre_1", *next.ExternalSubscriptionRef)
}

func TestApplySideEffects(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("payment failed starts grace period", func(t *testing.T) {
		next, out := Apply(trialSubscriber(), Input{Trigger: TriggerPaymentFailed}, now)
		assert.Equal(t, model.StatusGracePeriod, out.To)
		require.NotNil(t, next.GracePeriodStart)
		assert.True(t, next.GracePeriodStart.Equal(now))
		assert.False(t, out.Activated)
	})

	t.Run("pending has no side effects", func(t *testing.T) {
		sub := trialSubscriber()
		next, out := Apply(sub, Input{Trigger: TriggerPaymentPending}, now)
		assert.Equal(t, model.StatusPendingPayment, next.Status)
		assert.True(t, out.Changed)
		next.Status = sub.Status
		assert.Equal(t, sub, next)
	})

	t.Run("suspension dates", func(t *testing.T) {
		next, _ := Apply(trialSubscriber(), Input{Trigger: TriggerSuspended}, now)
		require.NotNil(t, next.SuspensionDate)
		assert.True(t, next.SuspensionDate.Equal(now))
	})

	t.Run("cancellation clears subscription and drops to free", func(t *testing.T) {
		sub := trialSubscriber()
		ref := "pre_1"
		sub.ExternalSubscriptionRef = &ref
		sub.PlanTier = model.TierPro
		sub.Status = model.StatusActive

		next, out := Apply(sub, Input{Trigger: TriggerCancelled}, now)
		assert.True(t, out.Changed)
		assert.Equal(t, model.StatusCancelled, next.Status)
		assert.Equal(t, model.TierFree, next.PlanTier)
		assert.Nil(t, next.ExternalSubscriptionRef)
		require.NotNil(t, next.CancellationDate)
	})

	t.Run("cancelled is terminal", func(t *testing.T) {
		sub := trialSubscriber()
		sub.Status = model.StatusCancelled
		sub.PlanTier = model.TierFree
		for _, trig := range Triggers {
			next, out := Apply(sub, Input{Trigger: trig, Tier: model.TierPro}, now)
			assert.False(t, out.Changed, "trigger %s", trig)
			assert.Equal(t, sub, next, "trigger %s", trig)
		}
	})

	t.Run("expired re-enters active on payment", func(t *testing.T) {
		sub := trialSubscriber()
		sub.Status = model.StatusExpired
		next, out := Apply(sub, Input{Trigger: TriggerPaymentApproved, Tier: model.TierPro}, now)
		assert.True(t, out.Activated)
		assert.Equal(t, model.StatusActive, next.Status)
		assert.Equal(t, model.TierPro, next.PlanTier)
	})
}
