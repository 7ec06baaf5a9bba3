package model

import "time"

// PlanTier is the commercial tier a subscriber is on.
type PlanTier string

const (
	TierTrial  PlanTier = "trial"
	TierFree   PlanTier = "free"
	TierPro    PlanTier = "pro"
	TierStudio PlanTier = "studio"
)

// PaidTiers are the tiers that can be bought through the payment provider.
var PaidTiers = []PlanTier{TierPro, TierStudio}

// Valid reports whether t is a known tier.
func (t PlanTier) Valid() bool {
	switch t {
	case TierTrial, TierFree, TierPro, TierStudio:
		return true
	}
	return false
}

// Status is the billing lifecycle state of a subscriber.
type Status string

const (
	StatusTrial          Status = "trial"
	StatusActive         Status = "active"
	StatusPendingPayment Status = "pending_payment"
	StatusGracePeriod    Status = "grace_period"
	StatusSuspended      Status = "suspended"
	StatusCancelled      Status = "cancelled"
	StatusExpired        Status = "expired"
)

// Statuses lists every lifecycle state.
var Statuses = []Status{
	StatusTrial,
	StatusActive,
	StatusPendingPayment,
	StatusGracePeriod,
	StatusSuspended,
	StatusCancelled,
	StatusExpired,
}

// OnboardingStep identifies one step of the setup flow.
type OnboardingStep string

const (
	StepSlugAssigned  OnboardingStep = "slug"
	StepInfoCompleted OnboardingStep = "info"
	StepPlanStarted   OnboardingStep = "plan"
)

// OnboardingSteps is the order in which setup steps must be completed.
var OnboardingSteps = []OnboardingStep{StepSlugAssigned, StepInfoCompleted, StepPlanStarted}

// Onboarding holds completion flags for the setup flow.
type Onboarding struct {
	SlugAssigned  bool `json:"slug_assigned"`
	InfoCompleted bool `json:"info_completed"`
	PlanStarted   bool `json:"plan_started"`
}

// Completed returns the flags in step order.
func (o Onboarding) Completed() []bool {
	return []bool{o.SlugAssigned, o.InfoCompleted, o.PlanStarted}
}

// FirstIncomplete returns the first step not yet completed, or false when all
// steps are done.
func (o Onboarding) FirstIncomplete() (OnboardingStep, bool) {
	for i, done := range o.Completed() {
		if !done {
			return OnboardingSteps[i], true
		}
	}
	return "", false
}

// Subscriber is the persisted record governing a professional account's access
// tier and billing state.
type Subscriber struct {
	ID                      string     `json:"id"`
	Email                   string     `json:"email"`
	EmailVerifiedAt         *time.Time `json:"email_verified_at"`
	PlanTier                PlanTier   `json:"plan_tier"`
	Status                  Status     `json:"subscription_status"`
	TrialStart              *time.Time `json:"trial_start"`
	TrialEnd                *time.Time `json:"trial_end"`
	ExternalCustomerRef     *string    `json:"external_customer_ref"`
	ExternalSubscriptionRef *string    `json:"external_subscription_ref"`
	LastPaymentAt           *time.Time `json:"last_payment_at"`
	NextPaymentAt           *time.Time `json:"next_payment_at"`
	GracePeriodStart        *time.Time `json:"grace_period_start"`
	SuspensionDate          *time.Time `json:"suspension_date"`
	CancellationDate        *time.Time `json:"cancellation_date"`
	Onboarding              Onboarding `json:"onboarding"`
	Version                 int64      `json:"version"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// EmailVerified reports whether the subscriber confirmed their email address.
func (s *Subscriber) EmailVerified() bool {
	return s.EmailVerifiedAt != nil
}

// TrialExpired reports whether the subscriber is still in trial but past the
// trial deadline at now. trialEnd only counts while the status is trial.
func (s *Subscriber) TrialExpired(now time.Time) bool {
	if s.PlanTier != TierTrial || s.Status != StatusTrial || s.TrialEnd == nil {
		return false
	}
	return now.After(*s.TrialEnd)
}

// TrialLapsed reports whether a trial-tier subscriber is past the trial
// deadline without paid access. Unlike TrialExpired it also holds for
// pending_payment, grace_period and expired.
func (s *Subscriber) TrialLapsed(now time.Time) bool {
	if s.PlanTier != TierTrial || s.Status == StatusActive || s.TrialEnd == nil {
		return false
	}
	return now.After(*s.TrialEnd)
}

// Clone returns a deep copy so transitions never alias the caller's pointers.
func (s *Subscriber) Clone() *Subscriber {
	c := *s
	c.EmailVerifiedAt = cloneTime(s.EmailVerifiedAt)
	c.TrialStart = cloneTime(s.TrialStart)
	c.TrialEnd = cloneTime(s.TrialEnd)
	c.ExternalCustomerRef = cloneString(s.ExternalCustomerRef)
	c.ExternalSubscriptionRef = cloneString(s.ExternalSubscriptionRef)
	c.LastPaymentAt = cloneTime(s.LastPaymentAt)
	c.NextPaymentAt = cloneTime(s.NextPaymentAt)
	c.GracePeriodStart = cloneTime(s.GracePeriodStart)
	c.SuspensionDate = cloneTime(s.SuspensionDate)
	c.CancellationDate = cloneTime(s.CancellationDate)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
