package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a guarded update loses a race with another writer.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrStepOutOfOrder is returned when an onboarding step is completed before
	// the steps that precede it.
	ErrStepOutOfOrder = errors.New("onboarding step out of order")
)

type SubscriberStore struct {
	q database.Querier
}

func NewSubscriberStore(db *database.DB) *SubscriberStore {
	return &SubscriberStore{q: db}
}

// WithTx returns a store whose queries run inside tx.
func (s *SubscriberStore) WithTx(tx *database.Tx) *SubscriberStore {
	return &SubscriberStore{q: tx}
}

const subscriberCols = `id, email, email_verified_at, plan_tier, subscription_status,
	trial_start, trial_end, external_customer_ref, external_subscription_ref,
	last_payment_at, next_payment_at, grace_period_start, suspension_date, cancellation_date,
	slug_assigned, info_completed, plan_started, version, created_at, updated_at`

func scanSubscriber(scanner interface{ Scan(...any) error }) (*model.Subscriber, error) {
	var (
		sub                                             model.Subscriber
		verifiedAt, trialStart, trialEnd                sql.NullTime
		lastPayment, nextPayment, graceStart            sql.NullTime
		suspension, cancellation                        sql.NullTime
		customerRef, subscriptionRef                    sql.NullString
		planTier, status                                string
		slugAssigned, infoCompleted, planStarted        int
	)
	err := scanner.Scan(
		&sub.ID, &sub.Email, &verifiedAt, &planTier, &status,
		&trialStart, &trialEnd, &customerRef, &subscriptionRef,
		&lastPayment, &nextPayment, &graceStart, &suspension, &cancellation,
		&slugAssigned, &infoCompleted, &planStarted, &sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.PlanTier = model.PlanTier(planTier)
	sub.Status = model.Status(status)
	sub.EmailVerifiedAt = timePtr(verifiedAt)
	sub.TrialStart = timePtr(trialStart)
	sub.TrialEnd = timePtr(trialEnd)
	sub.LastPaymentAt = timePtr(lastPayment)
	sub.NextPaymentAt = timePtr(nextPayment)
	sub.GracePeriodStart = timePtr(graceStart)
	sub.SuspensionDate = timePtr(suspension)
	sub.CancellationDate = timePtr(cancellation)
	if customerRef.Valid {
		sub.ExternalCustomerRef = &customerRef.String
	}
	if subscriptionRef.Valid {
		sub.ExternalSubscriptionRef = &subscriptionRef.String
	}
	sub.Onboarding = model.Onboarding{
		SlugAssigned:  slugAssigned != 0,
		InfoCompleted: infoCompleted != 0,
		PlanStarted:   planStarted != 0,
	}
	return &sub, nil
}

// Create inserts a new subscriber in the trial state with a trial window of
// trialDays starting at now.
func (s *SubscriberStore) Create(ctx context.Context, email string, trialDays int, now time.Time) (*model.Subscriber, error) {
	now = now.UTC()
	trialEnd := now.AddDate(0, 0, trialDays)
	id := uuid.NewString()

	_, err := s.q.ExecContext(ctx, s.q.Rebind(
		`INSERT INTO subscribers (id, email, plan_tier, subscription_status, trial_start, trial_end, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		id, email, string(model.TierTrial), string(model.StatusTrial), now, trialEnd, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert subscriber: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SubscriberStore) GetByID(ctx context.Context, id string) (*model.Subscriber, error) {
	return s.getOne(ctx, "get subscriber", `SELECT `+subscriberCols+` FROM subscribers WHERE id = ?`, id)
}

func (s *SubscriberStore) GetByEmail(ctx context.Context, email string) (*model.Subscriber, error) {
	return s.getOne(ctx, "get subscriber by email", `SELECT `+subscriberCols+` FROM subscribers WHERE email = ?`, email)
}

// GetByCustomerRef looks a subscriber up by the provider's customer (payer) id.
func (s *SubscriberStore) GetByCustomerRef(ctx context.Context, ref string) (*model.Subscriber, error) {
	return s.getOne(ctx, "get subscriber by customer ref",
		`SELECT `+subscriberCols+` FROM subscribers WHERE external_customer_ref = ?`, ref)
}

// GetBySubscriptionRef looks a subscriber up by the provider's subscription id.
func (s *SubscriberStore) GetBySubscriptionRef(ctx context.Context, ref string) (*model.Subscriber, error) {
	return s.getOne(ctx, "get subscriber by subscription ref",
		`SELECT `+subscriberCols+` FROM subscribers WHERE external_subscription_ref = ?`, ref)
}

func (s *SubscriberStore) getOne(ctx context.Context, op, query string, arg any) (*model.Subscriber, error) {
	row := s.q.QueryRowContext(ctx, s.q.Rebind(query), arg)
	sub, err := scanSubscriber(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// Update writes every mutable billing field of sub, guarded by its version.
// On success sub.Version and sub.UpdatedAt reflect the stored row. A stale
// version yields ErrConflict and nothing is written.
func (s *SubscriberStore) Update(ctx context.Context, sub *model.Subscriber, now time.Time) error {
	now = now.UTC()
	res, err := s.q.ExecContext(ctx, s.q.Rebind(
		`UPDATE subscribers SET
			plan_tier = ?, subscription_status = ?, trial_start = ?, trial_end = ?,
			external_customer_ref = ?, external_subscription_ref = ?,
			last_payment_at = ?, next_payment_at = ?, grace_period_start = ?,
			suspension_date = ?, cancellation_date = ?,
			version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`),
		string(sub.PlanTier), string(sub.Status), nullTime(sub.TrialStart), nullTime(sub.TrialEnd),
		nullString(sub.ExternalCustomerRef), nullString(sub.ExternalSubscriptionRef),
		nullTime(sub.LastPaymentAt), nullTime(sub.NextPaymentAt), nullTime(sub.GracePeriodStart),
		nullTime(sub.SuspensionDate), nullTime(sub.CancellationDate),
		now, sub.ID, sub.Version,
	)
	if err != nil {
		return fmt.Errorf("update subscriber: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	sub.Version++
	sub.UpdatedAt = now
	return nil
}

// ExpireTrial moves a trial subscriber to expired. The write only lands while
// the row is still the trial row the caller read (same version, trial status),
// so a concurrently applied payment is never overwritten. It reports whether
// the transition was applied.
func (s *SubscriberStore) ExpireTrial(ctx context.Context, id string, version int64, now time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(
		`UPDATE subscribers SET subscription_status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ? AND subscription_status = ? AND plan_tier = ?`),
		string(model.StatusExpired), now.UTC(), id, version, string(model.StatusTrial), string(model.TierTrial),
	)
	if err != nil {
		return false, fmt.Errorf("expire trial: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Onboarding returns the setup-flow progress of a subscriber.
func (s *SubscriberStore) Onboarding(ctx context.Context, id string) (model.Onboarding, error) {
	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return model.Onboarding{}, err
	}
	return sub.Onboarding, nil
}

var stepColumns = map[model.OnboardingStep]string{
	model.StepSlugAssigned:  "slug_assigned",
	model.StepInfoCompleted: "info_completed",
	model.StepPlanStarted:   "plan_started",
}

// CompleteOnboardingStep marks step done. Steps must be completed in order;
// completing an already completed step is a no-op.
func (s *SubscriberStore) CompleteOnboardingStep(ctx context.Context, id string, step model.OnboardingStep, now time.Time) (*model.Subscriber, error) {
	col, ok := stepColumns[step]
	if !ok {
		return nil, fmt.Errorf("unknown onboarding step %q", step)
	}

	sub, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	for i, done := range sub.Onboarding.Completed() {
		if model.OnboardingSteps[i] == step {
			if done {
				return sub, nil
			}
			break
		}
		if !done {
			return nil, ErrStepOutOfOrder
		}
	}

	res, err := s.q.ExecContext(ctx, s.q.Rebind(
		`UPDATE subscribers SET `+col+` = 1, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`),
		now.UTC(), id, sub.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("complete onboarding step: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// MarkEmailVerified records that the subscriber confirmed their address.
func (s *SubscriberStore) MarkEmailVerified(ctx context.Context, id string, now time.Time) error {
	res, err := s.q.ExecContext(ctx, s.q.Rebind(
		`UPDATE subscribers SET email_verified_at = ?, version = version + 1, updated_at = ? WHERE id = ?`),
		now.UTC(), now.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
