package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

func TestSubscriberCreate(t *testing.T) {
	db := setupTestDB(t)
	s := NewSubscriberStore(db)

	sub, err := s.Create(context.Background(), "pro@example.com", 14, testNow)
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, model.TierTrial, sub.PlanTier)
	assert.Equal(t, model.StatusTrial, sub.Status)
	assert.Equal(t, int64(1), sub.Version)
	require.NotNil(t, sub.TrialStart)
	require.NotNil(t, sub.TrialEnd)
	assert.True(t, sub.TrialStart.Equal(testNow))
	assert.True(t, sub.TrialEnd.Equal(testNow.AddDate(0, 0, 14)))
	assert.Nil(t, sub.EmailVerifiedAt)
	assert.Nil(t, sub.ExternalCustomerRef)
	assert.Equal(t, model.Onboarding{}, sub.Onboarding)
}

func TestSubscriberCreateDuplicateEmail(t *testing.T) {
	db := setupTestDB(t)
	s := NewSubscriberStore(db)
	ctx := context.Background()

	_, err := s.Create(ctx, "dup@example.com", 14, testNow)
	require.NoError(t, err)
	_, err = s.Create(ctx, "dup@example.com", 14, testNow)
	assert.Error(t, err)
}

func TestSubscriberGetNotFound(t *testing.T) {
	db := setupTestDB(t)
	s := NewSubscriberStore(db)
	ctx := context.Background()

	_, err := s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByCustomerRef(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetBySubscriptionRef(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscriberUpdate(t *testing.T) {
	db := setupTestDB(t)
	s := NewSubscriberStore(db)
	ctx := context.Background()

	sub, err := s.Create(ctx, "a@example.com", 14, testNow)
	require.NoError(t, err)

	paid := testNow.Add(time.Hour)
	next := paid.AddDate(0, 0, 30)
	cust, subRef := "payer_1", "preapproval_1"
	sub.PlanTier = model.TierPro
	sub.Status = model.StatusActive
	sub.LastPaymentAt = &paid
	sub.NextPaymentAt = &next
	sub.ExternalCustomerRef = &cust
	sub.ExternalSubscriptionRef = &subRef

	require.NoError(t, s.Update(ctx, sub, paid))
	assert.Equal(t, int64(2), sub.Version)

	byCust, err := s.GetByCustomerRef(ctx, "payer_1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, byCust.ID)
	assert.Equal(t, model.StatusActive, byCust.Status)
	assert.Equal(t, model.TierPro, byCust.PlanTier)
	assert.Equal(t, int64(2), byCust.Version)
	require.NotNil(t, byCust.NextPaymentAt)
	assert.True(t, byCust.NextPaymentAt.Equal(next))

	bySub, err := s.GetBySubscriptionRef(ctx, "preapproval_1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, bySub.ID)
}

func TestSubscriberUpdateStaleVersion(t *testing.T) {
	db := setupTestDB(t)
	s := NewSubscriberStore(db)
	ctx := context.Background()

	sub, err := s.Create(ctx, "a@example.com", 14, testNow)
	require.NoError(t, err)

	first := sub.Clone()
	second := sub.Clone()

	first.Status = model.StatusActive
	require.NoError(t, s.Update(ctx, first, testNow))

	second.Status = model.StatusSuspended
	err = s.Update(ctx, second, testNow)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
}

func TestSubscriberExpireTrial(t *testing.T) {
	db := setupTestDB(t)
	s := NewSubscriberStore(db)
	ctx := context.Background()

	sub, err := s.Create(ctx, "a@example.com", 14, testNow)
	require.NoError(t, err)

	later := testNow.AddDate(0, 0, 15)
	ok, err := s.ExpireTrial(ctx, sub.ID, sub.Version, later)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, got.Status)
	assert.Equal(t, model.TierTrial, got.PlanTier)

	// Second attempt sees a changed row and does nothing.
	ok, err = s.ExpireTrial(ctx, sub.ID, sub.Version, later)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscriberExpireTrialLosesToPayment(t *testing.T) {
	db := setupTestDB(t)
	s := NewSubscriberStore(db)
	ctx := context.Background()

	sub, err := s.Create(ctx, "a@example.com", 14, testNow)
	require.NoError(t, err)
	staleVersion := sub.Version

	paid := sub.Clone()
	paid.Status = model.StatusActive
	paid.PlanTier = model.TierPro
	require.NoError(t, s.Update(ctx, paid, testNow))

	ok, err := s.ExpireTrial(ctx, sub.ID, staleVersion, testNow.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status)
}

func TestSubscriberCompleteOnboardingStep(t *testing.T) {
	db := setupTestDB(t)
	s := NewSubscriberStore(db)
	ctx := context.Background()

	sub, err := s.Create(ctx, "a@example.com", 14, testNow)
	require.NoError(t, err)

	_, err = s.CompleteOnboardingStep(ctx, sub.ID, model.StepInfoCompleted, testNow)
	assert.ErrorIs(t, err, ErrStepOutOfOrder)

	got, err := s.CompleteOnboardingStep(ctx, sub.ID, model.StepSlugAssigned, testNow)
	require.NoError(t, err)
	assert.True(t, got.Onboarding.SlugAssigned)
	assert.False(t, got.Onboarding.InfoCompleted)

	// Repeating a completed step is a no-op.
	again, err := s.CompleteOnboardingStep(ctx, sub.ID, model.StepSlugAssigned, testNow)
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)

	_, err = s.CompleteOnboardingStep(ctx, sub.ID, model.StepInfoCompleted, testNow)
	require.NoError(t, err)
	_, err = s.CompleteOnboardingStep(ctx, sub.ID, model.StepPlanStarted, testNow)
	require.NoError(t, err)

	ob, err := s.Onboarding(ctx, sub.ID)
	require.NoError(t, err)
	_, incomplete := ob.FirstIncomplete()
	assert.False(t, incomplete)

	_, err = s.CompleteOnboardingStep(ctx, sub.ID, model.OnboardingStep("bogus"), testNow)
	assert.Error(t, err)
}

func TestSubscriberMarkEmailVerified(t *testing.T) {
	db := setupTestDB(t)
	s := NewSubscriberStore(db)
	ctx := context.Background()

	sub, err := s.Create(ctx, "a@example.com", 14, testNow)
	require.NoError(t, err)

	require.NoError(t, s.MarkEmailVerified(ctx, sub.ID, testNow))
	got, err := s.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified())

	assert.ErrorIs(t, s.MarkEmailVerified(ctx, "missing", testNow), ErrNotFound)
}

func TestSubscriberWithTxRollback(t *testing.T) {
	db := setupTestDB(t)
	s := NewSubscriberStore(db)
	ctx := context.Background()

	sub, err := s.Create(ctx, "a@example.com", 14, testNow)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.InTx(ctx, func(tx *database.Tx) error {
		c := sub.Clone()
		c.Status = model.StatusSuspended
		if err := s.WithTx(tx).Update(ctx, c, testNow); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTrial, got.Status)
	assert.Equal(t, sub.Version, got.Version)
}
