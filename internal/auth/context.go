package auth

import (
	"context"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

type contextKey struct{}

// AuthContext is the identity the access gate resolved for a request.
type AuthContext struct {
	SubscriberID string
	Email        string
	PlanTier     model.PlanTier
	Status       model.Status
	SessionToken string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func SubscriberID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.SubscriberID
}

// HasPaidPlan reports whether the request's subscriber is active on a paid tier.
func HasPaidPlan(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Status == model.StatusActive && (ac.PlanTier == model.TierPro || ac.PlanTier == model.TierStudio)
}
