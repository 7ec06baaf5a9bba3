package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/auth"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/notify"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/store"
)

type AccountConfig struct {
	CookieName string
	SessionTTL time.Duration
	VerifyTTL  time.Duration
	TrialDays  int
	Prices     map[model.PlanTier]int64
}

// VerificationMailer delivers email verification tokens. Delivery happens in
// the background.
type VerificationMailer interface {
	DispatchVerification(v notify.Verification)
}

// AccountHandler serves the signup, session and setup surfaces the access
// gate redirects to.
type AccountHandler struct {
	subscribers   *store.SubscriberStore
	sessions      *store.SessionStore
	history       *store.HistoryStore
	verifications *store.VerificationStore
	mailer        VerificationMailer
	validate      *validator.Validate
	cfg           AccountConfig
	logger        *slog.Logger
	now           func() time.Time
}

// AccountStores groups the stores the account surfaces read and write.
type AccountStores struct {
	Subscribers   *store.SubscriberStore
	Sessions      *store.SessionStore
	History       *store.HistoryStore
	Verifications *store.VerificationStore
}

func NewAccountHandler(stores AccountStores, mailer VerificationMailer, cfg AccountConfig, logger *slog.Logger) *AccountHandler {
	if cfg.CookieName == "" {
		cfg.CookieName = "agendalook_session"
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	if cfg.VerifyTTL <= 0 {
		cfg.VerifyTTL = 24 * time.Hour
	}
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 14
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{
		subscribers:   stores.Subscribers,
		sessions:      stores.Sessions,
		history:       stores.History,
		verifications: stores.Verifications,
		mailer:        mailer,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		cfg:           cfg,
		logger:        logger,
		now:           time.Now,
	}
}

type signupRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// Signup creates a trial subscriber and signs them in.
func (h *AccountHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "a valid email is required"})
		return
	}

	ctx := r.Context()
	if _, err := h.subscribers.GetByEmail(ctx, req.Email); err == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("signup lookup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	now := h.now()
	sub, err := h.subscribers.Create(ctx, req.Email, h.cfg.TrialDays, now)
	if err != nil {
		h.logger.Error("create subscriber", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	sess, err := h.sessions.Create(ctx, sub.ID, h.cfg.SessionTTL, now)
	if err != nil {
		h.logger.Error("create session", "subscriber_id", sub.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(h.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	h.logger.Info("subscriber signed up", "subscriber_id", sub.ID)
	if err := h.sendVerification(ctx, sub, now); err != nil {
		h.logger.Error("issue verification", "subscriber_id", sub.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, sub)
}

// sendVerification issues a fresh token for sub and hands it to the mailer.
func (h *AccountHandler) sendVerification(ctx context.Context, sub *model.Subscriber, now time.Time) error {
	token, expiresAt, err := h.verifications.Issue(ctx, sub.ID, h.cfg.VerifyTTL, now)
	if err != nil {
		return err
	}
	if h.mailer == nil {
		h.logger.Warn("no verification mailer configured", "subscriber_id", sub.ID)
		return nil
	}
	h.mailer.DispatchVerification(notify.Verification{
		SubscriberID: sub.ID,
		Email:        sub.Email,
		Token:        token,
		ExpiresAt:    expiresAt,
	})
	return nil
}

func (h *AccountHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"page":     "login",
		"redirect": r.URL.Query().Get("redirect"),
	})
}

func (h *AccountHandler) VerifyEmailPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"page":     "verify-email",
		"redirect": r.URL.Query().Get("redirect"),
		"token":    r.URL.Query().Get("token"),
	})
}

// VerifyEmail spends the single-use token mailed at signup, read from the
// query string or form body. A session alone never verifies an address.
func (h *AccountHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.FormValue("token"))
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "verification token is required"})
		return
	}

	id, err := h.verifications.Consume(r.Context(), token, h.now())
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrTokenUsed):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid or already used verification link"})
		return
	case errors.Is(err, store.ErrTokenExpired):
		writeJSON(w, http.StatusGone, map[string]string{"error": "verification link expired, request a new one"})
		return
	case err != nil:
		h.logger.Error("consume verification", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	h.logger.Info("email verified", "subscriber_id", id)
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// ResendVerification mails a new token to the signed-in subscriber. Earlier
// tokens stop working. It sits outside the gate, which would otherwise send
// unverified sessions back to the verify page.
func (h *AccountHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cookie, err := r.Cookie(h.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}
	now := h.now()
	sess, err := h.sessions.GetByToken(ctx, cookie.Value, now)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrSessionExpired) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}
	if err != nil {
		h.logger.Error("resend verification session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	sub, err := h.subscribers.GetByID(ctx, sess.SubscriberID)
	if err != nil {
		h.logger.Error("resend verification subscriber", "subscriber_id", sess.SubscriberID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if sub.EmailVerified() {
		writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
		return
	}
	if err := h.sendVerification(ctx, sub, now); err != nil {
		h.logger.Error("issue verification", "subscriber_id", sub.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"sent": true})
}

type planResponse struct {
	Tier  model.PlanTier `json:"tier"`
	Price int64          `json:"price"`
}

// Plans lists the purchasable tiers. trial_expired is echoed so the page can
// explain why the visitor landed here.
func (h *AccountHandler) Plans(w http.ResponseWriter, r *http.Request) {
	plans := make([]planResponse, 0, len(model.PaidTiers))
	for _, t := range model.PaidTiers {
		plans = append(plans, planResponse{Tier: t, Price: h.cfg.Prices[t]})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plans":         plans,
		"trial_expired": r.URL.Query().Get("trial_expired") == "true",
	})
}

func (h *AccountHandler) Onboarding(w http.ResponseWriter, r *http.Request) {
	id := auth.SubscriberID(r.Context())
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}
	o, err := h.subscribers.Onboarding(r.Context(), id)
	if err != nil {
		h.logger.Error("get onboarding", "subscriber_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, onboardingResponse(o))
}

func (h *AccountHandler) CompleteStep(w http.ResponseWriter, r *http.Request) {
	id := auth.SubscriberID(r.Context())
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}
	step := model.OnboardingStep(r.PathValue("step"))
	if !validStep(step) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown step"})
		return
	}

	sub, err := h.subscribers.CompleteOnboardingStep(r.Context(), id, step, h.now())
	switch {
	case errors.Is(err, store.ErrStepOutOfOrder):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "complete the previous steps first"})
		return
	case errors.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "concurrent update, retry"})
		return
	case err != nil:
		h.logger.Error("complete onboarding step", "subscriber_id", id, "step", step, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, onboardingResponse(sub.Onboarding))
}

func validStep(step model.OnboardingStep) bool {
	for _, s := range model.OnboardingSteps {
		if s == step {
			return true
		}
	}
	return false
}

func onboardingResponse(o model.Onboarding) map[string]any {
	next, pending := o.FirstIncomplete()
	return map[string]any{
		"onboarding": o,
		"complete":   !pending,
		"next_step":  next,
	}
}

// Subscription returns the signed-in subscriber's billing state and recent
// payments.
func (h *AccountHandler) Subscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := auth.SubscriberID(ctx)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not signed in"})
		return
	}
	sub, err := h.subscribers.GetByID(ctx, id)
	if err != nil {
		h.logger.Error("get subscriber", "subscriber_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	payments, err := h.history.ListBySubscriber(ctx, id, 20)
	if err != nil {
		h.logger.Error("list payments", "subscriber_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if payments == nil {
		payments = []model.PaymentHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subscriber": sub,
		"payments":   payments,
		"paid_plan":  auth.HasPaidPlan(ctx),
	})
}

func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cfg.CookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			h.logger.Error("delete session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"signed_out": true})
}
