// Package gate is the access gate in front of every protected route. It
// resolves the session, then checks email verification, onboarding progress
// and the trial deadline, in that order, stopping at the first failure.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/auth"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/events"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/store"
)

type Sessions interface {
	GetByToken(ctx context.Context, token string, now time.Time) (*model.Session, error)
}

type Subscribers interface {
	GetByID(ctx context.Context, id string) (*model.Subscriber, error)
	ExpireTrial(ctx context.Context, id string, version int64, now time.Time) (bool, error)
}

// OnboardingSource reports setup-flow progress.
type OnboardingSource interface {
	Onboarding(ctx context.Context, subscriberID string) (model.Onboarding, error)
}

type Config struct {
	CookieName        string
	ProtectedPrefixes []string
	// SetupPrefixes are reachable before onboarding is complete and after
	// the trial ran out.
	SetupPrefixes  []string
	SignInPath     string
	VerifyPath     string
	OnboardingPath string
	PlansPath      string
	StoreTimeout   time.Duration
	Policies       Policies
}

func (c *Config) setDefaults() {
	if c.CookieName == "" {
		c.CookieName = "agendalook_session"
	}
	if c.SignInPath == "" {
		c.SignInPath = "/login"
	}
	if c.VerifyPath == "" {
		c.VerifyPath = "/verify-email"
	}
	if c.OnboardingPath == "" {
		c.OnboardingPath = "/onboarding"
	}
	if c.PlansPath == "" {
		c.PlansPath = "/plans"
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 2 * time.Second
	}
}

type Gate struct {
	sessions    Sessions
	subscribers Subscribers
	onboarding  OnboardingSource
	cfg         Config
	sink        events.Sink
	logger      *slog.Logger
	now         func() time.Time
}

func New(sessions Sessions, subscribers Subscribers, onboarding OnboardingSource, cfg Config, sink events.Sink, logger *slog.Logger) *Gate {
	cfg.setDefaults()
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		sessions:    sessions,
		subscribers: subscribers,
		onboarding:  onboarding,
		cfg:         cfg,
		sink:        sink,
		logger:      logger,
		now:         time.Now,
	}
}

type decision struct {
	redirect string
	identity *auth.AuthContext
}

// Middleware enforces the gate on protected prefixes and passes other
// requests through untouched.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !hasPrefix(r.URL.Path, g.cfg.ProtectedPrefixes) {
			next.ServeHTTP(w, r)
			return
		}

		d := g.evaluate(r)
		if d.redirect != "" {
			redirect(w, r, d.redirect)
			return
		}
		if d.identity != nil {
			r = r.WithContext(auth.WithAuth(r.Context(), *d.identity))
		}
		next.ServeHTTP(w, r)
	})
}

// evaluate runs the checks. A panic in any of them is handled by the
// unexpected-domain policy.
func (g *Gate) evaluate(r *http.Request) (d decision) {
	defer func() {
		if rec := recover(); rec != nil {
			d = g.fail(r, DomainUnexpected, fmt.Errorf("panic: %v", rec))
		}
	}()
	return g.check(r)
}

func (g *Gate) check(r *http.Request) decision {
	now := g.now().UTC()
	dest := r.URL.RequestURI()

	cookie, err := r.Cookie(g.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return decision{redirect: withRedirect(g.cfg.SignInPath, dest)}
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.cfg.StoreTimeout)
	defer cancel()

	sess, err := g.sessions.GetByToken(ctx, cookie.Value, now)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrSessionExpired) {
		return decision{redirect: withRedirect(g.cfg.SignInPath, dest)}
	}
	if err != nil {
		return g.fail(r, DomainSession, err)
	}

	sub, err := g.subscribers.GetByID(ctx, sess.SubscriberID)
	if errors.Is(err, store.ErrNotFound) {
		return decision{redirect: withRedirect(g.cfg.SignInPath, dest)}
	}
	if err != nil {
		// Email verification cannot be checked without the row, so this
		// denies under either policy.
		return g.deny(r, DomainSession, err)
	}

	if !sub.EmailVerified() {
		return decision{redirect: withRedirect(g.cfg.VerifyPath, dest)}
	}

	setup := hasPrefix(r.URL.Path, g.cfg.SetupPrefixes)
	if !setup {
		progress, err := g.onboarding.Onboarding(ctx, sub.ID)
		if err != nil {
			return g.fail(r, DomainOnboarding, err)
		}
		if step, incomplete := progress.FirstIncomplete(); incomplete {
			return decision{redirect: g.cfg.OnboardingPath + "/" + string(step)}
		}

		sub, err = g.expireTrial(ctx, sub, now)
		if err != nil {
			return g.fail(r, DomainSubscription, err)
		}
		if sub.TrialLapsed(now) || (sub.PlanTier == model.TierTrial && sub.Status == model.StatusExpired) {
			events.Emit(ctx, g.sink, g.logger, events.New(events.GateTrialExpired, slog.LevelInfo,
				"subscriber_id", sub.ID, "path", r.URL.Path))
			return decision{redirect: g.cfg.PlansPath + "?trial_expired=true"}
		}
	}

	return decision{identity: &auth.AuthContext{
		SubscriberID: sub.ID,
		Email:        sub.Email,
		PlanTier:     sub.PlanTier,
		Status:       sub.Status,
		SessionToken: sess.Token,
	}}
}

// expireTrial performs the lazy trial to expired transition. When the
// conditional write loses to a concurrent change the row is re-read and the
// fresh state decides.
func (g *Gate) expireTrial(ctx context.Context, sub *model.Subscriber, now time.Time) (*model.Subscriber, error) {
	for attempt := 0; attempt < 3 && sub.TrialExpired(now); attempt++ {
		ok, err := g.subscribers.ExpireTrial(ctx, sub.ID, sub.Version, now)
		if err != nil {
			return nil, err
		}
		if ok {
			g.logger.Info("trial expired", "subscriber_id", sub.ID, "trial_end", sub.TrialEnd)
			expired := sub.Clone()
			expired.Status = model.StatusExpired
			expired.Version++
			return expired, nil
		}
		sub, err = g.subscribers.GetByID(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
	}
	return sub, nil
}

// fail applies the domain's policy to a check that could not complete.
func (g *Gate) fail(r *http.Request, domain Domain, err error) decision {
	if g.cfg.Policies.For(domain) == PolicyClosed {
		return g.deny(r, domain, err)
	}
	g.logger.Warn("gate check failed, allowing", "domain", domain, "path", r.URL.Path, "error", err)
	events.Emit(r.Context(), g.sink, g.logger, events.New(events.GateFailOpen, slog.LevelWarn,
		"domain", string(domain), "path", r.URL.Path, "error", err.Error()))
	return decision{}
}

// deny rejects a request whose check could not complete, ignoring the
// domain's policy.
func (g *Gate) deny(r *http.Request, domain Domain, err error) decision {
	g.logger.Warn("gate check failed, denying", "domain", domain, "path", r.URL.Path, "error", err)
	events.Emit(r.Context(), g.sink, g.logger, events.New(events.GateFailClosed, slog.LevelWarn,
		"domain", string(domain), "path", r.URL.Path, "error", err.Error()))
	return decision{redirect: withRedirect(g.cfg.SignInPath, r.URL.RequestURI())}
}

func withRedirect(target, dest string) string {
	return target + "?" + url.Values{"redirect": {dest}}.Encode()
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// redirect is HTMX-aware: HTMX requests get an HX-Redirect header instead of
// a 303.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
