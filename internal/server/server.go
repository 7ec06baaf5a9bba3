package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/billing"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/database"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/events"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/gate"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/handler"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/middleware"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/store"
)

type Server struct {
	db           *database.DB
	sessionStore *store.SessionStore
	webhookH     *handler.WebhookHandler
	accountH     *handler.AccountHandler
	gate         *gate.Gate
	limiter      middleware.Limiter
	rateLimiter  *middleware.RateLimiter
	gatherer     prometheus.Gatherer
	cfg          Config
	sink         events.Sink
	logger       *slog.Logger
}

type Config struct {
	Verifier   billing.VerifierConfig
	Webhook    handler.WebhookConfig
	RateLimit  int
	RateWindow time.Duration
	Gate       gate.Config
	Account    handler.AccountConfig
	Prices     map[model.PlanTier]int64
}

// Deps are the collaborators built outside the server. Limiter defaults to
// an in-memory limiter and Gatherer, when nil, disables /metrics.
type Deps struct {
	Limiter     middleware.Limiter
	Sink        events.Sink
	Activations billing.Activations
	Mailer      handler.VerificationMailer
	Gatherer    prometheus.Gatherer
}

func New(db *database.DB, cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Sink == nil {
		deps.Sink = events.Nop{}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 120
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	subscriberStore := store.NewSubscriberStore(db)
	sessionStore := store.NewSessionStore(db)
	historyStore := store.NewHistoryStore(db)

	router := billing.NewRouter(db, cfg.Prices, deps.Activations, deps.Sink, logger.With("component", "billing"))
	webhookH := handler.NewWebhookHandler(
		billing.NewVerifier(cfg.Verifier),
		billing.NewValidator(),
		router,
		cfg.Webhook,
		deps.Sink,
		logger.With("component", "webhook"),
	)

	if cfg.Account.Prices == nil {
		cfg.Account.Prices = cfg.Prices
	}
	if cfg.Account.CookieName == "" {
		cfg.Account.CookieName = cfg.Gate.CookieName
	}
	accountH := handler.NewAccountHandler(handler.AccountStores{
		Subscribers:   subscriberStore,
		Sessions:      sessionStore,
		History:       historyStore,
		Verifications: store.NewVerificationStore(db),
	}, deps.Mailer, cfg.Account, logger.With("component", "account"))

	g := gate.New(sessionStore, subscriberStore, subscriberStore, cfg.Gate, deps.Sink, logger.With("component", "gate"))

	s := &Server{
		db:           db,
		sessionStore: sessionStore,
		webhookH:     webhookH,
		accountH:     accountH,
		gate:         g,
		limiter:      deps.Limiter,
		gatherer:     deps.Gatherer,
		cfg:          cfg,
		sink:         deps.Sink,
		logger:       logger,
	}
	if s.limiter == nil {
		s.rateLimiter = middleware.NewRateLimiter()
		s.limiter = s.rateLimiter
	}
	return s
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// RateLimiter returns the in-memory rate limiter for cleanup tasks, or nil
// when an external limiter was supplied.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Payment provider webhook (public, signature-authenticated)
	mux.HandleFunc("POST /webhooks/payments", s.rateLimitedHandler("webhook", s.webhookH.HandlePaymentWebhook, s.cfg.RateLimit, s.cfg.RateWindow))

	// Public account routes
	mux.HandleFunc("POST /signup", s.rateLimitedHandler("signup", s.accountH.Signup, 10, time.Minute))
	mux.HandleFunc("GET /login", s.accountH.LoginPage)
	mux.HandleFunc("GET /verify-email", s.accountH.VerifyEmailPage)
	mux.HandleFunc("POST /verify-email", s.rateLimitedHandler("verify", s.accountH.VerifyEmail, 20, time.Minute))
	mux.HandleFunc("POST /verify-email/resend", s.rateLimitedHandler("verify-resend", s.accountH.ResendVerification, 5, time.Minute))
	mux.HandleFunc("GET /plans", s.accountH.Plans)
	mux.HandleFunc("POST /logout", s.accountH.Logout)

	// Gated by prefix, see gate.Config.ProtectedPrefixes
	mux.HandleFunc("GET /onboarding", s.accountH.Onboarding)
	mux.HandleFunc("GET /onboarding/{step}", s.accountH.Onboarding)
	mux.HandleFunc("POST /onboarding/{step}", s.accountH.CompleteStep)
	mux.HandleFunc("GET /api/subscription", s.accountH.Subscription)

	return middleware.RequestLogger(s.logger)(s.gate.Middleware(mux))
}

func (s *Server) rateLimitedHandler(scope string, h http.HandlerFunc, limit int, window time.Duration) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return scope + ":" + middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.limiter, keyFunc, limit, window, middleware.RateLimitOptions{
		Logger: s.logger,
		OnLimited: func(r *http.Request, key string) {
			events.Emit(r.Context(), s.sink, s.logger, events.New(events.RateLimited, slog.LevelWarn,
				"scope", scope, "key", key, "path", r.URL.Path))
		},
	})
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
