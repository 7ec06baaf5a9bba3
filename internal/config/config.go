// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/billing"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/gate"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

type Config struct {
	Port      string `env:"APP_PORT" envDefault:"8080"`
	BaseURL   string `env:"APP_BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"agendalook.db"`

	PaymentMode string `env:"PAYMENT_MODE" envDefault:"sandbox"`
	Webhook     WebhookConfig

	TrialDays   int           `env:"TRIAL_DAYS" envDefault:"14"`
	PricePro    int64         `env:"PRICE_PRO" envDefault:"9990"`
	PriceStudio int64         `env:"PRICE_STUDIO" envDefault:"19990"`
	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	VerifyTTL   time.Duration `env:"EMAIL_VERIFY_TTL" envDefault:"24h"`

	Currency         string `env:"CURRENCY" envDefault:"CLP"`
	CurrencyDecimals int    `env:"CURRENCY_DECIMALS" envDefault:"0"`

	Gate GateConfig

	RedisURL         string `env:"REDIS_URL"`
	EventStream      string `env:"EVENT_STREAM" envDefault:"agendalook:events"`
	EventStreamMax   int64  `env:"EVENT_STREAM_MAXLEN" envDefault:"10000"`
	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"agendalook"`

	PostmarkServerToken  string        `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string        `env:"POSTMARK_ACCOUNT_TOKEN"`
	PostmarkFrom         string        `env:"POSTMARK_FROM"`
	NotifyTimeout        time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"10s"`
}

type WebhookConfig struct {
	SecretSandbox   string        `env:"WEBHOOK_SECRET_SANDBOX"`
	SecretLive      string        `env:"WEBHOOK_SECRET_LIVE"`
	SignatureHeader string        `env:"WEBHOOK_SIGNATURE_HEADER" envDefault:"X-Signature"`
	TimestampHeader string        `env:"WEBHOOK_TIMESTAMP_HEADER" envDefault:"X-Timestamp"`
	MaxAge          time.Duration `env:"WEBHOOK_MAX_AGE" envDefault:"5m"`
	Candidates      string        `env:"WEBHOOK_SIGNATURE_CANDIDATES"`
	RateLimit       int           `env:"WEBHOOK_RATE_LIMIT" envDefault:"120"`
	RateWindow      time.Duration `env:"WEBHOOK_RATE_WINDOW" envDefault:"1m"`
}

type GateConfig struct {
	CookieName         string        `env:"GATE_COOKIE_NAME" envDefault:"agendalook_session"`
	ProtectedPrefixes  []string      `env:"GATE_PROTECTED_PREFIXES" envDefault:"/api/,/onboarding" envSeparator:","`
	SetupPrefixes      []string      `env:"GATE_SETUP_PREFIXES" envDefault:"/onboarding" envSeparator:","`
	SignInPath         string        `env:"GATE_SIGNIN_PATH" envDefault:"/login"`
	VerifyPath         string        `env:"GATE_VERIFY_PATH" envDefault:"/verify-email"`
	OnboardingPath     string        `env:"GATE_ONBOARDING_PATH" envDefault:"/onboarding"`
	PlansPath          string        `env:"GATE_PLANS_PATH" envDefault:"/plans"`
	StoreTimeout       time.Duration `env:"GATE_STORE_TIMEOUT" envDefault:"2s"`
	PolicySession      string        `env:"GATE_POLICY_SESSION" envDefault:"open"`
	PolicyOnboarding   string        `env:"GATE_POLICY_ONBOARDING" envDefault:"open"`
	PolicySubscription string        `env:"GATE_POLICY_SUBSCRIPTION" envDefault:"open"`
	PolicyUnexpected   string        `env:"GATE_POLICY_UNEXPECTED" envDefault:"open"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()
	return parse(env.Options{})
}

// LoadFrom parses vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver))
	}

	switch billing.Mode(c.PaymentMode) {
	case billing.ModeSandbox:
		if c.Webhook.SecretSandbox == "" {
			errs = append(errs, errors.New("WEBHOOK_SECRET_SANDBOX is required in sandbox mode"))
		}
	case billing.ModeLive:
		if c.Webhook.SecretLive == "" {
			errs = append(errs, errors.New("WEBHOOK_SECRET_LIVE is required in live mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("PAYMENT_MODE must be sandbox or live, got %q", c.PaymentMode))
	}

	if _, err := billing.ParseCandidates(c.Webhook.Candidates); err != nil {
		errs = append(errs, fmt.Errorf("WEBHOOK_SIGNATURE_CANDIDATES: %w", err))
	}
	if c.Webhook.MaxAge <= 0 {
		errs = append(errs, errors.New("WEBHOOK_MAX_AGE must be positive"))
	}
	if c.Webhook.RateLimit <= 0 || c.Webhook.RateWindow <= 0 {
		errs = append(errs, errors.New("WEBHOOK_RATE_LIMIT and WEBHOOK_RATE_WINDOW must be positive"))
	}
	if c.TrialDays <= 0 {
		errs = append(errs, errors.New("TRIAL_DAYS must be positive"))
	}
	if c.PricePro <= 0 || c.PriceStudio <= 0 {
		errs = append(errs, errors.New("PRICE_PRO and PRICE_STUDIO must be positive"))
	}
	if c.VerifyTTL <= 0 {
		errs = append(errs, errors.New("EMAIL_VERIFY_TTL must be positive"))
	}
	if len(c.Currency) != 3 || c.CurrencyDecimals < 0 || c.CurrencyDecimals > 4 {
		errs = append(errs, fmt.Errorf("CURRENCY must be an ISO 4217 code with 0-4 decimals, got %q/%d", c.Currency, c.CurrencyDecimals))
	}
	if _, err := c.GatePolicies(); err != nil {
		errs = append(errs, err)
	}
	if c.PostmarkServerToken != "" && c.PostmarkFrom == "" {
		errs = append(errs, errors.New("POSTMARK_FROM is required when POSTMARK_SERVER_TOKEN is set"))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return ":" + c.Port
}

// Prices returns the price of each paid tier in minor units.
func (c *Config) Prices() map[model.PlanTier]int64 {
	return map[model.PlanTier]int64{
		model.TierPro:    c.PricePro,
		model.TierStudio: c.PriceStudio,
	}
}

func (c *Config) Verifier() (billing.VerifierConfig, error) {
	candidates, err := billing.ParseCandidates(c.Webhook.Candidates)
	if err != nil {
		return billing.VerifierConfig{}, err
	}
	return billing.VerifierConfig{
		SandboxSecret: c.Webhook.SecretSandbox,
		LiveSecret:    c.Webhook.SecretLive,
		MaxAge:        c.Webhook.MaxAge,
		Candidates:    candidates,
	}, nil
}

func (c *Config) GatePolicies() (gate.Policies, error) {
	raw := map[gate.Domain]string{
		gate.DomainSession:      c.Gate.PolicySession,
		gate.DomainOnboarding:   c.Gate.PolicyOnboarding,
		gate.DomainSubscription: c.Gate.PolicySubscription,
		gate.DomainUnexpected:   c.Gate.PolicyUnexpected,
	}
	policies := make(gate.Policies, len(raw))
	for d, s := range raw {
		p, err := gate.ParsePolicy(s)
		if err != nil {
			return nil, fmt.Errorf("GATE_POLICY_%s: %w", d, err)
		}
		policies[d] = p
	}
	return policies, nil
}

func (c *Config) GateConfig() (gate.Config, error) {
	policies, err := c.GatePolicies()
	if err != nil {
		return gate.Config{}, err
	}
	return gate.Config{
		CookieName:        c.Gate.CookieName,
		ProtectedPrefixes: c.Gate.ProtectedPrefixes,
		SetupPrefixes:     c.Gate.SetupPrefixes,
		SignInPath:        c.Gate.SignInPath,
		VerifyPath:        c.Gate.VerifyPath,
		OnboardingPath:    c.Gate.OnboardingPath,
		PlansPath:         c.Gate.PlansPath,
		StoreTimeout:      c.Gate.StoreTimeout,
		Policies:          policies,
	}, nil
}
