package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mrz1836/postmark"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/model"
)

var ErrNotConfigured = errors.New("postmark notifier not configured")

// PostmarkNotifier sends account and billing emails through Postmark.
type PostmarkNotifier struct {
	client    *postmark.Client
	fromEmail string
	baseURL   string
	currency  string
	decimals  int
}

type Option func(*PostmarkNotifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *PostmarkNotifier) {
		n.client.HTTPClient = c
	}
}

// WithCurrency sets the ISO 4217 code printed with amounts and how many
// minor-unit digits the currency has. The default is CLP with none.
func WithCurrency(code string, decimals int) Option {
	return func(n *PostmarkNotifier) {
		if code != "" {
			n.currency = code
		}
		if decimals >= 0 {
			n.decimals = decimals
		}
	}
}

func NewPostmarkNotifier(serverToken, accountToken, fromEmail, baseURL string, opts ...Option) (*PostmarkNotifier, error) {
	if serverToken == "" || fromEmail == "" {
		return nil, fmt.Errorf("%w: server token and sender are required", ErrNotConfigured)
	}
	n := &PostmarkNotifier{
		client:    postmark.NewClient(serverToken, accountToken),
		fromEmail: fromEmail,
		baseURL:   baseURL,
		currency:  "CLP",
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

func (n *PostmarkNotifier) SubscriptionActivated(ctx context.Context, act Activation) error {
	if act.Email == "" {
		return fmt.Errorf("activation %s: missing recipient", act.SubscriberID)
	}

	plan := planName(act)
	link := n.baseURL + "/api/subscription"
	subject := fmt.Sprintf("Your Agendalook %s plan is active", plan)
	amount := formatAmount(act.Amount, n.currency, n.decimals)
	textBody := fmt.Sprintf(
		"Thanks for your payment of %s. Your %s plan is active until %s.\n\nManage your subscription: %s",
		amount, plan, act.NextPaymentAt.Format("2006-01-02"), link,
	)
	htmlBody := fmt.Sprintf(
		`<p>Thanks for your payment of %s.</p><p>Your %s plan is active until %s.</p><p><a href="%s">Manage your subscription</a></p>`,
		amount, plan, act.NextPaymentAt.Format("2006-01-02"), link,
	)

	return n.send(ctx, postmark.Email{
		From:       n.fromEmail,
		To:         act.Email,
		Subject:    subject,
		Tag:        "subscription-activated",
		HTMLBody:   htmlBody,
		TextBody:   textBody,
		TrackOpens: true,
	}, "activation")
}

func (n *PostmarkNotifier) EmailVerification(ctx context.Context, v Verification) error {
	if v.Email == "" {
		return fmt.Errorf("verification %s: missing recipient", v.SubscriberID)
	}
	if v.Token == "" {
		return fmt.Errorf("verification %s: missing token", v.SubscriberID)
	}

	link := n.baseURL + "/verify-email?" + url.Values{"token": {v.Token}}.Encode()
	expires := v.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")
	return n.send(ctx, postmark.Email{
		From:     n.fromEmail,
		To:       v.Email,
		Subject:  "Confirm your Agendalook email",
		Tag:      "email-verification",
		TextBody: fmt.Sprintf("Confirm your email address: %s\n\nThe link works once and expires %s.", link, expires),
		HTMLBody: fmt.Sprintf(`<p><a href="%s">Confirm your email address</a></p><p>The link works once and expires %s.</p>`, link, expires),
	}, "verification")
}

func (n *PostmarkNotifier) send(ctx context.Context, email postmark.Email, kind string) error {
	resp, err := n.client.SendEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("send %s email: %w", kind, err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}

// formatAmount renders an amount in minor units as "CODE major.minor".
func formatAmount(amount int64, currency string, decimals int) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	if decimals <= 0 {
		return fmt.Sprintf("%s %s%d", currency, sign, amount)
	}
	scale := int64(1)
	for range decimals {
		scale *= 10
	}
	return fmt.Sprintf("%s %s%d.%0*d", currency, sign, amount/scale, decimals, amount%scale)
}

func planName(act Activation) string {
	switch act.PlanTier {
	case model.TierPro:
		return "Pro"
	case model.TierStudio:
		return "Studio"
	default:
		return string(act.PlanTier)
	}
}
