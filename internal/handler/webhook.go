package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/billing"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/events"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/middleware"
)

const maxWebhookBody = 65536

// EventRouter applies a verified, validated payment event.
type EventRouter interface {
	Route(ctx context.Context, ev billing.PaymentEvent) (billing.Result, error)
}

type WebhookConfig struct {
	SignatureHeader string
	TimestampHeader string
	Mode            billing.Mode
}

type WebhookHandler struct {
	verifier  *billing.Verifier
	validator *billing.Validator
	router    EventRouter
	cfg       WebhookConfig
	sink      events.Sink
	logger    *slog.Logger
	now       func() time.Time
}

func NewWebhookHandler(v *billing.Verifier, val *billing.Validator, router EventRouter, cfg WebhookConfig, sink events.Sink, logger *slog.Logger) *WebhookHandler {
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = "X-Signature"
	}
	if cfg.TimestampHeader == "" {
		cfg.TimestampHeader = "X-Timestamp"
	}
	if cfg.Mode == "" {
		cfg.Mode = billing.ModeSandbox
	}
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifier:  v,
		validator: val,
		router:    router,
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
	}
}

type webhookResponse struct {
	Received   bool   `json:"received"`
	Idempotent bool   `json:"idempotent,omitempty"`
	Error      string `json:"error,omitempty"`
}

// HandlePaymentWebhook authenticates, validates and applies one provider
// notification. Only persistence failures answer 5xx so the provider retries.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	remote := middleware.RealIP(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "read body"})
		return
	}

	sig := r.Header.Get(h.cfg.SignatureHeader)
	ts := r.Header.Get(h.cfg.TimestampHeader)
	if sig == "" {
		h.reject(ctx, w, remote, billing.ErrAuthenticationMissing)
		return
	}
	if !h.verifier.Verify(body, sig, ts, h.cfg.Mode) {
		h.reject(ctx, w, remote, billing.ErrSignatureInvalid)
		return
	}

	n, err := billing.ParseNotification(body)
	if err == nil {
		_, err = h.validator.Validate(n)
	}
	if err != nil {
		h.logger.Warn("malformed webhook payload", "remote", remote, "error", err)
		events.Emit(ctx, h.sink, h.logger, events.New(events.WebhookPayloadMalformed, slog.LevelWarn,
			"remote", remote, "error", err.Error()))
		writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "malformed payload"})
		return
	}

	ev := billing.NewPaymentEvent(n, h.now())
	res, err := h.router.Route(ctx, ev)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, webhookResponse{Error: "processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Received:   true,
		Idempotent: res.Disposition == billing.DispositionDuplicate,
	})
}

func (h *WebhookHandler) reject(ctx context.Context, w http.ResponseWriter, remote string, reason error) {
	h.logger.Warn("webhook rejected", "remote", remote, "reason", reason)
	events.Emit(ctx, h.sink, h.logger, events.New(events.WebhookSignatureInvalid, slog.LevelWarn,
		"remote", remote, "missing", errors.Is(reason, billing.ErrAuthenticationMissing)))
	writeJSON(w, http.StatusUnauthorized, webhookResponse{Error: "invalid signature"})
}
