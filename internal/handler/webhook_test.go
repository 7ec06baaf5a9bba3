package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/billing"
	"github.com/marcelocoliqueo/agendalook-cl-sub000/internal/events"
)

const testWebhookSecret = "whsec_test"

type stubRouter struct {
	res   billing.Result
	err   error
	calls []billing.PaymentEvent
}

func (s *stubRouter) Route(ctx context.Context, ev billing.PaymentEvent) (billing.Result, error) {
	s.calls = append(s.calls, ev)
	return s.res, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupWebhook(router EventRouter) (*WebhookHandler, *billing.Verifier, *events.Recorder) {
	v := billing.NewVerifier(billing.VerifierConfig{SandboxSecret: testWebhookSecret})
	rec := &events.Recorder{}
	h := NewWebhookHandler(v, billing.NewValidator(), router, WebhookConfig{}, rec, discardLogger())
	return h, v, rec
}

const approvedBody = `{"id":"evt_1","type":"payment","data":{"id":"pay_1","status":"approved","external_reference":"subscription_pro_abc","transaction_amount":9990,"payer":{"id":"payer_1"}}}`

func signedRequest(v *billing.Verifier, body string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", v.Sign([]byte(body), ts, billing.ModeSandbox))
	return req
}

func decodeWebhook(t *testing.T, rr *httptest.ResponseRecorder) webhookResponse {
	t.Helper()
	var resp webhookResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp
}

func TestWebhookApplied(t *testing.T) {
	router := &stubRouter{res: billing.Result{Disposition: billing.DispositionApplied}}
	h, v, _ := setupWebhook(router)

	rr := httptest.NewRecorder()
	h.HandlePaymentWebhook(rr, signedRequest(v, approvedBody))

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decodeWebhook(t, rr)
	assert.True(t, resp.Received)
	assert.False(t, resp.Idempotent)

	require.Len(t, router.calls, 1)
	ev := router.calls[0]
	assert.Equal(t, "evt_1", ev.EventID)
	assert.Equal(t, billing.EventPayment, ev.Type)
	assert.Equal(t, "subscription_pro_abc", ev.ExternalReference)
	assert.Equal(t, "payer_1", ev.PayerRef)
	require.NotNil(t, ev.Amount)
	assert.Equal(t, int64(9990), *ev.Amount)
}

func TestWebhookDuplicate(t *testing.T) {
	h, v, _ := setupWebhook(&stubRouter{res: billing.Result{Disposition: billing.DispositionDuplicate}})

	rr := httptest.NewRecorder()
	h.HandlePaymentWebhook(rr, signedRequest(v, approvedBody))

	assert.Equal(t, http.StatusOK, rr.Code)
	resp := decodeWebhook(t, rr)
	assert.True(t, resp.Received)
	assert.True(t, resp.Idempotent)
}

func TestWebhookAcknowledgesUnresolvedEvents(t *testing.T) {
	for _, d := range []billing.Disposition{billing.DispositionUnknownReference, billing.DispositionSubscriberNotFound, billing.DispositionIgnored} {
		t.Run(string(d), func(t *testing.T) {
			h, v, _ := setupWebhook(&stubRouter{res: billing.Result{Disposition: d}})
			rr := httptest.NewRecorder()
			h.HandlePaymentWebhook(rr, signedRequest(v, approvedBody))
			assert.Equal(t, http.StatusOK, rr.Code)
		})
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	router := &stubRouter{}
	h, _, rec := setupWebhook(router)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(approvedBody))
	rr := httptest.NewRecorder()
	h.HandlePaymentWebhook(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, router.calls)
	assert.Equal(t, 1, rec.Count(events.WebhookSignatureInvalid))
}

func TestWebhookBadSignature(t *testing.T) {
	router := &stubRouter{}
	h, v, rec := setupWebhook(router)

	req := signedRequest(v, approvedBody)
	// Body altered after signing.
	req.Body = io.NopCloser(strings.NewReader(strings.Replace(approvedBody, "9990", "1", 1)))
	rr := httptest.NewRecorder()
	h.HandlePaymentWebhook(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, router.calls)
	assert.Equal(t, 1, rec.Count(events.WebhookSignatureInvalid))
}

func TestWebhookStaleTimestamp(t *testing.T) {
	router := &stubRouter{}
	h, v, _ := setupWebhook(router)

	ts := strconv.FormatInt(time.Now().Add(-10*time.Minute).Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(approvedBody))
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", v.Sign([]byte(approvedBody), ts, billing.ModeSandbox))
	rr := httptest.NewRecorder()
	h.HandlePaymentWebhook(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, router.calls)
}

func TestWebhookMalformedPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"id":`},
		{"missing type", `{"id":"evt_1","data":{"id":"pay_1","status":"approved"}}`},
		{"missing data", `{"id":"evt_1","type":"payment"}`},
		{"payment without status", `{"id":"evt_1","type":"payment","data":{"id":"pay_1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := &stubRouter{}
			h, v, rec := setupWebhook(router)

			rr := httptest.NewRecorder()
			h.HandlePaymentWebhook(rr, signedRequest(v, tt.body))

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Empty(t, router.calls)
			assert.Equal(t, 1, rec.Count(events.WebhookPayloadMalformed))
		})
	}
}

func TestWebhookPersistenceFailure(t *testing.T) {
	h, v, _ := setupWebhook(&stubRouter{err: errors.Join(billing.ErrPersistence, errors.New("db down"))})

	rr := httptest.NewRecorder()
	h.HandlePaymentWebhook(rr, signedRequest(v, approvedBody))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decodeWebhook(t, rr)
	assert.False(t, resp.Received)
	assert.Equal(t, "processing failed", resp.Error)
}

func TestWebhookLiveMode(t *testing.T) {
	v := billing.NewVerifier(billing.VerifierConfig{SandboxSecret: "sandbox", LiveSecret: "live"})
	router := &stubRouter{res: billing.Result{Disposition: billing.DispositionApplied}}
	h := NewWebhookHandler(v, billing.NewValidator(), router, WebhookConfig{Mode: billing.ModeLive}, nil, discardLogger())

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sandboxSigned := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(approvedBody))
	sandboxSigned.Header.Set("X-Timestamp", ts)
	sandboxSigned.Header.Set("X-Signature", v.Sign([]byte(approvedBody), ts, billing.ModeSandbox))
	rr := httptest.NewRecorder()
	h.HandlePaymentWebhook(rr, sandboxSigned)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	liveSigned := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(approvedBody))
	liveSigned.Header.Set("X-Timestamp", ts)
	liveSigned.Header.Set("X-Signature", v.Sign([]byte(approvedBody), ts, billing.ModeLive))
	rr = httptest.NewRecorder()
	h.HandlePaymentWebhook(rr, liveSigned)
	assert.Equal(t, http.StatusOK, rr.Code)
}
