package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/app"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/store"
)

const webhookTestSecret = "whsec_test"

// webhookRepoStub overrides only the idempotency-guard methods; the webhook
// handler tests never get past them.
type webhookRepoStub struct {
	store.Repository
	insertResult bool
	insertErr    error
	insertCalls  int
}

func (s *webhookRepoStub) InsertProcessedEvent(_ context.Context, _, _ string) (bool, error) {
	s.insertCalls++
	if s.insertErr != nil {
		return false, s.insertErr
	}
	return s.insertResult, nil
}

func (s *webhookRepoStub) DeleteProcessedEvent(_ context.Context, _ string) error {
	return nil
}

func newWebhookHandler(repo store.Repository) *PaymentWebhookHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provisioner := app.NewProvisioner(repo, nil, logger, "pii-key")
	return NewPaymentWebhookHandler(provisioner, webhookTestSecret, logger)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, h *PaymentWebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_RejectsMissingSignature(t *testing.T) {
	h := newWebhookHandler(&webhookRepoStub{insertResult: true})
	body := []byte(`{"id":"evt_1","type":"invoice.created"}`)

	rec := postWebhook(t, h, body, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhook_RejectsTamperedBody(t *testing.T) {
	repo := &webhookRepoStub{insertResult: true}
	h := newWebhookHandler(repo)

	signature := signBody(webhookTestSecret, []byte(`{"id":"evt_1","type":"invoice.created"}`))
	tampered := []byte(`{"id":"evt_666","type":"invoice.created"}`)

	rec := postWebhook(t, h, tampered, signature)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered body, got %d", rec.Code)
	}
	if repo.insertCalls != 0 {
		t.Fatal("rejected delivery must not touch the store")
	}
}

func TestWebhook_AcceptsValidSignature(t *testing.T) {
	repo := &webhookRepoStub{insertResult: true}
	h := newWebhookHandler(repo)
	body := []byte(`{"id":"evt_1","type":"invoice.created"}`)

	rec := postWebhook(t, h, body, signBody(webhookTestSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if repo.insertCalls != 1 {
		t.Fatalf("expected the event to be claimed once, got %d calls", repo.insertCalls)
	}
}

func TestWebhook_AcceptsPrefixedSignature(t *testing.T) {
	h := newWebhookHandler(&webhookRepoStub{insertResult: true})
	body := []byte(`{"id":"evt_1","type":"invoice.created"}`)

	rec := postWebhook(t, h, body, "sha256="+signBody(webhookTestSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for prefixed signature, got %d", rec.Code)
	}
}

func TestWebhook_DuplicateDeliveryReturns200(t *testing.T) {
	// insertResult=false simulates an event id that was already claimed.
	h := newWebhookHandler(&webhookRepoStub{insertResult: false})
	body := []byte(`{"id":"evt_1","type":"checkout.session.completed","data":{"session_id":"cs_1"}}`)

	rec := postWebhook(t, h, body, signBody(webhookTestSecret, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate delivery, got %d", rec.Code)
	}
}

func TestWebhook_StoreFailureReturns500(t *testing.T) {
	h := newWebhookHandler(&webhookRepoStub{insertErr: errors.New("db down")})
	body := []byte(`{"id":"evt_1","type":"invoice.created"}`)

	rec := postWebhook(t, h, body, signBody(webhookTestSecret, body))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the provider redelivers, got %d", rec.Code)
	}
}

func TestWebhook_RejectsInvalidJSON(t *testing.T) {
	h := newWebhookHandler(&webhookRepoStub{insertResult: true})
	body := []byte(`{not json`)

	rec := postWebhook(t, h, body, signBody(webhookTestSecret, body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", rec.Code)
	}
}

func TestWebhook_RejectsEventWithoutID(t *testing.T) {
	h := newWebhookHandler(&webhookRepoStub{insertResult: true})
	body := []byte(`{"type":"invoice.created"}`)

	rec := postWebhook(t, h, body, signBody(webhookTestSecret, body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for event without id, got %d", rec.Code)
	}
}
