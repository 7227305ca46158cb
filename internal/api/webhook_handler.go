/**
 * @description
 * This file contains the HTTP handler for incoming payment-provider webhooks.
 * It is the entry point for the billing events that drive tenant provisioning.
 *
 * Key features:
 * - Security: validates the HMAC-SHA256 signature of every delivery before
 *   any parsing beyond the raw body read.
 * - Idempotency: delegates to the provisioning engine, which claims the event
 *   id before acting; duplicate deliveries return 200 without side effects.
 * - Retry semantics: a provisioning failure returns 500 so the provider
 *   redelivers; everything handled (or safely ignorable) returns 200.
 */
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/app"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/domain"
)

// signatureHeader carries the provider's HMAC of the raw body.
const signatureHeader = "X-Payment-Signature"

// maxWebhookBody bounds the buffered body read.
const maxWebhookBody = 1 << 20

// PaymentWebhookHandler processes incoming webhooks from the payment provider.
type PaymentWebhookHandler struct {
	provisioner *app.Provisioner
	secret      string
	logger      *slog.Logger
}

// NewPaymentWebhookHandler creates the webhook endpoint handler.
func NewPaymentWebhookHandler(provisioner *app.Provisioner, secret string, logger *slog.Logger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{provisioner: provisioner, secret: secret, logger: logger}
}

// ServeHTTP implements the http.Handler interface.
func (h *PaymentWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. Buffer the body: the signature covers the raw bytes.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	// 2. Validate the signature before trusting anything in the payload.
	if !h.isValidSignature(r.Header.Get(signatureHeader), body) {
		h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	// 3. Decode the event.
	var event domain.PaymentWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to decode webhook payload", "error", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	h.logger.Info("payment webhook received", "event_id", event.ID, "type", event.Type)

	// 4. Hand off to the provisioning engine.
	if err := h.provisioner.ProcessPaymentEvent(r.Context(), event); err != nil {
		var verr *domain.ErrValidation
		if errors.As(err, &verr) {
			http.Error(w, "Invalid event", http.StatusBadRequest)
			return
		}
		// Anything else must be retried by the provider.
		h.logger.Error("webhook processing failed", "event_id", event.ID, "error", err)
		http.Error(w, "Event processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// isValidSignature checks the provider's HMAC-SHA256 over the raw body. Both
// hex and base64 encodings are accepted, with or without a "sha256=" prefix;
// all comparisons are constant time.
func (h *PaymentWebhookHandler) isValidSignature(header string, body []byte) bool {
	if h.secret == "" {
		// Refuse everything rather than run open.
		h.logger.Error("webhook secret not configured, rejecting delivery")
		return false
	}

	provided := strings.TrimSpace(header)
	if provided == "" {
		return false
	}
	provided = strings.TrimPrefix(provided, "sha256=")

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(provided); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(provided); err == nil {
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}
