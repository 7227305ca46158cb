/**
 * @description
 * This file defines the payloads that cross process boundaries: incoming
 * payment-provider webhook events and outgoing notification dispatch events
 * published to RabbitMQ for the messaging worker.
 */
package domain

import "time"

// Payment webhook event types this core dispatches on. Anything else is
// acknowledged and ignored.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventCheckoutFailed       = "checkout.session.failed"
	EventCheckoutFraudFlagged = "checkout.session.fraud_flagged"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
)

// PaymentWebhookEvent is a payment-provider event after signature verification.
// The event ID is the idempotency key for provisioning.
type PaymentWebhookEvent struct {
	ID   string                 `json:"id"`
	Type string                 `json:"type"`
	Data PaymentWebhookData     `json:"data"`
	Raw  map[string]interface{} `json:"-"`
}

// PaymentWebhookData carries the fields this core reads from event payloads.
type PaymentWebhookData struct {
	SessionID        string     `json:"session_id,omitempty"`
	SubscriptionID   string     `json:"subscription_id,omitempty"`
	CustomerID       string     `json:"customer_id,omitempty"`
	Plan             string     `json:"plan,omitempty"`
	Status           string     `json:"status,omitempty"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`
}

// ProcessedEvent records a payment-provider event id once handled. Append-only;
// the insert is the serialization point for concurrent deliveries.
type ProcessedEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	ProcessedAt time.Time `json:"processed_at"`
}

// OTPDispatchEvent is published to the notification exchange so the messaging
// worker delivers the code over SMS or WhatsApp.
type OTPDispatchEvent struct {
	IntentID string `json:"intent_id"`
	Phone    string `json:"phone"` // E.164
	Code     string `json:"code"`
	TTL      int    `json:"ttl_seconds"`
}

// IntakeLinkDispatchEvent is published once a tenant is provisioned so the
// admin receives the first-access link.
type IntakeLinkDispatchEvent struct {
	IntentID string `json:"intent_id"`
	ClinicID string `json:"clinic_id"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}
