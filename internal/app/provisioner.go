/**
 * @description
 * This file contains the billing-triggered provisioning engine. Payment
 * provider webhook events arrive here after signature verification and drive
 * the tenant lifecycle: a completed checkout provisions the tenant exactly
 * once, failure events route the intent back to VERIFIED or into BLOCKED, and
 * subscription events keep the local subscription mirror current.
 *
 * @notes
 * - The processed-events insert is the idempotency claim. When provisioning
 *   fails after the claim, the claim is released again so the provider's
 *   redelivery re-drives the whole event instead of being swallowed as a
 *   duplicate.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/domain"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/store"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/crypto"
)

// Provisioner turns verified payment events into tenants.
type Provisioner struct {
	repo      store.Repository
	publisher EventPublisher
	logger    *slog.Logger

	piiKey string
}

// NewProvisioner wires the provisioning engine.
func NewProvisioner(repo store.Repository, publisher EventPublisher, logger *slog.Logger, piiKey string) *Provisioner {
	return &Provisioner{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		piiKey:    piiKey,
	}
}

// ProcessPaymentEvent handles one verified webhook event. A nil return means
// the event is fully handled (or a duplicate) and the provider may stop
// redelivering; an error means the delivery must be retried.
func (p *Provisioner) ProcessPaymentEvent(ctx context.Context, event domain.PaymentWebhookEvent) error {
	if event.ID == "" || event.Type == "" {
		return &domain.ErrValidation{Field: "event", Message: "Evento sem id ou tipo"}
	}

	inserted, err := p.repo.InsertProcessedEvent(ctx, event.ID, event.Type)
	if err != nil {
		return &domain.ErrProvisioning{EventID: event.ID, Err: err}
	}
	if !inserted {
		p.logger.Info("duplicate payment event ignored", "event_id", event.ID, "type", event.Type)
		return nil
	}

	if err := p.dispatch(ctx, event); err != nil {
		// Release the idempotency claim so the provider's redelivery re-drives
		// the event in full.
		if delErr := p.repo.DeleteProcessedEvent(ctx, event.ID); delErr != nil {
			p.logger.Error("failed to release processed-event claim",
				"event_id", event.ID, "error", delErr)
		}
		return &domain.ErrProvisioning{EventID: event.ID, Err: err}
	}
	return nil
}

func (p *Provisioner) dispatch(ctx context.Context, event domain.PaymentWebhookEvent) error {
	switch event.Type {
	case domain.EventCheckoutCompleted:
		return p.handleCheckoutCompleted(ctx, event)
	case domain.EventCheckoutFailed:
		return p.handleCheckoutClosed(ctx, event, domain.IntentVerified)
	case domain.EventCheckoutFraudFlagged:
		return p.handleCheckoutClosed(ctx, event, domain.IntentBlocked)
	case domain.EventSubscriptionUpdated:
		return p.handleSubscriptionUpdate(ctx, event, event.Data.Status)
	case domain.EventSubscriptionCanceled:
		return p.handleSubscriptionUpdate(ctx, event, "canceled")
	default:
		// Unknown event types are acknowledged, not retried.
		p.logger.Info("unhandled payment event type", "event_id", event.ID, "type", event.Type)
		return nil
	}
}

// handleCheckoutCompleted provisions the tenant for the intent behind the
// checkout session.
func (p *Provisioner) handleCheckoutCompleted(ctx context.Context, event domain.PaymentWebhookEvent) error {
	if event.Data.SessionID == "" {
		return fmt.Errorf("checkout completed event %s has no session id", event.ID)
	}

	intent, err := p.repo.GetIntentByCheckoutSession(ctx, event.Data.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrIntentNotFound) {
			// The session row may land after the webhook under heavy load;
			// retry via redelivery rather than dropping the payment.
			return fmt.Errorf("no intent for checkout session %s", event.Data.SessionID)
		}
		return fmt.Errorf("load intent for session %s: %w", event.Data.SessionID, err)
	}

	if intent.Status == domain.IntentConverted {
		p.logger.Info("intent already converted, skipping provisioning",
			"intent_id", intent.ID, "event_id", event.ID)
		return nil
	}

	if err := p.repo.UpsertProvisioningJob(ctx, intent.ID, domain.ProvisioningPending, nil); err != nil {
		return fmt.Errorf("record provisioning job: %w", err)
	}

	var userID string
	if intent.UserID != nil {
		userID = *intent.UserID
	}
	seed := domain.TenantSeed{
		IntentID:               intent.ID,
		ClinicName:             intent.ClinicName,
		AdminName:              intent.AdminName,
		AdminEmail:             intent.Email,
		UserID:                 userID,
		PasswordHash:           intent.PasswordHash,
		Plan:                   event.Data.Plan,
		ExternalSubscriptionID: event.Data.SubscriptionID,
		ExternalCustomerID:     event.Data.CustomerID,
		CurrentPeriodEnd:       event.Data.CurrentPeriodEnd,
	}

	tenant, err := p.repo.ProvisionTenant(ctx, seed)
	if err != nil {
		msg := err.Error()
		if jobErr := p.repo.UpsertProvisioningJob(ctx, intent.ID, domain.ProvisioningFailed, &msg); jobErr != nil {
			p.logger.Error("failed to record provisioning failure",
				"intent_id", intent.ID, "error", jobErr)
		}
		return fmt.Errorf("provision tenant for intent %s: %w", intent.ID, err)
	}

	if err := p.repo.UpsertProvisioningJob(ctx, intent.ID, domain.ProvisioningSucceeded, nil); err != nil {
		p.logger.Error("failed to record provisioning success",
			"intent_id", intent.ID, "error", err)
	}

	p.logger.Info("tenant provisioned",
		"intent_id", intent.ID,
		"clinic_id", tenant.Clinic.ID,
		"event_id", event.ID,
	)

	p.dispatchIntakeLink(ctx, intent, tenant)
	return nil
}

// dispatchIntakeLink notifies the admin that the clinic is ready. Best effort:
// the tenant already exists, so a delivery failure must not fail the event.
func (p *Provisioner) dispatchIntakeLink(ctx context.Context, intent *domain.SignupIntent, tenant *domain.Tenant) {
	phone, err := crypto.Decrypt(p.piiKey, intent.PhoneEncrypted)
	if err != nil {
		p.logger.Error("failed to decrypt phone for intake link",
			"intent_id", intent.ID, "error", err)
		return
	}

	event := domain.IntakeLinkDispatchEvent{
		IntentID: intent.ID,
		ClinicID: tenant.Clinic.ID,
		Phone:    phone,
		Email:    intent.Email,
	}
	if err := p.publisher.Publish(ctx, notificationExchange, "signup.intake_link", event); err != nil {
		p.logger.Error("failed to publish intake link event",
			"intent_id", intent.ID, "error", err)
	}
}

// handleCheckoutClosed routes a failed or fraud-flagged checkout. Payment
// failures return the intent to VERIFIED so the client can retry checkout;
// fraud flags block it for good.
func (p *Provisioner) handleCheckoutClosed(ctx context.Context, event domain.PaymentWebhookEvent, target domain.IntentStatus) error {
	if event.Data.SessionID == "" {
		return fmt.Errorf("checkout event %s has no session id", event.ID)
	}

	intent, err := p.repo.GetIntentByCheckoutSession(ctx, event.Data.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrIntentNotFound) {
			// Session never made it into our store; nothing to roll back.
			p.logger.Warn("checkout event for unknown session",
				"event_id", event.ID, "session_id", event.Data.SessionID)
			return nil
		}
		return fmt.Errorf("load intent for session %s: %w", event.Data.SessionID, err)
	}

	if intent.Status.IsTerminal() {
		p.logger.Info("checkout event for terminal intent ignored",
			"intent_id", intent.ID, "status", intent.Status, "event_id", event.ID)
		return nil
	}

	if err := p.repo.UpdateIntentStatus(ctx, intent.ID, target); err != nil {
		return fmt.Errorf("move intent %s to %s: %w", intent.ID, target, err)
	}
	p.logger.Info("checkout closed",
		"intent_id", intent.ID,
		"target_status", target,
		"failure_reason", event.Data.FailureReason,
		"event_id", event.ID,
	)
	return nil
}

// handleSubscriptionUpdate mirrors subscription lifecycle events onto the
// local subscription row. No tenant is ever created here.
func (p *Provisioner) handleSubscriptionUpdate(ctx context.Context, event domain.PaymentWebhookEvent, status string) error {
	if event.Data.SubscriptionID == "" {
		return fmt.Errorf("subscription event %s has no subscription id", event.ID)
	}
	if status == "" {
		return fmt.Errorf("subscription event %s has no status", event.ID)
	}

	err := p.repo.UpdateSubscriptionByExternalID(ctx, event.Data.SubscriptionID, status, event.Data.CurrentPeriodEnd)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			// Subscription events can outrun provisioning; retry via
			// redelivery until the tenant exists.
			return fmt.Errorf("subscription %s not provisioned yet", event.Data.SubscriptionID)
		}
		return fmt.Errorf("update subscription %s: %w", event.Data.SubscriptionID, err)
	}

	p.logger.Info("subscription updated",
		"external_subscription_id", event.Data.SubscriptionID,
		"status", status,
		"event_id", event.ID,
	)
	return nil
}
