package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/domain"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/crypto"
)

func seedCheckoutIntent(t *testing.T, repo *stubRepo) *domain.SignupIntent {
	t.Helper()
	phoneEncrypted, err := crypto.Encrypt(testPIIKey, "+5511987654321")
	if err != nil {
		t.Fatalf("encrypt phone: %v", err)
	}
	sessionID := "cs_test_123"
	userID := "user-1"
	intent := &domain.SignupIntent{
		ID:                "intent-1",
		ClinicName:        "Clínica Sorriso",
		AdminName:         "Ana Souza",
		Email:             "ana@sorriso.com.br",
		PasswordHash:      "$2a$12$abcdefghijklmnopqrstuv",
		PhoneEncrypted:    phoneEncrypted,
		Status:            domain.IntentCheckoutStarted,
		CheckoutSessionID: &sessionID,
		UserID:            &userID,
	}
	if err := repo.CreateIntent(context.Background(), intent); err != nil {
		t.Fatalf("seed intent: %v", err)
	}
	return intent
}

func completedEvent(id string) domain.PaymentWebhookEvent {
	periodEnd := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	return domain.PaymentWebhookEvent{
		ID:   id,
		Type: domain.EventCheckoutCompleted,
		Data: domain.PaymentWebhookData{
			SessionID:        "cs_test_123",
			SubscriptionID:   "sub_ext_1",
			CustomerID:       "cus_ext_1",
			Plan:             "pro",
			CurrentPeriodEnd: &periodEnd,
		},
	}
}

func TestProcessPaymentEvent_ProvisionsTenantOnce(t *testing.T) {
	repo := newStubRepo()
	publisher := &stubPublisher{}
	p := NewProvisioner(repo, publisher, testLogger(), testPIIKey)
	seedCheckoutIntent(t, repo)

	if err := p.ProcessPaymentEvent(context.Background(), completedEvent("evt_1")); err != nil {
		t.Fatalf("ProcessPaymentEvent error: %v", err)
	}

	intent, _ := repo.GetIntentByID(context.Background(), "intent-1")
	if intent.Status != domain.IntentConverted {
		t.Fatalf("expected CONVERTED, got %s", intent.Status)
	}
	if repo.provisionCalls != 1 {
		t.Fatalf("expected 1 provisioning call, got %d", repo.provisionCalls)
	}
	job, _ := repo.GetProvisioningJob(context.Background(), "intent-1")
	if job == nil || job.Status != domain.ProvisioningSucceeded {
		t.Fatalf("expected succeeded job, got %+v", job)
	}

	// Intake link goes out once the tenant exists.
	if len(publisher.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(publisher.published))
	}
	link, ok := publisher.published[0].payload.(domain.IntakeLinkDispatchEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", publisher.published[0].payload)
	}
	if link.Phone != "+5511987654321" {
		t.Fatalf("expected decrypted phone in intake link, got %q", link.Phone)
	}
}

func TestProcessPaymentEvent_DuplicateDeliveryIsNoop(t *testing.T) {
	repo := newStubRepo()
	p := NewProvisioner(repo, &stubPublisher{}, testLogger(), testPIIKey)
	seedCheckoutIntent(t, repo)

	if err := p.ProcessPaymentEvent(context.Background(), completedEvent("evt_1")); err != nil {
		t.Fatalf("first delivery error: %v", err)
	}
	if err := p.ProcessPaymentEvent(context.Background(), completedEvent("evt_1")); err != nil {
		t.Fatalf("duplicate delivery must succeed silently: %v", err)
	}
	if repo.provisionCalls != 1 {
		t.Fatalf("duplicate delivery must not re-provision, got %d calls", repo.provisionCalls)
	}
}

func TestProcessPaymentEvent_ReleasesClaimOnFailure(t *testing.T) {
	repo := newStubRepo()
	p := NewProvisioner(repo, &stubPublisher{}, testLogger(), testPIIKey)
	seedCheckoutIntent(t, repo)
	repo.provisionErr = errors.New("db down")

	err := p.ProcessPaymentEvent(context.Background(), completedEvent("evt_1"))
	var provErr *domain.ErrProvisioning
	if !errors.As(err, &provErr) {
		t.Fatalf("expected provisioning error, got %v", err)
	}
	if _, claimed := repo.processedEvents["evt_1"]; claimed {
		t.Fatal("failed provisioning must release the idempotency claim")
	}
	job, _ := repo.GetProvisioningJob(context.Background(), "intent-1")
	if job == nil || job.Status != domain.ProvisioningFailed {
		t.Fatalf("expected failed job recorded, got %+v", job)
	}

	// Redelivery after the fault clears drives provisioning to completion.
	repo.provisionErr = nil
	if err := p.ProcessPaymentEvent(context.Background(), completedEvent("evt_1")); err != nil {
		t.Fatalf("redelivery error: %v", err)
	}
	intent, _ := repo.GetIntentByID(context.Background(), "intent-1")
	if intent.Status != domain.IntentConverted {
		t.Fatalf("expected CONVERTED after redelivery, got %s", intent.Status)
	}
}

func TestProcessPaymentEvent_FailedCheckoutReturnsToVerified(t *testing.T) {
	repo := newStubRepo()
	p := NewProvisioner(repo, &stubPublisher{}, testLogger(), testPIIKey)
	seedCheckoutIntent(t, repo)

	event := domain.PaymentWebhookEvent{
		ID:   "evt_2",
		Type: domain.EventCheckoutFailed,
		Data: domain.PaymentWebhookData{SessionID: "cs_test_123", FailureReason: "card_declined"},
	}
	if err := p.ProcessPaymentEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessPaymentEvent error: %v", err)
	}

	intent, _ := repo.GetIntentByID(context.Background(), "intent-1")
	if intent.Status != domain.IntentVerified {
		t.Fatalf("expected VERIFIED after payment failure, got %s", intent.Status)
	}
}

func TestProcessPaymentEvent_FraudFlagBlocksIntent(t *testing.T) {
	repo := newStubRepo()
	p := NewProvisioner(repo, &stubPublisher{}, testLogger(), testPIIKey)
	seedCheckoutIntent(t, repo)

	event := domain.PaymentWebhookEvent{
		ID:   "evt_3",
		Type: domain.EventCheckoutFraudFlagged,
		Data: domain.PaymentWebhookData{SessionID: "cs_test_123", FailureReason: "fraud"},
	}
	if err := p.ProcessPaymentEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessPaymentEvent error: %v", err)
	}

	intent, _ := repo.GetIntentByID(context.Background(), "intent-1")
	if intent.Status != domain.IntentBlocked {
		t.Fatalf("expected BLOCKED after fraud flag, got %s", intent.Status)
	}
}

func TestProcessPaymentEvent_SubscriptionUpdate(t *testing.T) {
	repo := newStubRepo()
	p := NewProvisioner(repo, &stubPublisher{}, testLogger(), testPIIKey)
	seedCheckoutIntent(t, repo)

	if err := p.ProcessPaymentEvent(context.Background(), completedEvent("evt_1")); err != nil {
		t.Fatalf("provisioning error: %v", err)
	}

	event := domain.PaymentWebhookEvent{
		ID:   "evt_4",
		Type: domain.EventSubscriptionCanceled,
		Data: domain.PaymentWebhookData{SubscriptionID: "sub_ext_1"},
	}
	if err := p.ProcessPaymentEvent(context.Background(), event); err != nil {
		t.Fatalf("ProcessPaymentEvent error: %v", err)
	}

	sub, err := repo.GetSubscriptionByExternalID(context.Background(), "sub_ext_1")
	if err != nil {
		t.Fatalf("subscription lookup error: %v", err)
	}
	if sub.Status != "canceled" {
		t.Fatalf("expected canceled subscription, got %q", sub.Status)
	}
}

func TestProcessPaymentEvent_SubscriptionEventBeforeProvisioningRetries(t *testing.T) {
	repo := newStubRepo()
	p := NewProvisioner(repo, &stubPublisher{}, testLogger(), testPIIKey)

	event := domain.PaymentWebhookEvent{
		ID:   "evt_5",
		Type: domain.EventSubscriptionUpdated,
		Data: domain.PaymentWebhookData{SubscriptionID: "sub_ext_unknown", Status: "past_due"},
	}
	err := p.ProcessPaymentEvent(context.Background(), event)
	if err == nil {
		t.Fatal("expected error so the provider redelivers")
	}
	if _, claimed := repo.processedEvents["evt_5"]; claimed {
		t.Fatal("claim must be released for redelivery")
	}
}

func TestProcessPaymentEvent_UnknownTypeIsAcknowledged(t *testing.T) {
	repo := newStubRepo()
	p := NewProvisioner(repo, &stubPublisher{}, testLogger(), testPIIKey)

	event := domain.PaymentWebhookEvent{ID: "evt_6", Type: "invoice.created"}
	if err := p.ProcessPaymentEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown event type must be acknowledged, got %v", err)
	}
}
