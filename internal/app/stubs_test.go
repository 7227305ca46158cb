package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/domain"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/store"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/authclient"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/paymentclient"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubRepo is an in-memory Repository used by the service and provisioner
// tests. It mimics the database guards that matter to the state machine:
// terminal statuses are absorbing and the processed-events insert is
// first-writer-wins.
type stubRepo struct {
	intents         map[string]*domain.SignupIntent
	processedEvents map[string]string
	clinicByIntent  map[string]string
	subsByClinic    map[string]*domain.Subscription
	jobs            map[string]*domain.ProvisioningJob

	provisionErr   error
	provisionCalls int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		intents:         make(map[string]*domain.SignupIntent),
		processedEvents: make(map[string]string),
		clinicByIntent:  make(map[string]string),
		subsByClinic:    make(map[string]*domain.Subscription),
		jobs:            make(map[string]*domain.ProvisioningJob),
	}
}

func (r *stubRepo) CreateIntent(_ context.Context, intent *domain.SignupIntent) error {
	cp := *intent
	r.intents[intent.ID] = &cp
	return nil
}

func (r *stubRepo) GetIntentByID(_ context.Context, id string) (*domain.SignupIntent, error) {
	intent, ok := r.intents[id]
	if !ok {
		return nil, store.ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (r *stubRepo) GetIntentByCheckoutSession(_ context.Context, sessionID string) (*domain.SignupIntent, error) {
	for _, intent := range r.intents {
		if intent.CheckoutSessionID != nil && *intent.CheckoutSessionID == sessionID {
			cp := *intent
			return &cp, nil
		}
	}
	return nil, store.ErrIntentNotFound
}

func (r *stubRepo) FindActiveIntent(_ context.Context, email, documentHash, phoneHash string) (*domain.SignupIntent, string, error) {
	for _, intent := range r.intents {
		if intent.Status.IsTerminal() {
			continue
		}
		switch {
		case intent.Email == email:
			cp := *intent
			return &cp, "email", nil
		case intent.DocumentHash == documentHash:
			cp := *intent
			return &cp, "document", nil
		case intent.PhoneHash == phoneHash:
			cp := *intent
			return &cp, "phone", nil
		}
	}
	return nil, "", store.ErrIntentNotFound
}

func (r *stubRepo) SaveOTPState(_ context.Context, intent *domain.SignupIntent) error {
	stored, ok := r.intents[intent.ID]
	if !ok {
		return store.ErrIntentNotFound
	}
	stored.OTPHash = intent.OTPHash
	stored.OTPExpiresAt = intent.OTPExpiresAt
	stored.OTPAttempts = intent.OTPAttempts
	stored.OTPLockedUntil = intent.OTPLockedUntil
	stored.OTPLockoutCount = intent.OTPLockoutCount
	stored.OTPSendCount = intent.OTPSendCount
	stored.OTPSendWindowStart = intent.OTPSendWindowStart
	return nil
}

func (r *stubRepo) MarkEmailVerified(_ context.Context, intentID string) error {
	intent, ok := r.intents[intentID]
	if !ok {
		return store.ErrIntentNotFound
	}
	intent.EmailVerified = true
	return nil
}

func (r *stubRepo) MarkPhoneVerified(_ context.Context, intentID string, at time.Time) error {
	intent, ok := r.intents[intentID]
	if !ok {
		return store.ErrIntentNotFound
	}
	intent.PhoneVerifiedAt = &at
	return nil
}

func (r *stubRepo) UpdateIntentStatus(_ context.Context, intentID string, status domain.IntentStatus) error {
	intent, ok := r.intents[intentID]
	if !ok || intent.Status.IsTerminal() {
		return store.ErrIntentNotFound
	}
	intent.Status = status
	return nil
}

func (r *stubRepo) BindUser(_ context.Context, intentID, userID string) error {
	intent, ok := r.intents[intentID]
	if !ok {
		return store.ErrIntentNotFound
	}
	intent.UserID = &userID
	return nil
}

func (r *stubRepo) SetCheckoutSession(_ context.Context, intentID, sessionID string) error {
	intent, ok := r.intents[intentID]
	if !ok {
		return store.ErrIntentNotFound
	}
	intent.CheckoutSessionID = &sessionID
	return nil
}

func (r *stubRepo) ExpireStaleIntents(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, intent := range r.intents {
		if !intent.Status.IsTerminal() && intent.UpdatedAt.Before(cutoff) {
			intent.Status = domain.IntentExpired
			n++
		}
	}
	return n, nil
}

func (r *stubRepo) InsertProcessedEvent(_ context.Context, eventID, eventType string) (bool, error) {
	if _, exists := r.processedEvents[eventID]; exists {
		return false, nil
	}
	r.processedEvents[eventID] = eventType
	return true, nil
}

func (r *stubRepo) DeleteProcessedEvent(_ context.Context, eventID string) error {
	delete(r.processedEvents, eventID)
	return nil
}

func (r *stubRepo) PurgeProcessedEvents(_ context.Context, _ time.Time) (int64, error) {
	n := int64(len(r.processedEvents))
	r.processedEvents = make(map[string]string)
	return n, nil
}

func (r *stubRepo) ProvisionTenant(_ context.Context, seed domain.TenantSeed) (*domain.Tenant, error) {
	r.provisionCalls++
	if r.provisionErr != nil {
		return nil, r.provisionErr
	}
	intent, ok := r.intents[seed.IntentID]
	if !ok {
		return nil, store.ErrIntentNotFound
	}
	if intent.Status == domain.IntentBlocked || intent.Status == domain.IntentExpired {
		return nil, fmt.Errorf("intent %s cannot be converted", seed.IntentID)
	}

	clinicID, ok := r.clinicByIntent[seed.IntentID]
	if !ok {
		clinicID = "clinic-" + seed.IntentID
		r.clinicByIntent[seed.IntentID] = clinicID
	}
	sub := &domain.Subscription{
		ID:                     "sub-" + seed.IntentID,
		ClinicID:               clinicID,
		Plan:                   seed.Plan,
		Status:                 "active",
		ExternalSubscriptionID: seed.ExternalSubscriptionID,
		ExternalCustomerID:     seed.ExternalCustomerID,
		CurrentPeriodEnd:       seed.CurrentPeriodEnd,
	}
	r.subsByClinic[clinicID] = sub
	intent.Status = domain.IntentConverted

	return &domain.Tenant{
		Clinic:       domain.Clinic{ID: clinicID, Name: seed.ClinicName},
		Profile:      domain.Profile{ID: "profile-" + seed.IntentID, UserID: seed.UserID, Name: seed.AdminName, Email: seed.AdminEmail},
		Membership:   domain.Membership{ClinicID: clinicID, Role: domain.RoleAdmin},
		Subscription: *sub,
	}, nil
}

func (r *stubRepo) GetSubscriptionByExternalID(_ context.Context, externalID string) (*domain.Subscription, error) {
	for _, sub := range r.subsByClinic {
		if sub.ExternalSubscriptionID == externalID {
			return sub, nil
		}
	}
	return nil, store.ErrSubscriptionNotFound
}

func (r *stubRepo) UpdateSubscriptionByExternalID(_ context.Context, externalID, status string, periodEnd *time.Time) error {
	for _, sub := range r.subsByClinic {
		if sub.ExternalSubscriptionID == externalID {
			sub.Status = status
			if periodEnd != nil {
				sub.CurrentPeriodEnd = periodEnd
			}
			return nil
		}
	}
	return store.ErrSubscriptionNotFound
}

func (r *stubRepo) GetSubscriptionByClinicID(_ context.Context, clinicID string) (*domain.Subscription, error) {
	sub, ok := r.subsByClinic[clinicID]
	if !ok {
		return nil, store.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (r *stubRepo) GetClinicIDByIntent(_ context.Context, intentID string) (*string, error) {
	clinicID, ok := r.clinicByIntent[intentID]
	if !ok {
		return nil, nil
	}
	return &clinicID, nil
}

func (r *stubRepo) UpsertProvisioningJob(_ context.Context, intentID string, status domain.ProvisioningJobStatus, errorMessage *string) error {
	r.jobs[intentID] = &domain.ProvisioningJob{IntentID: intentID, Status: status, ErrorMessage: errorMessage}
	return nil
}

func (r *stubRepo) GetProvisioningJob(_ context.Context, intentID string) (*domain.ProvisioningJob, error) {
	job, ok := r.jobs[intentID]
	if !ok {
		return nil, nil
	}
	return job, nil
}

// stubPublisher records every published event.
type stubPublisher struct {
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	exchange   string
	routingKey string
	payload    interface{}
}

func (p *stubPublisher) Publish(_ context.Context, exchange, routingKey string, payload interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedEvent{exchange, routingKey, payload})
	return nil
}

// stubAuth serves canned users.
type stubAuth struct {
	users map[string]*authclient.User
}

func (a *stubAuth) GetUser(_ context.Context, userID string) (*authclient.User, error) {
	user, ok := a.users[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	return user, nil
}

func (a *stubAuth) ResendVerificationEmail(_ context.Context, _ string) error {
	return nil
}

// stubPayments returns a fixed checkout session.
type stubPayments struct {
	session *paymentclient.CheckoutSession
	err     error
	lastReq paymentclient.CheckoutSessionRequest
}

func (p *stubPayments) CreateCheckoutSession(_ context.Context, req paymentclient.CheckoutSessionRequest) (*paymentclient.CheckoutSession, error) {
	p.lastReq = req
	if p.err != nil {
		return nil, p.err
	}
	return p.session, nil
}

// allowAllLimiter disables rate limiting in tests not about it.
type allowAllLimiter struct{}

func (allowAllLimiter) CheckAndConsume(_ context.Context, _ string, _ int, _ time.Duration) (Decision, error) {
	return Decision{Allowed: true}, nil
}

// denyAllLimiter rejects everything.
type denyAllLimiter struct{ resetAt time.Time }

func (l denyAllLimiter) CheckAndConsume(_ context.Context, _ string, _ int, _ time.Duration) (Decision, error) {
	return Decision{Allowed: false, ResetAt: l.resetAt}, nil
}
