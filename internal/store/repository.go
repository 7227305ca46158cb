/**
 * @description
 * This file defines the data-access contract for the signup-service and the
 * sentinel errors the service layer dispatches on. The Postgres implementation
 * lives in intent_repository.go and provisioning_repository.go.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/domain"
)

var (
	// ErrIntentNotFound is returned when no signup intent matches the lookup.
	ErrIntentNotFound = errors.New("signup intent not found")
	// ErrSubscriptionNotFound is returned when no subscription matches the lookup.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Repository defines the database operations the signup core needs.
type Repository interface {
	// Intents
	CreateIntent(ctx context.Context, intent *domain.SignupIntent) error
	GetIntentByID(ctx context.Context, id string) (*domain.SignupIntent, error)
	GetIntentByCheckoutSession(ctx context.Context, sessionID string) (*domain.SignupIntent, error)
	// FindActiveIntent looks for a non-terminal intent matching any of the
	// three lookup keys. The field name of the first match is returned so the
	// caller can report which attribute collided.
	FindActiveIntent(ctx context.Context, email, documentHash, phoneHash string) (*domain.SignupIntent, string, error)
	SaveOTPState(ctx context.Context, intent *domain.SignupIntent) error
	MarkEmailVerified(ctx context.Context, intentID string) error
	MarkPhoneVerified(ctx context.Context, intentID string, at time.Time) error
	UpdateIntentStatus(ctx context.Context, intentID string, status domain.IntentStatus) error
	BindUser(ctx context.Context, intentID, userID string) error
	SetCheckoutSession(ctx context.Context, intentID, sessionID string) error
	ExpireStaleIntents(ctx context.Context, cutoff time.Time) (int64, error)

	// Webhook idempotency guard. InsertProcessedEvent reports whether this call
	// inserted the row; false means another delivery already claimed the event
	// id. The insert, not a prior read, is the serialization point.
	InsertProcessedEvent(ctx context.Context, eventID, eventType string) (bool, error)
	DeleteProcessedEvent(ctx context.Context, eventID string) error
	PurgeProcessedEvents(ctx context.Context, cutoff time.Time) (int64, error)

	// Tenant provisioning. ProvisionTenant creates the clinic, admin profile,
	// membership and subscription in one transaction with insert-if-absent
	// semantics per sub-resource, and marks the intent CONVERTED. A retried
	// call after a partial failure completes the tenant instead of
	// duplicating it.
	ProvisionTenant(ctx context.Context, seed domain.TenantSeed) (*domain.Tenant, error)
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error)
	UpdateSubscriptionByExternalID(ctx context.Context, externalID, status string, periodEnd *time.Time) error
	GetSubscriptionByClinicID(ctx context.Context, clinicID string) (*domain.Subscription, error)
	GetClinicIDByIntent(ctx context.Context, intentID string) (*string, error)

	// Provisioning job projection for the polling endpoint.
	UpsertProvisioningJob(ctx context.Context, intentID string, status domain.ProvisioningJobStatus, errorMessage *string) error
	GetProvisioningJob(ctx context.Context, intentID string) (*domain.ProvisioningJob, error)
}
