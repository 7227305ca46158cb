/**
 * @description
 * Error types for consistent error handling across the signup core. Handlers
 * map these onto HTTP statuses and generic, localized client messages; the
 * detailed text stays in server logs.
 */
package domain

import (
	"fmt"
	"time"
)

// ErrValidation indicates malformed input. Fails fast, no side effect.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrDuplicateSignup indicates an active intent already exists for the same
// email, document or phone.
type ErrDuplicateSignup struct {
	Field string // which lookup matched: email, document, phone
}

func (e *ErrDuplicateSignup) Error() string {
	return fmt.Sprintf("active signup already exists for this %s", e.Field)
}

// ErrRateLimited indicates the caller must back off until ResetAt.
type ErrRateLimited struct {
	Key     string
	ResetAt time.Time
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("rate limited [%s] until %s", e.Key, e.ResetAt.Format(time.RFC3339))
}

// ErrOTP carries the outcome of a failed OTP verification so the client can
// render distinct UX for invalid, expired and locked codes.
type ErrOTP struct {
	Outcome     OTPVerificationOutcome
	LockedUntil *time.Time
}

func (e *ErrOTP) Error() string {
	return fmt.Sprintf("otp verification failed: %s", e.Outcome)
}

// ErrIntentState indicates an operation was attempted in a state that does not
// allow it (for example checkout before verification).
type ErrIntentState struct {
	IntentID string
	Status   IntentStatus
	Wanted   IntentStatus
}

func (e *ErrIntentState) Error() string {
	return fmt.Sprintf("intent %s is %s, operation requires %s", e.IntentID, e.Status, e.Wanted)
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrProvisioning indicates tenant provisioning failed and must be retried in
// full by the payment provider's webhook redelivery.
type ErrProvisioning struct {
	EventID string
	Err     error
}

func (e *ErrProvisioning) Error() string {
	return fmt.Sprintf("provisioning failed for event %s: %v", e.EventID, e.Err)
}

func (e *ErrProvisioning) Unwrap() error {
	return e.Err
}

// ErrExternalService indicates a failure in an external collaborator call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}
