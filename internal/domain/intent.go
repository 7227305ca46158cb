/**
 * @description
 * This file defines the core domain model for the signup flow: the SignupIntent,
 * which represents one prospective clinic signup attempt moving through the
 * verification state machine toward checkout and tenant provisioning.
 */
package domain

import "time"

// IntentStatus is the lifecycle state of a signup intent.
type IntentStatus string

const (
	// IntentPending is the initial state, set on first submission.
	IntentPending IntentStatus = "PENDING"
	// IntentPendingVerifications means the intent is stored and waiting on
	// email and phone verification.
	IntentPendingVerifications IntentStatus = "PENDING_VERIFICATIONS"
	// IntentVerified means email, phone and document checks have all passed.
	IntentVerified IntentStatus = "VERIFIED"
	// IntentCheckoutStarted means a payment checkout session exists.
	IntentCheckoutStarted IntentStatus = "CHECKOUT_STARTED"
	// IntentConverted means the tenant was provisioned after payment.
	IntentConverted IntentStatus = "CONVERTED"
	// IntentBlocked is absorbing: abuse or fraud flags.
	IntentBlocked IntentStatus = "BLOCKED"
	// IntentExpired is absorbing: the cleanup sweep timed the intent out.
	IntentExpired IntentStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions are allowed from s.
// CONVERTED, BLOCKED and EXPIRED intents never become active again.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentConverted || s == IntentBlocked || s == IntentExpired
}

// DocumentType distinguishes individual (CPF) from company (CNPJ) documents.
type DocumentType string

const (
	DocumentCPF  DocumentType = "cpf"
	DocumentCNPJ DocumentType = "cnpj"
)

// SignupIntent represents one prospective tenant signup attempt.
//
// Sensitive PII (document number, phone) is stored encrypted, alongside a
// deterministic HMAC of the normalized value so duplicate signups can be
// detected with an exact-match lookup and no decryption.
type SignupIntent struct {
	ID string `json:"id"`

	ClinicName string `json:"clinic_name"`
	AdminName  string `json:"admin_name"`
	Email      string `json:"email"`
	// PasswordHash is the bcrypt hash of the admin password, replayed into the
	// admin profile when the tenant is provisioned. Never the plaintext.
	PasswordHash string `json:"-"`

	DocumentType      DocumentType `json:"document_type"`
	DocumentEncrypted string       `json:"-"`
	DocumentHash      string       `json:"-"`
	PhoneEncrypted    string       `json:"-"`
	PhoneHash         string       `json:"-"`

	EmailVerified       bool       `json:"email_verified"`
	PhoneVerifiedAt     *time.Time `json:"phone_verified_at,omitempty"`
	DocumentValidatedAt *time.Time `json:"document_validated_at,omitempty"`

	// OTP sub-state. OTPHash stores an HMAC of the current code, never the
	// code itself.
	OTPHash            string     `json:"-"`
	OTPExpiresAt       *time.Time `json:"-"`
	OTPAttempts        int        `json:"-"`
	OTPLockedUntil     *time.Time `json:"-"`
	OTPLockoutCount    int        `json:"-"`
	OTPSendCount       int        `json:"-"`
	OTPSendWindowStart *time.Time `json:"-"`

	Status            IntentStatus `json:"status"`
	CheckoutSessionID *string      `json:"checkout_session_id,omitempty"`
	// UserID binds the intent to the external auth provider identity once one
	// exists.
	UserID *string `json:"user_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateIntentRequest is the payload submitted on the first signup step.
type CreateIntentRequest struct {
	ClinicName     string `json:"clinic_name"`
	AdminName      string `json:"admin_name"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	Phone          string `json:"phone"`

	CaptchaA      int    `json:"captcha_a"`
	CaptchaB      int    `json:"captcha_b"`
	CaptchaToken  string `json:"captcha_token"`
	CaptchaAnswer int    `json:"captcha_answer"`
}

// OTPVerificationOutcome labels the result of one OTP verification attempt.
type OTPVerificationOutcome string

const (
	OTPValid   OTPVerificationOutcome = "valid"
	OTPInvalid OTPVerificationOutcome = "invalid"
	OTPExpired OTPVerificationOutcome = "expired"
	OTPLocked  OTPVerificationOutcome = "locked"
)

// OTPState is the slice of intent state the OTP verification policy reads.
type OTPState struct {
	OTPHash     string
	ExpiresAt   *time.Time
	Attempts    int
	LockedUntil *time.Time
}

// OTPVerificationResult is what the pure verification policy returns; the
// caller persists Attempts and LockedUntil back onto the intent.
type OTPVerificationResult struct {
	Outcome     OTPVerificationOutcome
	Attempts    int
	LockedUntil *time.Time
}
