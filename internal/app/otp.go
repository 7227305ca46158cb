/**
 * @description
 * OTP verification policy. ComputeOTPVerification is a pure function of the
 * stored OTP state, the submitted code and an explicit clock, so the lockout
 * and expiry rules are testable without a database and deterministic under
 * replay. The caller persists the returned attempts/lockedUntil values.
 */
package app

import (
	"time"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/domain"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/crypto"
)

// OTPPolicy carries the tunables for OTP verification.
type OTPPolicy struct {
	MaxAttempts int
	Lockout     time.Duration
}

// DefaultOTPPolicy mirrors the configured defaults: 5 attempts, 15 minute lockout.
var DefaultOTPPolicy = OTPPolicy{MaxAttempts: 5, Lockout: 15 * time.Minute}

// ComputeOTPVerification evaluates one verification attempt.
//
// Order matters: an active lockout wins over everything; a missing or expired
// code is reported as expired regardless of what was submitted (this also
// covers the state after a lockout elapses with no fresh code requested); only
// then is the submitted code compared, in constant time, against the stored
// hash.
func ComputeOTPVerification(state domain.OTPState, submitted, hmacSecret string, policy OTPPolicy, now time.Time) domain.OTPVerificationResult {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultOTPPolicy.MaxAttempts
	}
	if policy.Lockout <= 0 {
		policy.Lockout = DefaultOTPPolicy.Lockout
	}

	if state.LockedUntil != nil && now.Before(*state.LockedUntil) {
		return domain.OTPVerificationResult{
			Outcome:     domain.OTPLocked,
			Attempts:    state.Attempts,
			LockedUntil: state.LockedUntil,
		}
	}

	if state.OTPHash == "" || state.ExpiresAt == nil || now.After(*state.ExpiresAt) {
		return domain.OTPVerificationResult{
			Outcome:  domain.OTPExpired,
			Attempts: state.Attempts,
		}
	}

	if crypto.VerifyHMAC(hmacSecret, submitted, state.OTPHash) {
		return domain.OTPVerificationResult{
			Outcome:  domain.OTPValid,
			Attempts: 0,
		}
	}

	attempts := state.Attempts + 1
	if attempts >= policy.MaxAttempts {
		lockedUntil := now.Add(policy.Lockout)
		return domain.OTPVerificationResult{
			Outcome:     domain.OTPLocked,
			Attempts:    attempts,
			LockedUntil: &lockedUntil,
		}
	}

	return domain.OTPVerificationResult{
		Outcome:  domain.OTPInvalid,
		Attempts: attempts,
	}
}
