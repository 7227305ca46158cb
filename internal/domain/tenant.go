/**
 * @description
 * This file defines the tenant-side domain models: the clinic, its admin
 * profile, the membership linking the two, and the subscription created from
 * payment-provider events. A tenant is all four records created atomically on
 * the first successful payment.
 */
package domain

import "time"

// Clinic is one tenant of the platform.
type Clinic struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile is the admin identity created from the intent's verified email.
type Profile struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"` // external auth provider identity
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// MembershipRole is the role a profile holds inside a clinic.
type MembershipRole string

const (
	RoleAdmin        MembershipRole = "admin"
	RoleProfessional MembershipRole = "professional"
	RoleReception    MembershipRole = "reception"
)

// Membership links a profile to a clinic with a role.
type Membership struct {
	ID        string         `json:"id"`
	ClinicID  string         `json:"clinic_id"`
	ProfileID string         `json:"profile_id"`
	Role      MembershipRole `json:"role"`
	CreatedAt time.Time      `json:"created_at"`
}

// Subscription mirrors the payment provider's subscription for a clinic.
type Subscription struct {
	ID                     string     `json:"id"`
	ClinicID               string     `json:"clinic_id"`
	Plan                   string     `json:"plan"`
	Status                 string     `json:"status"` // 'active', 'past_due', 'canceled'
	ExternalSubscriptionID string     `json:"external_subscription_id"`
	ExternalCustomerID     string     `json:"external_customer_id"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// IsActive reports whether the subscription entitles the clinic to service now.
func (s *Subscription) IsActive(now time.Time) bool {
	if s == nil || s.Status != "active" {
		return false
	}
	if s.CurrentPeriodEnd != nil && s.CurrentPeriodEnd.Before(now) {
		return false
	}
	return true
}

// Tenant bundles the four records created on first successful payment.
type Tenant struct {
	Clinic       Clinic       `json:"clinic"`
	Profile      Profile      `json:"profile"`
	Membership   Membership   `json:"membership"`
	Subscription Subscription `json:"subscription"`
}

// TenantSeed carries everything the provisioner needs to create a tenant from
// a verified intent and a checkout-completed event.
type TenantSeed struct {
	IntentID     string
	ClinicName   string
	AdminName    string
	AdminEmail   string
	UserID       string
	PasswordHash string

	Plan                   string
	ExternalSubscriptionID string
	ExternalCustomerID     string
	CurrentPeriodEnd       *time.Time
}

// ProvisioningJobStatus labels the progress of a provisioning attempt.
type ProvisioningJobStatus string

const (
	ProvisioningPending   ProvisioningJobStatus = "pending"
	ProvisioningSucceeded ProvisioningJobStatus = "succeeded"
	ProvisioningFailed    ProvisioningJobStatus = "failed"
)

// ProvisioningJob is the last known provisioning attempt for an intent,
// surfaced to polling clients.
type ProvisioningJob struct {
	IntentID     string                `json:"intent_id"`
	Status       ProvisioningJobStatus `json:"status"`
	ErrorMessage *string               `json:"error_message,omitempty"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// ProvisioningStatus is the read-only projection returned to polling clients.
// It must be safe to build mid-provisioning: Ready is only true once the
// tenant exists and its subscription is active.
type ProvisioningStatus struct {
	Ready        bool             `json:"ready"`
	IntentStatus IntentStatus     `json:"intent_status"`
	ClinicID     *string          `json:"clinic_id,omitempty"`
	Job          *ProvisioningJob `json:"job,omitempty"`
	Subscription *Subscription    `json:"subscription,omitempty"`
}
