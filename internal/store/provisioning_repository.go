/**
 * @description
 * This file implements the provisioning side of the data access layer: the
 * processed-event idempotency guard, the single-transaction tenant creation,
 * subscription updates driven by webhook events, and the provisioning-job
 * projection read by the polling endpoint.
 *
 * @notes
 * - InsertProcessedEvent relies on the primary key of processed_payment_events:
 *   ON CONFLICT DO NOTHING plus RowsAffected turns two concurrent deliveries of
 *   the same event into exactly one inserter.
 * - ProvisionTenant uses ON CONFLICT DO NOTHING per sub-resource keyed by the
 *   intent id, so a retry after a partial failure completes the tenant instead
 *   of duplicating rows.
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/domain"
)

// InsertProcessedEvent claims a payment event id. It returns true when this
// call inserted the row and false when the id was already present.
func (r *PostgresRepository) InsertProcessedEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
        INSERT INTO processed_payment_events (event_id, event_type)
        VALUES ($1, $2)
        ON CONFLICT (event_id) DO NOTHING
    `, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("insert processed event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteProcessedEvent releases the idempotency guard after a failed
// provisioning attempt so the provider's redelivery re-drives the event.
func (r *PostgresRepository) DeleteProcessedEvent(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM processed_payment_events WHERE event_id = $1`, eventID)
	return err
}

// PurgeProcessedEvents removes guard rows older than cutoff.
func (r *PostgresRepository) PurgeProcessedEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM processed_payment_events WHERE processed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ProvisionTenant creates the clinic, admin profile, membership and
// subscription as one logical unit and marks the intent CONVERTED. Every
// insert is keyed (directly or through a unique index) by the intent id, so
// re-driving the whole function after a partial failure is safe.
func (r *PostgresRepository) ProvisionTenant(ctx context.Context, seed domain.TenantSeed) (*domain.Tenant, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin provisioning tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var tenant domain.Tenant

	// 1. Clinic, keyed by the originating intent.
	_, err = tx.Exec(ctx, `
        INSERT INTO clinics (intent_id, name)
        VALUES ($1, $2)
        ON CONFLICT (intent_id) DO NOTHING
    `, seed.IntentID, seed.ClinicName)
	if err != nil {
		return nil, fmt.Errorf("insert clinic: %w", err)
	}
	err = tx.QueryRow(ctx,
		`SELECT id, name, created_at FROM clinics WHERE intent_id = $1`, seed.IntentID).
		Scan(&tenant.Clinic.ID, &tenant.Clinic.Name, &tenant.Clinic.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}

	// 2. Admin profile bound to the intent's verified email and identity.
	_, err = tx.Exec(ctx, `
        INSERT INTO profiles (user_id, name, email, password_hash)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (email) DO NOTHING
    `, seed.UserID, seed.AdminName, seed.AdminEmail, seed.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	err = tx.QueryRow(ctx,
		`SELECT id, user_id, name, email, created_at FROM profiles WHERE email = $1`, seed.AdminEmail).
		Scan(&tenant.Profile.ID, &tenant.Profile.UserID, &tenant.Profile.Name, &tenant.Profile.Email, &tenant.Profile.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	// 3. Admin membership linking profile to clinic.
	_, err = tx.Exec(ctx, `
        INSERT INTO memberships (clinic_id, profile_id, role)
        VALUES ($1, $2, 'admin')
        ON CONFLICT (clinic_id, profile_id) DO NOTHING
    `, tenant.Clinic.ID, tenant.Profile.ID)
	if err != nil {
		return nil, fmt.Errorf("insert membership: %w", err)
	}
	err = tx.QueryRow(ctx, `
        SELECT id, clinic_id, profile_id, role, created_at
        FROM memberships WHERE clinic_id = $1 AND profile_id = $2
    `, tenant.Clinic.ID, tenant.Profile.ID).
		Scan(&tenant.Membership.ID, &tenant.Membership.ClinicID, &tenant.Membership.ProfileID,
			&tenant.Membership.Role, &tenant.Membership.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("load membership: %w", err)
	}

	// 4. Subscription derived from the checkout-completed payload.
	_, err = tx.Exec(ctx, `
        INSERT INTO subscriptions (clinic_id, plan, status, external_subscription_id, external_customer_id, current_period_end)
        VALUES ($1, $2, 'active', $3, $4, $5)
        ON CONFLICT (clinic_id) DO UPDATE SET
            plan = EXCLUDED.plan,
            status = EXCLUDED.status,
            external_subscription_id = EXCLUDED.external_subscription_id,
            external_customer_id = EXCLUDED.external_customer_id,
            current_period_end = EXCLUDED.current_period_end,
            updated_at = NOW()
    `, tenant.Clinic.ID, seed.Plan, seed.ExternalSubscriptionID, seed.ExternalCustomerID, seed.CurrentPeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	sub, err := r.scanSubscription(tx.QueryRow(ctx,
		subscriptionSelect+` WHERE clinic_id = $1`, tenant.Clinic.ID))
	if err != nil {
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	tenant.Subscription = *sub

	// Mark the intent CONVERTED only after all four records exist.
	tag, err := tx.Exec(ctx, `
        UPDATE signup_intents
        SET status = 'CONVERTED', updated_at = NOW()
        WHERE id = $1 AND status NOT IN ('BLOCKED', 'EXPIRED')
    `, seed.IntentID)
	if err != nil {
		return nil, fmt.Errorf("mark intent converted: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("intent %s cannot be converted", seed.IntentID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit provisioning tx: %w", err)
	}

	log.Printf("Provisioned tenant: clinic=%s profile=%s intent=%s", tenant.Clinic.ID, tenant.Profile.ID, seed.IntentID)
	return &tenant, nil
}

const subscriptionSelect = `
        SELECT id, clinic_id, plan, status, external_subscription_id, external_customer_id,
               current_period_end, created_at, updated_at
        FROM subscriptions`

// GetSubscriptionByExternalID retrieves a subscription by the payment
// provider's subscription id.
func (r *PostgresRepository) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	return r.scanSubscription(r.db.QueryRow(ctx,
		subscriptionSelect+` WHERE external_subscription_id = $1`, externalID))
}

// UpdateSubscriptionByExternalID updates status and period-end fields for an
// existing subscription. No tenant creation happens here.
func (r *PostgresRepository) UpdateSubscriptionByExternalID(ctx context.Context, externalID, status string, periodEnd *time.Time) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE subscriptions
        SET status = $2,
            current_period_end = COALESCE($3, current_period_end),
            updated_at = NOW()
        WHERE external_subscription_id = $1
    `, externalID, status, periodEnd)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// GetSubscriptionByClinicID retrieves the clinic's subscription.
func (r *PostgresRepository) GetSubscriptionByClinicID(ctx context.Context, clinicID string) (*domain.Subscription, error) {
	return r.scanSubscription(r.db.QueryRow(ctx,
		subscriptionSelect+` WHERE clinic_id = $1`, clinicID))
}

// GetClinicIDByIntent returns the clinic id provisioned from the intent, or
// nil when no tenant exists yet.
func (r *PostgresRepository) GetClinicIDByIntent(ctx context.Context, intentID string) (*string, error) {
	var clinicID string
	err := r.db.QueryRow(ctx,
		`SELECT id FROM clinics WHERE intent_id = $1`, intentID).Scan(&clinicID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &clinicID, nil
}

// UpsertProvisioningJob records the last known provisioning attempt for an
// intent so polling clients can surface progress and failures.
func (r *PostgresRepository) UpsertProvisioningJob(ctx context.Context, intentID string, status domain.ProvisioningJobStatus, errorMessage *string) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO provisioning_jobs (intent_id, status, error_message)
        VALUES ($1, $2, $3)
        ON CONFLICT (intent_id) DO UPDATE SET
            status = EXCLUDED.status,
            error_message = EXCLUDED.error_message,
            updated_at = NOW()
    `, intentID, status, errorMessage)
	return err
}

// GetProvisioningJob returns the last provisioning attempt, or nil when the
// webhook has not arrived yet.
func (r *PostgresRepository) GetProvisioningJob(ctx context.Context, intentID string) (*domain.ProvisioningJob, error) {
	var job domain.ProvisioningJob
	err := r.db.QueryRow(ctx, `
        SELECT intent_id, status, error_message, updated_at
        FROM provisioning_jobs WHERE intent_id = $1
    `, intentID).Scan(&job.IntentID, &job.Status, &job.ErrorMessage, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *PostgresRepository) scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.ClinicID,
		&sub.Plan,
		&sub.Status,
		&sub.ExternalSubscriptionID,
		&sub.ExternalCustomerID,
		&sub.CurrentPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}
