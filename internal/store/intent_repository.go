/**
 * @description
 * This file implements the signup-intent side of the data access layer. It
 * contains all the SQL queries for creating intents, running the duplicate
 * lookups over the HMAC hash columns, and persisting OTP and lifecycle state.
 */
package store

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/domain"
)

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const intentColumns = `
        id, clinic_name, admin_name, email, password_hash,
        document_type, document_encrypted, document_hash,
        phone_encrypted, phone_hash,
        email_verified, phone_verified_at, document_validated_at,
        otp_hash, otp_expires_at, otp_attempts, otp_locked_until, otp_lockout_count,
        otp_send_count, otp_send_window_start,
        status, checkout_session_id, user_id, created_at, updated_at`

// CreateIntent inserts a new signup intent record.
func (r *PostgresRepository) CreateIntent(ctx context.Context, intent *domain.SignupIntent) error {
	query := `
        INSERT INTO signup_intents (
            id, clinic_name, admin_name, email, password_hash,
            document_type, document_encrypted, document_hash,
            phone_encrypted, phone_hash, document_validated_at, status
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING created_at, updated_at
    `
	err := r.db.QueryRow(ctx, query,
		intent.ID,
		intent.ClinicName,
		intent.AdminName,
		intent.Email,
		intent.PasswordHash,
		intent.DocumentType,
		intent.DocumentEncrypted,
		intent.DocumentHash,
		intent.PhoneEncrypted,
		intent.PhoneHash,
		intent.DocumentValidatedAt,
		intent.Status,
	).Scan(&intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		log.Printf("Error inserting signup intent %s: %v", intent.ID, err)
		return err
	}
	return nil
}

// GetIntentByID retrieves a signup intent by its id.
func (r *PostgresRepository) GetIntentByID(ctx context.Context, id string) (*domain.SignupIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM signup_intents WHERE id = $1`
	return r.scanIntent(r.db.QueryRow(ctx, query, id))
}

// GetIntentByCheckoutSession retrieves the intent tied to a checkout session id.
func (r *PostgresRepository) GetIntentByCheckoutSession(ctx context.Context, sessionID string) (*domain.SignupIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM signup_intents WHERE checkout_session_id = $1`
	return r.scanIntent(r.db.QueryRow(ctx, query, sessionID))
}

// FindActiveIntent looks for a non-terminal intent matching the email or either
// lookup hash. The partial unique indexes on the hash columns (filtered to
// non-terminal statuses) make the subsequent insert the real uniqueness
// guarantee; this query exists to give the caller a precise conflict field.
func (r *PostgresRepository) FindActiveIntent(ctx context.Context, email, documentHash, phoneHash string) (*domain.SignupIntent, string, error) {
	query := `SELECT ` + intentColumns + `
        FROM signup_intents
        WHERE status NOT IN ('CONVERTED', 'BLOCKED', 'EXPIRED')
          AND (email = $1 OR document_hash = $2 OR phone_hash = $3)
        ORDER BY created_at
        LIMIT 1`
	intent, err := r.scanIntent(r.db.QueryRow(ctx, query, email, documentHash, phoneHash))
	if err != nil {
		return nil, "", err
	}

	field := "email"
	switch {
	case intent.Email == email:
		field = "email"
	case intent.DocumentHash == documentHash:
		field = "document"
	case intent.PhoneHash == phoneHash:
		field = "phone"
	}
	return intent, field, nil
}

// SaveOTPState persists the OTP sub-state columns of the intent.
func (r *PostgresRepository) SaveOTPState(ctx context.Context, intent *domain.SignupIntent) error {
	query := `
        UPDATE signup_intents
        SET otp_hash = $2,
            otp_expires_at = $3,
            otp_attempts = $4,
            otp_locked_until = $5,
            otp_lockout_count = $6,
            otp_send_count = $7,
            otp_send_window_start = $8,
            updated_at = NOW()
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query,
		intent.ID,
		intent.OTPHash,
		intent.OTPExpiresAt,
		intent.OTPAttempts,
		intent.OTPLockedUntil,
		intent.OTPLockoutCount,
		intent.OTPSendCount,
		intent.OTPSendWindowStart,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// MarkEmailVerified flips the email_verified flag.
func (r *PostgresRepository) MarkEmailVerified(ctx context.Context, intentID string) error {
	return r.execOnIntent(ctx, intentID,
		`UPDATE signup_intents SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`)
}

// MarkPhoneVerified records the phone verification timestamp.
func (r *PostgresRepository) MarkPhoneVerified(ctx context.Context, intentID string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE signup_intents SET phone_verified_at = $2, updated_at = NOW() WHERE id = $1`,
		intentID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// UpdateIntentStatus moves the intent to a new lifecycle status. Terminal
// statuses are absorbing: the guard clause refuses to move an intent out of
// CONVERTED, BLOCKED or EXPIRED.
func (r *PostgresRepository) UpdateIntentStatus(ctx context.Context, intentID string, status domain.IntentStatus) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE signup_intents
        SET status = $2, updated_at = NOW()
        WHERE id = $1 AND status NOT IN ('CONVERTED', 'BLOCKED', 'EXPIRED')
    `, intentID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// BindUser attaches the external auth provider identity to the intent.
func (r *PostgresRepository) BindUser(ctx context.Context, intentID, userID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE signup_intents SET user_id = $2, updated_at = NOW() WHERE id = $1`,
		intentID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// SetCheckoutSession stores the payment provider's checkout session id.
func (r *PostgresRepository) SetCheckoutSession(ctx context.Context, intentID, sessionID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE signup_intents SET checkout_session_id = $2, updated_at = NOW() WHERE id = $1`,
		intentID, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

// ExpireStaleIntents marks non-terminal intents not touched since cutoff as
// EXPIRED and returns how many rows it affected.
func (r *PostgresRepository) ExpireStaleIntents(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE signup_intents
        SET status = 'EXPIRED', updated_at = NOW()
        WHERE status NOT IN ('CONVERTED', 'BLOCKED', 'EXPIRED')
          AND updated_at < $1
    `, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) execOnIntent(ctx context.Context, intentID, query string) error {
	tag, err := r.db.Exec(ctx, query, intentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrIntentNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanIntent(row rowScanner) (*domain.SignupIntent, error) {
	var intent domain.SignupIntent
	err := row.Scan(
		&intent.ID,
		&intent.ClinicName,
		&intent.AdminName,
		&intent.Email,
		&intent.PasswordHash,
		&intent.DocumentType,
		&intent.DocumentEncrypted,
		&intent.DocumentHash,
		&intent.PhoneEncrypted,
		&intent.PhoneHash,
		&intent.EmailVerified,
		&intent.PhoneVerifiedAt,
		&intent.DocumentValidatedAt,
		&intent.OTPHash,
		&intent.OTPExpiresAt,
		&intent.OTPAttempts,
		&intent.OTPLockedUntil,
		&intent.OTPLockoutCount,
		&intent.OTPSendCount,
		&intent.OTPSendWindowStart,
		&intent.Status,
		&intent.CheckoutSessionID,
		&intent.UserID,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}
