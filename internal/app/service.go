/**
 * @description
 * This file contains the core business logic for the signup flow: the intent
 * state machine. The service orchestrates intent creation with duplicate
 * detection over HMAC lookup hashes, email verification against the external
 * auth provider, phone verification via OTP, and the hand-off to checkout.
 *
 * @notes
 * - The wall clock is an injectable dependency (`now`) so every time-bounded
 *   rule (OTP expiry, lockouts, send windows) is deterministic under test.
 * - PII is encrypted before it ever reaches the repository; lookup columns
 *   only carry keyed hashes.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/config"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/domain"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/store"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/authclient"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/crypto"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/pkg/paymentclient"
)

const bcryptCost = 12

// notificationExchange is the RabbitMQ exchange the messaging worker consumes.
const notificationExchange = "notification_events"

// AuthProvider is the slice of the external auth provider this core consumes:
// a user lookup carrying the verified-email flag, and a resend operation.
type AuthProvider interface {
	GetUser(ctx context.Context, userID string) (*authclient.User, error)
	ResendVerificationEmail(ctx context.Context, userID string) error
}

// PaymentProvider creates checkout and billing-portal sessions.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, req paymentclient.CheckoutSessionRequest) (*paymentclient.CheckoutSession, error)
}

// EventPublisher dispatches notification events (OTP codes, intake links) to
// the messaging worker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error
}

// SignupService implements the signup intent state machine.
type SignupService struct {
	repo      store.Repository
	limiter   RateLimiter
	auth      AuthProvider
	payments  PaymentProvider
	publisher EventPublisher
	logger    *slog.Logger
	cfg       config.Config

	otpPolicy OTPPolicy
	now       func() time.Time
}

// NewSignupService wires the signup service with its collaborators.
func NewSignupService(
	repo store.Repository,
	limiter RateLimiter,
	auth AuthProvider,
	payments PaymentProvider,
	publisher EventPublisher,
	logger *slog.Logger,
	cfg config.Config,
) *SignupService {
	return &SignupService{
		repo:      repo,
		limiter:   limiter,
		auth:      auth,
		payments:  payments,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		otpPolicy: OTPPolicy{
			MaxAttempts: cfg.OTPMaxAttempts,
			Lockout:     time.Duration(cfg.OTPLockoutMinutes) * time.Minute,
		},
		now: time.Now,
	}
}

// NewCaptcha issues a signed arithmetic challenge for the public signup form.
func (s *SignupService) NewCaptcha() (*crypto.Captcha, error) {
	return crypto.NewCaptcha(s.cfg.CaptchaHMACSecret)
}

// CreateIntent is the first signup step. It validates the submission, detects
// duplicate active signups by email/document/phone, encrypts the PII and
// stores the intent in PENDING_VERIFICATIONS.
func (s *SignupService) CreateIntent(ctx context.Context, req domain.CreateIntentRequest, clientIP string) (*domain.SignupIntent, error) {
	if err := s.consume(ctx, "signup:"+clientIP, s.cfg.SignupRateLimitPerMinute, time.Minute); err != nil {
		return nil, err
	}

	if !crypto.VerifyCaptcha(s.cfg.CaptchaHMACSecret, req.CaptchaA, req.CaptchaB, req.CaptchaToken, req.CaptchaAnswer) {
		return nil, &domain.ErrValidation{Field: "captcha", Message: "Desafio inválido"}
	}

	req.ClinicName = strings.TrimSpace(req.ClinicName)
	req.AdminName = strings.TrimSpace(req.AdminName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	if req.ClinicName == "" {
		return nil, &domain.ErrValidation{Field: "clinic_name", Message: "Nome da clínica é obrigatório"}
	}
	if req.AdminName == "" {
		return nil, &domain.ErrValidation{Field: "admin_name", Message: "Nome do responsável é obrigatório"}
	}
	if !strings.Contains(req.Email, "@") {
		return nil, &domain.ErrValidation{Field: "email", Message: "E-mail inválido"}
	}
	if len(req.Password) < 8 {
		return nil, &domain.ErrValidation{Field: "password", Message: "Senha deve ter ao menos 8 caracteres"}
	}

	docType := domain.DocumentType(strings.ToLower(strings.TrimSpace(req.DocumentType)))
	docDigits := NormalizeDocument(req.DocumentNumber)
	switch docType {
	case domain.DocumentCPF:
		if !ValidateCPF(docDigits) {
			return nil, &domain.ErrValidation{Field: "document_number", Message: "CPF inválido"}
		}
	case domain.DocumentCNPJ:
		if !ValidateCNPJ(docDigits) {
			return nil, &domain.ErrValidation{Field: "document_number", Message: "CNPJ inválido"}
		}
	default:
		return nil, &domain.ErrValidation{Field: "document_type", Message: "Tipo de documento deve ser cpf ou cnpj"}
	}

	phone := NormalizePhoneToE164(req.Phone)
	if phone == "" {
		return nil, &domain.ErrValidation{Field: "phone", Message: "Telefone inválido"}
	}

	documentHash := crypto.SignHMAC(s.cfg.LookupHMACSecret, docDigits)
	phoneHash := crypto.SignHMAC(s.cfg.LookupHMACSecret, phone)

	// Application-level duplicate check for a precise conflict field. The
	// partial unique indexes behind CreateIntent close the race two concurrent
	// submissions could win here.
	if _, field, err := s.repo.FindActiveIntent(ctx, req.Email, documentHash, phoneHash); err == nil {
		return nil, &domain.ErrDuplicateSignup{Field: field}
	} else if !errors.Is(err, store.ErrIntentNotFound) {
		return nil, fmt.Errorf("check existing intent: %w", err)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	documentEncrypted, err := crypto.Encrypt(s.cfg.PIIEncryptionKey, docDigits)
	if err != nil {
		return nil, fmt.Errorf("encrypt document: %w", err)
	}
	phoneEncrypted, err := crypto.Encrypt(s.cfg.PIIEncryptionKey, phone)
	if err != nil {
		return nil, fmt.Errorf("encrypt phone: %w", err)
	}

	now := s.now()
	intent := &domain.SignupIntent{
		ID:                  uuid.NewString(),
		ClinicName:          req.ClinicName,
		AdminName:           req.AdminName,
		Email:               req.Email,
		PasswordHash:        string(passwordHash),
		DocumentType:        docType,
		DocumentEncrypted:   documentEncrypted,
		DocumentHash:        documentHash,
		PhoneEncrypted:      phoneEncrypted,
		PhoneHash:           phoneHash,
		DocumentValidatedAt: &now,
		Status:              domain.IntentPending,
	}

	if err := s.repo.CreateIntent(ctx, intent); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the insert race against a concurrent submission.
			return nil, &domain.ErrDuplicateSignup{Field: "signup"}
		}
		return nil, fmt.Errorf("create intent: %w", err)
	}

	// Stored with lookup hashes computed; the intent now waits on the
	// verification steps.
	if err := s.repo.UpdateIntentStatus(ctx, intent.ID, domain.IntentPendingVerifications); err != nil {
		return nil, fmt.Errorf("advance intent to pending verifications: %w", err)
	}
	intent.Status = domain.IntentPendingVerifications

	s.logger.Info("signup intent created",
		"intent_id", intent.ID,
		"document_type", intent.DocumentType,
	)
	return intent, nil
}

// BindIdentity attaches the authenticated auth-provider identity to the
// intent. Called once the client has registered with the auth provider.
func (s *SignupService) BindIdentity(ctx context.Context, intentID, userID string) error {
	intent, err := s.repo.GetIntentByID(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.Status.IsTerminal() {
		return &domain.ErrIntentState{IntentID: intentID, Status: intent.Status, Wanted: domain.IntentPendingVerifications}
	}
	if intent.UserID != nil && *intent.UserID != userID {
		return &domain.ErrValidation{Field: "user_id", Message: "Cadastro já vinculado a outra conta"}
	}
	if intent.UserID == nil {
		return s.repo.BindUser(ctx, intentID, userID)
	}
	return nil
}

// RefreshEmailVerification re-checks the bound identity's verified flag at the
// auth provider and flips emailVerified when true. Email delivery itself is
// driven externally.
func (s *SignupService) RefreshEmailVerification(ctx context.Context, intentID, userID string) (*domain.SignupIntent, error) {
	if err := s.BindIdentity(ctx, intentID, userID); err != nil {
		return nil, err
	}
	intent, err := s.repo.GetIntentByID(ctx, intentID)
	if err != nil {
		return nil, err
	}

	if !intent.EmailVerified {
		user, err := s.auth.GetUser(ctx, userID)
		if err != nil {
			return nil, &domain.ErrExternalService{Service: "auth", Err: err}
		}
		if user.EmailVerified && strings.EqualFold(user.Email, intent.Email) {
			if err := s.repo.MarkEmailVerified(ctx, intentID); err != nil {
				return nil, fmt.Errorf("mark email verified: %w", err)
			}
			intent.EmailVerified = true
			s.logger.Info("email verified", "intent_id", intentID)
		}
	}

	if err := s.maybeAdvanceToVerified(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// ResendVerificationEmail asks the auth provider to resend the confirmation
// link for the bound identity.
func (s *SignupService) ResendVerificationEmail(ctx context.Context, intentID, userID string) error {
	if err := s.BindIdentity(ctx, intentID, userID); err != nil {
		return err
	}
	if err := s.auth.ResendVerificationEmail(ctx, userID); err != nil {
		return &domain.ErrExternalService{Service: "auth", Err: err}
	}
	return nil
}

// SendPhoneOTP generates a fresh OTP, stores only its HMAC, and dispatches the
// code through the messaging worker. A per-intent send window bounds SMS cost
// independently of the generic rate limiter.
func (s *SignupService) SendPhoneOTP(ctx context.Context, intentID, clientIP, userAgent string) error {
	if err := s.consume(ctx, "otp_send:"+clientIP, s.cfg.OTPVerifyRateLimitPerMinute, time.Minute); err != nil {
		return err
	}

	intent, err := s.repo.GetIntentByID(ctx, intentID)
	if err != nil {
		return err
	}
	if intent.Status != domain.IntentPendingVerifications {
		return &domain.ErrIntentState{IntentID: intentID, Status: intent.Status, Wanted: domain.IntentPendingVerifications}
	}
	if intent.PhoneVerifiedAt != nil {
		return &domain.ErrValidation{Field: "phone", Message: "Telefone já verificado"}
	}

	now := s.now()
	sendWindow := time.Duration(s.cfg.OTPSendWindowMinutes) * time.Minute
	if intent.OTPSendWindowStart == nil || now.Sub(*intent.OTPSendWindowStart) > sendWindow {
		windowStart := now
		intent.OTPSendWindowStart = &windowStart
		intent.OTPSendCount = 0
	}
	if intent.OTPSendCount >= s.cfg.OTPSendLimit {
		return &domain.ErrRateLimited{
			Key:     "otp_send:" + intentID,
			ResetAt: intent.OTPSendWindowStart.Add(sendWindow),
		}
	}
	intent.OTPSendCount++

	code, err := crypto.GenerateOTP(6)
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	expiresAt := now.Add(time.Duration(s.cfg.OTPTTLSeconds) * time.Second)
	intent.OTPHash = crypto.SignHMAC(s.cfg.LookupHMACSecret, code)
	intent.OTPExpiresAt = &expiresAt
	intent.OTPAttempts = 0
	intent.OTPLockedUntil = nil

	if err := s.repo.SaveOTPState(ctx, intent); err != nil {
		return fmt.Errorf("save otp state: %w", err)
	}

	phone, err := crypto.Decrypt(s.cfg.PIIEncryptionKey, intent.PhoneEncrypted)
	if err != nil {
		// Key mismatch or tampering: never degrade into a generic failure.
		s.logger.Error("phone decryption failed", "intent_id", intentID, "error", err)
		return err
	}

	event := domain.OTPDispatchEvent{
		IntentID: intentID,
		Phone:    phone,
		Code:     code,
		TTL:      s.cfg.OTPTTLSeconds,
	}
	if err := s.publisher.Publish(ctx, notificationExchange, "signup.otp", event); err != nil {
		return &domain.ErrExternalService{Service: "notifications", Err: err}
	}

	s.logger.Info("otp dispatched",
		"intent_id", intentID,
		"send_count", intent.OTPSendCount,
		"client_ip", clientIP,
		"user_agent", userAgent,
	)
	return nil
}

// VerifyPhoneOTP runs the pure verification policy against the stored OTP
// state and persists the resulting attempts/lockout values.
func (s *SignupService) VerifyPhoneOTP(ctx context.Context, intentID, otp, clientIP, userAgent string) (*domain.SignupIntent, error) {
	if err := s.consume(ctx, "otp_verify:"+clientIP, s.cfg.OTPVerifyRateLimitPerMinute, time.Minute); err != nil {
		return nil, err
	}

	intent, err := s.repo.GetIntentByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status.IsTerminal() {
		return nil, &domain.ErrIntentState{IntentID: intentID, Status: intent.Status, Wanted: domain.IntentPendingVerifications}
	}
	if intent.PhoneVerifiedAt != nil {
		return intent, nil
	}

	now := s.now()
	state := domain.OTPState{
		OTPHash:     intent.OTPHash,
		ExpiresAt:   intent.OTPExpiresAt,
		Attempts:    intent.OTPAttempts,
		LockedUntil: intent.OTPLockedUntil,
	}
	res := ComputeOTPVerification(state, otp, s.cfg.LookupHMACSecret, s.otpPolicy, now)

	switch res.Outcome {
	case domain.OTPValid:
		intent.OTPHash = ""
		intent.OTPExpiresAt = nil
		intent.OTPAttempts = 0
		intent.OTPLockedUntil = nil
		if err := s.repo.SaveOTPState(ctx, intent); err != nil {
			return nil, fmt.Errorf("clear otp state: %w", err)
		}
		if err := s.repo.MarkPhoneVerified(ctx, intentID, now); err != nil {
			return nil, fmt.Errorf("mark phone verified: %w", err)
		}
		intent.PhoneVerifiedAt = &now
		s.logger.Info("phone verified", "intent_id", intentID)
		if err := s.maybeAdvanceToVerified(ctx, intent); err != nil {
			return nil, err
		}
		return intent, nil

	case domain.OTPLocked:
		freshLockout := res.LockedUntil != nil &&
			(state.LockedUntil == nil || res.LockedUntil.After(*state.LockedUntil))
		intent.OTPAttempts = res.Attempts
		intent.OTPLockedUntil = res.LockedUntil
		if freshLockout {
			intent.OTPLockoutCount++
			if err := s.repo.SaveOTPState(ctx, intent); err != nil {
				return nil, fmt.Errorf("save otp lockout: %w", err)
			}
			s.logger.Warn("otp lockout",
				"intent_id", intentID,
				"lockout_count", intent.OTPLockoutCount,
				"client_ip", clientIP,
				"user_agent", userAgent,
			)
			// Repeated lockout exhaustion is treated as abuse.
			if intent.OTPLockoutCount >= 3 {
				if err := s.repo.UpdateIntentStatus(ctx, intentID, domain.IntentBlocked); err != nil {
					return nil, fmt.Errorf("block intent: %w", err)
				}
				s.logger.Warn("intent blocked after repeated otp lockouts", "intent_id", intentID)
			}
		}
		return nil, &domain.ErrOTP{Outcome: domain.OTPLocked, LockedUntil: res.LockedUntil}

	case domain.OTPExpired:
		return nil, &domain.ErrOTP{Outcome: domain.OTPExpired}

	default: // invalid
		intent.OTPAttempts = res.Attempts
		if err := s.repo.SaveOTPState(ctx, intent); err != nil {
			return nil, fmt.Errorf("save otp attempts: %w", err)
		}
		return nil, &domain.ErrOTP{Outcome: domain.OTPInvalid}
	}
}

// CreateCheckoutSession moves a VERIFIED intent into checkout by creating a
// session at the payment provider and storing its id.
func (s *SignupService) CreateCheckoutSession(ctx context.Context, intentID, plan string) (*paymentclient.CheckoutSession, error) {
	intent, err := s.repo.GetIntentByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != domain.IntentVerified {
		return nil, &domain.ErrIntentState{IntentID: intentID, Status: intent.Status, Wanted: domain.IntentVerified}
	}
	if strings.TrimSpace(plan) == "" {
		return nil, &domain.ErrValidation{Field: "plan", Message: "Plano é obrigatório"}
	}

	session, err := s.payments.CreateCheckoutSession(ctx, paymentclient.CheckoutSessionRequest{
		ReferenceID:   intentID,
		Plan:          plan,
		CustomerEmail: intent.Email,
		SuccessURL:    s.cfg.CheckoutSuccessURL,
		CancelURL:     s.cfg.CheckoutCancelURL,
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "payments", Err: err}
	}

	if err := s.repo.SetCheckoutSession(ctx, intentID, session.SessionID); err != nil {
		return nil, fmt.Errorf("store checkout session: %w", err)
	}
	if err := s.repo.UpdateIntentStatus(ctx, intentID, domain.IntentCheckoutStarted); err != nil {
		return nil, fmt.Errorf("advance intent to checkout: %w", err)
	}

	s.logger.Info("checkout session created", "intent_id", intentID, "session_id", session.SessionID, "plan", plan)
	return session, nil
}

// GetProvisioningStatus is the read-only projection polled by clients after
// checkout. It must tolerate being called before the webhook has arrived and
// report not-ready instead of an error.
func (s *SignupService) GetProvisioningStatus(ctx context.Context, intentID, sessionID string) (*domain.ProvisioningStatus, error) {
	var intent *domain.SignupIntent
	var err error
	switch {
	case intentID != "":
		intent, err = s.repo.GetIntentByID(ctx, intentID)
	case sessionID != "":
		intent, err = s.repo.GetIntentByCheckoutSession(ctx, sessionID)
	default:
		return nil, &domain.ErrValidation{Field: "intent_id", Message: "Informe intent_id ou session_id"}
	}
	if err != nil {
		return nil, err
	}

	status := &domain.ProvisioningStatus{IntentStatus: intent.Status}

	job, err := s.repo.GetProvisioningJob(ctx, intent.ID)
	if err != nil {
		return nil, fmt.Errorf("load provisioning job: %w", err)
	}
	status.Job = job

	clinicID, err := s.repo.GetClinicIDByIntent(ctx, intent.ID)
	if err != nil {
		return nil, fmt.Errorf("load clinic: %w", err)
	}
	if clinicID == nil {
		return status, nil
	}
	status.ClinicID = clinicID

	sub, err := s.repo.GetSubscriptionByClinicID(ctx, *clinicID)
	if err != nil {
		if errors.Is(err, store.ErrSubscriptionNotFound) {
			// Mid-provisioning read: tenant partially visible, not ready yet.
			return status, nil
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	status.Subscription = sub
	status.Ready = intent.Status == domain.IntentConverted && sub.IsActive(s.now())
	return status, nil
}

// maybeAdvanceToVerified moves the intent to VERIFIED once email, phone and
// document checks have all passed.
func (s *SignupService) maybeAdvanceToVerified(ctx context.Context, intent *domain.SignupIntent) error {
	if intent.Status != domain.IntentPendingVerifications {
		return nil
	}
	if !intent.EmailVerified || intent.PhoneVerifiedAt == nil || intent.DocumentValidatedAt == nil {
		return nil
	}
	if err := s.repo.UpdateIntentStatus(ctx, intent.ID, domain.IntentVerified); err != nil {
		return fmt.Errorf("advance intent to verified: %w", err)
	}
	intent.Status = domain.IntentVerified
	s.logger.Info("intent verified", "intent_id", intent.ID)
	return nil
}

func (s *SignupService) consume(ctx context.Context, key string, max int, window time.Duration) error {
	decision, err := s.limiter.CheckAndConsume(ctx, key, max, window)
	if err != nil {
		// A broken limiter backend must not take signups down with it.
		s.logger.Error("rate limiter unavailable, allowing request", "key", key, "error", err)
		return nil
	}
	if !decision.Allowed {
		return &domain.ErrRateLimited{Key: key, ResetAt: decision.ResetAt}
	}
	return nil
}
