/**
 * @description
 * This file contains the HTTP handlers for the public signup flow: captcha
 * issuance, intent creation, email/phone verification, checkout hand-off and
 * the provisioning-status poll.
 *
 * Key features:
 * - Every domain error is mapped onto an HTTP status plus a generic,
 *   localized client message. Detailed error text stays in server logs so
 *   enumeration attempts learn nothing from response bodies.
 * - The client IP used for rate limiting honors X-Forwarded-For, falling back
 *   to the socket peer.
 */
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/app"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/domain"
	"github.com/Sawxor19/saas-clinica-odontologica-sub001/internal/store"
)

// SignupHandler exposes the signup state machine over HTTP.
type SignupHandler struct {
	svc    *app.SignupService
	logger *slog.Logger
}

// NewSignupHandler creates the handler set for the signup routes.
func NewSignupHandler(svc *app.SignupService, logger *slog.Logger) *SignupHandler {
	return &SignupHandler{svc: svc, logger: logger}
}

// GetCaptcha issues a fresh arithmetic challenge for the signup form.
func (h *SignupHandler) GetCaptcha(w http.ResponseWriter, r *http.Request) {
	captcha, err := h.svc.NewCaptcha()
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"a":     captcha.A,
		"b":     captcha.B,
		"token": captcha.Token,
	})
}

// CreateIntent handles the first signup submission.
func (h *SignupHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorBody("Corpo da requisição inválido"))
		return
	}

	intent, err := h.svc.CreateIntent(r.Context(), req, clientIP(r))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, intent)
}

// RefreshEmailVerification re-checks the auth provider's verified-email flag.
func (h *SignupHandler) RefreshEmailVerification(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		respondWithJSON(w, http.StatusUnauthorized, errorBody("Autenticação necessária"))
		return
	}

	intent, err := h.svc.RefreshEmailVerification(r.Context(), chi.URLParam(r, "intentID"), userID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, intent)
}

// ResendVerificationEmail asks the auth provider to resend the confirmation link.
func (h *SignupHandler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		respondWithJSON(w, http.StatusUnauthorized, errorBody("Autenticação necessária"))
		return
	}

	if err := h.svc.ResendVerificationEmail(r.Context(), chi.URLParam(r, "intentID"), userID); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "verification_email_sent"})
}

// SendPhoneOTP dispatches a fresh OTP to the intent's phone.
func (h *SignupHandler) SendPhoneOTP(w http.ResponseWriter, r *http.Request) {
	err := h.svc.SendPhoneOTP(r.Context(), chi.URLParam(r, "intentID"), clientIP(r), r.UserAgent())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "otp_sent"})
}

// VerifyPhoneOTP checks a submitted code against the stored OTP state.
func (h *SignupHandler) VerifyPhoneOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OTP string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorBody("Corpo da requisição inválido"))
		return
	}

	intent, err := h.svc.VerifyPhoneOTP(r.Context(), chi.URLParam(r, "intentID"), req.OTP, clientIP(r), r.UserAgent())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, intent)
}

// CreateCheckoutSession starts checkout for a fully verified intent.
func (h *SignupHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, errorBody("Corpo da requisição inválido"))
		return
	}

	session, err := h.svc.CreateCheckoutSession(r.Context(), chi.URLParam(r, "intentID"), req.Plan)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, session)
}

// GetProvisioningStatus is the polling endpoint clients hit after checkout.
func (h *SignupHandler) GetProvisioningStatus(w http.ResponseWriter, r *http.Request) {
	intentID := strings.TrimSpace(r.URL.Query().Get("intent_id"))
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	status, err := h.svc.GetProvisioningStatus(r.Context(), intentID, sessionID)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// respondWithError maps domain errors onto HTTP statuses with generic
// localized messages. Everything unexpected becomes a 500 with no detail.
func (h *SignupHandler) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr     *domain.ErrValidation
		dup      *domain.ErrDuplicateSignup
		rl       *domain.ErrRateLimited
		otpErr   *domain.ErrOTP
		stateErr *domain.ErrIntentState
		extErr   *domain.ErrExternalService
	)

	switch {
	case errors.As(err, &verr):
		respondWithJSON(w, http.StatusBadRequest, map[string]string{
			"error": verr.Message,
			"field": verr.Field,
		})
	case errors.As(err, &dup):
		respondWithJSON(w, http.StatusConflict, errorBody("Já existe um cadastro ativo com estes dados"))
	case errors.As(err, &rl):
		retryAfter := int(time.Until(rl.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondWithJSON(w, http.StatusTooManyRequests, errorBody("Muitas tentativas. Tente novamente mais tarde."))
	case errors.As(err, &otpErr):
		body := map[string]interface{}{
			"error":   "Código não aceito",
			"outcome": otpErr.Outcome,
		}
		if otpErr.LockedUntil != nil {
			body["locked_until"] = otpErr.LockedUntil
		}
		respondWithJSON(w, http.StatusUnprocessableEntity, body)
	case errors.As(err, &stateErr):
		respondWithJSON(w, http.StatusConflict, errorBody("Operação não permitida no estado atual do cadastro"))
	case errors.Is(err, store.ErrIntentNotFound):
		respondWithJSON(w, http.StatusNotFound, errorBody("Cadastro não encontrado"))
	case errors.As(err, &extErr):
		h.logger.Error("external service failure", "path", r.URL.Path, "error", err)
		respondWithJSON(w, http.StatusBadGateway, errorBody("Serviço temporariamente indisponível"))
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "error", err)
		respondWithJSON(w, http.StatusInternalServerError, errorBody("Erro interno"))
	}
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

// respondWithJSON writes a JSON response with the given status code.
func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			// Headers already sent; nothing left to do but log.
			slog.Error("failed to encode response", "error", err)
		}
	}
}

// clientIP resolves the caller's address for rate limiting, honoring the first
// X-Forwarded-For hop set by the edge proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
