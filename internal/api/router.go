/**
 * @description
 * This file sets up the HTTP router for the signup-service using the
 * go-chi/chi router. It defines the API routes, applies middleware for
 * logging, CORS, and authentication, and maps the routes to their
 * corresponding handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the signup-service routes.
func NewRouter(h *SignupHandler, webhook *PaymentWebhookHandler, authCfg AuthMiddlewareConfig) *chi.Mux {
	r := chi.NewRouter()

	// Setup middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Signup service is healthy"))
	})

	// Public signup routes. The captcha plus server-side rate limiting guard
	// them; the caller has no account yet at this point.
	r.Route("/v1/signup", func(r chi.Router) {
		r.Post("/", h.CreateIntent)
		r.Get("/captcha", h.GetCaptcha)
		r.Get("/status", h.GetProvisioningStatus)
		r.Post("/{intentID}/otp/send", h.SendPhoneOTP)
		r.Post("/{intentID}/otp/verify", h.VerifyPhoneOTP)

		// Routes that require the auth-provider identity created during signup.
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(authCfg))

			r.Post("/{intentID}/email/refresh", h.RefreshEmailVerification)
			r.Post("/{intentID}/email/resend", h.ResendVerificationEmail)
			r.Post("/{intentID}/checkout", h.CreateCheckoutSession)
		})
	})

	// Payment provider webhooks authenticate via HMAC signature, not JWT.
	r.Post("/v1/webhooks/payment", webhook.ServeHTTP)

	return r
}
