package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/otp-auth-service/internal/application/account"
	"github.com/otp-auth-service/internal/application/auth"
	"github.com/otp-auth-service/internal/application/names"
	"github.com/otp-auth-service/internal/application/otp"
	"github.com/otp-auth-service/internal/application/ratelimit"
	"github.com/otp-auth-service/internal/application/session"
	"github.com/otp-auth-service/internal/config"
	jwtinfra "github.com/otp-auth-service/internal/infrastructure/jwt"
	"github.com/otp-auth-service/internal/infrastructure/smtp"
	"github.com/otp-auth-service/internal/infrastructure/sns"
	"github.com/otp-auth-service/internal/kv"
	"github.com/otp-auth-service/internal/transport/http/handler"
	appmiddleware "github.com/otp-auth-service/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	Store       kv.Store
	Mailer      smtp.Mailer
	Notifier    sns.Notifier // nil disables event fan-out
	JWTProvider *jwtinfra.Provider
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", appmiddleware.APIKeyHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10 — login endpoints. Restoration runs at
	// app startup, often in bursts behind one NAT, so it gets more headroom.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)
	restoreRL := appmiddleware.NewRateLimiter(rate.Limit(20), 40)

	salt := cfg.OTPEmailSalt
	limitSvc := ratelimit.NewService(deps.Store)
	accountSvc := account.NewService(deps.Store, names.NewAllocator(deps.Store), salt)
	sessionSvc := session.NewService(deps.Store, deps.JWTProvider, accountSvc, salt)
	authSvc := auth.NewService(
		otp.NewService(deps.Store, salt),
		limitSvc,
		accountSvc,
		sessionSvc,
		deps.Mailer,
		deps.Notifier,
		salt,
	)

	healthH := handler.NewHealthHandler()
	authH := handler.NewAuthHandler(authSvc)
	sessionH := handler.NewSessionHandler(sessionSvc, accountSvc)
	userH := handler.NewUserHandler(accountSvc)
	adminH := handler.NewAdminHandler(limitSvc, salt)

	authMw := appmiddleware.Auth(deps.JWTProvider)
	tenantMw := appmiddleware.Tenant(deps.Store)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health-check/{action}", healthH.Ping)

		r.Group(func(r chi.Router) {
			r.Use(tenantMw)

			// ── Public routes (no auth) ──────────────────────────────────────
			r.With(sensitiveRL.Limit).Post("/auth/request-otp", authH.RequestOTP)
			r.With(sensitiveRL.Limit).Post("/auth/verify-otp", authH.VerifyOTP)
			r.With(restoreRL.Limit).Post("/auth/restore-session", authH.RestoreSession)
			r.Get("/auth/user/{id}", userH.Get)

			// ── Authenticated routes ─────────────────────────────────────────
			r.Group(func(r chi.Router) {
				r.Use(authMw)

				r.Get("/auth/me", sessionH.Me)
				r.Post("/auth/logout", sessionH.Logout)
				r.With(restoreRL.Limit).Get("/auth/session-by-ip", sessionH.SessionByIP)

				// Admin-only routes
				r.Group(func(r chi.Router) {
					r.Use(appmiddleware.RequireAdmin())

					r.Post("/admin/rate-limits/clear", adminH.ClearRateLimit)
				})
			})
		})
	})

	return r
}
