package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/tagfinder/internal/payment"
	"github.com/frahmantamala/tagfinder/internal/transport/middleware"
	"github.com/frahmantamala/tagfinder/internal/transport/swagger"
	"github.com/frahmantamala/tagfinder/internal/user"
	"github.com/frahmantamala/tagfinder/internal/vcard"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Routes groups what the router mounts. Nil handlers are skipped.
type Routes struct {
	Health         *HealthHandler
	Payments       *payment.Handler
	Webhooks       *payment.WebhookHandler
	VCards         *vcard.Handler
	Users          *user.Handler
	Authenticate   func(http.Handler) http.Handler
	OpenAPI        []byte
	AllowedOrigins string
}

func RegisterAllRoutes(router *chi.Mux, routes Routes, logger *slog.Logger) {
	router.Use(middleware.CORS(routes.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	if len(routes.OpenAPI) > 0 {
		router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(routes.OpenAPI)
		})
		router.Handle("/swagger/*", swagger.Handler("/openapi.yml"))
	}

	router.Route("/api/v1", func(r chi.Router) {
		if routes.Health != nil {
			r.Get("/health", routes.Health.healthCheckHandler)
			r.Get("/ping", routes.Health.pingHandler)
		}

		// Gateway callbacks authenticate by signature, not bearer token.
		if routes.Webhooks != nil {
			r.Post("/payments/webhook", routes.Webhooks.HandleWebhook)
		}

		if routes.VCards != nil {
			r.Get("/v-cards/{id}", routes.VCards.GetPublic)
		}
		if routes.Users != nil {
			r.Post("/auth/login", routes.Users.Login)
		}

		if routes.Authenticate == nil {
			return
		}
		r.Group(func(pr chi.Router) {
			pr.Use(routes.Authenticate)

			if routes.Users != nil {
				pr.Get("/users/me", routes.Users.GetCurrentUser)
			}
			if routes.Payments != nil {
				pr.Route("/payments", func(pm chi.Router) {
					pm.Post("/create-order", routes.Payments.CreateOrder)
					pm.Post("/verify", routes.Payments.Verify)
					pm.Post("/failed", routes.Payments.PaymentFailed)
					pm.Post("/cancel", routes.Payments.CancelOrder)
					pm.Get("/history/{vcardId}", routes.Payments.History)
				})
			}
		})
	})
}
