package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/alertflow/alertflow/internal/api"
	"github.com/alertflow/alertflow/internal/metrics"
	"github.com/alertflow/alertflow/internal/middleware"
)

// RouterConfig collects the handlers and middleware the router mounts
type RouterConfig struct {
	Receiver       *AlertHandler
	API            *APIHandler
	Auth           *AuthHandler
	JWT            *middleware.JWTAuthMiddleware
	AllowList      *middleware.IPAllowList
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// NewRouter builds the HTTP surface. The receiver is guarded by the IP
// allow-list; the query API requires a bearer token.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(corsHandler(cfg.AllowedOrigins))

	r.Get("/health", handleHealth)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	r.Post("/auth/login", cfg.Auth.handleLogin)

	r.Route("/api/v1", func(r chi.Router) {
		r.With(cfg.AllowList.Handler).Post("/alerts/receiver", cfg.Receiver.HandleReceiver)

		r.Group(func(r chi.Router) {
			r.Use(cfg.JWT.Wrap)
			r.Get("/auth/verify", cfg.Auth.handleVerify)
			cfg.API.Routes(r)
		})
	})
	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           86400,
	})
}

// handleHealth returns a simple health check response
func handleHealth(w http.ResponseWriter, r *http.Request) {
	api.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": "1.0.0",
	})
}
