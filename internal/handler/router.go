package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"telemetry-gateway/internal/admission"
	"telemetry-gateway/internal/auth"
)

// RouterDeps is everything the HTTP surface is built from.
type RouterDeps struct {
	Health         *HealthHandler
	Claims         *auth.Resolver
	Admission      *admission.Pipeline
	Ingest         *IngestHandler
	Admin          *AdminHandler
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && r.Header.Get("X-Forwarded-Proto") != "https" {
			writeJSON(w, http.StatusUpgradeRequired, Response{Success: false, Error: "https required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates and configures the Chi router with all middleware and
// routes. Health endpoints and token-authenticated admin calls sit outside
// admission control.
func NewRouter(deps RouterDeps, enforceHTTPS bool) chi.Router {
	router := chi.NewRouter()

	if enforceHTTPS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(RequestIDMiddleware)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(deps.Logger))
	router.Use(middleware.Recoverer)
	if deps.RequestTimeout > 0 {
		router.Use(middleware.Timeout(deps.RequestTimeout))
	}

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type",
			"X-Device-ID", "X-Tenant-ID", "X-Organization-ID", "X-Workspace-ID",
			"X-User-Type", "X-Request-ID", "X-Admin-Token",
		},
		ExposedHeaders:   []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", deps.Health.Live)
	router.Get("/ready", deps.Health.Ready)

	// API routes
	admit := AdmissionMiddleware(deps.Admission)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.Claims.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(admit)
			r.Use(RequireValidClaims)
			deps.Ingest.RegisterRoutes(r)
		})
		deps.Admin.RegisterRoutes(r, admit)
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, Response{Success: false, Error: "endpoint not found"})
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Success: false, Error: "method not allowed"})
	})

	return router
}
