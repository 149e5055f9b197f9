package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openadmission/gatekeeper/internal/admission"
	"github.com/openadmission/gatekeeper/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Gate        *admission.Gate
	CORSOrigins []string

	HealthHandler     http.HandlerFunc
	CreateKeyHandler  http.HandlerFunc
	ListKeysHandler   http.HandlerFunc
	RevokeKeyHandler  http.HandlerFunc
	UsageHandler      http.HandlerFunc
	ResetLimitHandler http.HandlerFunc
}

// NewRouter builds the Chi router. Every route passes through the
// admission gate; the gate's route classification decides which paths
// are actually gated.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(admission.Logger)
	r.Use(admission.Recovery)
	if len(deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(deps.Gate.Admit)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/keys", orNotImplemented(deps.CreateKeyHandler))
	r.Get("/api/v1/keys", orNotImplemented(deps.ListKeysHandler))
	r.Delete("/api/v1/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))

	r.Get("/api/v1/usage", orNotImplemented(deps.UsageHandler))
	r.Delete("/api/v1/admin/ratelimit", orNotImplemented(deps.ResetLimitHandler))

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
