package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openadmission/gatekeeper/internal/admission"
	"github.com/openadmission/gatekeeper/internal/api/response"
	"github.com/openadmission/gatekeeper/internal/ratelimit"
)

// QuotaReader defines the limiter interface the quota handlers depend on.
type QuotaReader interface {
	Peek(ctx context.Context, label, identifier string, limit int) (ratelimit.Result, error)
	Reset(ctx context.Context, label, identifier string) error
}

type usageResponse struct {
	Label     string    `json:"label"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Reset     time.Time `json:"reset"`
}

// NewUsageHandler returns an http.HandlerFunc for GET /api/v1/usage.
// It reports the caller's current quota for a label without counting a
// hit. resolvers must be the same chain the gate limits with, so the
// snapshot reads the bucket that is actually being counted.
func NewUsageHandler(q QuotaReader, apiLimit, anonymousLimit int, resolvers []admission.Resolver) http.HandlerFunc {
	if len(resolvers) == 0 {
		resolvers = admission.DefaultResolvers()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		label := r.URL.Query().Get("label")
		if label == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "label query parameter is required", nil)
			return
		}

		identifier := admission.ResolveIdentifier(r, resolvers)
		limit := anonymousLimit
		if _, ok := admission.GetAuthContext(r); ok {
			limit = apiLimit
		}

		res, err := q.Peek(r.Context(), label, identifier, limit)
		if err != nil {
			response.Error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Quota state is temporarily unavailable", nil)
			return
		}

		response.JSON(w, usageResponse{
			Label:     label,
			Limit:     res.Limit,
			Remaining: res.Remaining,
			Reset:     res.Reset,
		})
	}
}

// NewResetLimitHandler returns an http.HandlerFunc for
// DELETE /api/v1/admin/ratelimit. Window reset is administrative:
// only subjects in admins may clear a window, otherwise any key holder
// could reset their own counter at will.
func NewResetLimitHandler(q QuotaReader, admins []uuid.UUID) http.HandlerFunc {
	adminSet := make(map[uuid.UUID]struct{}, len(admins))
	for _, id := range admins {
		adminSet[id] = struct{}{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := admission.GetAuthContext(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
			return
		}
		if _, ok := adminSet[ac.UserID]; !ok {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", "Administrative access required", nil)
			return
		}

		label := r.URL.Query().Get("label")
		identifier := r.URL.Query().Get("identifier")
		if label == "" || identifier == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "label and identifier query parameters are required", nil)
			return
		}

		if err := q.Reset(r.Context(), label, identifier); err != nil {
			response.Error(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Counter store is temporarily unavailable", nil)
			return
		}
		response.JSON(w, map[string]bool{"reset": true})
	}
}
