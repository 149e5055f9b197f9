package admission

import (
	"context"
	"net/http"

	"github.com/openadmission/gatekeeper/pkg/models"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// WithAuthContext attaches an authenticated identity to the context.
func WithAuthContext(ctx context.Context, ac *models.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// GetAuthContext extracts the authenticated identity from a request, if
// any.
func GetAuthContext(r *http.Request) (*models.AuthContext, bool) {
	ac, ok := r.Context().Value(authContextKey).(*models.AuthContext)
	return ac, ok
}
