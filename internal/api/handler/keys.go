package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openadmission/gatekeeper/internal/admission"
	"github.com/openadmission/gatekeeper/internal/apikey"
	"github.com/openadmission/gatekeeper/internal/api/response"
	"github.com/openadmission/gatekeeper/pkg/models"
)

// KeyManager defines the interface the key handlers depend on.
type KeyManager interface {
	Issue(ctx context.Context, userID uuid.UUID, name string) (*apikey.IssuedKey, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	Revoke(ctx context.Context, userID, id uuid.UUID) (bool, error)
}

type createKeyRequest struct {
	Name string `json:"name"`
}

type createKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	KeyPrefix string    `json:"key_prefix"`
	// The raw secret, shown exactly once.
	Secret string `json:"secret"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/keys.
func NewCreateKeyHandler(m KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := admission.GetAuthContext(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
			return
		}

		var req createKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be valid JSON", nil)
			return
		}

		issued, err := m.Issue(r.Context(), ac.UserID, req.Name)
		if err != nil {
			writeManagerError(w, err)
			return
		}

		response.Created(w, createKeyResponse{
			ID:        issued.Key.ID,
			Name:      issued.Key.Name,
			KeyPrefix: issued.Key.KeyPrefix,
			Secret:    issued.RawSecret,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/keys.
func NewListKeysHandler(m KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := admission.GetAuthContext(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
			return
		}

		keys, err := m.List(r.Context(), ac.UserID)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/keys/{keyID}.
func NewRevokeKeyHandler(m KeyManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := admission.GetAuthContext(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
			return
		}

		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_KEY_ID", "Key id must be a UUID", nil)
			return
		}

		revoked, err := m.Revoke(r.Context(), ac.UserID, keyID)
		if err != nil {
			writeManagerError(w, err)
			return
		}
		response.JSON(w, map[string]bool{"revoked": revoked})
	}
}

func writeManagerError(w http.ResponseWriter, err error) {
	if apikey.IsValidation(err) {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
}
