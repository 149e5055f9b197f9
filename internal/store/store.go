package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/openadmission/gatekeeper/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the API key persistence interface. All database operations
// go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, secretHash string) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RecordAPIKeyUsage(ctx context.Context, id uuid.UUID) error
	RevokeAPIKey(ctx context.Context, userID uuid.UUID, id uuid.UUID) error
}
