package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openadmission/gatekeeper/internal/store"
	"github.com/openadmission/gatekeeper/pkg/models"
)

const (
	secretPrefix = "gk_"
	secretBytes  = 32
	maxNameLen   = 100

	// Display fragment length, counted from the start of the raw secret.
	displayPrefixLen = 11

	// Usage writes run detached from the request; this bounds them.
	usageWriteTimeout = 5 * time.Second
)

// Manager issues, validates, and tracks usage of API keys.
type Manager struct {
	store store.Store
}

// NewManager creates a new Manager.
func NewManager(s store.Store) *Manager {
	return &Manager{store: s}
}

// IssuedKey is the result of issuing a key. RawSecret is returned
// exactly once and never retrievable afterwards.
type IssuedKey struct {
	Key       *models.APIKey
	RawSecret string
}

// Issue generates a new API key for userID and persists its hash.
func (m *Manager) Issue(ctx context.Context, userID uuid.UUID, name string) (*IssuedKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidation("invalid_request", "name is required")
	}
	if len(name) > maxNameLen {
		return nil, NewValidation("invalid_request", fmt.Sprintf("name must be at most %d characters", maxNameLen))
	}

	rawSecret, err := generateSecret()
	if err != nil {
		log.Error().Err(err).Msg("failed to generate api key secret")
		return nil, NewInternal("internal_error", "Failed to issue API key")
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:         uuid.New(),
		UserID:     userID,
		Name:       name,
		SecretHash: SHA256Hex(rawSecret),
		KeyPrefix:  rawSecret[:displayPrefixLen] + "...",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := m.store.CreateAPIKey(ctx, key); err != nil {
		log.Error().Err(err).Msg("failed to persist api key")
		return nil, NewInternal("internal_error", "Failed to issue API key")
	}

	return &IssuedKey{Key: key, RawSecret: rawSecret}, nil
}

// Validate resolves a raw secret to an AuthContext. A missing or
// revoked key is a normal negative result, (nil, nil); an error means
// the lookup itself failed and the caller must fail closed.
func (m *Manager) Validate(ctx context.Context, rawSecret string) (*models.AuthContext, error) {
	if rawSecret == "" {
		return nil, nil
	}

	key, err := m.store.GetAPIKeyByHash(ctx, SHA256Hex(rawSecret))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("validate api key: %w", err)
	}
	if key.Revoked() {
		return nil, nil
	}

	return &models.AuthContext{UserID: key.UserID, KeyID: key.ID, IsAPIKey: true}, nil
}

// RecordUsage increments the key's usage count and stamps last_used_at.
// Fire and forget: it runs detached from the triggering request and its
// failure is only logged.
func (m *Manager) RecordUsage(id uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), usageWriteTimeout)
		defer cancel()
		if err := m.store.RecordAPIKeyUsage(ctx, id); err != nil {
			log.Warn().Err(err).Str("key_id", id.String()).Msg("failed to record api key usage")
		}
	}()
}

// List returns the user's live keys, newest first. Secrets are never
// included; only hashes exist and those are excluded from serialization.
func (m *Manager) List(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	keys, err := m.store.ListAPIKeys(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("failed to list api keys")
		return nil, NewInternal("internal_error", "Failed to list API keys")
	}
	return keys, nil
}

// Revoke logically deletes a key. Idempotent: revoking a missing or
// already-revoked key reports false without error.
func (m *Manager) Revoke(ctx context.Context, userID, id uuid.UUID) (bool, error) {
	err := m.store.RevokeAPIKey(ctx, userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		log.Error().Err(err).Str("key_id", id.String()).Msg("failed to revoke api key")
		return false, NewInternal("internal_error", "Failed to revoke API key")
	}
	return true, nil
}

// SHA256Hex returns the hex-encoded SHA-256 hash of the input.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}

func generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	return secretPrefix + hex.EncodeToString(b), nil
}
