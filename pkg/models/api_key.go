package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a long-lived bearer credential scoped to a user.
// Raw secrets are shown once at issuance; only the SHA-256 hash is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	UserID     uuid.UUID  `db:"user_id"      json:"user_id"`
	Name       string     `db:"name"         json:"name"`
	SecretHash string     `db:"secret_hash"  json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	UsageCount int64      `db:"usage_count"  json:"usage_count"`
	RevokedAt  *time.Time `db:"revoked_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// Revoked reports whether the key has been logically deleted.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}
