package models

import "github.com/google/uuid"

// AuthContext is the request-scoped identity produced by a successful
// API key validation. It is never persisted.
type AuthContext struct {
	UserID   uuid.UUID
	KeyID    uuid.UUID
	IsAPIKey bool
}
