package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account row.
type User struct {
	ID        uuid.UUID `db:"id" json:"user_id"`
	Username  string    `db:"username" json:"username"`
	PassHash  string    `db:"pass_hash" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Session is the identity behind an opaque session token.
type Session struct {
	Token        string    `json:"-"`
	UserID       uuid.UUID `json:"user_id"`
	Username     string    `json:"username"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}
