// Package storage persists per-user settings and credentials in SQLite.
package storage

import (
	"context"
	"time"
)

// UserRecord is one row of the users table. Token is the serialized OAuth
// credential; empty until the user completes /auth. A user with an empty
// token is never scanned.
type UserRecord struct {
	UserID        int64
	RemindMinutes int
	Token         string
}

// Store is the persistence API consumed by the reminder service and the
// command handlers.
type Store interface {
	GetAll(ctx context.Context) ([]UserRecord, error)
	Get(ctx context.Context, userID int64) (UserRecord, bool, error)
	UpsertToken(ctx context.Context, userID int64, token string) error
	SetRemindMinutes(ctx context.Context, userID int64, minutes int) error

	// MarkNotified/WasNotified implement the optional at-most-once reminder
	// suppression. Keys expire at the given deadline and are pruned lazily.
	MarkNotified(ctx context.Context, key string, until time.Time) error
	WasNotified(ctx context.Context, key string) (bool, error)

	Close() error
}

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
