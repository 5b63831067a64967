package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ComUnity/voiceid-service/internal/models"
)

var (
	// ErrNotFound is returned by key/value stores for absent or expired keys.
	ErrNotFound = errors.New("repository: not found")
	// ErrProfileExists is returned by Create when the phone number already has a profile.
	ErrProfileExists = errors.New("repository: profile already exists")
)

// ProfileRepository persists enrolled voice profiles keyed by phone number.
type ProfileRepository interface {
	// FindByPhoneNumber returns (nil, nil) when no profile exists.
	FindByPhoneNumber(ctx context.Context, phone string) (*models.Profile, error)
	// Create inserts p, or returns ErrProfileExists and leaves the stored profile alone.
	Create(ctx context.Context, p *models.Profile) error
	// Save inserts or replaces the profile for p.PhoneNumber.
	Save(ctx context.Context, p *models.Profile) error
}

// SessionStore is a TTL key/value cache for sessions and short-lived codes.
type SessionStore interface {
	Put(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	// Take reads and deletes key atomically.
	Take(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, key string) error
}

// CounterStore backs the attempt ledger.
type CounterStore interface {
	// Increment adds one to key, starting ttl on the first increment.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Reset(ctx context.Context, key string) error
	// SetIfAbsent reports whether the key was created by this call.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// TemplateSealer encrypts voice templates before they reach the database.
type TemplateSealer interface {
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
	Open(ctx context.Context, sealed []byte) ([]byte, error)
}

// AuditRepository is the durable append-only audit log.
type AuditRepository interface {
	Append(ctx context.Context, e models.AuditEvent) error
}
