package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/content-audit/internal/entity"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// State store keys. All process-wide mutable state lives behind
// StateRepository under these keys instead of ambient globals.
const (
	KeyPaused       = "audit:paused"
	KeyMessages     = "audit:messages"
	KeyAuditEnabled = "audit:enabled"
	KeyStepLock     = "audit:step_lock"
)

// KeyLastRequest is the per-provider rate-gate timestamp key.
func KeyLastRequest(p entity.Provider) string {
	return fmt.Sprintf("rate:last_request:%s", p)
}

// KeyToken is the per-provider credential key.
func KeyToken(p entity.Provider) string {
	return fmt.Sprintf("account:token:%s", p)
}

// KeyConnected is the per-provider capability flag key.
func KeyConnected(p entity.Provider) string {
	return fmt.Sprintf("account:connected:%s", p)
}

// StateRepository defines the interface for the process-wide key-value
// options store: credentials, pacing timestamps, pause state and the
// re-entrancy lock.
type StateRepository interface {
	// GetString returns "" (no error) for unset keys.
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string) error
	// SetStringTTL sets a value that expires on its own.
	SetStringTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	GetBool(ctx context.Context, key string) (bool, error)
	SetBool(ctx context.Context, key string, value bool) error

	// GetTime returns the zero time (no error) for unset keys.
	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error

	Messages(ctx context.Context) ([]entity.Message, error)
	SetMessages(ctx context.Context, msgs []entity.Message) error
	ClearMessages(ctx context.Context) error

	// AcquireLock takes a TTL'd exclusive lock and returns an owner token.
	// ok is false when another holder has it. The TTL bounds how long a
	// crashed holder can block the system.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// ReleaseLock releases the lock only if token still owns it.
	ReleaseLock(ctx context.Context, key, token string) error
}
