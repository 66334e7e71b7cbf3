package repository

import (
	"context"

	"github.com/user/content-audit/internal/entity"
)

// SnapshotRepository defines the interface for audit generations. The
// database enforces at most one "current" and one "new" snapshot.
type SnapshotRepository interface {
	// Create inserts a snapshot in the "new" status and returns it.
	Create(ctx context.Context) (*entity.Snapshot, error)
	// Current returns the promoted snapshot, ErrNotFound if none exists.
	Current(ctx context.Context) (*entity.Snapshot, error)
	// New returns the in-progress snapshot, ErrNotFound if none exists.
	New(ctx context.Context) (*entity.Snapshot, error)
	// Promote atomically retires "current" and flips "new" to "current".
	// Readers never observe an intermediate state.
	Promote(ctx context.Context) error
	// Delete removes a snapshot and (by cascade) its content rows.
	Delete(ctx context.Context, id int64) error
}
