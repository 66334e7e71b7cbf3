package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
)

// SnapshotRepoImpl provides a concrete implementation for the
// SnapshotRepository interface using PostgreSQL.
type SnapshotRepoImpl struct {
	db *pgxpool.Pool
}

// NewSnapshotRepo creates a new instance of SnapshotRepoImpl.
func NewSnapshotRepo(db *pgxpool.Pool) *SnapshotRepoImpl {
	return &SnapshotRepoImpl{db: db}
}

// Create inserts a snapshot in the "new" status. The partial unique index
// on status rejects a second live "new" generation.
func (r *SnapshotRepoImpl) Create(ctx context.Context) (*entity.Snapshot, error) {
	query := `INSERT INTO snapshots (status) VALUES ('new') RETURNING id, status, created_at;`
	return r.scanOne(r.db.QueryRow(ctx, query))
}

func (r *SnapshotRepoImpl) scanOne(row pgx.Row) (*entity.Snapshot, error) {
	var s entity.Snapshot
	err := row.Scan(&s.ID, &s.Status, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SnapshotRepoImpl) byStatus(ctx context.Context, status entity.SnapshotStatus) (*entity.Snapshot, error) {
	query := `SELECT id, status, created_at FROM snapshots WHERE status = $1;`
	return r.scanOne(r.db.QueryRow(ctx, query, status))
}

// Current returns the promoted snapshot.
func (r *SnapshotRepoImpl) Current(ctx context.Context) (*entity.Snapshot, error) {
	return r.byStatus(ctx, entity.SnapshotCurrent)
}

// New returns the in-progress snapshot.
func (r *SnapshotRepoImpl) New(ctx context.Context) (*entity.Snapshot, error) {
	return r.byStatus(ctx, entity.SnapshotNew)
}

// Promote atomically retires "current" and flips "new" to "current" inside
// one transaction, so readers of "current" never observe a half-promoted
// generation.
func (r *SnapshotRepoImpl) Promote(ctx context.Context) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE snapshots SET status = 'old' WHERE status = 'current';`); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE snapshots SET status = 'current' WHERE status = 'new';`)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return tx.Commit(ctx)
}

// Delete removes a snapshot; content rows follow by cascade.
func (r *SnapshotRepoImpl) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM snapshots WHERE id = $1;`, id)
	return err
}
