package audit

import (
	"context"
	"errors"
	"time"

	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"go.uber.org/zap"
)

// SnapshotManager owns the current/new snapshot lifecycle. A new audit
// builds a shadow generation while the current one keeps serving reads;
// promotion swaps them atomically.
type SnapshotManager struct {
	snapshots  repository.SnapshotRepository
	content    repository.ContentRepository
	posts      repository.PostRepository
	thresholds Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

func NewSnapshotManager(snapshots repository.SnapshotRepository, content repository.ContentRepository, posts repository.PostRepository, thresholds Thresholds, logger *zap.Logger) *SnapshotManager {
	return &SnapshotManager{
		snapshots:  snapshots,
		content:    content,
		posts:      posts,
		thresholds: thresholds,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateNew starts a new audit generation and seeds one content row per
// post in scope. Calling it while a new snapshot already exists is a
// no-op returning the existing one, unless force is set, in which case
// the existing generation's derived metrics are reset and it restarts
// from scratch. The current snapshot is never touched either way.
func (m *SnapshotManager) CreateNew(ctx context.Context, force bool) (*entity.Snapshot, error) {
	existing, err := m.snapshots.New(ctx)
	switch {
	case err == nil:
		if !force {
			return existing, nil
		}
		m.logger.Info("resetting in-progress snapshot", zap.Int64("snapshot_id", existing.ID))
		if err := m.content.ResetMetrics(ctx, existing.ID); err != nil {
			return nil, err
		}
		if err := m.seedRows(ctx, existing.ID); err != nil {
			return nil, err
		}
		return existing, nil
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, err
	}

	snap, err := m.snapshots.Create(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.seedRows(ctx, snap.ID); err != nil {
		return nil, err
	}
	m.logger.Info("new snapshot created", zap.Int64("snapshot_id", snap.ID))
	return snap, nil
}

// seedRows inserts one row per post. Posts the user excluded and posts
// too young to judge go straight to their sticky buckets; the rest enter
// the pipeline at the scope-check stage. Seeding an existing row is a
// no-op, which is what makes CreateNew safe to re-run.
func (m *SnapshotManager) seedRows(ctx context.Context, snapshotID int64) error {
	posts, err := m.posts.All(ctx)
	if err != nil {
		return err
	}
	recentCutoff := m.now().AddDate(0, 0, -m.thresholds.RecentDays)
	for _, p := range posts {
		action := entity.ActionAnalyzingInitial
		switch {
		case p.Excluded:
			action = entity.ActionExcluded
		case p.PublishedAt.After(recentCutoff):
			action = entity.ActionNewlyPublished
		}
		if err := m.content.SeedRow(ctx, snapshotID, p.ID, action); err != nil {
			return err
		}
	}
	return nil
}

// Promote atomically retires the current snapshot and makes the new one
// current. Callers must have verified the new generation is complete.
func (m *SnapshotManager) Promote(ctx context.Context) error {
	if err := m.snapshots.Promote(ctx); err != nil {
		return err
	}
	m.logger.Info("snapshot promoted")
	return nil
}

// HasCurrentAndNew reports whether an audit is rebuilding underneath a
// live generation.
func (m *SnapshotManager) HasCurrentAndNew(ctx context.Context) (bool, error) {
	if _, err := m.snapshots.Current(ctx); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := m.snapshots.New(ctx); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResetNew clears derived metrics for the in-progress generation, used
// when the site domain or a provider account changes mid-audit. The
// current snapshot stays untouched so users keep their last-good audit.
func (m *SnapshotManager) ResetNew(ctx context.Context) error {
	snap, err := m.snapshots.New(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	return m.content.ResetMetrics(ctx, snap.ID)
}
