package repository

import (
	"context"
	"time"

	"github.com/user/content-audit/internal/entity"
)

// ContentRepository defines the interface for the content audit table, the
// pipeline's source of truth and resumption point. Mutators update only the
// columns owned by one worker so concurrent contributions never clobber
// each other.
type ContentRepository interface {
	// SeedRow creates the row for a (snapshot, post) pair with an initial
	// action. Creating an already existing row is a no-op.
	SeedRow(ctx context.Context, snapshotID, postID int64, action entity.Action) error

	// Row retrieves a single row. Returns ErrNotFound when absent.
	Row(ctx context.Context, snapshotID, postID int64) (*entity.ContentRow, error)
	// Rows retrieves every row of a snapshot ordered by post ID.
	Rows(ctx context.Context, snapshotID int64) ([]*entity.ContentRow, error)

	// Pending queries: post IDs still missing one worker's contribution,
	// in stable post-ID order so interrupted passes resume where they left.
	PendingScope(ctx context.Context, snapshotID int64, limit int) ([]int64, error)
	PendingBacklinks(ctx context.Context, snapshotID int64, limit int) ([]int64, error)
	PendingTraffic(ctx context.Context, snapshotID int64, limit int) ([]int64, error)
	PendingPosition(ctx context.Context, snapshotID int64, limit int) ([]int64, error)
	// PendingFinal returns rows whose metrics are complete but which still
	// sit in analyzing, left behind when a classification attempt failed
	// after the last metric write.
	PendingFinal(ctx context.Context, snapshotID int64, limit int) ([]int64, error)

	// Worker writes, each touching only its own column subset. The error
	// variants record a per-post sentinel plus the failure reason instead
	// of a fabricated value, so the row terminates as error_analyzing.
	SetBacklinks(ctx context.Context, snapshotID, postID, count int64) error
	SetBacklinksError(ctx context.Context, snapshotID, postID int64, message string) error
	SetTraffic(ctx context.Context, snapshotID, postID int64, totalRaw, organicRaw, totalMonth, organicMonth int64) error
	SetTrafficError(ctx context.Context, snapshotID, postID int64, message string) error
	SetPosition(ctx context.Context, snapshotID, postID int64, position *float64, keyword string, kwGSC, kwIDF []byte) error
	SetPositionError(ctx context.Context, snapshotID, postID int64, message string) error
	// SetKeywordManual records a user keyword override. Returns ErrNotFound
	// when no row exists for the (snapshot, post) pair.
	SetKeywordManual(ctx context.Context, snapshotID, postID int64, keyword string, approved bool) error

	// SetAction moves the row to a new recommended-action bucket.
	SetAction(ctx context.Context, snapshotID, postID int64, action entity.Action) error

	// ActiveRowsWithKeyword returns non-excluded rows of a snapshot whose
	// active keyword matches, for sibling re-evaluation.
	ActiveRowsWithKeyword(ctx context.Context, snapshotID int64, keyword string) ([]*entity.ContentRow, error)

	// CountPending counts rows whose action is still an analyzing variant.
	CountPending(ctx context.Context, snapshotID int64) (int64, error)
	// CountByAction aggregates rows per action for progress reporting.
	CountByAction(ctx context.Context, snapshotID int64) (map[entity.Action]int64, error)

	// ResetMetrics clears derived metrics for a snapshot (backlinks,
	// traffic, position) and re-flags rows for analysis, leaving manual
	// keywords and exclusions intact.
	ResetMetrics(ctx context.Context, snapshotID int64) error

	// DeleteForPost removes every row of a permanently deleted post.
	DeleteForPost(ctx context.Context, postID int64) error

	// Touch refreshes the updated timestamp, used by checkpointing.
	Touch(ctx context.Context, snapshotID, postID int64, at time.Time) error
}
