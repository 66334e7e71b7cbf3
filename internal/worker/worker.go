// Package worker holds the per-provider batch processors. Each worker
// claims a bounded batch of pending posts for the active snapshot, calls
// its adapter, and writes only the row columns it owns. A provider-level
// rate or auth error halts the batch and surfaces a structured reason;
// per-post failures become row sentinels and never halt anything.
package worker

import (
	"context"
	"net/url"
	"time"

	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"github.com/user/content-audit/pkg/metrics"
	"github.com/user/content-audit/pkg/utils"
	"go.uber.org/zap"
)

// Reclassifier re-derives a row's recommended action after a metric write.
// Implemented by the audit classifier; an interface here keeps the worker
// package free of the audit package.
type Reclassifier interface {
	Reclassify(ctx context.Context, snapshotID, postID int64) error
}

// Worker is one stage of the audit pipeline.
type Worker interface {
	// Name identifies the worker in logs and metrics.
	Name() string
	// Provider is the external API this worker paces against.
	Provider() entity.Provider
	// BatchSize caps how many posts one ProcessBatch call may handle;
	// it differs per worker because provider batching limits differ.
	BatchSize() int
	// Pending returns post IDs still missing this worker's contribution.
	Pending(ctx context.Context, snapshotID int64, limit int) ([]int64, error)
	// ProcessBatch handles up to BatchSize posts. A non-nil message means
	// the provider halted the batch (rate limit or auth failure); rows not
	// yet written stay pending for a later pass. The error return is for
	// storage failures only.
	ProcessBatch(ctx context.Context, snapshotID int64, postIDs []int64) (*entity.Message, error)
}

// base carries the collaborators every worker shares.
type base struct {
	content    repository.ContentRepository
	posts      repository.PostRepository
	classifier Reclassifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
	siteBase   *url.URL

	// OnRateError receives the post IDs that were in flight when the
	// provider reported a rate error, before the halt is surfaced.
	OnRateError func(postIDs []int64)
}

func newBase(content repository.ContentRepository, posts repository.PostRepository, classifier Reclassifier, m *metrics.Metrics, logger *zap.Logger, siteBase *url.URL) base {
	return base{
		content:    content,
		posts:      posts,
		classifier: classifier,
		metrics:    m,
		logger:     logger,
		siteBase:   siteBase,
	}
}

// halt builds the pause message for a provider-level failure and invokes
// the rate-error hook with the IDs whose rows were not written.
func (b *base) halt(apiErr *entity.APIError, inflight []int64) *entity.Message {
	msgType := entity.MessageRateLimit
	if apiErr.Kind == entity.ErrAuthInvalid {
		msgType = entity.MessageDisconnected
	}
	if apiErr.Kind == entity.ErrRateLimit && b.OnRateError != nil {
		b.OnRateError(inflight)
	}
	b.logger.Warn("worker batch halted",
		zap.String("provider", string(apiErr.Provider)),
		zap.String("kind", string(apiErr.Kind)),
		zap.Int64s("pending_posts", inflight))
	return &entity.Message{
		Type:      msgType,
		Provider:  apiErr.Provider,
		Text:      apiErr.Message,
		CreatedAt: time.Now(),
	}
}

// reclassify re-derives the row's action; classification failures are
// logged, not fatal, because the metric write already checkpointed.
func (b *base) reclassify(ctx context.Context, snapshotID, postID int64) {
	if err := b.classifier.Reclassify(ctx, snapshotID, postID); err != nil {
		b.logger.Error("reclassification failed",
			zap.Int64("snapshot_id", snapshotID),
			zap.Int64("post_id", postID),
			zap.Error(err))
	}
}

// pageURL resolves a post's site-relative path to its public URL.
func (b *base) pageURL(post *entity.Post) (string, error) {
	return utils.ToAbsoluteURL(b.siteBase, post.Path)
}
