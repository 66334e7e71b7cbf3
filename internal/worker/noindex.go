package worker

import (
	"context"
	"net/url"

	"github.com/user/content-audit/internal/adapter/prober"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

const noindexBatchSize = 3

// NoindexWorker is the scope stage: it probes each seeded post's public
// URL and either admits the row into the metric pipeline or parks it in an
// excluded bucket (noindex, out of scope).
type NoindexWorker struct {
	base
	prober prober.Prober
}

func NewNoindexWorker(p prober.Prober, content repository.ContentRepository, posts repository.PostRepository, classifier Reclassifier, m *metrics.Metrics, logger *zap.Logger, siteBase *url.URL) *NoindexWorker {
	return &NoindexWorker{
		base:   newBase(content, posts, classifier, m, logger, siteBase),
		prober: p,
	}
}

func (w *NoindexWorker) Name() string              { return "noindex" }
func (w *NoindexWorker) Provider() entity.Provider { return entity.ProviderNoindex }
func (w *NoindexWorker) BatchSize() int            { return noindexBatchSize }

func (w *NoindexWorker) Pending(ctx context.Context, snapshotID int64, limit int) ([]int64, error) {
	return w.content.PendingScope(ctx, snapshotID, limit)
}

func (w *NoindexWorker) ProcessBatch(ctx context.Context, snapshotID int64, postIDs []int64) (*entity.Message, error) {
	posts, err := w.posts.FindByIDs(ctx, postIDs)
	if err != nil {
		return nil, err
	}

	for i, postID := range postIDs {
		post, ok := posts[postID]
		if !ok {
			if err := w.content.SetAction(ctx, snapshotID, postID, entity.ActionOutOfScope); err != nil {
				return nil, err
			}
			continue
		}

		pageURL, err := w.pageURL(post)
		if err != nil {
			if err := w.content.SetAction(ctx, snapshotID, postID, entity.ActionOutOfScope); err != nil {
				return nil, err
			}
			continue
		}

		res := w.prober.Probe(ctx, pageURL)
		next := entity.ActionAnalyzing
		switch {
		case res.Err != nil && res.Err.HaltsBatch():
			return w.halt(res.Err, postIDs[i:]), nil
		case res.Err != nil:
			// An unreachable page is still audited; the probe only filters
			// pages that positively opt out of indexing.
			w.logger.Warn("noindex probe failed, admitting post anyway",
				zap.Int64("post_id", postID), zap.String("reason", res.Err.Message))
		case res.Gone:
			next = entity.ActionOutOfScope
		case res.Noindex:
			next = entity.ActionNoindex
		}

		if err := w.content.SetAction(ctx, snapshotID, postID, next); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
