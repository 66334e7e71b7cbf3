package worker

import (
	"context"
	"net/url"

	"github.com/user/content-audit/internal/adapter/google"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

// TrafficWorker fetches pageview totals from the GA4 Data API, multiplexing
// a small batch of pages into one request.
type TrafficWorker struct {
	base
	client     *google.AnalyticsClient
	windowDays int
}

func NewTrafficWorker(client *google.AnalyticsClient, windowDays int, content repository.ContentRepository, posts repository.PostRepository, classifier Reclassifier, m *metrics.Metrics, logger *zap.Logger, siteBase *url.URL) *TrafficWorker {
	return &TrafficWorker{
		base:       newBase(content, posts, classifier, m, logger, siteBase),
		client:     client,
		windowDays: windowDays,
	}
}

func (w *TrafficWorker) Name() string              { return "traffic" }
func (w *TrafficWorker) Provider() entity.Provider { return entity.ProviderAnalytics }
func (w *TrafficWorker) BatchSize() int            { return google.MaxReportsPerBatch }

func (w *TrafficWorker) Pending(ctx context.Context, snapshotID int64, limit int) ([]int64, error) {
	return w.content.PendingTraffic(ctx, snapshotID, limit)
}

func (w *TrafficWorker) ProcessBatch(ctx context.Context, snapshotID int64, postIDs []int64) (*entity.Message, error) {
	posts, err := w.posts.FindByIDs(ctx, postIDs)
	if err != nil {
		return nil, err
	}

	// Posts that vanished get the per-post sentinel straight away; the
	// rest map to their page paths for the multiplexed request.
	var (
		paths   []string
		pathIDs []int64
	)
	for _, postID := range postIDs {
		post, ok := posts[postID]
		if !ok {
			if err := w.content.SetTrafficError(ctx, snapshotID, postID, "post no longer exists"); err != nil {
				return nil, err
			}
			w.reclassify(ctx, snapshotID, postID)
			continue
		}
		paths = append(paths, post.Path)
		pathIDs = append(pathIDs, postID)
	}
	if len(paths) == 0 {
		return nil, nil
	}

	results := w.client.FetchTraffic(ctx, paths, w.windowDays)

	// Partial-batch policy: successes commit, a halting error keeps the
	// remaining rows pending, an unknown error records the per-post
	// sentinel so the row terminates as error_analyzing instead of
	// carrying fabricated zero pageviews.
	for i, res := range results {
		postID := pathIDs[i]
		if res.Err != nil {
			if res.Err.HaltsBatch() {
				return w.halt(res.Err, pathIDs[i:]), nil
			}
			w.logger.Warn("traffic fetch failed for post",
				zap.Int64("post_id", postID), zap.String("reason", res.Err.Message))
			if err := w.content.SetTrafficError(ctx, snapshotID, postID, res.Err.Message); err != nil {
				return nil, err
			}
			w.reclassify(ctx, snapshotID, postID)
			continue
		}
		if err := w.content.SetTraffic(ctx, snapshotID, postID, res.TotalRaw, res.OrganicRaw, res.TotalMonth, res.OrganicMonth); err != nil {
			return nil, err
		}
		w.reclassify(ctx, snapshotID, postID)
	}
	return nil, nil
}
