package worker

import (
	"context"
	"net/url"

	"github.com/user/content-audit/internal/adapter/ahrefs"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

// backlinksBatchSize is 1 because the Ahrefs API has no batch endpoint.
const backlinksBatchSize = 1

// BacklinksWorker fetches backlink counts from Ahrefs, one URL per call.
type BacklinksWorker struct {
	base
	client *ahrefs.Client
}

func NewBacklinksWorker(client *ahrefs.Client, content repository.ContentRepository, posts repository.PostRepository, classifier Reclassifier, m *metrics.Metrics, logger *zap.Logger, siteBase *url.URL) *BacklinksWorker {
	return &BacklinksWorker{
		base:   newBase(content, posts, classifier, m, logger, siteBase),
		client: client,
	}
}

func (w *BacklinksWorker) Name() string              { return "backlinks" }
func (w *BacklinksWorker) Provider() entity.Provider { return entity.ProviderAhrefs }
func (w *BacklinksWorker) BatchSize() int            { return backlinksBatchSize }

func (w *BacklinksWorker) Pending(ctx context.Context, snapshotID int64, limit int) ([]int64, error) {
	return w.content.PendingBacklinks(ctx, snapshotID, limit)
}

func (w *BacklinksWorker) ProcessBatch(ctx context.Context, snapshotID int64, postIDs []int64) (*entity.Message, error) {
	posts, err := w.posts.FindByIDs(ctx, postIDs)
	if err != nil {
		return nil, err
	}

	for i, postID := range postIDs {
		post, ok := posts[postID]
		if !ok {
			// Post disappeared between seeding and processing.
			if err := w.content.SetBacklinksError(ctx, snapshotID, postID, "post no longer exists"); err != nil {
				return nil, err
			}
			w.reclassify(ctx, snapshotID, postID)
			continue
		}

		pageURL, err := w.pageURL(post)
		if err != nil {
			if err := w.content.SetBacklinksError(ctx, snapshotID, postID, "post has no resolvable permalink"); err != nil {
				return nil, err
			}
			w.reclassify(ctx, snapshotID, postID)
			continue
		}

		res := w.client.BacklinksCount(ctx, pageURL)
		if res.Err != nil {
			if res.Err.HaltsBatch() {
				return w.halt(res.Err, postIDs[i:]), nil
			}
			// Unknown: record the sentinel so the row is not retried forever.
			if err := w.content.SetBacklinksError(ctx, snapshotID, postID, res.Err.Message); err != nil {
				return nil, err
			}
			w.reclassify(ctx, snapshotID, postID)
			continue
		}

		if err := w.content.SetBacklinks(ctx, snapshotID, postID, res.Backlinks); err != nil {
			return nil, err
		}
		w.reclassify(ctx, snapshotID, postID)
	}
	return nil, nil
}
