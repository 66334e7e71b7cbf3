package worker

import (
	"context"
	"errors"
	"net/url"

	"github.com/user/content-audit/internal/adapter/google"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

// keywordsBatchSize bounds how many sequential Search Console queries one
// batch may issue.
const keywordsBatchSize = 4

// KeywordsWorker fetches search-analytics rows per page, picks the target
// keyword through the scorer, and records the ranking position.
type KeywordsWorker struct {
	base
	client     *google.SearchConsoleClient
	scorer     KeywordScorer
	windowDays int
}

func NewKeywordsWorker(client *google.SearchConsoleClient, scorer KeywordScorer, windowDays int, content repository.ContentRepository, posts repository.PostRepository, classifier Reclassifier, m *metrics.Metrics, logger *zap.Logger, siteBase *url.URL) *KeywordsWorker {
	return &KeywordsWorker{
		base:       newBase(content, posts, classifier, m, logger, siteBase),
		client:     client,
		scorer:     scorer,
		windowDays: windowDays,
	}
}

func (w *KeywordsWorker) Name() string              { return "keywords" }
func (w *KeywordsWorker) Provider() entity.Provider { return entity.ProviderSearchConsole }
func (w *KeywordsWorker) BatchSize() int            { return keywordsBatchSize }

func (w *KeywordsWorker) Pending(ctx context.Context, snapshotID int64, limit int) ([]int64, error) {
	return w.content.PendingPosition(ctx, snapshotID, limit)
}

func (w *KeywordsWorker) ProcessBatch(ctx context.Context, snapshotID int64, postIDs []int64) (*entity.Message, error) {
	posts, err := w.posts.FindByIDs(ctx, postIDs)
	if err != nil {
		return nil, err
	}

	var (
		pages   []string
		pageIDs []int64
	)
	for _, postID := range postIDs {
		post, ok := posts[postID]
		if !ok {
			if err := w.content.SetPositionError(ctx, snapshotID, postID, "post no longer exists"); err != nil {
				return nil, err
			}
			w.reclassify(ctx, snapshotID, postID)
			continue
		}
		pageURL, err := w.pageURL(post)
		if err != nil {
			if err := w.content.SetPositionError(ctx, snapshotID, postID, "post has no resolvable permalink"); err != nil {
				return nil, err
			}
			w.reclassify(ctx, snapshotID, postID)
			continue
		}
		pages = append(pages, pageURL)
		pageIDs = append(pageIDs, postID)
	}
	if len(pages) == 0 {
		return nil, nil
	}

	results := w.client.FetchPositions(ctx, pages, w.windowDays)

	// An unknown per-page error records the sentinel; a missing provider
	// result is legitimate "never ranked" data and commits normally.
	for i, res := range results {
		postID := pageIDs[i]
		if res.Err != nil {
			if res.Err.HaltsBatch() {
				return w.halt(res.Err, pageIDs[i:]), nil
			}
			w.logger.Warn("search analytics fetch failed for post",
				zap.Int64("post_id", postID), zap.String("reason", res.Err.Message))
			if err := w.content.SetPositionError(ctx, snapshotID, postID, res.Err.Message); err != nil {
				return nil, err
			}
			w.reclassify(ctx, snapshotID, postID)
			continue
		}
		if err := w.writeResult(ctx, snapshotID, postID, posts[postID], res); err != nil {
			return nil, err
		}
		w.reclassify(ctx, snapshotID, postID)
	}
	return nil, nil
}

func (w *KeywordsWorker) writeResult(ctx context.Context, snapshotID, postID int64, post *entity.Post, res google.PositionResult) error {
	title := ""
	if post != nil {
		title = post.Title
	}
	keyword, rationale := w.scorer.Pick(title, res.Rows)

	// A manual keyword override wins; its position comes from the matching
	// provider row when one exists.
	row, err := w.content.Row(ctx, snapshotID, postID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	target := keyword
	if row != nil && row.KeywordManual != "" {
		target = row.KeywordManual
	}

	position := positionFor(target, res.Rows)
	return w.content.SetPosition(ctx, snapshotID, postID, position, keyword, res.Raw, rationale)
}

func positionFor(keyword string, rows []google.QueryRow) *float64 {
	if keyword == "" {
		return nil
	}
	for _, r := range rows {
		if r.Query == keyword {
			p := r.Position
			return &p
		}
	}
	return nil
}
