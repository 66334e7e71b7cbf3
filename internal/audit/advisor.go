// Package audit contains the engine that drives worker passes over a
// snapshot, the snapshot lifecycle manager, and the advisor that turns a
// fully populated content row into a recommended action.
package audit

import (
	"context"
	"errors"

	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"go.uber.org/zap"
)

// Thresholds are the advisor's tunable classification constants. Defaults
// match the product rules; they are injected from config so tests and
// deployments can vary them.
type Thresholds struct {
	// TopPosition: ranking at or above this (lower is better) counts as a
	// top result.
	TopPosition float64
	// ReachablePosition: rankings worse than this are treated as out of
	// realistic reach for the current content.
	ReachablePosition float64
	// RecentDays: posts published within this many days are too young to
	// judge and stay in the newly-published bucket.
	RecentDays int
	// TrafficFloor: monthly organic pageviews below this count as "no
	// meaningful traffic".
	TrafficFloor int64
}

// DefaultThresholds returns the product defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TopPosition:       3.0,
		ReachablePosition: 20.0,
		RecentDays:        30,
		TrafficFloor:      10,
	}
}

// Classify computes the recommended action for a row whose metrics are
// complete. It is a pure function of the row and its keyword siblings;
// calling it twice with the same inputs yields the same action.
//
// siblings are the snapshot's other rows targeting the same active
// keyword; entries matching row's post ID are ignored, so passing the
// result of ActiveRowsWithKeyword unfiltered is fine.
func (t Thresholds) Classify(row *entity.ContentRow, siblings []*entity.ContentRow) entity.Action {
	if !row.MetricsComplete() {
		return row.Action
	}
	if row.HasItemError() {
		return entity.ActionError
	}

	backlinks := *row.Backlinks
	total := *row.TotalMonth
	var organic int64
	if row.OrganicMonth != nil {
		organic = *row.OrganicMonth
	}

	// Top result with authority: leave it alone.
	if row.Position != nil && *row.Position <= t.TopPosition && backlinks > 0 {
		return entity.ActionDoNothing
	}

	// Duplicate target keyword with a better-performing sibling: this row
	// should be merged into the sibling.
	if t.hasBetterSibling(row, siblings) {
		return entity.ActionMerge
	}

	// No traffic and no authority at all: deadweight.
	if total == 0 && backlinks == 0 {
		return entity.ActionDelete
	}

	// Negligible organic traffic, no authority, and ranking out of reach:
	// exclude from future audits rather than sink effort into it.
	if organic < t.TrafficFloor && backlinks == 0 &&
		(row.Position == nil || *row.Position > t.ReachablePosition) {
		return entity.ActionExclude
	}

	return entity.ActionUpdate
}

// hasBetterSibling reports whether another post commits to the same
// keyword and outranks row. Only approved or manually set keywords count
// as commitments; automatic suggestions do not trigger merges.
func (t Thresholds) hasBetterSibling(row *entity.ContentRow, siblings []*entity.ContentRow) bool {
	if row.ActiveKeyword() == "" || !keywordCommitted(row) {
		return false
	}
	for _, s := range siblings {
		if s.PostID == row.PostID || s.Inactive {
			continue
		}
		if !s.MetricsComplete() || !keywordCommitted(s) {
			continue
		}
		if !advisable(s.Action) {
			continue
		}
		if s.Position == nil {
			continue
		}
		if row.Position == nil || *s.Position < *row.Position {
			return true
		}
	}
	return false
}

func keywordCommitted(r *entity.ContentRow) bool {
	return r.KeywordManual != "" || r.IsApprovedKeyword
}

// advisable reports whether the advisor owns this row's action. Sticky
// buckets (manual exclusion, noindex, out of scope, newly published,
// added since last) are never overwritten by classification.
func advisable(a entity.Action) bool {
	switch a {
	case entity.ActionAnalyzing,
		entity.ActionDoNothing, entity.ActionUpdate, entity.ActionMerge,
		entity.ActionExclude, entity.ActionDelete, entity.ActionError:
		return true
	}
	return false
}

// Classifier applies Thresholds against the content table. It implements
// the reclassification hook workers call after every metric write.
type Classifier struct {
	thresholds Thresholds
	content    repository.ContentRepository
	logger     *zap.Logger
}

func NewClassifier(thresholds Thresholds, content repository.ContentRepository, logger *zap.Logger) *Classifier {
	return &Classifier{thresholds: thresholds, content: content, logger: logger}
}

// Reclassify re-derives the row's action and cascades to keyword siblings
// whose classification may have changed with it. A missing row or a row
// whose metrics are still incomplete is a no-op.
func (c *Classifier) Reclassify(ctx context.Context, snapshotID, postID int64) error {
	row, err := c.content.Row(ctx, snapshotID, postID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if !advisable(row.Action) || !row.MetricsComplete() {
		return nil
	}

	siblings, err := c.siblings(ctx, snapshotID, row)
	if err != nil {
		return err
	}

	if err := c.apply(ctx, row, siblings); err != nil {
		return err
	}

	// A keyword or position change on this row can flip a sibling between
	// merge and its standalone classification, so re-evaluate them too.
	for _, s := range siblings {
		if s.PostID == postID || !advisable(s.Action) || !s.MetricsComplete() {
			continue
		}
		if err := c.apply(ctx, s, siblings); err != nil {
			return err
		}
	}
	return nil
}

func (c *Classifier) siblings(ctx context.Context, snapshotID int64, row *entity.ContentRow) ([]*entity.ContentRow, error) {
	kw := row.ActiveKeyword()
	if kw == "" {
		return nil, nil
	}
	return c.content.ActiveRowsWithKeyword(ctx, snapshotID, kw)
}

func (c *Classifier) apply(ctx context.Context, row *entity.ContentRow, siblings []*entity.ContentRow) error {
	next := c.thresholds.Classify(row, siblings)
	if next == row.Action {
		return nil
	}
	c.logger.Debug("row reclassified",
		zap.Int64("snapshot_id", row.SnapshotID),
		zap.Int64("post_id", row.PostID),
		zap.String("from", string(row.Action)),
		zap.String("to", string(next)))
	if err := c.content.SetAction(ctx, row.SnapshotID, row.PostID, next); err != nil {
		return err
	}
	row.Action = next
	return nil
}
