package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
)

// ContentRepoImpl provides a concrete implementation for the
// ContentRepository interface using PostgreSQL.
type ContentRepoImpl struct {
	db *pgxpool.Pool
}

// NewContentRepo creates a new instance of ContentRepoImpl.
func NewContentRepo(db *pgxpool.Pool) *ContentRepoImpl {
	return &ContentRepoImpl{db: db}
}

const rowColumns = `snapshot_id, post_id, action, total_month, organic_month,
	total_raw, organic_raw, backlinks, item_error, position,
	keyword, keyword_manual, is_approved_keyword, kw_gsc, kw_idf,
	keywords_need_update, position_need_update, inactive, updated`

func scanRow(row pgx.Row) (*entity.ContentRow, error) {
	var r entity.ContentRow
	err := row.Scan(
		&r.SnapshotID, &r.PostID, &r.Action, &r.TotalMonth, &r.OrganicMonth,
		&r.TotalRaw, &r.OrganicRaw, &r.Backlinks, &r.ItemError, &r.Position,
		&r.Keyword, &r.KeywordManual, &r.IsApprovedKeyword, &r.KwGSC, &r.KwIDF,
		&r.KeywordsNeedUpdate, &r.PositionNeedUpdate, &r.Inactive, &r.Updated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SeedRow creates the row for a (snapshot, post) pair with an initial action.
func (r *ContentRepoImpl) SeedRow(ctx context.Context, snapshotID, postID int64, action entity.Action) error {
	query := `
		INSERT INTO content_audit (snapshot_id, post_id, action)
		VALUES ($1, $2, $3)
		ON CONFLICT (snapshot_id, post_id) DO NOTHING;
	`
	_, err := r.db.Exec(ctx, query, snapshotID, postID, action)
	return err
}

// Row retrieves a single row.
func (r *ContentRepoImpl) Row(ctx context.Context, snapshotID, postID int64) (*entity.ContentRow, error) {
	query := `SELECT ` + rowColumns + ` FROM content_audit WHERE snapshot_id = $1 AND post_id = $2;`
	return scanRow(r.db.QueryRow(ctx, query, snapshotID, postID))
}

// Rows retrieves every row of a snapshot ordered by post ID.
func (r *ContentRepoImpl) Rows(ctx context.Context, snapshotID int64) ([]*entity.ContentRow, error) {
	query := `SELECT ` + rowColumns + ` FROM content_audit WHERE snapshot_id = $1 ORDER BY post_id;`
	return r.queryRows(ctx, query, snapshotID)
}

func (r *ContentRepoImpl) queryRows(ctx context.Context, query string, args ...any) ([]*entity.ContentRow, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.ContentRow
	for rows.Next() {
		cr, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

func (r *ContentRepoImpl) pendingIDs(ctx context.Context, query string, snapshotID int64, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, query, snapshotID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PendingScope returns posts still awaiting the noindex/scope probe.
func (r *ContentRepoImpl) PendingScope(ctx context.Context, snapshotID int64, limit int) ([]int64, error) {
	query := `
		SELECT post_id FROM content_audit
		WHERE snapshot_id = $1 AND action = 'analyzing_initial'
		ORDER BY post_id LIMIT $2;
	`
	return r.pendingIDs(ctx, query, snapshotID, limit)
}

// PendingBacklinks returns posts still missing a backlink count.
func (r *ContentRepoImpl) PendingBacklinks(ctx context.Context, snapshotID int64, limit int) ([]int64, error) {
	query := `
		SELECT post_id FROM content_audit
		WHERE snapshot_id = $1 AND action = 'analyzing' AND backlinks IS NULL
		ORDER BY post_id LIMIT $2;
	`
	return r.pendingIDs(ctx, query, snapshotID, limit)
}

// PendingTraffic returns posts still missing traffic totals.
func (r *ContentRepoImpl) PendingTraffic(ctx context.Context, snapshotID int64, limit int) ([]int64, error) {
	query := `
		SELECT post_id FROM content_audit
		WHERE snapshot_id = $1 AND action = 'analyzing' AND total_month IS NULL
		ORDER BY post_id LIMIT $2;
	`
	return r.pendingIDs(ctx, query, snapshotID, limit)
}

// PendingPosition returns posts still missing keyword/position data.
func (r *ContentRepoImpl) PendingPosition(ctx context.Context, snapshotID int64, limit int) ([]int64, error) {
	query := `
		SELECT post_id FROM content_audit
		WHERE snapshot_id = $1 AND action = 'analyzing' AND position_need_update
		ORDER BY post_id LIMIT $2;
	`
	return r.pendingIDs(ctx, query, snapshotID, limit)
}

// PendingFinal returns metrics-complete rows still parked in analyzing.
// No per-metric pending query matches them, so without a classification
// sweep they would count as pending forever.
func (r *ContentRepoImpl) PendingFinal(ctx context.Context, snapshotID int64, limit int) ([]int64, error) {
	query := `
		SELECT post_id FROM content_audit
		WHERE snapshot_id = $1 AND action = 'analyzing'
		  AND backlinks IS NOT NULL AND total_month IS NOT NULL
		  AND NOT position_need_update
		ORDER BY post_id LIMIT $2;
	`
	return r.pendingIDs(ctx, query, snapshotID, limit)
}

// SetBacklinks stores the fetched backlink count for one row.
func (r *ContentRepoImpl) SetBacklinks(ctx context.Context, snapshotID, postID, count int64) error {
	query := `
		UPDATE content_audit
		SET backlinks = $3, updated = NOW()
		WHERE snapshot_id = $1 AND post_id = $2;
	`
	_, err := r.db.Exec(ctx, query, snapshotID, postID, count)
	return err
}

// SetBacklinksError records the per-post sentinel so the row is no longer
// pending but carries the failure reason.
func (r *ContentRepoImpl) SetBacklinksError(ctx context.Context, snapshotID, postID int64, message string) error {
	query := `
		UPDATE content_audit
		SET backlinks = $3, item_error = $4, updated = NOW()
		WHERE snapshot_id = $1 AND post_id = $2;
	`
	_, err := r.db.Exec(ctx, query, snapshotID, postID, int64(entity.MetricErrorSentinel), message)
	return err
}

// SetTraffic stores raw and 30-day-normalized traffic totals.
func (r *ContentRepoImpl) SetTraffic(ctx context.Context, snapshotID, postID int64, totalRaw, organicRaw, totalMonth, organicMonth int64) error {
	query := `
		UPDATE content_audit
		SET total_raw = $3, organic_raw = $4, total_month = $5, organic_month = $6, updated = NOW()
		WHERE snapshot_id = $1 AND post_id = $2;
	`
	_, err := r.db.Exec(ctx, query, snapshotID, postID, totalRaw, organicRaw, totalMonth, organicMonth)
	return err
}

// SetTrafficError records the per-post sentinel in the traffic columns.
// The row stops being pending without ever carrying fabricated pageviews.
func (r *ContentRepoImpl) SetTrafficError(ctx context.Context, snapshotID, postID int64, message string) error {
	query := `
		UPDATE content_audit
		SET total_month = $3, organic_month = $3, item_error = $4, updated = NOW()
		WHERE snapshot_id = $1 AND post_id = $2;
	`
	_, err := r.db.Exec(ctx, query, snapshotID, postID, int64(entity.MetricErrorSentinel), message)
	return err
}

// SetPosition stores the ranking position, the selected keyword and the raw
// provider suggestions, clearing the per-metric dirty bits.
func (r *ContentRepoImpl) SetPosition(ctx context.Context, snapshotID, postID int64, position *float64, keyword string, kwGSC, kwIDF []byte) error {
	query := `
		UPDATE content_audit
		SET position = $3,
		    keyword = CASE WHEN keyword_manual = '' THEN $4 ELSE keyword END,
		    kw_gsc = $5,
		    kw_idf = $6,
		    position_need_update = FALSE,
		    keywords_need_update = FALSE,
		    updated = NOW()
		WHERE snapshot_id = $1 AND post_id = $2;
	`
	_, err := r.db.Exec(ctx, query, snapshotID, postID, position, keyword, kwGSC, kwIDF)
	return err
}

// SetPositionError closes the position stage with the failure reason and
// no ranking data.
func (r *ContentRepoImpl) SetPositionError(ctx context.Context, snapshotID, postID int64, message string) error {
	query := `
		UPDATE content_audit
		SET position = NULL,
		    position_need_update = FALSE,
		    keywords_need_update = FALSE,
		    item_error = $3,
		    updated = NOW()
		WHERE snapshot_id = $1 AND post_id = $2;
	`
	_, err := r.db.Exec(ctx, query, snapshotID, postID, message)
	return err
}

// SetKeywordManual records a user keyword override and its approval flag.
func (r *ContentRepoImpl) SetKeywordManual(ctx context.Context, snapshotID, postID int64, keyword string, approved bool) error {
	query := `
		UPDATE content_audit
		SET keyword_manual = $3, is_approved_keyword = $4, updated = NOW()
		WHERE snapshot_id = $1 AND post_id = $2;
	`
	tag, err := r.db.Exec(ctx, query, snapshotID, postID, keyword, approved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetAction moves the row to a new recommended-action bucket.
func (r *ContentRepoImpl) SetAction(ctx context.Context, snapshotID, postID int64, action entity.Action) error {
	query := `
		UPDATE content_audit SET action = $3, updated = NOW()
		WHERE snapshot_id = $1 AND post_id = $2;
	`
	_, err := r.db.Exec(ctx, query, snapshotID, postID, action)
	return err
}

// ActiveRowsWithKeyword returns non-excluded rows whose active keyword
// (manual override or selected suggestion) matches.
func (r *ContentRepoImpl) ActiveRowsWithKeyword(ctx context.Context, snapshotID int64, keyword string) ([]*entity.ContentRow, error) {
	query := `SELECT ` + rowColumns + `
		FROM content_audit
		WHERE snapshot_id = $1
		  AND NOT inactive
		  AND action NOT IN ('excluded', 'noindex', 'out_of_scope', 'added_since_last')
		  AND (CASE WHEN keyword_manual <> '' THEN keyword_manual ELSE keyword END) = $2
		ORDER BY post_id;
	`
	return r.queryRows(ctx, query, snapshotID, keyword)
}

// CountPending counts rows whose action is still an analyzing variant.
func (r *ContentRepoImpl) CountPending(ctx context.Context, snapshotID int64) (int64, error) {
	query := `
		SELECT COUNT(*) FROM content_audit
		WHERE snapshot_id = $1 AND action IN ('analyzing', 'analyzing_initial');
	`
	var n int64
	err := r.db.QueryRow(ctx, query, snapshotID).Scan(&n)
	return n, err
}

// CountByAction aggregates rows per action for progress reporting.
func (r *ContentRepoImpl) CountByAction(ctx context.Context, snapshotID int64) (map[entity.Action]int64, error) {
	query := `
		SELECT action, COUNT(*) FROM content_audit
		WHERE snapshot_id = $1 GROUP BY action;
	`
	rows, err := r.db.Query(ctx, query, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[entity.Action]int64)
	for rows.Next() {
		var action entity.Action
		var n int64
		if err := rows.Scan(&action, &n); err != nil {
			return nil, err
		}
		counts[action] = n
	}
	return counts, rows.Err()
}

// ResetMetrics clears derived metrics for a snapshot and re-flags its rows
// for analysis. Manual keywords and exclusion actions survive the reset.
func (r *ContentRepoImpl) ResetMetrics(ctx context.Context, snapshotID int64) error {
	query := `
		UPDATE content_audit
		SET backlinks = NULL, item_error = '',
		    total_month = NULL, organic_month = NULL, total_raw = 0, organic_raw = 0,
		    position = NULL, keyword = '', kw_gsc = NULL, kw_idf = NULL,
		    keywords_need_update = TRUE, position_need_update = TRUE,
		    action = 'analyzing_initial', updated = NOW()
		WHERE snapshot_id = $1
		  AND action NOT IN ('excluded', 'newly_published');
	`
	_, err := r.db.Exec(ctx, query, snapshotID)
	return err
}

// DeleteForPost removes every row of a permanently deleted post.
func (r *ContentRepoImpl) DeleteForPost(ctx context.Context, postID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM content_audit WHERE post_id = $1;`, postID)
	return err
}

// Touch refreshes the updated timestamp.
func (r *ContentRepoImpl) Touch(ctx context.Context, snapshotID, postID int64, at time.Time) error {
	query := `UPDATE content_audit SET updated = $3 WHERE snapshot_id = $1 AND post_id = $2;`
	_, err := r.db.Exec(ctx, query, snapshotID, postID, at)
	return err
}
