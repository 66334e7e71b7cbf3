package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied at startup; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		id BIGSERIAL PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'new',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	// At most one "current" and one "new" generation at a time.
	`CREATE UNIQUE INDEX IF NOT EXISTS snapshots_live_status
		ON snapshots (status) WHERE status IN ('current', 'new');`,
	`CREATE TABLE IF NOT EXISTS posts (
		id BIGSERIAL PRIMARY KEY,
		path TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ NOT NULL,
		excluded BOOLEAN NOT NULL DEFAULT FALSE
	);`,
	`CREATE TABLE IF NOT EXISTS content_audit (
		snapshot_id BIGINT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		post_id BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		action TEXT NOT NULL,
		total_month BIGINT,
		organic_month BIGINT,
		total_raw BIGINT NOT NULL DEFAULT 0,
		organic_raw BIGINT NOT NULL DEFAULT 0,
		backlinks BIGINT,
		item_error TEXT NOT NULL DEFAULT '',
		position DOUBLE PRECISION,
		keyword TEXT NOT NULL DEFAULT '',
		keyword_manual TEXT NOT NULL DEFAULT '',
		is_approved_keyword BOOLEAN NOT NULL DEFAULT FALSE,
		kw_gsc JSONB,
		kw_idf JSONB,
		keywords_need_update BOOLEAN NOT NULL DEFAULT TRUE,
		position_need_update BOOLEAN NOT NULL DEFAULT TRUE,
		inactive BOOLEAN NOT NULL DEFAULT FALSE,
		updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (snapshot_id, post_id)
	);`,
	`CREATE INDEX IF NOT EXISTS content_audit_action_idx
		ON content_audit (snapshot_id, action);`,
}

// InitSchema creates the audit tables if they do not exist yet.
func InitSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
