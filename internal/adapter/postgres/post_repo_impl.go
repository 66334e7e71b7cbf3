package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
)

// PostRepoImpl provides a concrete implementation for the PostRepository
// interface using PostgreSQL.
type PostRepoImpl struct {
	db *pgxpool.Pool
}

// NewPostRepo creates a new instance of PostRepoImpl.
func NewPostRepo(db *pgxpool.Pool) *PostRepoImpl {
	return &PostRepoImpl{db: db}
}

// Upsert creates or updates a post by its path and returns its ID.
func (r *PostRepoImpl) Upsert(ctx context.Context, post *entity.Post) (int64, error) {
	query := `
		INSERT INTO posts (path, title, published_at, excluded)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (path) DO UPDATE SET
			title = EXCLUDED.title,
			published_at = EXCLUDED.published_at
		RETURNING id;
	`
	var id int64
	err := r.db.QueryRow(ctx, query, post.Path, post.Title, post.PublishedAt, post.Excluded).Scan(&id)
	return id, err
}

// FindByID returns a post by its primary key.
func (r *PostRepoImpl) FindByID(ctx context.Context, id int64) (*entity.Post, error) {
	query := `SELECT id, path, title, published_at, excluded FROM posts WHERE id = $1;`
	var p entity.Post
	err := r.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Path, &p.Title, &p.PublishedAt, &p.Excluded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByIDs returns the subset of posts that exist, keyed by ID.
func (r *PostRepoImpl) FindByIDs(ctx context.Context, ids []int64) (map[int64]*entity.Post, error) {
	query := `SELECT id, path, title, published_at, excluded FROM posts WHERE id = ANY($1);`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]*entity.Post, len(ids))
	for rows.Next() {
		var p entity.Post
		if err := rows.Scan(&p.ID, &p.Path, &p.Title, &p.PublishedAt, &p.Excluded); err != nil {
			return nil, err
		}
		out[p.ID] = &p
	}
	return out, rows.Err()
}

// All returns every post ordered by ID.
func (r *PostRepoImpl) All(ctx context.Context) ([]*entity.Post, error) {
	query := `SELECT id, path, title, published_at, excluded FROM posts ORDER BY id;`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Post
	for rows.Next() {
		var p entity.Post
		if err := rows.Scan(&p.ID, &p.Path, &p.Title, &p.PublishedAt, &p.Excluded); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// SetExcluded flips the manual exclusion flag.
func (r *PostRepoImpl) SetExcluded(ctx context.Context, id int64, excluded bool) error {
	_, err := r.db.Exec(ctx, `UPDATE posts SET excluded = $2 WHERE id = $1;`, id, excluded)
	return err
}

// Delete removes a post permanently; audit rows follow by cascade.
func (r *PostRepoImpl) Delete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM posts WHERE id = $1;`, id)
	return err
}
