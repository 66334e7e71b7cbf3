package repository

import (
	"context"

	"github.com/user/content-audit/internal/entity"
)

// PostRepository defines the interface for the content inventory.
type PostRepository interface {
	// Upsert creates or updates a post by its path and returns its ID.
	Upsert(ctx context.Context, post *entity.Post) (int64, error)
	// FindByID returns a post, ErrNotFound when absent.
	FindByID(ctx context.Context, id int64) (*entity.Post, error)
	// FindByIDs returns the subset of posts that exist, keyed by ID.
	FindByIDs(ctx context.Context, ids []int64) (map[int64]*entity.Post, error)
	// All returns every post ordered by ID.
	All(ctx context.Context) ([]*entity.Post, error)
	// SetExcluded flips the manual exclusion flag.
	SetExcluded(ctx context.Context, id int64, excluded bool) error
	// Delete removes a post permanently.
	Delete(ctx context.Context, id int64) error
}
