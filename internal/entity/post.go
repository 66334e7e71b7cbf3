package entity

import "time"

// Post mirrors the posts PostgreSQL table schema: the service-owned
// inventory of published content in audit scope.
type Post struct {
	ID          int64
	Path        string // site-relative permalink, e.g. "/blog/hello"
	Title       string
	PublishedAt time.Time
	Excluded    bool // manually excluded by the user
}
