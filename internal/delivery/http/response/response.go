package response

import "time"

type StartAuditResponse struct {
	SnapshotID int64  `json:"snapshot_id"`
	State      string `json:"state"`
}

type StepResponse struct {
	State string `json:"state"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type PostResponse struct {
	ID          int64     `json:"id"`
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Excluded    bool      `json:"excluded"`
}

// ContentRowResponse is a DTO for one audited post's metrics and the
// recommended action, mirroring entity.ContentRow.
type ContentRowResponse struct {
	SnapshotID int64  `json:"snapshot_id"`
	PostID     int64  `json:"post_id"`
	Action     string `json:"action"`

	TotalMonth   *int64 `json:"total_month"`
	OrganicMonth *int64 `json:"organic_month"`
	Backlinks    *int64 `json:"backlinks"`

	Position          *float64  `json:"position"`
	Keyword           string    `json:"keyword"`
	KeywordManual     string    `json:"keyword_manual,omitempty"`
	IsApprovedKeyword bool      `json:"is_approved_keyword"`
	Updated           time.Time `json:"updated"`
}
