package request

import "time"

type StartAuditRequest struct {
	// Force restarts the in-progress snapshot from scratch instead of
	// resuming it.
	Force bool `json:"force"`
}

type UpsertPostRequest struct {
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Excluded    bool      `json:"excluded"`
}

type ExcludePostRequest struct {
	Excluded bool `json:"excluded"`
}

type SetKeywordRequest struct {
	Keyword  string `json:"keyword"`
	Approved bool   `json:"approved"`
}

type ConnectAccountRequest struct {
	Token string `json:"token"`
}
