package entity

import "time"

// Action is the recommended-action bucket for a content row. The set is
// closed: a persisted row always carries exactly one of these values.
type Action string

const (
	// Final recommendations computed by the advisor.
	ActionDoNothing Action = "do_nothing"
	ActionUpdate    Action = "update"
	ActionMerge     Action = "merge"
	ActionExclude   Action = "exclude"
	ActionDelete    Action = "delete"

	// Rows outside the audit's reach.
	ActionExcluded       Action = "excluded"
	ActionNoindex        Action = "noindex"
	ActionOutOfScope     Action = "out_of_scope"
	ActionNewlyPublished Action = "newly_published"
	ActionError          Action = "error_analyzing"
	ActionAddedSinceLast Action = "added_since_last"

	// In-flight markers while workers populate metrics.
	ActionAnalyzingInitial Action = "analyzing_initial"
	ActionAnalyzing        Action = "analyzing"
)

var allActions = map[Action]struct{}{
	ActionDoNothing: {}, ActionUpdate: {}, ActionMerge: {}, ActionExclude: {},
	ActionDelete: {}, ActionExcluded: {}, ActionNoindex: {}, ActionOutOfScope: {},
	ActionNewlyPublished: {}, ActionError: {}, ActionAddedSinceLast: {},
	ActionAnalyzingInitial: {}, ActionAnalyzing: {},
}

// Actions returns every member of the closed action set.
func Actions() []Action {
	return []Action{
		ActionDoNothing, ActionUpdate, ActionMerge, ActionExclude, ActionDelete,
		ActionExcluded, ActionNoindex, ActionOutOfScope, ActionNewlyPublished,
		ActionError, ActionAddedSinceLast, ActionAnalyzingInitial, ActionAnalyzing,
	}
}

// Valid reports whether a is a member of the closed action set.
func (a Action) Valid() bool {
	_, ok := allActions[a]
	return ok
}

// Pending reports whether the row still needs worker passes.
func (a Action) Pending() bool {
	return a == ActionAnalyzingInitial || a == ActionAnalyzing
}

// MetricErrorSentinel is stored in a metric column when a single post
// could not be processed (deleted, no permalink, provider refused the
// lookup). It marks the row as processed so the batch can move on without
// retrying it forever, while HasItemError keeps the fabricated value out
// of classification.
const MetricErrorSentinel = -1

// ContentRow mirrors the content_audit PostgreSQL table schema. One row
// exists per (snapshot, post) pair; each worker owns a disjoint subset of
// the columns and never overwrites the others.
type ContentRow struct {
	SnapshotID int64
	PostID     int64
	Action     Action

	// Traffic worker columns. Month values are normalized to 30 days.
	TotalMonth   *int64
	OrganicMonth *int64
	TotalRaw     int64
	OrganicRaw   int64

	// Backlinks worker columns.
	Backlinks *int64

	// ItemError carries the reason recorded by whichever worker gave up
	// on this post. A non-empty value routes the row to error_analyzing.
	ItemError string

	// Position/keywords worker columns.
	Position           *float64
	Keyword            string
	KeywordManual      string
	IsApprovedKeyword  bool
	KwGSC              []byte // raw provider suggestion payload
	KwIDF              []byte // raw text-scorer suggestion payload
	KeywordsNeedUpdate bool
	PositionNeedUpdate bool

	Inactive bool
	Updated  time.Time
}

// MetricsComplete reports whether every worker has contributed, which is
// the precondition for the advisor to assign a final action.
func (r *ContentRow) MetricsComplete() bool {
	return r.Backlinks != nil && r.TotalMonth != nil && !r.PositionNeedUpdate
}

// ActiveKeyword returns the keyword the advisor should judge the row by.
// A manual override always wins over the selected suggestion.
func (r *ContentRow) ActiveKeyword() string {
	if r.KeywordManual != "" {
		return r.KeywordManual
	}
	return r.Keyword
}

// HasItemError reports whether a per-post failure was recorded. Sentinel
// metric values count even when the error text was lost, so a row never
// classifies on a fabricated number.
func (r *ContentRow) HasItemError() bool {
	if r.ItemError != "" {
		return true
	}
	if r.Backlinks != nil && *r.Backlinks == MetricErrorSentinel {
		return true
	}
	return r.TotalMonth != nil && *r.TotalMonth == MetricErrorSentinel
}
