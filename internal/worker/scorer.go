package worker

import (
	"encoding/json"
	"sort"

	"github.com/user/content-audit/internal/adapter/google"
)

// KeywordScorer selects the post's target keyword from the provider's
// search-analytics rows. The TF-IDF text scorer plugs in behind this
// interface; the pipeline treats it as a black box.
type KeywordScorer interface {
	// Pick returns the chosen keyword and an opaque rationale payload
	// cached alongside the row. Both may be empty when rows is empty.
	Pick(title string, rows []google.QueryRow) (keyword string, rationale []byte)
}

// ClicksScorer is the default scorer: highest clicks wins, impressions
// break ties, then the better (lower) position.
type ClicksScorer struct{}

func (ClicksScorer) Pick(title string, rows []google.QueryRow) (string, []byte) {
	if len(rows) == 0 {
		return "", nil
	}
	ranked := make([]google.QueryRow, len(rows))
	copy(ranked, rows)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Clicks != ranked[j].Clicks {
			return ranked[i].Clicks > ranked[j].Clicks
		}
		if ranked[i].Impressions != ranked[j].Impressions {
			return ranked[i].Impressions > ranked[j].Impressions
		}
		return ranked[i].Position < ranked[j].Position
	})
	rationale, _ := json.Marshal(ranked)
	return ranked[0].Query, rationale
}
