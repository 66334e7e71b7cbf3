package worker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/content-audit/internal/adapter/google"
)

func TestClicksScorerPicksHighestClicks(t *testing.T) {
	rows := []google.QueryRow{
		{Query: "runner-up", Clicks: 40, Impressions: 5000, Position: 2.0},
		{Query: "winner", Clicks: 120, Impressions: 1000, Position: 9.0},
	}

	keyword, rationale := pickKeyword(t, rows)

	assert.Equal(t, "winner", keyword)
	require.NotEmpty(t, rationale)

	var ranked []google.QueryRow
	require.NoError(t, json.Unmarshal(rationale, &ranked))
	assert.Equal(t, "winner", ranked[0].Query)
	assert.Equal(t, "runner-up", ranked[1].Query)
}

func TestClicksScorerTieBreaks(t *testing.T) {
	rows := []google.QueryRow{
		{Query: "fewer impressions", Clicks: 10, Impressions: 100, Position: 5},
		{Query: "more impressions", Clicks: 10, Impressions: 900, Position: 5},
	}
	keyword, _ := pickKeyword(t, rows)
	assert.Equal(t, "more impressions", keyword)

	rows = []google.QueryRow{
		{Query: "worse position", Clicks: 10, Impressions: 100, Position: 9},
		{Query: "better position", Clicks: 10, Impressions: 100, Position: 3},
	}
	keyword, _ = pickKeyword(t, rows)
	assert.Equal(t, "better position", keyword)
}

func TestClicksScorerEmptyRows(t *testing.T) {
	keyword, rationale := ClicksScorer{}.Pick("Some Title", nil)
	assert.Empty(t, keyword)
	assert.Nil(t, rationale)
}

func pickKeyword(t *testing.T, rows []google.QueryRow) (string, []byte) {
	t.Helper()
	return ClicksScorer{}.Pick("Post Title", rows)
}
