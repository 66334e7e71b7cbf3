package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/content-audit/internal/entity"
	"go.uber.org/zap"
)

func searchConsoleFixture(t *testing.T, apiHandler http.HandlerFunc) (*SearchConsoleClient, *googleFixture) {
	t.Helper()
	f := newGoogleFixture(t, tokenServer(t).URL)
	api := httptest.NewServer(apiHandler)
	t.Cleanup(api.Close)
	return NewSearchConsoleClient(api.URL, "https://example.com/", f.tokens, f.gate, f.m, zap.NewNop()), f
}

func TestFetchPositionsParsesRows(t *testing.T) {
	client, _ := searchConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/sites/")
		assert.Contains(t, r.URL.Path, "/searchAnalytics/query")

		var req searchAnalyticsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"query", "page"}, req.Dimensions)
		require.Len(t, req.DimensionFilterGroups, 1)
		assert.Equal(t, "https://example.com/a", req.DimensionFilterGroups[0].Filters[0].Expression)

		w.Write([]byte(`{"rows":[
			{"keys":["best coffee maker","https://example.com/a"],"clicks":120,"impressions":4000,"position":3.7},
			{"keys":["coffee maker reviews","https://example.com/a"],"clicks":40,"impressions":1800,"position":8.2}
		]}`)) //nolint:errcheck
	})

	results := client.FetchPositions(context.Background(), []string{"https://example.com/a"}, 90)

	require.Len(t, results, 1)
	res := results[0]
	require.Nil(t, res.Err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "best coffee maker", res.Rows[0].Query)
	assert.EqualValues(t, 120, res.Rows[0].Clicks)
	assert.EqualValues(t, 4000, res.Rows[0].Impressions)
	assert.InDelta(t, 3.7, res.Rows[0].Position, 0.001)
	assert.NotEmpty(t, res.Raw)
}

// A rate limit mid-batch must keep the already fetched pages and mark the
// rest with the halting error without issuing further requests.
func TestFetchPositionsHaltPropagates(t *testing.T) {
	var calls int32
	client, _ := searchConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write([]byte(`{"rows":[{"keys":["kw","p"],"clicks":1,"impressions":10,"position":5}]}`)) //nolint:errcheck
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	})

	pages := []string{"/a", "/b", "/c"}
	results := client.FetchPositions(context.Background(), pages, 90)

	require.Len(t, results, 3)
	assert.Nil(t, results[0].Err)
	require.NotNil(t, results[1].Err)
	assert.Equal(t, entity.ErrRateLimit, results[1].Err.Kind)
	require.NotNil(t, results[2].Err)
	assert.Equal(t, entity.ErrRateLimit, results[2].Err.Kind)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls), "no request may be issued after the halt")
}

func TestFetchPositionsNoDataIsEmptyResult(t *testing.T) {
	client, _ := searchConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	results := client.FetchPositions(context.Background(), []string{"/a"}, 90)

	require.Len(t, results, 1)
	assert.Nil(t, results[0].Err)
	assert.Empty(t, results[0].Rows)
}

func TestFetchPositionsAuthFailureDisconnects(t *testing.T) {
	client, f := searchConsoleFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	results := client.FetchPositions(context.Background(), []string{"/a"}, 90)

	require.Len(t, results, 1)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, entity.ErrAuthInvalid, results[0].Err.Kind)

	connected, err := f.acct.Connected(context.Background(), entity.ProviderGoogle)
	require.NoError(t, err)
	assert.False(t, connected)
}
