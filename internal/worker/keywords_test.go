package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/content-audit/internal/adapter/google"
	"github.com/user/content-audit/internal/entity"
	"go.uber.org/zap"
)

func keywordsWorkerFixture(t *testing.T, api http.Handler, posts map[int64]*entity.Post) (*KeywordsWorker, *stubContent) {
	t.Helper()
	apiSrv := httptest.NewServer(api)
	t.Cleanup(apiSrv.Close)

	tokens, gate, m := googleWorkerDeps(t)
	client := google.NewSearchConsoleClient(apiSrv.URL, "https://example.com/", tokens, gate, m, zap.NewNop())

	base, err := url.Parse("https://example.com")
	require.NoError(t, err)
	content := newStubContent()
	w := NewKeywordsWorker(client, ClicksScorer{}, 90, content, &stubPosts{posts: posts}, noopClassifier{}, m, zap.NewNop(), base)
	return w, content
}

// A page whose search-analytics query fails must not commit an empty
// position as if the page had simply never ranked.
func TestKeywordsWorkerUnknownErrorRecordsItemError(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
	})
	w, content := keywordsWorkerFixture(t, api, map[int64]*entity.Post{1: {ID: 1, Path: "/a"}})

	msg, err := w.ProcessBatch(context.Background(), 1, []int64{1})

	require.NoError(t, err)
	assert.Nil(t, msg, "an unknown error must not halt the batch")
	assert.NotEmpty(t, content.positionErrs[1])
}

func TestKeywordsWorkerRateLimitHaltsWithoutWrites(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	w, content := keywordsWorkerFixture(t, api, map[int64]*entity.Post{
		1: {ID: 1, Path: "/a"},
		2: {ID: 2, Path: "/b"},
	})

	msg, err := w.ProcessBatch(context.Background(), 1, []int64{1, 2})

	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, entity.MessageRateLimit, msg.Type)
	assert.Empty(t, content.positionErrs, "halted rows stay pending, not errored")
}

func TestKeywordsWorkerMissingPostRecordsItemError(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no API call expected for a vanished post")
	})
	w, content := keywordsWorkerFixture(t, api, map[int64]*entity.Post{})

	msg, err := w.ProcessBatch(context.Background(), 1, []int64{7})

	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, "post no longer exists", content.positionErrs[7])
}
