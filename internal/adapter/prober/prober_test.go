package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/ratelimit"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

type memState struct {
	times map[string]time.Time
}

func (s *memState) GetString(context.Context, string) (string, error) { return "", nil }
func (s *memState) SetString(context.Context, string, string) error   { return nil }
func (s *memState) SetStringTTL(context.Context, string, string, time.Duration) error {
	return nil
}
func (s *memState) Delete(context.Context, string) error              { return nil }
func (s *memState) GetBool(context.Context, string) (bool, error)     { return false, nil }
func (s *memState) SetBool(context.Context, string, bool) error       { return nil }
func (s *memState) Messages(context.Context) ([]entity.Message, error) { return nil, nil }
func (s *memState) SetMessages(context.Context, []entity.Message) error { return nil }
func (s *memState) ClearMessages(context.Context) error               { return nil }
func (s *memState) AcquireLock(context.Context, string, time.Duration) (string, bool, error) {
	return "t", true, nil
}
func (s *memState) ReleaseLock(context.Context, string, string) error { return nil }

func (s *memState) GetTime(_ context.Context, k string) (time.Time, error) { return s.times[k], nil }
func (s *memState) SetTime(_ context.Context, k string, t time.Time) error {
	s.times[k] = t
	return nil
}

func testProber(t *testing.T) *HTTPProber {
	t.Helper()
	state := &memState{times: map[string]time.Time{}}
	gate := ratelimit.NewGate(state, map[entity.Provider]time.Duration{entity.ProviderNoindex: 0}, zap.NewNop())
	return NewHTTPProber(5*time.Second, gate, metrics.New(prometheus.NewRegistry()), zap.NewNop())
}

func TestProbeIndexablePage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>ok</title></head><body>hello</body></html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	res := testProber(t).Probe(context.Background(), srv.URL)

	require.Nil(t, res.Err)
	assert.False(t, res.Noindex)
	assert.False(t, res.Gone)
}

func TestProbeMetaRobotsNoindex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><meta name="ROBOTS" content="NOINDEX, follow"></head><body></body></html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	res := testProber(t).Probe(context.Background(), srv.URL)

	require.Nil(t, res.Err)
	assert.True(t, res.Noindex)
}

func TestProbeMetaGooglebotNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><meta name="googlebot" content="none"></head><body></body></html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	res := testProber(t).Probe(context.Background(), srv.URL)

	require.Nil(t, res.Err)
	assert.True(t, res.Noindex)
}

func TestProbeXRobotsTagHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Robots-Tag", "noindex, nofollow")
		w.Write([]byte(`<html><body></body></html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	res := testProber(t).Probe(context.Background(), srv.URL)

	require.Nil(t, res.Err)
	assert.True(t, res.Noindex)
}

func TestProbeNofollowAloneIsIndexable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><meta name="robots" content="nofollow"></head><body></body></html>`)) //nolint:errcheck
	}))
	defer srv.Close()

	res := testProber(t).Probe(context.Background(), srv.URL)

	require.Nil(t, res.Err)
	assert.False(t, res.Noindex)
}

func TestProbeGonePage(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusGone} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		res := testProber(t).Probe(context.Background(), srv.URL)
		srv.Close()

		require.Nil(t, res.Err)
		assert.True(t, res.Gone, "HTTP %d must report the page gone", status)
	}
}

func TestProbeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res := testProber(t).Probe(context.Background(), srv.URL)

	require.NotNil(t, res.Err)
	assert.Equal(t, entity.ErrRateLimit, res.Err.Kind)
	assert.True(t, res.Err.HaltsBatch())
}

func TestProbeServerErrorIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := testProber(t).Probe(context.Background(), srv.URL)

	require.NotNil(t, res.Err)
	assert.Equal(t, entity.ErrUnknown, res.Err.Kind)
	assert.False(t, res.Err.HaltsBatch(), "a single unreachable page must not halt the batch")
}
