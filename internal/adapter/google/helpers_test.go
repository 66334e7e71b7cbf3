package google

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/user/content-audit/internal/accounts"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/ratelimit"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

type memState struct {
	strings map[string]string
	bools   map[string]bool
	times   map[string]time.Time
}

func newMemState() *memState {
	return &memState{strings: map[string]string{}, bools: map[string]bool{}, times: map[string]time.Time{}}
}

func (s *memState) GetString(_ context.Context, k string) (string, error) { return s.strings[k], nil }
func (s *memState) SetString(_ context.Context, k, v string) error {
	s.strings[k] = v
	return nil
}
func (s *memState) SetStringTTL(ctx context.Context, k, v string, _ time.Duration) error {
	return s.SetString(ctx, k, v)
}
func (s *memState) Delete(_ context.Context, k string) error {
	delete(s.strings, k)
	delete(s.bools, k)
	return nil
}
func (s *memState) GetBool(_ context.Context, k string) (bool, error) { return s.bools[k], nil }
func (s *memState) SetBool(_ context.Context, k string, v bool) error {
	s.bools[k] = v
	return nil
}
func (s *memState) GetTime(_ context.Context, k string) (time.Time, error) { return s.times[k], nil }
func (s *memState) SetTime(_ context.Context, k string, t time.Time) error {
	s.times[k] = t
	return nil
}
func (s *memState) Messages(context.Context) ([]entity.Message, error)  { return nil, nil }
func (s *memState) SetMessages(context.Context, []entity.Message) error { return nil }
func (s *memState) ClearMessages(context.Context) error                 { return nil }
func (s *memState) AcquireLock(context.Context, string, time.Duration) (string, bool, error) {
	return "t", true, nil
}
func (s *memState) ReleaseLock(context.Context, string, string) error { return nil }

var unpaced = map[entity.Provider]time.Duration{
	entity.ProviderAhrefs:        0,
	entity.ProviderAnalytics:     0,
	entity.ProviderSearchConsole: 0,
	entity.ProviderNoindex:       0,
}

type googleFixture struct {
	state  *memState
	acct   *accounts.Manager
	tokens *TokenSource
	gate   *ratelimit.Gate
	m      *metrics.Metrics
}

// newGoogleFixture wires a connected Google account against a test OAuth
// endpoint.
func newGoogleFixture(t *testing.T, tokenURL string) *googleFixture {
	t.Helper()
	state := newMemState()
	acct := accounts.NewManager(state, zap.NewNop())
	require.NoError(t, acct.Connect(context.Background(), entity.ProviderGoogle, "refresh-token"))
	tokens := NewTokenSource("client-id", "client-secret", acct, state, zap.NewNop()).WithTokenURL(tokenURL)
	return &googleFixture{
		state:  state,
		acct:   acct,
		tokens: tokens,
		gate:   ratelimit.NewGate(state, unpaced, zap.NewNop()),
		m:      metrics.New(prometheus.NewRegistry()),
	}
}
