package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/content-audit/internal/entity"
)

func TestAccessTokenRefreshesAndCaches(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "refresh-token", r.Form.Get("refresh_token"))
		assert.Equal(t, "client-id", r.Form.Get("client_id"))
		w.Write([]byte(`{"access_token":"fresh","expires_in":3600,"token_type":"Bearer"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	f := newGoogleFixture(t, srv.URL)
	ctx := context.Background()

	token, apiErr := f.tokens.AccessToken(ctx)
	require.Nil(t, apiErr)
	assert.Equal(t, "fresh", token)

	// The second call serves the cached token without hitting the endpoint.
	token, apiErr = f.tokens.AccessToken(ctx)
	require.Nil(t, apiErr)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, 1, hits)
}

func TestAccessTokenInvalidGrantDisconnects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	f := newGoogleFixture(t, srv.URL)
	ctx := context.Background()

	_, apiErr := f.tokens.AccessToken(ctx)
	require.NotNil(t, apiErr)
	assert.Equal(t, entity.ErrAuthInvalid, apiErr.Kind)

	connected, err := f.acct.Connected(ctx, entity.ProviderGoogle)
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestAccessTokenNotConnectedShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no refresh expected for a disconnected account")
	}))
	defer srv.Close()

	f := newGoogleFixture(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, f.acct.Disconnect(ctx, entity.ProviderGoogle))

	_, apiErr := f.tokens.AccessToken(ctx)
	require.NotNil(t, apiErr)
	assert.Equal(t, entity.ErrAuthInvalid, apiErr.Kind)
}

func TestHandleAuthFailureClearsCachedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"fresh","expires_in":3600}`)) //nolint:errcheck
	}))
	defer srv.Close()

	f := newGoogleFixture(t, srv.URL)
	ctx := context.Background()
	_, apiErr := f.tokens.AccessToken(ctx)
	require.Nil(t, apiErr)

	apiErr = f.tokens.HandleAuthFailure(ctx, "request rejected")
	require.NotNil(t, apiErr)
	assert.Equal(t, entity.ErrAuthInvalid, apiErr.Kind)
	assert.Empty(t, f.state.strings[keyAccessToken])
}
