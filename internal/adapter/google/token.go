// Package google wraps the two Google APIs the audit consumes: the GA4
// Data API for traffic and the Search Console API for keyword/position
// rows. Both share one OAuth account; pacing stays per-API.
package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/user/content-audit/internal/accounts"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultTokenURL = "https://oauth2.googleapis.com/token"

	keyAccessToken  = "google:access_token"
	keyAccessExpiry = "google:access_expiry"

	// expirySlack refreshes slightly early so a token never dies mid-batch.
	expirySlack = time.Minute
)

type tokenRefreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenSource exchanges the stored refresh token for short-lived access
// tokens, caching them in the state store. The OAuth consent/exchange flow
// itself is outside this service; only the refresh grant lives here.
type TokenSource struct {
	mu           sync.Mutex
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	accounts     *accounts.Manager
	state        repository.StateRepository
	logger       *zap.Logger
}

func NewTokenSource(clientID, clientSecret string, acc *accounts.Manager, state repository.StateRepository, logger *zap.Logger) *TokenSource {
	return &TokenSource{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		tokenURL:     defaultTokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		accounts:     acc,
		state:        state,
		logger:       logger,
	}
}

// WithTokenURL overrides the OAuth endpoint, used by tests.
func (s *TokenSource) WithTokenURL(u string) *TokenSource {
	s.tokenURL = u
	return s
}

// AccessToken returns a valid access token, refreshing when the cached one
// is near expiry. A revoked refresh token disconnects the Google account.
func (s *TokenSource) AccessToken(ctx context.Context) (string, *entity.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	connected, err := s.accounts.Connected(ctx, entity.ProviderGoogle)
	if err == nil && !connected {
		return "", &entity.APIError{
			Provider: entity.ProviderGoogle,
			Kind:     entity.ErrAuthInvalid,
			Message:  "Google account is not connected",
		}
	}

	cached, _ := s.state.GetString(ctx, keyAccessToken)
	expiry, _ := s.state.GetTime(ctx, keyAccessExpiry)
	if cached != "" && time.Now().Add(expirySlack).Before(expiry) {
		return cached, nil
	}
	return s.refresh(ctx)
}

func (s *TokenSource) refresh(ctx context.Context) (string, *entity.APIError) {
	refreshToken, err := s.accounts.Token(ctx, entity.ProviderGoogle)
	if err != nil || refreshToken == "" {
		return "", s.disconnect(ctx, "Google refresh token is missing")
	}

	// Form-encoded body per OAuth 2.0 RFC 6749.
	form := url.Values{}
	form.Set("client_id", s.clientID)
	form.Set("client_secret", s.clientSecret)
	form.Set("refresh_token", refreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &entity.APIError{Provider: entity.ProviderGoogle, Kind: entity.ErrUnknown, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &entity.APIError{Provider: entity.ProviderGoogle, Kind: entity.ErrUnknown, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		if strings.Contains(string(body), "invalid_grant") {
			return "", s.disconnect(ctx, "Google refresh token was revoked")
		}
		return "", &entity.APIError{
			Provider: entity.ProviderGoogle,
			Kind:     entity.ErrUnknown,
			Message:  fmt.Sprintf("token refresh failed (HTTP %d)", resp.StatusCode),
		}
	}

	var parsed tokenRefreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.AccessToken == "" {
		return "", &entity.APIError{Provider: entity.ProviderGoogle, Kind: entity.ErrUnknown, Message: "malformed token refresh response"}
	}

	expiry := time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	if err := s.state.SetString(ctx, keyAccessToken, parsed.AccessToken); err != nil {
		s.logger.Warn("failed to cache Google access token", zap.Error(err))
	}
	if err := s.state.SetTime(ctx, keyAccessExpiry, expiry); err != nil {
		s.logger.Warn("failed to cache Google token expiry", zap.Error(err))
	}
	return parsed.AccessToken, nil
}

// HandleAuthFailure is called by API clients when a request is rejected
// with a fresh token, meaning the grant itself was revoked.
func (s *TokenSource) HandleAuthFailure(ctx context.Context, msg string) *entity.APIError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnect(ctx, msg)
}

func (s *TokenSource) disconnect(ctx context.Context, msg string) *entity.APIError {
	if err := s.accounts.Disconnect(ctx, entity.ProviderGoogle); err != nil {
		s.logger.Error("failed to disconnect Google account", zap.Error(err))
	}
	_ = s.state.Delete(ctx, keyAccessToken)
	return &entity.APIError{Provider: entity.ProviderGoogle, Kind: entity.ErrAuthInvalid, Message: msg}
}

// classifyStatus maps Google HTTP failures onto the closed taxonomy. 403
// is ambiguous: quota exhaustion and missing permission share the code, so
// the body decides.
func classifyStatus(provider entity.Provider, status int, body []byte) *entity.APIError {
	text := string(body)
	switch {
	case status == http.StatusTooManyRequests:
		return &entity.APIError{Provider: provider, Kind: entity.ErrRateLimit, Message: "quota exceeded"}
	case status == http.StatusForbidden && (strings.Contains(text, "rateLimitExceeded") || strings.Contains(text, "quota")):
		return &entity.APIError{Provider: provider, Kind: entity.ErrRateLimit, Message: "quota exceeded"}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &entity.APIError{Provider: provider, Kind: entity.ErrAuthInvalid, Message: fmt.Sprintf("request rejected (HTTP %d)", status)}
	case status == http.StatusNotFound:
		return &entity.APIError{Provider: provider, Kind: entity.ErrNotFound, Message: "no data for the requested resource"}
	case status >= 500:
		return &entity.APIError{Provider: provider, Kind: entity.ErrRateLimit, Message: fmt.Sprintf("temporary failure (HTTP %d)", status)}
	default:
		return &entity.APIError{Provider: provider, Kind: entity.ErrUnknown, Message: fmt.Sprintf("unexpected response (HTTP %d)", status)}
	}
}
