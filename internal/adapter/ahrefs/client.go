// Package ahrefs wraps the Ahrefs backlinks-stats API. The provider has no
// batch endpoint, so backlink counts are fetched one URL at a time, paced
// by the rate gate.
package ahrefs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/content-audit/internal/accounts"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/ratelimit"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

// Result is the uniform per-URL outcome: a count or a classified error.
type Result struct {
	URL       string
	Backlinks int64
	Err       *entity.APIError
}

type backlinksResponse struct {
	Metrics struct {
		Backlinks int64 `json:"backlinks"`
	} `json:"metrics"`
	Error string `json:"error"`
}

// Client is an HTTP client for the Ahrefs API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	accounts   *accounts.Manager
	gate       *ratelimit.Gate
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewClient(baseURL string, acc *accounts.Manager, gate *ratelimit.Gate, m *metrics.Metrics, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		accounts:   acc,
		gate:       gate,
		metrics:    m,
		logger:     logger,
	}
}

func (c *Client) fail(target string, kind entity.ErrorKind, msg string) Result {
	c.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderAhrefs), string(kind)).Inc()
	return Result{URL: target, Err: &entity.APIError{
		Provider: entity.ProviderAhrefs,
		Kind:     kind,
		Message:  msg,
	}}
}

// BacklinksCount fetches the backlink count for one target URL.
func (c *Client) BacklinksCount(ctx context.Context, target string) Result {
	connected, err := c.accounts.Connected(ctx, entity.ProviderAhrefs)
	if err == nil && !connected {
		return c.fail(target, entity.ErrAuthInvalid, "Ahrefs account is not connected")
	}
	token, err := c.accounts.Token(ctx, entity.ProviderAhrefs)
	if err != nil || token == "" {
		return c.fail(target, entity.ErrAuthInvalid, "Ahrefs token is missing")
	}

	q := url.Values{}
	q.Set("target", target)
	q.Set("mode", "exact")
	q.Set("output", "json")
	q.Set("from", "backlinks_stats")
	q.Set("token", token)
	reqURL := fmt.Sprintf("%s/?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return c.fail(target, entity.ErrUnknown, err.Error())
	}

	c.gate.MaybePause(ctx, entity.ProviderAhrefs, false)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.gate.MaybePause(ctx, entity.ProviderAhrefs, true)
	c.metrics.APIRequestDuration.WithLabelValues(string(entity.ProviderAhrefs)).Observe(time.Since(start).Seconds())

	if err != nil {
		return c.fail(target, entity.ErrUnknown, err.Error())
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return c.fail(target, entity.ErrRateLimit, "Ahrefs rate limit reached")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return c.authFailure(ctx, target, fmt.Sprintf("Ahrefs rejected the token (HTTP %d)", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		// No data for the target: a zero result, not an error.
		c.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderAhrefs), "not_found").Inc()
		return Result{URL: target, Backlinks: 0}
	case resp.StatusCode >= 500:
		return c.fail(target, entity.ErrRateLimit, fmt.Sprintf("Ahrefs temporary failure (HTTP %d)", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail(target, entity.ErrUnknown, err.Error())
	}

	var parsed backlinksResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return c.fail(target, entity.ErrUnknown, fmt.Sprintf("malformed Ahrefs response: %v", err))
	}

	if parsed.Error != "" {
		return c.classifyBodyError(ctx, target, parsed.Error)
	}

	c.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderAhrefs), "success").Inc()
	return Result{URL: target, Backlinks: parsed.Metrics.Backlinks}
}

// classifyBodyError maps the provider's in-body error strings onto the
// closed taxonomy. Ahrefs returns HTTP 200 with an "error" field for most
// application-level failures.
func (c *Client) classifyBodyError(ctx context.Context, target, msg string) Result {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		return c.fail(target, entity.ErrRateLimit, msg)
	case strings.Contains(lower, "token") || strings.Contains(lower, "auth"):
		return c.authFailure(ctx, target, msg)
	case strings.Contains(lower, "not found") || strings.Contains(lower, "no data"):
		c.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderAhrefs), "not_found").Inc()
		return Result{URL: target, Backlinks: 0}
	default:
		c.logger.Warn("unclassified Ahrefs error", zap.String("target", target), zap.String("message", msg))
		return c.fail(target, entity.ErrUnknown, msg)
	}
}

// authFailure disconnects the account so subsequent calls short-circuit.
func (c *Client) authFailure(ctx context.Context, target, msg string) Result {
	if err := c.accounts.Disconnect(ctx, entity.ProviderAhrefs); err != nil {
		c.logger.Error("failed to disconnect Ahrefs account", zap.Error(err))
	}
	return c.fail(target, entity.ErrAuthInvalid, msg)
}
