package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/ratelimit"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

// QueryRow is one (query, page) search-analytics row.
type QueryRow struct {
	Query       string  `json:"query"`
	Clicks      int64   `json:"clicks"`
	Impressions int64   `json:"impressions"`
	Position    float64 `json:"position"`
}

// PositionResult is the uniform per-page outcome of a Search Console
// query: the ranked rows for the page plus the raw payload for caching.
type PositionResult struct {
	Page string
	Rows []QueryRow
	Raw  []byte
	Err  *entity.APIError
}

type searchAnalyticsRequest struct {
	StartDate             string                 `json:"startDate"`
	EndDate               string                 `json:"endDate"`
	Dimensions            []string               `json:"dimensions"`
	DimensionFilterGroups []dimensionFilterGroup `json:"dimensionFilterGroups"`
	RowLimit              int                    `json:"rowLimit"`
}

type dimensionFilterGroup struct {
	Filters []searchFilter `json:"filters"`
}

type searchFilter struct {
	Dimension  string `json:"dimension"`
	Operator   string `json:"operator"`
	Expression string `json:"expression"`
}

type searchAnalyticsResponse struct {
	Rows []struct {
		Keys        []string `json:"keys"`
		Clicks      float64  `json:"clicks"`
		Impressions float64  `json:"impressions"`
		Position    float64  `json:"position"`
	} `json:"rows"`
}

// SearchConsoleClient is an HTTP client for the Search Console
// search-analytics API. The API has no multiplexed query, so a batch of
// pages becomes sequential gate-paced requests; a failing page never
// discards the pages already fetched.
type SearchConsoleClient struct {
	httpClient *http.Client
	baseURL    string
	siteURL    string
	tokens     *TokenSource
	gate       *ratelimit.Gate
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewSearchConsoleClient(baseURL, siteURL string, tokens *TokenSource, gate *ratelimit.Gate, m *metrics.Metrics, logger *zap.Logger) *SearchConsoleClient {
	return &SearchConsoleClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		siteURL:    siteURL,
		tokens:     tokens,
		gate:       gate,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// FetchPositions queries search analytics for each page. On a batch-halting
// error (rate limit, auth) the remaining pages are returned with the same
// error so the caller can keep them pending.
func (c *SearchConsoleClient) FetchPositions(ctx context.Context, pages []string, windowDays int) []PositionResult {
	out := make([]PositionResult, 0, len(pages))
	var halt *entity.APIError
	for _, page := range pages {
		if halt != nil {
			out = append(out, PositionResult{Page: page, Err: halt})
			continue
		}
		res := c.queryPage(ctx, page, windowDays)
		if res.Err != nil && res.Err.HaltsBatch() {
			halt = res.Err
		}
		out = append(out, res)
	}
	return out
}

func (c *SearchConsoleClient) queryPage(ctx context.Context, page string, windowDays int) PositionResult {
	token, apiErr := c.tokens.AccessToken(ctx)
	if apiErr != nil {
		return PositionResult{Page: page, Err: apiErr}
	}

	end := c.now()
	start := end.AddDate(0, 0, -windowDays)
	body := searchAnalyticsRequest{
		StartDate:  start.Format("2006-01-02"),
		EndDate:    end.Format("2006-01-02"),
		Dimensions: []string{"query", "page"},
		DimensionFilterGroups: []dimensionFilterGroup{{
			Filters: []searchFilter{{Dimension: "page", Operator: "equals", Expression: page}},
		}},
		RowLimit: 100,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return PositionResult{Page: page, Err: &entity.APIError{Provider: entity.ProviderSearchConsole, Kind: entity.ErrUnknown, Message: err.Error()}}
	}

	reqURL := fmt.Sprintf("%s/sites/%s/searchAnalytics/query", c.baseURL, url.PathEscape(c.siteURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return PositionResult{Page: page, Err: &entity.APIError{Provider: entity.ProviderSearchConsole, Kind: entity.ErrUnknown, Message: err.Error()}}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	c.gate.MaybePause(ctx, entity.ProviderSearchConsole, false)
	startReq := c.now()
	resp, err := c.httpClient.Do(req)
	c.gate.MaybePause(ctx, entity.ProviderSearchConsole, true)
	c.metrics.APIRequestDuration.WithLabelValues(string(entity.ProviderSearchConsole)).Observe(time.Since(startReq).Seconds())

	if err != nil {
		return PositionResult{Page: page, Err: &entity.APIError{Provider: entity.ProviderSearchConsole, Kind: entity.ErrUnknown, Message: err.Error()}}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		apiErr := classifyStatus(entity.ProviderSearchConsole, resp.StatusCode, raw)
		if apiErr.Kind == entity.ErrAuthInvalid {
			apiErr = c.tokens.HandleAuthFailure(ctx, apiErr.Message)
		}
		c.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderSearchConsole), string(apiErr.Kind)).Inc()
		if apiErr.Kind == entity.ErrNotFound {
			return PositionResult{Page: page, Raw: raw}
		}
		return PositionResult{Page: page, Err: apiErr}
	}

	var parsed searchAnalyticsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return PositionResult{Page: page, Err: &entity.APIError{Provider: entity.ProviderSearchConsole, Kind: entity.ErrUnknown, Message: fmt.Sprintf("malformed search analytics response: %v", err)}}
	}

	c.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderSearchConsole), "success").Inc()

	rows := make([]QueryRow, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		if len(row.Keys) == 0 {
			continue
		}
		rows = append(rows, QueryRow{
			Query:       row.Keys[0],
			Clicks:      int64(row.Clicks),
			Impressions: int64(row.Impressions),
			Position:    row.Position,
		})
	}
	return PositionResult{Page: page, Rows: rows, Raw: raw}
}
