package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/ratelimit"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

// MaxReportsPerBatch is the GA4 Data API limit for batchRunReports.
const MaxReportsPerBatch = 5

const organicChannelGroup = "Organic Search"

// TrafficResult is the uniform per-page outcome of a traffic fetch. Month
// values are normalized to 30 days.
type TrafficResult struct {
	PagePath     string
	TotalRaw     int64
	OrganicRaw   int64
	TotalMonth   int64
	OrganicMonth int64
	Err          *entity.APIError
}

// GA4 Data API request/response shapes, kept minimal.
type runReportRequest struct {
	DateRanges      []dateRange      `json:"dateRanges"`
	Dimensions      []dimension      `json:"dimensions"`
	Metrics         []metric         `json:"metrics"`
	DimensionFilter *dimensionFilter `json:"dimensionFilter,omitempty"`
	Limit           int              `json:"limit"`
}

type dateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type dimension struct {
	Name string `json:"name"`
}

type metric struct {
	Name string `json:"name"`
}

type dimensionFilter struct {
	Filter struct {
		FieldName    string `json:"fieldName"`
		StringFilter struct {
			MatchType string `json:"matchType"`
			Value     string `json:"value"`
		} `json:"stringFilter"`
	} `json:"filter"`
}

type batchRunReportsRequest struct {
	Requests []runReportRequest `json:"requests"`
}

type runReportResponse struct {
	Rows []struct {
		DimensionValues []struct {
			Value string `json:"value"`
		} `json:"dimensionValues"`
		MetricValues []struct {
			Value string `json:"value"`
		} `json:"metricValues"`
	} `json:"rows"`
}

type batchRunReportsResponse struct {
	Reports []runReportResponse `json:"reports"`
}

// AnalyticsClient is an HTTP client for the GA4 Data API.
type AnalyticsClient struct {
	httpClient *http.Client
	baseURL    string
	propertyID string
	tokens     *TokenSource
	gate       *ratelimit.Gate
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

func NewAnalyticsClient(baseURL, propertyID string, tokens *TokenSource, gate *ratelimit.Gate, m *metrics.Metrics, logger *zap.Logger) *AnalyticsClient {
	return &AnalyticsClient{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		propertyID: propertyID,
		tokens:     tokens,
		gate:       gate,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

func failAll(pages []string, apiErr *entity.APIError) []TrafficResult {
	out := make([]TrafficResult, 0, len(pages))
	for _, p := range pages {
		out = append(out, TrafficResult{PagePath: p, Err: apiErr})
	}
	return out
}

// FetchTraffic multiplexes up to MaxReportsPerBatch page paths into one
// batchRunReports call and returns one result per requested page. A page
// absent from its report simply had no views in the window.
func (c *AnalyticsClient) FetchTraffic(ctx context.Context, pages []string, windowDays int) []TrafficResult {
	if len(pages) > MaxReportsPerBatch {
		pages = pages[:MaxReportsPerBatch]
	}

	token, apiErr := c.tokens.AccessToken(ctx)
	if apiErr != nil {
		return failAll(pages, apiErr)
	}

	end := c.now()
	start := end.AddDate(0, 0, -windowDays)
	batch := batchRunReportsRequest{}
	for _, page := range pages {
		req := runReportRequest{
			DateRanges: []dateRange{{
				StartDate: start.Format("2006-01-02"),
				EndDate:   end.Format("2006-01-02"),
			}},
			Dimensions: []dimension{{Name: "pagePath"}, {Name: "sessionDefaultChannelGroup"}},
			Metrics:    []metric{{Name: "screenPageViews"}},
			Limit:      50,
		}
		var filter dimensionFilter
		filter.Filter.FieldName = "pagePath"
		filter.Filter.StringFilter.MatchType = "EXACT"
		filter.Filter.StringFilter.Value = page
		req.DimensionFilter = &filter
		batch.Requests = append(batch.Requests, req)
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return failAll(pages, &entity.APIError{Provider: entity.ProviderAnalytics, Kind: entity.ErrUnknown, Message: err.Error()})
	}

	reqURL := fmt.Sprintf("%s/v1beta/properties/%s:batchRunReports", c.baseURL, c.propertyID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return failAll(pages, &entity.APIError{Provider: entity.ProviderAnalytics, Kind: entity.ErrUnknown, Message: err.Error()})
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	c.gate.MaybePause(ctx, entity.ProviderAnalytics, false)
	startReq := c.now()
	resp, err := c.httpClient.Do(req)
	c.gate.MaybePause(ctx, entity.ProviderAnalytics, true)
	c.metrics.APIRequestDuration.WithLabelValues(string(entity.ProviderAnalytics)).Observe(time.Since(startReq).Seconds())

	if err != nil {
		return failAll(pages, &entity.APIError{Provider: entity.ProviderAnalytics, Kind: entity.ErrUnknown, Message: err.Error()})
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		apiErr := classifyStatus(entity.ProviderAnalytics, resp.StatusCode, body)
		if apiErr.Kind == entity.ErrAuthInvalid {
			apiErr = c.tokens.HandleAuthFailure(ctx, apiErr.Message)
		}
		c.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderAnalytics), string(apiErr.Kind)).Inc()
		if apiErr.Kind == entity.ErrNotFound {
			// Property has no data at all: zero results, not errors.
			return c.zeroResults(pages, windowDays)
		}
		return failAll(pages, apiErr)
	}

	var parsed batchRunReportsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return failAll(pages, &entity.APIError{Provider: entity.ProviderAnalytics, Kind: entity.ErrUnknown, Message: fmt.Sprintf("malformed batchRunReports response: %v", err)})
	}

	c.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderAnalytics), "success").Inc()

	// Reports come back in request order. A missing report means the page
	// had no rows; a report we cannot read fails only that page.
	out := make([]TrafficResult, 0, len(pages))
	for i, page := range pages {
		if i >= len(parsed.Reports) {
			out = append(out, normalize(page, 0, 0, windowDays))
			continue
		}
		total, organic := sumReport(parsed.Reports[i])
		out = append(out, normalize(page, total, organic, windowDays))
	}
	return out
}

func (c *AnalyticsClient) zeroResults(pages []string, windowDays int) []TrafficResult {
	out := make([]TrafficResult, 0, len(pages))
	for _, p := range pages {
		out = append(out, normalize(p, 0, 0, windowDays))
	}
	return out
}

func sumReport(report runReportResponse) (total, organic int64) {
	for _, row := range report.Rows {
		if len(row.MetricValues) == 0 {
			continue
		}
		views, err := strconv.ParseInt(row.MetricValues[0].Value, 10, 64)
		if err != nil {
			continue
		}
		total += views
		if len(row.DimensionValues) > 1 && row.DimensionValues[1].Value == organicChannelGroup {
			organic += views
		}
	}
	return total, organic
}

func normalize(page string, total, organic int64, windowDays int) TrafficResult {
	r := TrafficResult{PagePath: page, TotalRaw: total, OrganicRaw: organic}
	if windowDays > 0 {
		r.TotalMonth = total * 30 / int64(windowDays)
		r.OrganicMonth = organic * 30 / int64(windowDays)
	}
	return r
}
