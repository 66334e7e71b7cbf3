// Package prober answers one question per URL: does the live page forbid
// indexing, via the X-Robots-Tag header or a robots meta tag?
package prober

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/ratelimit"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

// Result is the uniform per-URL probe outcome.
type Result struct {
	URL     string
	Noindex bool
	Gone    bool // page permanently missing (404/410)
	Err     *entity.APIError
}

// Prober checks one public URL for a noindex directive.
type Prober interface {
	Probe(ctx context.Context, pageURL string) Result
}

// HTTPProber fetches the page over plain HTTP and inspects the response
// header and parsed markup.
type HTTPProber struct {
	httpClient *http.Client
	gate       *ratelimit.Gate
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewHTTPProber(timeout time.Duration, gate *ratelimit.Gate, m *metrics.Metrics, logger *zap.Logger) *HTTPProber {
	return &HTTPProber{
		httpClient: &http.Client{Timeout: timeout},
		gate:       gate,
		metrics:    m,
		logger:     logger,
	}
}

// Probe fetches pageURL and reports whether it carries a noindex directive.
func (p *HTTPProber) Probe(ctx context.Context, pageURL string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Result{URL: pageURL, Err: &entity.APIError{Provider: entity.ProviderNoindex, Kind: entity.ErrUnknown, Message: err.Error()}}
	}

	p.gate.MaybePause(ctx, entity.ProviderNoindex, false)
	start := time.Now()
	resp, err := p.httpClient.Do(req)
	p.gate.MaybePause(ctx, entity.ProviderNoindex, true)
	p.metrics.APIRequestDuration.WithLabelValues(string(entity.ProviderNoindex)).Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderNoindex), "unknown").Inc()
		return Result{URL: pageURL, Err: &entity.APIError{Provider: entity.ProviderNoindex, Kind: entity.ErrUnknown, Message: err.Error()}}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		p.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderNoindex), "not_found").Inc()
		return Result{URL: pageURL, Gone: true}
	case resp.StatusCode == http.StatusTooManyRequests:
		p.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderNoindex), "rate_limit").Inc()
		return Result{URL: pageURL, Err: &entity.APIError{Provider: entity.ProviderNoindex, Kind: entity.ErrRateLimit, Message: "site rate-limited the probe"}}
	case resp.StatusCode >= 400:
		p.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderNoindex), "unknown").Inc()
		return Result{URL: pageURL, Err: &entity.APIError{Provider: entity.ProviderNoindex, Kind: entity.ErrUnknown, Message: fmt.Sprintf("probe got HTTP %d", resp.StatusCode)}}
	}

	if HeaderForbidsIndexing(resp.Header) {
		p.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderNoindex), "success").Inc()
		return Result{URL: pageURL, Noindex: true}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Result{URL: pageURL, Err: &entity.APIError{Provider: entity.ProviderNoindex, Kind: entity.ErrUnknown, Message: err.Error()}}
	}

	p.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderNoindex), "success").Inc()
	return Result{URL: pageURL, Noindex: DocForbidsIndexing(doc)}
}

// HeaderForbidsIndexing checks the X-Robots-Tag response header.
func HeaderForbidsIndexing(h http.Header) bool {
	for _, v := range h.Values("X-Robots-Tag") {
		if containsNoindex(v) {
			return true
		}
	}
	return false
}

// DocForbidsIndexing checks robots meta tags in parsed markup.
func DocForbidsIndexing(doc *goquery.Document) bool {
	found := false
	doc.Find("meta").EachWithBreak(func(i int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(name, "robots") && !strings.EqualFold(name, "googlebot") {
			return true
		}
		content, _ := s.Attr("content")
		if containsNoindex(content) {
			found = true
			return false
		}
		return true
	})
	return found
}

func containsNoindex(directives string) bool {
	for _, part := range strings.Split(directives, ",") {
		d := strings.ToLower(strings.TrimSpace(part))
		if d == "noindex" || d == "none" {
			return true
		}
	}
	return false
}
