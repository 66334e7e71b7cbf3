package prober

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/ratelimit"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

// RenderedProber probes through a headless browser so robots meta tags
// injected by client-side scripts are seen too. Heavier than HTTPProber;
// enabled per configuration.
type RenderedProber struct {
	allocatorPool *sync.Pool
	timeout       time.Duration
	gate          *ratelimit.Gate
	metrics       *metrics.Metrics
	logger        *zap.Logger
}

func NewRenderedProber(timeout time.Duration, gate *ratelimit.Gate, m *metrics.Metrics, logger *zap.Logger) *RenderedProber {
	pool := &sync.Pool{
		New: func() interface{} {
			opts := append(chromedp.DefaultExecAllocatorOptions[:],
				chromedp.Flag("headless", true),
				chromedp.Flag("disable-gpu", true),
				chromedp.Flag("no-sandbox", true),
				chromedp.Flag("disable-dev-shm-usage", true),
			)
			allocCtx, _ := chromedp.NewExecAllocator(context.Background(), opts...)
			return allocCtx
		},
	}
	return &RenderedProber{
		allocatorPool: pool,
		timeout:       timeout,
		gate:          gate,
		metrics:       m,
		logger:        logger,
	}
}

// Probe renders pageURL and inspects both the document response headers
// and the rendered markup.
func (p *RenderedProber) Probe(ctx context.Context, pageURL string) Result {
	allocCtx := p.allocatorPool.Get().(context.Context)
	defer p.allocatorPool.Put(allocCtx)

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	taskCtx, cancelTimeout := context.WithTimeout(taskCtx, p.timeout)
	defer cancelTimeout()

	var (
		headerMu     sync.Mutex
		headerNoidx  bool
		documentGone bool
	)
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		headerMu.Lock()
		defer headerMu.Unlock()
		if resp.Response.Status == 404 || resp.Response.Status == 410 {
			documentGone = true
		}
		for name, value := range resp.Response.Headers {
			if strings.EqualFold(name, "X-Robots-Tag") {
				if s, ok := value.(string); ok && containsNoindex(s) {
					headerNoidx = true
				}
			}
		}
	})

	p.gate.MaybePause(ctx, entity.ProviderNoindex, false)
	start := time.Now()
	var htmlContent string
	err := chromedp.Run(taskCtx,
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &htmlContent),
	)
	p.gate.MaybePause(ctx, entity.ProviderNoindex, true)
	p.metrics.APIRequestDuration.WithLabelValues(string(entity.ProviderNoindex)).Observe(time.Since(start).Seconds())

	if err != nil {
		p.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderNoindex), "unknown").Inc()
		return Result{URL: pageURL, Err: &entity.APIError{Provider: entity.ProviderNoindex, Kind: entity.ErrUnknown, Message: err.Error()}}
	}

	headerMu.Lock()
	gone, noidx := documentGone, headerNoidx
	headerMu.Unlock()

	if gone {
		p.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderNoindex), "not_found").Inc()
		return Result{URL: pageURL, Gone: true}
	}
	if noidx {
		p.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderNoindex), "success").Inc()
		return Result{URL: pageURL, Noindex: true}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return Result{URL: pageURL, Err: &entity.APIError{Provider: entity.ProviderNoindex, Kind: entity.ErrUnknown, Message: err.Error()}}
	}

	p.metrics.APIRequestsTotal.WithLabelValues(string(entity.ProviderNoindex), "success").Inc()
	return Result{URL: pageURL, Noindex: DocForbidsIndexing(doc)}
}
