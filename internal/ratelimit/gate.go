// Package ratelimit paces outbound API calls so each provider's documented
// request quota is respected across invocations and process restarts.
package ratelimit

import (
	"context"
	"time"

	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/repository"
	"go.uber.org/zap"
)

// pauseMargin is added on top of the remaining interval so two calls never
// land exactly on the quota boundary.
const pauseMargin = 50 * time.Millisecond

// DefaultIntervals holds the per-provider minimum spacing between requests.
var DefaultIntervals = map[entity.Provider]time.Duration{
	entity.ProviderAhrefs:        500 * time.Millisecond,
	entity.ProviderAnalytics:     1000 * time.Millisecond,
	entity.ProviderSearchConsole: 750 * time.Millisecond,
	entity.ProviderNoindex:       200 * time.Millisecond,
}

// Gate is a per-provider minimum-interval throttle. It cannot fail, only
// delay: state-store hiccups are logged and the call proceeds unpaced.
type Gate struct {
	state     repository.StateRepository
	intervals map[entity.Provider]time.Duration
	logger    *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewGate creates a Gate with the given per-provider intervals; providers
// absent from the map fall back to DefaultIntervals.
func NewGate(state repository.StateRepository, intervals map[entity.Provider]time.Duration, logger *zap.Logger) *Gate {
	merged := make(map[entity.Provider]time.Duration, len(DefaultIntervals))
	for p, d := range DefaultIntervals {
		merged[p] = d
	}
	for p, d := range intervals {
		merged[p] = d
	}
	return &Gate{
		state:     state,
		intervals: merged,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// MaybePause bookends one outbound request. With justFinished=false it
// blocks until the provider's minimum interval since the previous dispatch
// has elapsed, then records the new dispatch time. With justFinished=true
// it only records "now", so pacing is measured from dispatch even for
// fire-and-forget batches.
func (g *Gate) MaybePause(ctx context.Context, provider entity.Provider, justFinished bool) {
	key := repository.KeyLastRequest(provider)

	if !justFinished {
		last, err := g.state.GetTime(ctx, key)
		if err != nil {
			g.logger.Warn("rate gate: reading last-request time failed",
				zap.String("provider", string(provider)), zap.Error(err))
		} else if !last.IsZero() {
			elapsed := g.now().Sub(last)
			if wait := g.intervals[provider] - elapsed; wait > 0 {
				g.sleep(ctx, wait+pauseMargin)
			}
		}
	}

	if err := g.state.SetTime(ctx, key, g.now()); err != nil {
		g.logger.Warn("rate gate: recording last-request time failed",
			zap.String("provider", string(provider)), zap.Error(err))
	}
}
