package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/user/content-audit/internal/accounts"
	"github.com/user/content-audit/internal/adapter/ahrefs"
	"github.com/user/content-audit/internal/adapter/google"
	"github.com/user/content-audit/internal/adapter/postgres"
	"github.com/user/content-audit/internal/adapter/prober"
	redisadapter "github.com/user/content-audit/internal/adapter/redis"
	"github.com/user/content-audit/internal/audit"
	"github.com/user/content-audit/internal/delivery/http/handler"
	"github.com/user/content-audit/internal/delivery/http/router"
	"github.com/user/content-audit/internal/entity"
	"github.com/user/content-audit/internal/ratelimit"
	"github.com/user/content-audit/internal/worker"
	"github.com/user/content-audit/pkg/config"
	"github.com/user/content-audit/pkg/logger"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	dbpool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer dbpool.Close()
	if err := postgres.InitSchema(ctx, dbpool); err != nil {
		log.Fatal("schema init failed", zap.Error(err))
	}
	log.Info("postgres connection pool established")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connect failed", zap.Error(err))
	}
	defer rdb.Close()
	log.Info("redis connection established")

	// --- Metrics ---
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// --- Repositories ---
	stateRepo := redisadapter.NewStateRepo(rdb)
	contentRepo := postgres.NewContentRepo(dbpool)
	snapshotRepo := postgres.NewSnapshotRepo(dbpool)
	postRepo := postgres.NewPostRepo(dbpool)

	// --- Provider plumbing ---
	acct := accounts.NewManager(stateRepo, log)
	gate := ratelimit.NewGate(stateRepo, map[entity.Provider]time.Duration{
		entity.ProviderAhrefs:        time.Duration(cfg.AhrefsIntervalMS) * time.Millisecond,
		entity.ProviderAnalytics:     time.Duration(cfg.AnalyticsIntervalMS) * time.Millisecond,
		entity.ProviderSearchConsole: time.Duration(cfg.GSCIntervalMS) * time.Millisecond,
		entity.ProviderNoindex:       time.Duration(cfg.NoindexIntervalMS) * time.Millisecond,
	}, log)

	siteBase, err := url.Parse(cfg.SiteBaseURL)
	if err != nil || siteBase.Host == "" {
		log.Fatal("SITE_BASE_URL must be an absolute URL", zap.String("value", cfg.SiteBaseURL))
	}

	tokens := google.NewTokenSource(cfg.GoogleClientID, cfg.GoogleClientSecret, acct, stateRepo, log)
	ahrefsClient := ahrefs.NewClient(cfg.AhrefsAPIURL, acct, gate, m, log)
	analyticsClient := google.NewAnalyticsClient(cfg.AnalyticsAPIURL, cfg.GA4PropertyID, tokens, gate, m, log)
	gscClient := google.NewSearchConsoleClient(cfg.GSCAPIURL, cfg.GSCSiteURL, tokens, gate, m, log)

	probeTimeout := time.Duration(cfg.ProbeTimeoutSeconds) * time.Second
	var probe prober.Prober = prober.NewHTTPProber(probeTimeout, gate, m, log)
	if cfg.ProbeRendered {
		probe = prober.NewRenderedProber(probeTimeout, gate, m, log)
		log.Info("using rendered noindex prober")
	}

	// --- Audit pipeline ---
	thresholds := audit.Thresholds{
		TopPosition:       cfg.TopPosition,
		ReachablePosition: cfg.ReachablePosition,
		RecentDays:        cfg.RecentDays,
		TrafficFloor:      cfg.TrafficFloor,
	}
	classifier := audit.NewClassifier(thresholds, contentRepo, log)

	// Worker order matters: the scope stage admits rows the metric
	// workers then pick up within the same pass.
	noindexW := worker.NewNoindexWorker(probe, contentRepo, postRepo, classifier, m, log, siteBase)
	backlinksW := worker.NewBacklinksWorker(ahrefsClient, contentRepo, postRepo, classifier, m, log, siteBase)
	trafficW := worker.NewTrafficWorker(analyticsClient, cfg.TrafficWindowDays, contentRepo, postRepo, classifier, m, log, siteBase)
	keywordsW := worker.NewKeywordsWorker(gscClient, worker.ClicksScorer{}, cfg.TrafficWindowDays, contentRepo, postRepo, classifier, m, log, siteBase)

	rateDeferred := func(provider entity.Provider) func([]int64) {
		return func(postIDs []int64) {
			m.RateDeferredPosts.WithLabelValues(string(provider)).Add(float64(len(postIDs)))
			log.Info("posts deferred by provider rate limit",
				zap.String("provider", string(provider)), zap.Int64s("post_ids", postIDs))
		}
	}
	noindexW.OnRateError = rateDeferred(entity.ProviderNoindex)
	backlinksW.OnRateError = rateDeferred(entity.ProviderAhrefs)
	trafficW.OnRateError = rateDeferred(entity.ProviderAnalytics)
	keywordsW.OnRateError = rateDeferred(entity.ProviderSearchConsole)

	workers := []worker.Worker{noindexW, backlinksW, trafficW, keywordsW}

	snapshotMgr := audit.NewSnapshotManager(snapshotRepo, contentRepo, postRepo, thresholds, log)
	engine := audit.NewEngine(snapshotMgr, snapshotRepo, contentRepo, stateRepo, acct, workers, classifier, m, log,
		cfg.StepTimeBudget(), cfg.StepLockTTL())

	// --- Scheduler ---
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CronSpec, func() {
		state, err := engine.Step(context.Background())
		if err != nil {
			log.Error("scheduled step failed", zap.Error(err))
			return
		}
		log.Debug("scheduled step finished", zap.String("state", string(state)))
	}); err != nil {
		log.Fatal("invalid CRON_SPEC", zap.String("spec", cfg.CronSpec), zap.Error(err))
	}
	scheduler.Start()

	// --- HTTP server ---
	apiHandler := handler.NewHandler(engine, snapshotRepo, contentRepo, postRepo, acct, classifier, log)
	server := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router.New(apiHandler, m, registry, log),
		ReadTimeout: 5 * time.Second,
		// The manual step endpoint may run a full time budget.
		WriteTimeout: cfg.StepTimeBudget() + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", zap.Error(err))
	}
	// Wait for an in-flight step to checkpoint before closing the pools.
	<-scheduler.Stop().Done()
	log.Info("shutdown complete")
}
