package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/content-audit/internal/delivery/http/handler"
	"github.com/user/content-audit/internal/delivery/http/middleware"
	"github.com/user/content-audit/pkg/metrics"
	"go.uber.org/zap"
)

func New(h *handler.Handler, m *metrics.Metrics, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics(m))

	r.Get("/api/health", h.HandleHealth)

	r.Route("/api/audit", func(r chi.Router) {
		r.Post("/start", h.HandleStartAudit)
		r.Post("/step", h.HandleStep)
		r.Post("/resume", h.HandleResume)
		r.Post("/stop", h.HandleStop)
		r.Get("/progress", h.HandleProgress)
	})

	r.Get("/api/content", h.HandleContent)
	r.Put("/api/content/{postID}/keyword", h.HandleSetKeyword)

	r.Route("/api/posts", func(r chi.Router) {
		r.Post("/", h.HandleUpsertPost)
		r.Delete("/{id}", h.HandleDeletePost)
		r.Put("/{id}/excluded", h.HandleExcludePost)
	})

	r.Route("/api/accounts", func(r chi.Router) {
		r.Post("/{provider}", h.HandleConnectAccount)
		r.Delete("/{provider}", h.HandleDisconnectAccount)
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}
