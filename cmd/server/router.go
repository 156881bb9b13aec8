package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/scry-genpipe/internal/api"
	apiMiddleware "github.com/phrazzld/scry-genpipe/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRouter creates the application router with all routes and middleware.
func newRouter(svc api.BatchService, subscriber api.EventSubscriber, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(logger))

	batchHandler := api.NewBatchHandler(svc, subscriber, logger)
	r.Route("/api", batchHandler.RegisterRoutes)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.Error("failed to write health check response", "error", err)
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
