package router

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/citizenwallet/aa-gateway/internal/metrics"
	"github.com/citizenwallet/aa-gateway/internal/userop"
	"github.com/citizenwallet/aa-gateway/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

type Router struct {
	origins   []string
	bundler   StatusChecker
	paymaster StatusChecker
	uop       *userop.Service
	metrics   *metrics.Metrics
	logs      *zap.SugaredLogger

	srv *http.Server
}

func NewServer(origins []string, bundler, paymaster StatusChecker, uop *userop.Service, m *metrics.Metrics, logger *zap.SugaredLogger) *Router {
	return &Router{
		origins:   origins,
		bundler:   bundler,
		paymaster: paymaster,
		uop:       uop,
		metrics:   m,
		logs:      logger,
	}
}

// Handler builds the routes of the API
func (r *Router) Handler() http.Handler {
	cr := chi.NewRouter()

	// configure middleware
	cr.Use(RequestIDMiddleware)
	cr.Use(LoggingMiddleware(r.logs, r.metrics))
	cr.Use(middleware.Recoverer)

	// configure custom middleware
	cr.Use(OptionsMiddleware(r.origins))
	cr.Use(HealthMiddleware(r.bundler, r.paymaster))
	cr.Use(RequestSizeLimitMiddleware(maxBodySize))

	v := version.NewService()

	// configure routes
	userOperations := func(cr chi.Router) {
		cr.Post("/sponsor", r.uop.Sponsor)
		cr.Post("/", r.uop.Send)
		cr.Get("/{hash}", r.uop.Status)
	}

	cr.Route("/user-operations", userOperations)
	cr.Route("/api/user-operations", userOperations)

	cr.Get("/version", v.Current)
	if r.metrics != nil {
		cr.Handle("/metrics", r.metrics.Handler())
	}

	return cr
}

// Start listens on port until Shutdown is called
func (r *Router) Start(port int) error {
	r.srv = &http.Server{
		Addr:              fmt.Sprintf(":%v", port),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	err := r.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}

	return err
}

func (r *Router) Shutdown(ctx context.Context) error {
	if r.srv == nil {
		return nil
	}

	return r.srv.Shutdown(ctx)
}
