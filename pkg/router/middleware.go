package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/citizenwallet/aa-gateway/internal/common"
	"github.com/citizenwallet/aa-gateway/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	RequestIDHeader = "X-Request-Id"

	healthPath = "/health"

	// unmatchedRoute labels requests that no route handles
	unmatchedRoute = "unmatched"
)

var (
	allMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPatch,
		http.MethodPut,
		http.MethodDelete,
	}

	acceptedHeaders = []string{
		"Origin",
		"Content-Type",
		"Content-Length",
		"X-Requested-With",
		"Accept-Encoding",
		"Authorization",
		RequestIDHeader,
	}
)

// StatusChecker reports whether an upstream service has everything it needs
type StatusChecker interface {
	Configured() bool
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func serviceStatus(p StatusChecker) string {
	if p == nil || !p.Configured() {
		return "not_configured"
	}
	return "ok"
}

// HealthMiddleware responds to health checks with the configuration state of the upstream services
func HealthMiddleware(bundler, paymaster StatusChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != healthPath {
				next.ServeHTTP(w, r)
				return
			}

			err := common.JSON(w, http.StatusOK, &healthResponse{
				Status:    "ok",
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
				Services: map[string]string{
					metrics.ServiceBundler:   serviceStatus(bundler),
					metrics.ServicePaymaster: serviceStatus(paymaster),
				},
			})
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
			}
		})
	}
}

// RequestIDMiddleware keeps the caller's request id or assigns a new one
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggingMiddleware logs every request once it has been handled and records it in m
func LoggingMiddleware(logger *zap.SugaredLogger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			m.ObserveHTTP(r.Method, routeLabel(r), status, start)

			logger.Infow("request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String())
		})
	}
}

// routeLabel is the route pattern of r, never its raw path
func routeLabel(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}

	if p := rctx.RoutePattern(); p != "" {
		return p
	}

	if r.URL.Path == healthPath {
		return healthPath
	}

	// preflights are answered before routing
	if r.Method == http.MethodOptions && rctx.Routes != nil {
		for _, method := range allMethods {
			mctx := chi.NewRouteContext()
			if rctx.Routes.Match(mctx, method, r.URL.Path) && mctx.RoutePattern() != "" {
				return mctx.RoutePattern()
			}
		}
	}

	return unmatchedRoute
}

// OptionsMiddleware ensures that we return the correct headers for CORS requests
func OptionsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, _ := r.Context().Value(chi.RouteCtxKey).(*chi.Context)

			var path string
			if r.URL.RawPath != "" {
				path = r.URL.RawPath
			} else {
				path = r.URL.Path
			}

			var methods []string
			for _, method := range allMethods {
				nctx := chi.NewRouteContext()
				if ctx != nil && ctx.Routes.Match(nctx, method, path) {
					methods = append(methods, method)
				}
			}

			methods = append(methods, http.MethodOptions)
			methodsStr := strings.Join(methods, ", ")

			// allowed methods
			w.Header().Set("Allow", methodsStr)
			w.Header().Set("Access-Control-Allow-Methods", methodsStr)

			// allowed origins, credentials are only allowed for a known origin
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}

			w.Header().Set("Access-Control-Allow-Headers", strings.Join(acceptedHeaders, ", "))
			w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)

			// actually handle the request
			if r.Method != http.MethodOptions {
				h.ServeHTTP(w, r)
				return
			}

			// handle OPTIONS requests
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func RequestSizeLimitMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
