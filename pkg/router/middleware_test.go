package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/citizenwallet/aa-gateway/internal/bundler"
	"github.com/citizenwallet/aa-gateway/internal/metrics"
	"github.com/citizenwallet/aa-gateway/internal/paymaster"
	"github.com/citizenwallet/aa-gateway/internal/testutil"
	"github.com/citizenwallet/aa-gateway/internal/userop"
	aa "github.com/citizenwallet/aa-gateway/pkg/userop"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type configured bool

func (p configured) Configured() bool {
	return bool(p)
}

func newTestRouter(t *testing.T, bundlerURL string) http.Handler {
	t.Helper()

	up := testutil.NewUpstream(t)

	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	logger := zap.NewNop().Sugar()

	b, err := bundler.New(ctx, bundler.Config{Endpoint: bundlerURL, EntryPoint: aa.DefaultEntryPoint, ChainID: 1946}, m, logger)
	require.NoError(t, err)
	t.Cleanup(b.Close)

	pm, err := paymaster.New(ctx, paymaster.Config{Endpoint: up.URL, PaymasterID: "pm_test123", EntryPoint: aa.DefaultEntryPoint}, m, logger)
	require.NoError(t, err)
	t.Cleanup(pm.Close)

	uop := userop.NewService(pm, b, nil, logger)

	return NewServer([]string{"http://localhost:3000"}, b, pm, uop, m, logger).Handler()
}

func TestHealthMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		bundler   StatusChecker
		paymaster StatusChecker
		expected  map[string]string
	}{
		{"all configured", configured(true), configured(true), map[string]string{"bundler": "ok", "paymaster": "ok"}},
		{"bundler missing", configured(false), configured(true), map[string]string{"bundler": "not_configured", "paymaster": "ok"}},
		{"nothing wired", nil, nil, map[string]string{"bundler": "not_configured", "paymaster": "not_configured"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := HealthMiddleware(tt.bundler, tt.paymaster)(http.NotFoundHandler())

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, http.StatusOK, w.Code)

			var resp healthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.Equal(t, "ok", resp.Status)
			require.NotEmpty(t, resp.Timestamp)
			require.Equal(t, tt.expected, resp.Services)
		})
	}

	t.Run("other paths pass through", func(t *testing.T) {
		h := HealthMiddleware(configured(true), configured(true))(http.NotFoundHandler())

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetReqID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		require.Len(t, seen, 36)
		require.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")

		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, "abc-123", seen)
		require.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	})
}

func TestCORS(t *testing.T) {
	h := newTestRouter(t, "")

	t.Run("preflight from an allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/user-operations/sponsor", nil)
		req.Header.Set("Origin", "http://localhost:3000")

		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/user-operations", nil)
		req.Header.Set("Origin", "http://evil.example")

		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("methods follow the route of every path", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			req := httptest.NewRequest(http.MethodOptions, fmt.Sprintf("/user-operations/0x%064x", i), nil)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			require.Equal(t, http.StatusNoContent, w.Code)
			require.Contains(t, w.Header().Get("Allow"), http.MethodGet)
		}

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/nope", nil))

		require.Equal(t, http.MethodOptions, w.Header().Get("Allow"))
	})
}

func TestRoutes(t *testing.T) {
	h := newTestRouter(t, "")

	t.Run("api prefix", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/user-operations/0x1234", nil))

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), userop.CodeInvalidHash)
	})

	t.Run("health reports missing bundler", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `"bundler":"not_configured"`)
		require.Contains(t, w.Body.String(), `"paymaster":"ok"`)
	})

	t.Run("version", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, `{"success":true,"data":{"version":"dev"}}`, w.Body.String())
	})

	t.Run("metrics", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, w.Body.String(), `aa_gateway_http_requests_total{code="200",method="GET",route="/version"}`)
	})

	t.Run("unknown paths share one metric label", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/nope/%d", i), nil))
			require.Equal(t, http.StatusNotFound, w.Code)
		}

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		body := w.Body.String()
		require.Contains(t, body, `aa_gateway_http_requests_total{code="404",method="GET",route="unmatched"} 50`)
		require.NotContains(t, body, `route="/nope/`)
	})

	t.Run("hash lookups share the route label", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/user-operations/0x%d", i), nil))
		}

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Contains(t, w.Body.String(), `aa_gateway_http_requests_total{code="400",method="GET",route="/user-operations/{hash}"} 5`)
	})

	t.Run("body size limit", func(t *testing.T) {
		body := `{"userOp":{"callData":"0x` + strings.Repeat("ab", maxBodySize) + `"},"chainId":1946}`

		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/user-operations/sponsor", strings.NewReader(body)))

		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Contains(t, w.Body.String(), "Request body too large")
	})
}
