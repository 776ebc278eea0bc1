package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/usage", "/api/v1/usage"},
		{"/api/v1/usage/", "/api/v1/usage"},
		{"/api/v1/partitions", "/api/v1/partitions"},
		{"/api/v1/namespaces", "/api/v1/namespaces"},
		{"/api/v1/pods/default/web-1", "/api/v1/:unknown"},
		{"/healthz", "/healthz"},
		{"/", "/"},
		{"/favicon.ico", "/:unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizePath(tt.path))
		})
	}
}

func TestRoutePatternUsesChiRoute(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			seen = routePattern(req)
		})
	})
	r.Get("/api/v1/usage", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/usage?metric=cpu_mcpu", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "/api/v1/usage", seen)
}

func TestRequestIDResponseMiddleware(t *testing.T) {
	h := chimiddleware.RequestID(RequestIDResponseMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPrometheusMiddlewarePassesThrough(t *testing.T) {
	h := PrometheusMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}
