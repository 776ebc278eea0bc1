package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/thibault-ketterer/kube-quick-monitoring/internal/config"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/metrics"
	kqmmiddleware "github.com/thibault-ketterer/kube-quick-monitoring/internal/middleware"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries/aggregator"
)

// UsageQuerier answers aggregate queries over partitions
type UsageQuerier interface {
	Query(ctx context.Context, partitions []timeseries.Partition, q aggregator.Query) (*aggregator.Result, error)
	Namespaces(ctx context.Context, partitions []timeseries.Partition) ([]string, error)
}

// Server represents the query API server
type Server struct {
	logger  *zap.Logger
	config  *config.Config
	router  chi.Router
	querier UsageQuerier
	baseDir string

	// per-client limiters, evicted after they go idle
	limiters   *gocache.Cache
	limitersMu sync.Mutex
}

// NewServer creates a new API server reading partitions under
// cfg.Storage.BaseDir through querier
func NewServer(logger *zap.Logger, cfg *config.Config, querier UsageQuerier) *Server {
	s := &Server{
		logger:   logger,
		config:   cfg,
		router:   chi.NewRouter(),
		querier:  querier,
		baseDir:  cfg.Storage.BaseDir,
		limiters: gocache.New(10*time.Minute, 5*time.Minute),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(kqmmiddleware.RequestIDResponseMiddleware)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(kqmmiddleware.PrometheusMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware, the dashboard may be served from elsewhere
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, If-None-Match")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.Handler())

	etag := kqmmiddleware.NewETagMiddleware(s.logger, 30)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit(s.config.Query.RequestsPerMinute))
		r.Use(etag.Middleware)

		r.Get("/partitions", s.handleListPartitions)
		r.Get("/namespaces", s.handleListNamespaces)
		r.Get("/usage", s.handleUsage)
	})
}

// requestLogger logs each request through zap instead of chi's stdlib logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("Served request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// rateLimit applies a per-client token bucket. Zero disables it.
func (s *Server) rateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if requestsPerMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r.RemoteAddr)
			limiter := s.limiterFor(client, requestsPerMinute)
			if !limiter.Allow() {
				s.logger.Warn("Rate limit exceeded",
					zap.String("client", client),
					zap.String("path", r.URL.Path))
				metrics.RecordRateLimitedRequest(r.URL.Path)
				s.writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientKey drops the port so every connection from one host shares a bucket.
// RealIP may already have replaced the address with a bare IP.
func clientKey(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// limiterFor gets or creates the limiter of one client. Burst is a tenth of
// the per-minute budget, at least one.
func (s *Server) limiterFor(client string, requestsPerMinute int) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()

	if v, ok := s.limiters.Get(client); ok {
		s.limiters.SetDefault(client, v)
		return v.(*rate.Limiter)
	}

	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), burst)
	s.limiters.SetDefault(client, limiter)
	return limiter
}
