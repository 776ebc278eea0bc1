package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/thibault-ketterer/kube-quick-monitoring/internal/collector"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/config"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/k8s/client"
	k8smetrics "github.com/thibault-ketterer/kube-quick-monitoring/internal/k8s/metrics"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/logging"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries/store"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/version"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML configuration file")
	showVersion := pflag.Bool("version", false, "print version information and exit")
	pflag.Parse()

	info := version.For("collector")
	if *showVersion {
		fmt.Println(info.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting pod usage collector",
		zap.String("version", info.Version),
		zap.String("gitCommit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("goVersion", info.GoVersion),
		zap.String("dataDir", cfg.Storage.BaseDir),
		zap.Duration("interval", cfg.Collector.Interval),
		zap.Duration("backoff", cfg.Collector.Backoff),
	)

	if err := run(logger, cfg, info); err != nil {
		logger.Error("Collector failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("Collector exited")
}

func run(logger *zap.Logger, cfg *config.Config, info version.Info) error {
	loc, err := cfg.TimeLocation()
	if err != nil {
		return err
	}

	factory, err := client.NewFactory(logger, client.ClientMode(cfg.Kubernetes.Mode),
		cfg.Kubernetes.KubeconfigPath, cfg.Collector.RequestTimeout, info.UserAgent())
	if err != nil {
		return err
	}

	// An unreachable API server at startup is not fatal, the loop backs off
	// and retries like any other failed poll.
	if err := factory.ValidateConnection(); err != nil {
		logger.Warn("Kubernetes connection check failed", zap.Error(err))
	}

	source := k8smetrics.NewPodUsageSource(logger, factory.MetricsV1beta1(), cfg.Collector.RequestTimeout)
	sampleStore := store.NewSampleStore(logger, cfg.Storage.BaseDir, loc)
	defer func() {
		if current, ok := sampleStore.Current(); ok {
			logger.Info("Closing sample partition", zap.String("day", current.Day))
		}
		if err := sampleStore.Close(); err != nil {
			logger.Error("Failed to close partition", zap.Error(err))
		}
	}()

	c := collector.NewCollector(logger, source, sampleStore, clock.RealClock{}, collector.Config{
		Interval:        cfg.Collector.Interval,
		BackoffInterval: cfg.Collector.Backoff,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := startMetricsServer(logger, cfg.Collector.MetricsAddr)

	err = c.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server forced to shutdown", zap.Error(err))
		}
	}
	return err
}

// startMetricsServer exposes /metrics and /healthz. An empty addr disables it.
func startMetricsServer(logger *zap.Logger, addr string) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Metrics server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return server
}
