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

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/thibault-ketterer/kube-quick-monitoring/internal/api"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/config"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/logging"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries/aggregator"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries/store"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/version"
)

func main() {
	configPath := pflag.String("config", "", "path to a YAML configuration file")
	showVersion := pflag.Bool("version", false, "print version information and exit")
	pflag.Parse()

	info := version.For("server")
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

	logger.Info("Starting usage query server",
		zap.String("version", info.Version),
		zap.String("gitCommit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.String("goVersion", info.GoVersion),
		zap.String("addr", cfg.Server.Addr),
		zap.String("dataDir", cfg.Storage.BaseDir),
	)

	loc, err := cfg.TimeLocation()
	if err != nil {
		logger.Fatal("Invalid storage location", zap.Error(err))
	}

	var reader store.PartitionReader = store.NewReader(loc)
	if cfg.Query.CacheTTL > 0 {
		reader = store.NewCachedReader(reader, cfg.Query.CacheTTL)
	}
	agg := aggregator.NewAggregator(logger, reader, aggregator.Config{LoadConcurrency: cfg.Query.LoadConcurrency})
	apiServer := api.NewServer(logger, cfg, agg)

	// Create HTTP server
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Server exited")
}
