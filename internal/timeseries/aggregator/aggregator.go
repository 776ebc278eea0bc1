// Package aggregator turns persisted sample partitions into top-N,
// time-bucketed, ordered series for the dashboard.
//
// It holds no mutable state; every query reloads the selected partitions
// (possibly through a cache) and runs the pipeline in pipeline.go. Readers
// may race the collector on today's partition and see it up to its last
// flushed row.
package aggregator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/thibault-ketterer/kube-quick-monitoring/internal/metrics"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries/store"
)

// Config holds configuration for the aggregator
type Config struct {
	// Maximum number of partitions decoded at once
	LoadConcurrency int
}

// DefaultConfig returns the default aggregator configuration
func DefaultConfig() Config {
	return Config{
		LoadConcurrency: 4,
	}
}

// Aggregator answers queries over persisted partitions
type Aggregator struct {
	logger *zap.Logger
	reader store.PartitionReader
	config Config
}

// NewAggregator creates a new aggregator reading partitions through reader
func NewAggregator(logger *zap.Logger, reader store.PartitionReader, config Config) *Aggregator {
	if config.LoadConcurrency <= 0 {
		config.LoadConcurrency = 1
	}
	return &Aggregator{
		logger: logger,
		reader: reader,
		config: config,
	}
}

// Load concatenates the rows of partitions. Row order across partitions is
// not significant to the pipeline.
func (a *Aggregator) Load(ctx context.Context, partitions []timeseries.Partition) ([]timeseries.Sample, error) {
	results := make([]*store.ReadResult, len(partitions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.config.LoadConcurrency)
	for i, p := range partitions {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := a.reader.ReadPartition(p)
			if err != nil {
				return err
			}
			if res.Skipped > 0 {
				a.logger.Debug("Skipped undecodable partition rows",
					zap.String("partition", p.Day),
					zap.Int("rows", res.Skipped))
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, res := range results {
		total += len(res.Samples)
	}
	samples := make([]timeseries.Sample, 0, total)
	for _, res := range results {
		samples = append(samples, res.Samples...)
	}
	return samples, nil
}

// Query loads partitions and aggregates them. Invalid queries fail before
// anything is read.
func (a *Aggregator) Query(ctx context.Context, partitions []timeseries.Partition, q Query) (*Result, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		metrics.RecordQuery(string(q.View), "invalid", 0, time.Since(start))
		return nil, err
	}

	samples, err := a.Load(ctx, partitions)
	if err != nil {
		metrics.RecordQuery(string(q.View), "error", 0, time.Since(start))
		return nil, err
	}

	result, err := Aggregate(samples, q)
	if err != nil {
		status := "error"
		if errors.Is(err, ErrInvalidArgument) {
			status = "invalid"
		}
		metrics.RecordQuery(string(q.View), status, len(samples), time.Since(start))
		return nil, err
	}

	metrics.RecordQuery(string(q.View), "ok", len(samples), time.Since(start))
	a.logger.Debug("Aggregated usage",
		zap.Int("partitions", len(partitions)),
		zap.Int("samples", len(samples)),
		zap.Int("series", len(result.Order)),
		zap.String("metric", string(q.Metric)),
		zap.String("view", string(q.View)),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// Namespaces lists the namespaces present in partitions
func (a *Aggregator) Namespaces(ctx context.Context, partitions []timeseries.Partition) ([]string, error) {
	samples, err := a.Load(ctx, partitions)
	if err != nil {
		return nil, err
	}
	return Namespaces(samples), nil
}
