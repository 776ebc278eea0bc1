// Package collector polls metrics.k8s.io and appends normalized samples to
// the day-partitioned store.
//
// The loop has two states. In Polling it runs one cycle: ensure today's
// partition, fetch the cluster-wide snapshot, normalize every pod and append
// the batch. A successful cycle sleeps for the poll interval and polls again;
// a failed one drops the whole batch, moves to Backoff, sleeps for the backoff
// interval and returns to Polling.
package collector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	k8smetrics "github.com/thibault-ketterer/kube-quick-monitoring/internal/k8s/metrics"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/metrics"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/units"
)

// UsageSource returns a cluster-wide pod usage snapshot
type UsageSource interface {
	ListPodUsage(ctx context.Context) ([]k8smetrics.PodUsage, error)
}

// SampleWriter is the append side of the sample store
type SampleWriter interface {
	EnsurePartitionFor(now time.Time) (bool, error)
	AppendBatch(samples []timeseries.Sample) error
	Flush() error
}

// State is the collector loop state
type State int32

const (
	StatePolling State = iota
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Reason classifies why a cycle was abandoned
type Reason string

const (
	ReasonFetch     Reason = "fetch_failed"
	ReasonMalformed Reason = "malformed_response"
	ReasonParse     Reason = "parse_failed"
	ReasonStorage   Reason = "storage_failed"
)

// CycleError describes a dropped batch. Namespace and Pod are set when the
// failure is tied to a single pod entry.
type CycleError struct {
	Reason    Reason
	Namespace string
	Pod       string
	Err       error
}

func (e *CycleError) Error() string {
	if e.Pod != "" {
		return fmt.Sprintf("%s: %s/%s: %v", e.Reason, e.Namespace, e.Pod, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// CycleResult is the outcome of one Polling cycle. Err is nil for Ok.
type CycleResult struct {
	PolledAt time.Time
	Samples  int
	Rotated  bool
	Err      *CycleError
}

// OK reports whether the batch was written
func (r CycleResult) OK() bool {
	return r.Err == nil
}

// Next returns the state the loop enters after a cycle
func Next(result CycleResult) State {
	if result.OK() {
		return StatePolling
	}
	return StateBackoff
}

// Config holds the loop cadence
type Config struct {
	Interval        time.Duration
	BackoffInterval time.Duration
}

// DefaultConfig returns the default collector configuration
func DefaultConfig() Config {
	return Config{
		Interval:        60 * time.Second,
		BackoffInterval: 10 * time.Second,
	}
}

// Collector runs the polling loop. It is not safe to run concurrently with
// itself: there is at most one in-flight poll and one partition writer.
type Collector struct {
	logger *zap.Logger
	source UsageSource
	store  SampleWriter
	clock  clock.Clock
	config Config

	state atomic.Int32
	last  atomic.Pointer[CycleResult]
}

// NewCollector creates a new collector. A nil clk means the wall clock.
func NewCollector(logger *zap.Logger, source UsageSource, store SampleWriter, clk clock.Clock, config Config) *Collector {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Collector{
		logger: logger,
		source: source,
		store:  store,
		clock:  clk,
		config: config,
	}
}

// Run loops until ctx is cancelled. Cancellation is observed between cycles
// and while sleeping; buffered rows are flushed before returning.
func (c *Collector) Run(ctx context.Context) error {
	c.logger.Info("Starting collector",
		zap.Duration("interval", c.config.Interval),
		zap.Duration("backoff", c.config.BackoffInterval))

	defer func() {
		if err := c.store.Flush(); err != nil {
			c.logger.Error("Failed to flush samples on shutdown", zap.Error(err))
		}
	}()

	for {
		if ctx.Err() != nil {
			c.logger.Info("Collector stopped")
			return nil
		}

		result := c.RunCycle(ctx)
		state := Next(result)
		c.state.Store(int32(state))
		c.last.Store(&result)

		delay := c.config.Interval
		if state == StateBackoff {
			delay = c.config.BackoffInterval
			fields := []zap.Field{
				zap.String("reason", string(result.Err.Reason)),
				zap.Duration("retryIn", delay),
				zap.Error(result.Err.Err),
			}
			if result.Err.Pod != "" {
				fields = append(fields, zap.String("namespace", result.Err.Namespace), zap.String("pod", result.Err.Pod))
			}
			c.logger.Error("Failed to collect pod metrics", fields...)
		}

		if !c.sleep(ctx, delay) {
			c.logger.Info("Collector stopped")
			return nil
		}
		// Backoff always returns to Polling.
		c.state.Store(int32(StatePolling))
	}
}

// RunCycle performs one Polling cycle. Every sample of the batch carries the
// same poll timestamp and lands in the partition chosen at the start of the
// cycle, even if the date changes while the batch is written.
func (c *Collector) RunCycle(ctx context.Context) CycleResult {
	start := c.clock.Now()
	polledAt := start.Truncate(time.Second)
	result := CycleResult{PolledAt: polledAt}

	defer func() {
		status := "ok"
		if result.Err != nil {
			status = string(result.Err.Reason)
		}
		metrics.RecordCollectorCycle(status, result.Samples, c.clock.Since(start))
	}()

	rotated, err := c.store.EnsurePartitionFor(polledAt)
	if err != nil {
		result.Err = &CycleError{Reason: ReasonStorage, Err: err}
		return result
	}
	if rotated {
		result.Rotated = true
		metrics.RecordPartitionRotation()
	}

	pods, err := c.source.ListPodUsage(ctx)
	if err != nil {
		result.Err = &CycleError{Reason: ReasonFetch, Err: err}
		return result
	}

	batch, cerr := c.normalize(pods, polledAt)
	if cerr != nil {
		result.Err = cerr
		return result
	}

	if err := c.store.AppendBatch(batch); err != nil {
		result.Err = &CycleError{Reason: ReasonStorage, Err: err}
		return result
	}
	if err := c.store.Flush(); err != nil {
		result.Err = &CycleError{Reason: ReasonStorage, Err: err}
		return result
	}

	result.Samples = len(batch)
	c.logger.Info("Collected pod metrics",
		zap.Int("pods", len(batch)),
		zap.Time("polledAt", polledAt))
	return result
}

// normalize converts the snapshot into samples. Only the first container of
// each pod is read, so pods with sidecars are under-counted.
func (c *Collector) normalize(pods []k8smetrics.PodUsage, polledAt time.Time) ([]timeseries.Sample, *CycleError) {
	batch := make([]timeseries.Sample, 0, len(pods))
	for _, pod := range pods {
		if len(pod.Containers) == 0 {
			return nil, &CycleError{
				Reason:    ReasonMalformed,
				Namespace: pod.Namespace,
				Pod:       pod.Name,
				Err:       fmt.Errorf("pod reports no containers"),
			}
		}
		usage := pod.Containers[0]

		cpu, err := units.ParseCPU(usage.CPU)
		if err != nil {
			return nil, &CycleError{Reason: ReasonParse, Namespace: pod.Namespace, Pod: pod.Name, Err: err}
		}
		mem, err := units.ParseMemory(usage.Memory)
		if err != nil {
			return nil, &CycleError{Reason: ReasonParse, Namespace: pod.Namespace, Pod: pod.Name, Err: err}
		}

		c.logger.Debug("Sampled pod",
			zap.String("namespace", pod.Namespace),
			zap.String("pod", pod.Name),
			zap.Float64("cpu_mcpu", cpu),
			zap.Float64("memory_mib", mem))

		batch = append(batch, timeseries.Sample{
			Timestamp: polledAt,
			Namespace: pod.Namespace,
			PodName:   pod.Name,
			CPUMilli:  cpu,
			MemoryMiB: mem,
		})
	}
	return batch, nil
}

// State returns the current loop state
func (c *Collector) State() State {
	return State(c.state.Load())
}

// LastResult returns the outcome of the most recent cycle
func (c *Collector) LastResult() (CycleResult, bool) {
	last := c.last.Load()
	if last == nil {
		return CycleResult{}, false
	}
	return *last, true
}

func (c *Collector) sleep(ctx context.Context, d time.Duration) bool {
	timer := c.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}
