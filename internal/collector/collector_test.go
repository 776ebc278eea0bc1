package collector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	testingclock "k8s.io/utils/clock/testing"

	k8smetrics "github.com/thibault-ketterer/kube-quick-monitoring/internal/k8s/metrics"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries/store"
	"github.com/thibault-ketterer/kube-quick-monitoring/internal/units"
)

// fakeSource replays canned responses; once exhausted it repeats the last one.
type fakeSource struct {
	mu        sync.Mutex
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	pods []k8smetrics.PodUsage
	err  error
}

func (f *fakeSource) ListPodUsage(ctx context.Context) ([]k8smetrics.PodUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i].pods, f.responses[i].err
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func pod(namespace, name string, containers ...k8smetrics.ContainerUsage) k8smetrics.PodUsage {
	return k8smetrics.PodUsage{Name: name, Namespace: namespace, Containers: containers}
}

func usage(cpu, memory string) k8smetrics.ContainerUsage {
	return k8smetrics.ContainerUsage{Name: "c", CPU: cpu, Memory: memory}
}

func readSamples(t *testing.T, baseDir string) map[string][]timeseries.Sample {
	t.Helper()
	partitions, err := store.ListPartitions(baseDir)
	require.NoError(t, err)

	reader := store.NewReader(time.UTC)
	out := map[string][]timeseries.Sample{}
	for _, p := range partitions {
		res, err := reader.ReadPartition(p)
		require.NoError(t, err)
		out[p.Day] = res.Samples
	}
	return out
}

func newTestCollector(t *testing.T, source UsageSource, clk *testingclock.FakeClock) (*Collector, *store.SampleStore, string) {
	t.Helper()
	dir := t.TempDir()
	s := store.NewSampleStore(zaptest.NewLogger(t), dir, time.UTC)
	t.Cleanup(func() { s.Close() })
	return NewCollector(zaptest.NewLogger(t), source, s, clk, DefaultConfig()), s, dir
}

func TestRunCycleWritesBatch(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Date(2024, 6, 1, 10, 30, 15, 500_000_000, time.UTC))
	source := &fakeSource{responses: []fakeResponse{{pods: []k8smetrics.PodUsage{
		pod("kube-system", "coredns-abc123", usage("12500000n", "18432Ki")),
		pod("default", "web-1", usage("250m", "256Mi"), usage("900m", "1Gi")),
	}}}}

	c, s, dir := newTestCollector(t, source, clk)
	result := c.RunCycle(context.Background())
	require.True(t, result.OK(), "%v", result.Err)
	assert.Equal(t, 2, result.Samples)
	assert.True(t, result.Rotated)
	require.NoError(t, s.Close())

	samples := readSamples(t, dir)["2024-06-01"]
	require.Len(t, samples, 2)

	expectedTS := time.Date(2024, 6, 1, 10, 30, 15, 0, time.UTC)
	assert.Equal(t, timeseries.Sample{Timestamp: expectedTS, Namespace: "kube-system", PodName: "coredns-abc123", CPUMilli: 12.5, MemoryMiB: 18}, samples[0])
	// Only the first container is read.
	assert.Equal(t, timeseries.Sample{Timestamp: expectedTS, Namespace: "default", PodName: "web-1", CPUMilli: 250, MemoryMiB: 256}, samples[1])
}

func TestRunCycleParseErrorDropsBatch(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	source := &fakeSource{responses: []fakeResponse{{pods: []k8smetrics.PodUsage{
		pod("default", "good", usage("1m", "1Mi")),
		pod("default", "bad", usage("lots", "1Mi")),
	}}}}

	c, s, dir := newTestCollector(t, source, clk)
	result := c.RunCycle(context.Background())
	require.False(t, result.OK())
	assert.Equal(t, StateBackoff, Next(result))
	assert.Equal(t, ReasonParse, result.Err.Reason)
	assert.Equal(t, "default", result.Err.Namespace)
	assert.Equal(t, "bad", result.Err.Pod)

	var perr *units.ParseError
	assert.True(t, errors.As(result.Err, &perr))

	require.NoError(t, s.Close())
	assert.Empty(t, readSamples(t, dir)["2024-06-01"], "no row of a failed batch is written")
}

func TestRunCycleFailures(t *testing.T) {
	tests := []struct {
		name     string
		response fakeResponse
		reason   Reason
	}{
		{
			name:     "fetch error",
			response: fakeResponse{err: errors.New("connection refused")},
			reason:   ReasonFetch,
		},
		{
			name:     "pod without containers",
			response: fakeResponse{pods: []k8smetrics.PodUsage{pod("default", "empty")}},
			reason:   ReasonMalformed,
		},
		{
			name:     "bad memory",
			response: fakeResponse{pods: []k8smetrics.PodUsage{pod("default", "a", usage("1m", "1.5Gi"))}},
			reason:   ReasonParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := testingclock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
			c, _, _ := newTestCollector(t, &fakeSource{responses: []fakeResponse{tt.response}}, clk)

			result := c.RunCycle(context.Background())
			require.NotNil(t, result.Err)
			assert.Equal(t, tt.reason, result.Err.Reason)
			assert.Equal(t, 0, result.Samples)
		})
	}
}

func TestRunCycleStorageFailure(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	source := &fakeSource{responses: []fakeResponse{{pods: []k8smetrics.PodUsage{pod("default", "a", usage("1m", "1Mi"))}}}}
	s := store.NewSampleStore(zaptest.NewLogger(t), blocker, time.UTC)
	c := NewCollector(zaptest.NewLogger(t), source, s, testingclock.NewFakeClock(time.Now()), DefaultConfig())

	result := c.RunCycle(context.Background())
	require.NotNil(t, result.Err)
	assert.Equal(t, ReasonStorage, result.Err.Reason)
	assert.Equal(t, 0, source.Calls(), "fetch is skipped when no partition can be opened")
}

func TestRunCycleRotatesAtDayBoundary(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Date(2024, 6, 1, 23, 59, 30, 0, time.UTC))
	source := &fakeSource{responses: []fakeResponse{{pods: []k8smetrics.PodUsage{
		pod("default", "a", usage("1m", "1Mi")),
		pod("default", "b", usage("2m", "2Mi")),
	}}}}

	c, s, dir := newTestCollector(t, source, clk)
	require.True(t, c.RunCycle(context.Background()).OK())

	clk.Step(time.Minute)
	result := c.RunCycle(context.Background())
	require.True(t, result.OK())
	assert.True(t, result.Rotated)

	clk.Step(time.Minute)
	result = c.RunCycle(context.Background())
	require.True(t, result.OK())
	assert.False(t, result.Rotated)
	require.NoError(t, s.Close())

	byDay := readSamples(t, dir)
	require.Len(t, byDay, 2)
	assert.Len(t, byDay["2024-06-01"], 2)
	assert.Len(t, byDay["2024-06-02"], 4)
	for day, samples := range byDay {
		for _, sample := range samples {
			assert.Equal(t, day, timeseries.DayOf(sample.Timestamp))
		}
	}

	for _, p := range []string{"2024-06/pod_metrics_2024-06-01.csv", "2024-06/pod_metrics_2024-06-02.csv"} {
		data, err := os.ReadFile(filepath.Join(dir, p))
		require.NoError(t, err)
		assert.Equal(t, 1, strings.Count(string(data), "timestamp,"), p)
	}
}

func TestRunBackoffThenPolling(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	source := &fakeSource{responses: []fakeResponse{
		{err: errors.New("timeout")},
		{pods: []k8smetrics.PodUsage{pod("default", "a", usage("1m", "1Mi"))}},
	}}
	c, _, _ := newTestCollector(t, source, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitForPoll := func(calls int) {
		require.Eventually(t, func() bool {
			return source.Calls() == calls && clk.HasWaiters()
		}, time.Second, time.Millisecond)
	}

	waitForPoll(1)
	assert.Equal(t, StateBackoff, c.State())
	last, ok := c.LastResult()
	require.True(t, ok)
	assert.Equal(t, ReasonFetch, last.Err.Reason)

	// Backoff waits the short interval.
	clk.Step(9 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, source.Calls())
	clk.Step(time.Second)
	waitForPoll(2)
	assert.Equal(t, StatePolling, c.State())

	// A successful cycle waits the full poll interval.
	clk.Step(59 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, source.Calls())
	clk.Step(time.Second)
	waitForPoll(3)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("collector did not stop after cancellation")
	}
}

func TestNext(t *testing.T) {
	assert.Equal(t, StatePolling, Next(CycleResult{}))
	assert.Equal(t, StateBackoff, Next(CycleResult{Err: &CycleError{Reason: ReasonFetch, Err: errors.New("x")}}))
	assert.Equal(t, "polling", StatePolling.String())
	assert.Equal(t, "backoff", StateBackoff.String())
}

func TestCycleErrorMessage(t *testing.T) {
	err := &CycleError{Reason: ReasonParse, Namespace: "ns", Pod: "p", Err: errors.New("boom")}
	assert.Equal(t, "parse_failed: ns/p: boom", err.Error())

	err = &CycleError{Reason: ReasonFetch, Err: errors.New("boom")}
	assert.Equal(t, "fetch_failed: boom", err.Error())
}

// failingWriter rejects the first batch and records the ones it accepts
type failingWriter struct {
	failures int
	batches  [][]timeseries.Sample
}

func (w *failingWriter) EnsurePartitionFor(now time.Time) (bool, error) { return false, nil }

func (w *failingWriter) AppendBatch(samples []timeseries.Sample) error {
	if w.failures > 0 {
		w.failures--
		return errors.New("disk full")
	}
	w.batches = append(w.batches, samples)
	return nil
}

func (w *failingWriter) Flush() error { return nil }

func TestRunCycleAppendFailureDropsWholeBatch(t *testing.T) {
	source := &fakeSource{responses: []fakeResponse{{pods: []k8smetrics.PodUsage{
		pod("default", "a", usage("1m", "1Mi")),
		pod("default", "b", usage("2m", "2Mi")),
	}}}}
	w := &failingWriter{failures: 1}
	c := NewCollector(zaptest.NewLogger(t), source, w, testingclock.NewFakeClock(time.Now()), DefaultConfig())

	result := c.RunCycle(context.Background())
	require.NotNil(t, result.Err)
	assert.Equal(t, ReasonStorage, result.Err.Reason)
	assert.Empty(t, w.batches)

	result = c.RunCycle(context.Background())
	require.True(t, result.OK(), "%v", result.Err)
	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0], 2)
}
