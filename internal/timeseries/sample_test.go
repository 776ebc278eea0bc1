package timeseries

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetric(t *testing.T) {
	s := Sample{CPUMilli: 12.5, MemoryMiB: 18}

	assert.Equal(t, 12.5, MetricCPU.Value(s))
	assert.Equal(t, 18.0, MetricMemory.Value(s))
	assert.Equal(t, "CPU (mCPU)", MetricCPU.Label())
	assert.Equal(t, "Memory (MiB)", MetricMemory.Label())

	m, err := ParseMetric("memory_mib")
	require.NoError(t, err)
	assert.Equal(t, MetricMemory, m)

	_, err = ParseMetric("disk")
	assert.Error(t, err)
}

func TestPartitionPath(t *testing.T) {
	ts := time.Date(2024, 6, 1, 23, 59, 59, 0, time.Local)

	assert.Equal(t, filepath.Join("data", "2024-06", "pod_metrics_2024-06-01.csv"), PartitionPath("data", ts))
	assert.Equal(t, "2024-06-01", DayOf(ts))
	assert.Equal(t, PartitionPath("data", ts), PartitionPath("data", ts.Add(-time.Hour)))
}

func TestPartitionForDay(t *testing.T) {
	p, err := PartitionForDay("base", "2024-12-31")
	require.NoError(t, err)
	assert.Equal(t, "2024-12-31", p.Day)
	assert.Equal(t, filepath.Join("base", "2024-12", "pod_metrics_2024-12-31.csv"), p.Path)

	_, err = PartitionForDay("base", "2024-13-01")
	assert.Error(t, err)
}

func TestParsePartitionFile(t *testing.T) {
	day, ok := ParsePartitionFile("pod_metrics_2024-06-01.csv")
	assert.True(t, ok)
	assert.Equal(t, "2024-06-01", day)

	for _, name := range []string{"pod_metrics.csv", "pod_metrics_2024-06-01.csv.old", "other_2024-06-01.csv", "pod_metrics_2024-02-30.csv"} {
		_, ok := ParsePartitionFile(name)
		assert.False(t, ok, name)
	}
}
