package timeseries

import (
	"fmt"
	"time"
)

// Sample is one normalized pod measurement. Samples are immutable once written.
type Sample struct {
	Timestamp time.Time
	Namespace string
	PodName   string
	CPUMilli  float64 // millicores
	MemoryMiB float64 // mebibytes
}

// Metric selects which sample value an aggregate view is computed over
type Metric string

const (
	MetricCPU    Metric = "cpu_mcpu"
	MetricMemory Metric = "memory_mib"
)

// ParseMetric validates a metric column name
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCPU, MetricMemory:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown metric %q", s)
	}
}

// Label returns the axis label shown by the visualization layer
func (m Metric) Label() string {
	if m == MetricCPU {
		return "CPU (mCPU)"
	}
	return "Memory (MiB)"
}

// Value extracts the metric from a sample
func (m Metric) Value(s Sample) float64 {
	if m == MetricCPU {
		return s.CPUMilli
	}
	return s.MemoryMiB
}
