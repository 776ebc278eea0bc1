package timeseries

import (
	"fmt"
	"path/filepath"
	"regexp"
	"time"
)

const (
	// TimestampLayout is the on-disk timestamp format: local wall-clock, no zone.
	TimestampLayout = "2006-01-02 15:04:05"

	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// Header is the canonical first row of every partition
var Header = []string{"timestamp", "namespace", "pod_name", "cpu_mcpu", "memory_mib"}

var partitionFileRe = regexp.MustCompile(`^pod_metrics_(\d{4}-\d{2}-\d{2})\.csv$`)

// Partition identifies one day's sample file
type Partition struct {
	Day  string `json:"day"` // YYYY-MM-DD
	Path string `json:"path"`
}

// DayOf returns the partition day key for a wall-clock instant
func DayOf(t time.Time) string {
	return t.Format(dayLayout)
}

// PartitionPath returns <baseDir>/<YYYY-MM>/pod_metrics_<YYYY-MM-DD>.csv for t's date
func PartitionPath(baseDir string, t time.Time) string {
	return filepath.Join(baseDir, t.Format(monthLayout), "pod_metrics_"+t.Format(dayLayout)+".csv")
}

// PartitionForDay resolves a YYYY-MM-DD key to its partition
func PartitionForDay(baseDir, day string) (Partition, error) {
	t, err := time.Parse(dayLayout, day)
	if err != nil {
		return Partition{}, fmt.Errorf("invalid partition day %q: %w", day, err)
	}
	return Partition{Day: day, Path: PartitionPath(baseDir, t)}, nil
}

// ParsePartitionFile extracts the day key from a partition file name
func ParsePartitionFile(name string) (string, bool) {
	m := partitionFileRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	if _, err := time.Parse(dayLayout, m[1]); err != nil {
		return "", false
	}
	return m[1], true
}
