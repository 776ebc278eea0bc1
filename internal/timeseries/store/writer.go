package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries"
)

// ErrNoPartition is returned by Append when no partition has been opened
var ErrNoPartition = errors.New("no partition open for writes")

// SampleStore is the day-partitioned append-only sample log. It owns the
// single open partition handle and the current-day cursor.
type SampleStore struct {
	logger   *zap.Logger
	baseDir  string
	location *time.Location

	mu   sync.Mutex
	file *os.File
	day  string
	path string
}

// NewSampleStore creates a store rooted at baseDir. Partition dates and
// timestamps are rendered in loc; a nil loc means time.Local.
func NewSampleStore(logger *zap.Logger, baseDir string, loc *time.Location) *SampleStore {
	if loc == nil {
		loc = time.Local
	}
	return &SampleStore{
		logger:   logger,
		baseDir:  baseDir,
		location: loc,
	}
}

// EnsurePartitionFor makes now's partition the active one, rotating away from
// the previous day if needed. It reports whether a new partition was opened.
func (s *SampleStore) EnsurePartitionFor(now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.In(s.location)
	day := timeseries.DayOf(now)
	if s.file != nil && s.day == day {
		return false, nil
	}

	if err := s.closeLocked(); err != nil {
		return false, err
	}

	path := timeseries.PartitionPath(s.baseDir, now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create partition directory for %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to open partition %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return false, fmt.Errorf("failed to stat partition %s: %w", path, err)
	}

	if info.Size() == 0 {
		if err := writeRows(file, [][]string{timeseries.Header}); err != nil {
			file.Close()
			return false, fmt.Errorf("failed to write header to %s: %w", path, err)
		}
	}

	s.file, s.day, s.path = file, day, path
	s.logger.Info("Opened sample partition",
		zap.String("path", path),
		zap.String("day", day),
		zap.Bool("created", info.Size() == 0))

	return true, nil
}

// Append writes one row to the active partition
func (s *SampleStore) Append(sample timeseries.Sample) error {
	return s.AppendBatch([]timeseries.Sample{sample})
}

// AppendBatch encodes every row of the batch first and hands them to the
// file in a single write, so nothing of a batch stays buffered in the store
// after a failure. Readers racing the write may still see the final row cut
// short; the reader drops unterminated rows.
func (s *SampleStore) AppendBatch(samples []timeseries.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrNoPartition
	}
	if len(samples) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(samples))
	for _, sample := range samples {
		rows = append(rows, []string{
			sample.Timestamp.In(s.location).Format(timeseries.TimestampLayout),
			sample.Namespace,
			sample.PodName,
			formatFloat(sample.CPUMilli),
			formatFloat(sample.MemoryMiB),
		})
	}
	if err := writeRows(s.file, rows); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	return nil
}

// Flush commits written rows of the active partition to stable storage
func (s *SampleStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", s.path, err)
	}
	return nil
}

// Close releases the active partition. It is safe to call
// repeatedly or with nothing open.
func (s *SampleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// Current returns the active partition, if any
func (s *SampleStore) Current() (timeseries.Partition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return timeseries.Partition{}, false
	}
	return timeseries.Partition{Day: s.day, Path: s.path}, true
}

func (s *SampleStore) closeLocked() error {
	if s.file == nil {
		return nil
	}

	file, path := s.file, s.path
	s.file, s.day, s.path = nil, "", ""

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	s.logger.Debug("Closed sample partition", zap.String("path", path))
	return nil
}

// writeRows encodes rows in memory and issues one write
func writeRows(f *os.File, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	_, err := f.Write(buf.Bytes())
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
