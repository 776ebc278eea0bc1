package store

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries"
)

// Reader loads partitions written by SampleStore
type Reader struct {
	location *time.Location
}

// NewReader creates a reader that interprets timestamps in loc (time.Local if nil)
func NewReader(loc *time.Location) *Reader {
	if loc == nil {
		loc = time.Local
	}
	return &Reader{location: loc}
}

// ReadResult holds the rows of one partition
type ReadResult struct {
	Samples []timeseries.Sample
	// Skipped counts rows that could not be decoded, such as a trailing row
	// caught mid-write.
	Skipped int
}

// ReadPartition decodes every row of p. The header row is skipped wherever it
// appears so partitions concatenated by hand still load. Bytes after the last
// newline belong to a row still being written and are counted as skipped.
func (r *Reader) ReadPartition(p timeseries.Partition) (*ReadResult, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %s: %w", p.Path, err)
	}

	complete, torn := splitTornRow(data)
	result, err := r.decode(bytes.NewReader(complete))
	if err != nil {
		return nil, fmt.Errorf("failed to read partition %s: %w", p.Path, err)
	}
	if torn {
		result.Skipped++
	}
	return result, nil
}

// splitTornRow keeps data up to and including its last newline
func splitTornRow(data []byte) ([]byte, bool) {
	end := bytes.LastIndexByte(data, '\n') + 1
	return data[:end], end < len(data)
}

func (r *Reader) decode(src io.Reader) (*ReadResult, error) {
	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	result := &ReadResult{}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				result.Skipped++
				continue
			}
			return nil, err
		}

		if len(record) > 0 && record[0] == timeseries.Header[0] {
			continue
		}

		sample, ok := r.decodeRecord(record)
		if !ok {
			result.Skipped++
			continue
		}
		result.Samples = append(result.Samples, sample)
	}
}

func (r *Reader) decodeRecord(record []string) (timeseries.Sample, bool) {
	if len(record) != len(timeseries.Header) {
		return timeseries.Sample{}, false
	}

	ts, err := time.ParseInLocation(timeseries.TimestampLayout, record[0], r.location)
	if err != nil {
		return timeseries.Sample{}, false
	}
	cpu, err := strconv.ParseFloat(record[3], 64)
	if err != nil || cpu < 0 {
		return timeseries.Sample{}, false
	}
	mem, err := strconv.ParseFloat(record[4], 64)
	if err != nil || mem < 0 {
		return timeseries.Sample{}, false
	}

	return timeseries.Sample{
		Timestamp: ts,
		Namespace: record[1],
		PodName:   record[2],
		CPUMilli:  cpu,
		MemoryMiB: mem,
	}, true
}

// ListPartitions returns every partition under baseDir ordered by day. A
// missing baseDir yields an empty list.
func ListPartitions(baseDir string) ([]timeseries.Partition, error) {
	months, err := os.ReadDir(baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []timeseries.Partition{}, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", baseDir, err)
	}

	partitions := []timeseries.Partition{}
	for _, month := range months {
		if !month.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, month.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			day, ok := timeseries.ParsePartitionFile(file.Name())
			if !ok {
				continue
			}
			partitions = append(partitions, timeseries.Partition{
				Day:  day,
				Path: filepath.Join(dir, file.Name()),
			})
		}
	}

	sort.Slice(partitions, func(i, j int) bool {
		return partitions[i].Day < partitions[j].Day
	})
	return partitions, nil
}
