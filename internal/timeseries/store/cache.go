package store

import (
	"fmt"
	"os"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/thibault-ketterer/kube-quick-monitoring/internal/timeseries"
)

// PartitionReader loads the rows of one partition
type PartitionReader interface {
	ReadPartition(p timeseries.Partition) (*ReadResult, error)
}

// CachedReader memoizes decoded partitions. Entries are keyed on the file's
// size and modification time, so the partition being appended to is decoded
// again only after it has grown.
type CachedReader struct {
	reader PartitionReader
	cache  *gocache.Cache
}

// NewCachedReader wraps reader with a cache whose entries expire after ttl
func NewCachedReader(reader PartitionReader, ttl time.Duration) *CachedReader {
	return &CachedReader{
		reader: reader,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// ReadPartition returns the cached rows of p or decodes them
func (c *CachedReader) ReadPartition(p timeseries.Partition) (*ReadResult, error) {
	info, err := os.Stat(p.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat partition %s: %w", p.Path, err)
	}

	key := fmt.Sprintf("%s|%d|%d", p.Path, info.Size(), info.ModTime().UnixNano())
	if cached, ok := c.cache.Get(key); ok {
		return cached.(*ReadResult), nil
	}

	result, err := c.reader.ReadPartition(p)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, result)
	return result, nil
}

// ItemCount returns the number of cached partitions, including expired ones
// not yet evicted
func (c *CachedReader) ItemCount() int {
	return c.cache.ItemCount()
}
