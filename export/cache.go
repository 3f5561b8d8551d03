package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cosmo-local-credit/saleops/atomicfile"
	"github.com/cosmo-local-credit/saleops/chain"
)

// TimestampCache maps block numbers to their unix timestamps. Losing it
// only costs refetches.
type TimestampCache struct {
	gw    chain.Gateway
	path  string
	mu    sync.Mutex
	times map[uint64]uint64
	dirty bool
}

// OpenCache loads the cache file at path if it exists. An empty path keeps
// the cache in memory.
func OpenCache(gw chain.Gateway, path string) (*TimestampCache, error) {
	c := &TimestampCache{gw: gw, path: path, times: map[uint64]uint64{}}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read timestamp cache: %w", err)
	}
	var stored map[string]uint64
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode timestamp cache %s: %w", path, err)
	}
	for k, v := range stored {
		n, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode timestamp cache %s: bad block %q", path, k)
		}
		c.times[n] = v
	}
	return c, nil
}

// Timestamp returns the block time, asking the node on a cache miss.
func (c *TimestampCache) Timestamp(ctx context.Context, block uint64) (time.Time, error) {
	c.mu.Lock()
	ts, ok := c.times[block]
	c.mu.Unlock()
	if ok {
		return time.Unix(int64(ts), 0).UTC(), nil
	}
	b, err := c.gw.Block(ctx, block)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch block %d: %w", block, err)
	}
	c.mu.Lock()
	c.times[block] = b.Timestamp
	c.dirty = true
	c.mu.Unlock()
	return time.Unix(int64(b.Timestamp), 0).UTC(), nil
}

func (c *TimestampCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.times)
}

// Flush writes the cache if anything was added since the last flush.
func (c *TimestampCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path == "" || !c.dirty {
		return nil
	}
	stored := make(map[string]uint64, len(c.times))
	for k, v := range c.times {
		stored[strconv.FormatUint(k, 10)] = v
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode timestamp cache: %w", err)
	}
	if err := atomicfile.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("write timestamp cache: %w", err)
	}
	c.dirty = false
	return nil
}
