/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package answercache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/utils/logging"
)

const (
	defaultNumCounters = 1e6 // 1M keys
	defaultBufferItems = 64  // default buffer size for ristretto
	defaultCacheSize   = "256MiB"

	// entryOverhead approximates the per-answer bookkeeping cost in bytes.
	entryOverhead = 64
)

// CostAwareMemoryConfig holds the configuration for the CostAwareMemoryCache.
type CostAwareMemoryConfig struct {
	// Size is the maximum memory size that can be used by the cache.
	// Supports human-readable formats like "2GiB", "500MiB", "1GB", etc.
	Size string `json:"size,omitempty"`
}

// DefaultCostAwareMemoryConfig returns a default configuration for the
// CostAwareMemoryCache.
func DefaultCostAwareMemoryConfig() *CostAwareMemoryConfig {
	return &CostAwareMemoryConfig{
		Size: defaultCacheSize,
	}
}

// CostAwareMemoryCache implements Cache with ristretto, bounding the memory
// used by answers rather than their count.
type CostAwareMemoryCache struct {
	data *ristretto.Cache[string, Entry]
}

var _ Cache = &CostAwareMemoryCache{}

// NewCostAwareMemoryCache creates a new CostAwareMemoryCache instance.
func NewCostAwareMemoryCache(cfg *CostAwareMemoryConfig) (*CostAwareMemoryCache, error) {
	if cfg == nil {
		cfg = DefaultCostAwareMemoryConfig()
	}

	sizeBytes, err := humanize.ParseBytes(cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to parse answer cache size %q: %w", cfg.Size, err)
	}

	data, err := ristretto.NewCache(&ristretto.Config[string, Entry]{
		NumCounters: defaultNumCounters, // number of keys to track.
		MaxCost:     int64(sizeBytes),   // #nosec G115 , maximum cost of cache
		BufferItems: defaultBufferItems, // number of keys per Get buffer.
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cost-aware answer cache: %w", err)
	}

	return &CostAwareMemoryCache{data: data}, nil
}

// MaxCost returns the memory bound in bytes.
func (c *CostAwareMemoryCache) MaxCost() int64 {
	return c.data.MaxCost()
}

func (c *CostAwareMemoryCache) Get(_ context.Context, key Key) (*Entry, bool, error) {
	entry, ok := c.data.Get(key.String())
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set admits the answer with a cost of its estimated byte size. Ristretto may
// reject an admission; a rejected answer is simply not cached.
func (c *CostAwareMemoryCache) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("nil entry for key %s", key.String())
	}

	keyStr := key.String()
	cost := int64(len(keyStr) + len(entry.Answer) + len(entry.Sum) + entryOverhead)
	if !c.data.Set(keyStr, *entry, cost) {
		klog.FromContext(ctx).V(logging.TRACE).Info("answer rejected by cache", "key", keyStr, "cost", cost)
	}
	c.data.Wait()
	return nil
}

// Close stops the cache's background goroutines.
func (c *CostAwareMemoryCache) Close() error {
	c.data.Close()
	return nil
}
