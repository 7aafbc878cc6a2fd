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

// Package answercache memoises extracted answers. Extraction is a pure
// function of (model, question, context), so a cached answer is always the
// answer the model would produce.
package answercache

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/llm-d/llm-d-extractive-qa/pkg/metrics"
)

// Config holds the configuration for the answer cache.
// It may configure several backends such as listed within the struct.
// If multiple backends are configured, only the first one will be used.
type Config struct {
	// InMemoryConfig holds the configuration for the LRU cache.
	InMemoryConfig *InMemoryConfig `json:"inMemoryConfig,omitempty"`
	// CostAwareMemoryConfig holds the configuration for the memory-bounded cache.
	CostAwareMemoryConfig *CostAwareMemoryConfig `json:"costAwareMemoryConfig,omitempty"`
	// RedisConfig holds the configuration for the Redis cache.
	RedisConfig *RedisConfig `json:"redisConfig,omitempty"`

	// EnableMetrics toggles whether lookups/hits/admissions are recorded.
	EnableMetrics bool `json:"enableMetrics"`
	// MetricsLoggingInterval defines the interval at which metrics are logged.
	// If zero, metrics logging is disabled.
	// Requires `EnableMetrics` to be true.
	MetricsLoggingInterval metav1.Duration `json:"metricsLoggingInterval"`
}

// DefaultConfig returns a default configuration for the answer cache.
func DefaultConfig() *Config {
	return &Config{
		InMemoryConfig: DefaultInMemoryConfig(),
		EnableMetrics:  false,
	}
}

// Cache stores answers by Key.
//
// Cache operations are thread-safe and can be performed concurrently.
type Cache interface {
	// Get returns the cached entry for key, if any.
	Get(ctx context.Context, key Key) (*Entry, bool, error)
	// Set stores entry under key.
	Set(ctx context.Context, key Key, entry *Entry) error
}

// Entry is a cached answer.
type Entry struct {
	Answer string `msgpack:"answer"`
	// Sum is the Key.Sum the answer was stored under.
	Sum []byte `msgpack:"sum,omitempty"`
}

// NewCache creates the configured Cache backend. A nil config disables
// caching and returns a nil Cache.
func NewCache(ctx context.Context, cfg *Config) (Cache, error) {
	if cfg == nil {
		return nil, nil //nolint:nilnil // caching disabled
	}

	var (
		cache Cache
		err   error
	)

	switch {
	case cfg.InMemoryConfig != nil:
		cache, err = NewInMemoryCache(cfg.InMemoryConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory answer cache: %w", err)
		}
	case cfg.CostAwareMemoryConfig != nil:
		cache, err = NewCostAwareMemoryCache(cfg.CostAwareMemoryConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create cost-aware answer cache: %w", err)
		}
	case cfg.RedisConfig != nil:
		cache, err = NewRedisCache(ctx, cfg.RedisConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis answer cache: %w", err)
		}
	default:
		return nil, fmt.Errorf("no valid answer cache configuration provided")
	}

	cache = &checkedCache{next: cache}

	// wrap in metrics only if enabled
	if cfg.EnableMetrics {
		cache = NewInstrumentedCache(cache)
		metrics.Register()
		if cfg.MetricsLoggingInterval.Duration > 0 {
			// this is non-blocking
			metrics.StartMetricsLogging(ctx, cfg.MetricsLoggingInterval.Duration)
		}
	}

	return cache, nil
}
