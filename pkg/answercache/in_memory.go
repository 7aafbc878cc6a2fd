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

	lru "github.com/hashicorp/golang-lru/v2"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/utils/logging"
)

const defaultInMemorySize = 10000

// InMemoryConfig holds the configuration for the InMemoryCache.
type InMemoryConfig struct {
	// Size is the maximum number of answers kept.
	Size int `json:"size"`
}

// DefaultInMemoryConfig returns a default configuration for the InMemoryCache.
func DefaultInMemoryConfig() *InMemoryConfig {
	return &InMemoryConfig{
		Size: defaultInMemorySize,
	}
}

// InMemoryCache is an LRU-bounded in-memory implementation of Cache.
type InMemoryCache struct {
	data *lru.Cache[Key, Entry]
}

var _ Cache = &InMemoryCache{}

// NewInMemoryCache creates a new InMemoryCache instance.
func NewInMemoryCache(cfg *InMemoryConfig) (*InMemoryCache, error) {
	if cfg == nil {
		cfg = DefaultInMemoryConfig()
	}

	data, err := lru.New[Key, Entry](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize in-memory answer cache: %w", err)
	}

	return &InMemoryCache{data: data}, nil
}

func (c *InMemoryCache) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	entry, ok := c.data.Get(key)
	klog.FromContext(ctx).V(logging.TRACE).Info("answer cache lookup", "key", key.String(), "hit", ok)
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

func (c *InMemoryCache) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("nil entry for key %s", key.String())
	}

	if evicted := c.data.Add(key, *entry); evicted {
		klog.FromContext(ctx).V(logging.TRACE).Info("evicted oldest answer", "key", key.String())
	}
	return nil
}

// Len returns the number of cached answers.
func (c *InMemoryCache) Len() int {
	return c.data.Len()
}
