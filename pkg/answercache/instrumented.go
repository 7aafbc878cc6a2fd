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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llm-d/llm-d-extractive-qa/pkg/metrics"
)

type instrumentedCache struct {
	next Cache
}

// NewInstrumentedCache wraps a Cache and records lookup and admission metrics.
func NewInstrumentedCache(next Cache) Cache {
	return &instrumentedCache{next: next}
}

func (m *instrumentedCache) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	timer := prometheus.NewTimer(metrics.CacheLookupLatency)
	defer timer.ObserveDuration()

	metrics.CacheLookups.Inc()

	entry, ok, err := m.next.Get(ctx, key)
	if ok {
		metrics.CacheHits.Inc()
	}
	return entry, ok, err
}

func (m *instrumentedCache) Set(ctx context.Context, key Key, entry *Entry) error {
	err := m.next.Set(ctx, key, entry)
	if err == nil {
		metrics.CacheAdmissions.Inc()
	}
	return err
}

func (m *instrumentedCache) Close() error {
	return closeCache(m.next)
}
