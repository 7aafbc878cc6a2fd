// Copyright 2025 The llm-d Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "qa"

// Load results.
const (
	ResultLoaded   = "loaded"
	ResultNotFound = "not_found"
	ResultFailed   = "failed"
)

var (
	// Extractions counts answered questions, cache hits included.
	Extractions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "extraction", Name: "requests_total",
		Help: "Total number of answered questions",
	})
	// EmptyAnswers counts extractions that produced an empty answer.
	EmptyAnswers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "extraction", Name: "empty_answers_total",
		Help: "Number of extractions that produced an empty answer",
	})
	ExtractionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "extraction", Name: "latency_seconds",
		Help:    "Latency of answer extraction in seconds",
		Buckets: prometheus.DefBuckets,
	})

	ModelLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "model", Name: "loads_total",
		Help: "Total number of model loads by result",
	}, []string{"result"})
	// FetchedBytes counts bytes copied from remote storage into the local cache.
	FetchedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "model", Name: "fetched_bytes_total",
		Help: "Bytes fetched from remote model storage",
	})
	ModelLoadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "model", Name: "load_latency_seconds",
		Help:    "Latency of model fetch and load in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	CacheAdmissions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "answer_cache", Name: "admissions_total",
		Help: "Total number of answers stored in the answer cache",
	})
	// CacheLookups counts how many Get() calls have been made.
	CacheLookups = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "answer_cache", Name: "lookup_requests_total",
		Help: "Total number of answer cache lookups",
	})
	// CacheHits counts lookups answered from the cache.
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "answer_cache", Name: "lookup_hits_total",
		Help: "Number of answer cache lookups that found an answer",
	})
	CacheLookupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "answer_cache", Name: "lookup_latency_seconds",
		Help:    "Latency of answer cache lookups in seconds",
		Buckets: prometheus.DefBuckets,
	})
)

// Collectors returns a slice of all registered Prometheus collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		Extractions, EmptyAnswers, ExtractionLatency,
		ModelLoads, FetchedBytes, ModelLoadLatency,
		CacheAdmissions, CacheLookups, CacheHits, CacheLookupLatency,
	}
}

var registerMetricsOnce = sync.Once{}

// Register registers all metrics with K8s registry.
func Register() {
	registerMetricsOnce.Do(func() {
		metrics.Registry.MustRegister(Collectors()...)
	})
}

// StartMetricsLogging spawns a goroutine that logs current metric values every
// interval until ctx is done.
func StartMetricsLogging(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logMetrics(ctx)
			}
		}
	}()
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func histogramValue(h prometheus.Histogram) (count uint64, sum float64) {
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		return 0, 0
	}
	return m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum()
}

func average(sum float64, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func logMetrics(ctx context.Context) {
	latencyCount, latencySum := histogramValue(ExtractionLatency)
	loadCount, loadSum := histogramValue(ModelLoadLatency)

	klog.FromContext(ctx).WithName("metrics").Info("metrics beat",
		"extractions", counterValue(Extractions),
		"empty_answers", counterValue(EmptyAnswers),
		"latency_count", latencyCount,
		"latency_avg", average(latencySum, latencyCount),
		"model_loads", loadCount,
		"model_load_avg", average(loadSum, loadCount),
		"fetched_bytes", counterValue(FetchedBytes),
		"cache_lookups", counterValue(CacheLookups),
		"cache_hits", counterValue(CacheHits),
		"cache_admissions", counterValue(CacheAdmissions),
	)
}
