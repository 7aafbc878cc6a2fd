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

package modelprovider

import (
	"context"
	"sync"

	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/errdefs"
)

const defaultMaxPrefetchRetries = 5

// PrefetchPool loads models in the background so that the first request does
// not pay for the download.
type PrefetchPool struct {
	workers    int
	maxRetries int
	queue      workqueue.TypedRateLimitingInterface[string]
	wg         sync.WaitGroup

	provider *Provider
}

// NewPrefetchPool initializes a PrefetchPool with the configured number of
// workers.
func NewPrefetchPool(provider *Provider) *PrefetchPool {
	return &PrefetchPool{
		workers:    max(provider.config.PrefetchWorkers, 1),
		maxRetries: defaultMaxPrefetchRetries,
		queue:      workqueue.NewTypedRateLimitingQueue(workqueue.DefaultTypedControllerRateLimiter[string]()),
		provider:   provider,
	}
}

// AddTask enqueues a model for loading.
// This method only enqueues the task and does not start processing it.
func (pool *PrefetchPool) AddTask(modelID string) {
	pool.queue.Add(modelID)
}

// Run launches worker goroutines that process tasks until the context is
// cancelled.
func (pool *PrefetchPool) Run(ctx context.Context) {
	for i := 0; i < pool.workers; i++ {
		pool.wg.Add(1)
		go pool.workerLoop(ctx)
	}

	<-ctx.Done()

	pool.queue.ShutDown()
	pool.wg.Wait()
}

func (pool *PrefetchPool) workerLoop(ctx context.Context) {
	defer pool.wg.Done()
	logger := klog.FromContext(ctx).WithName("modelprovider.prefetch")

	for {
		modelID, shutdown := pool.queue.Get()
		if shutdown {
			return
		}

		err := pool.processTask(ctx, modelID)
		switch {
		case err == nil:
			pool.queue.Forget(modelID)
		case errdefs.IsNotFound(err):
			logger.Error(err, "model not found, not retrying", "model", modelID)
			pool.queue.Forget(modelID)
		case pool.queue.NumRequeues(modelID) >= pool.maxRetries:
			logger.Error(err, "giving up prefetch", "model", modelID, "retries", pool.maxRetries)
			pool.queue.Forget(modelID)
		default:
			pool.queue.AddRateLimited(modelID)
		}
		pool.queue.Done(modelID)
	}
}

func (pool *PrefetchPool) processTask(ctx context.Context, modelID string) error {
	_, err := pool.provider.Load(ctx, modelID)
	return err
}
