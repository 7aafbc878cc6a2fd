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
	"io"

	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/utils/logging"
)

// checkedCache stamps entries with their Key.Sum and treats an entry whose
// sum does not match the requested key as a miss.
type checkedCache struct {
	next Cache
}

func (c *checkedCache) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	entry, ok, err := c.next.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if !entry.Matches(key) {
		klog.FromContext(ctx).V(logging.DEBUG).Info("answer cache digest collision", "key", key.String())
		return nil, false, nil
	}
	return entry, true, nil
}

func (c *checkedCache) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("nil entry for key %s", key.String())
	}

	stamped := *entry
	stamped.Sum = key.Sum[:]
	return c.next.Set(ctx, key, &stamped)
}

func (c *checkedCache) Close() error {
	return closeCache(c.next)
}

// closeCache releases the resources held by cache, if any.
func closeCache(cache Cache) error {
	if closer, ok := cache.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
