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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const defaultKeyPrefix = "qa:answer:"

// RedisConfig holds the configuration for the RedisCache.
type RedisConfig struct {
	Address string `json:"address,omitempty"` // Redis server address
	// TTL bounds how long an answer is kept. Zero keeps answers forever.
	TTL metav1.Duration `json:"ttl"`
	// KeyPrefix namespaces the keys written by this cache.
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// DefaultRedisConfig returns a default configuration for the RedisCache.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:   "redis://127.0.0.1:6379",
		TTL:       metav1.Duration{Duration: 24 * time.Hour},
		KeyPrefix: defaultKeyPrefix,
	}
}

// RedisCache implements Cache on a shared Redis server, letting several
// replicas reuse each other's answers.
type RedisCache struct {
	RedisClient *redis.Client
	ttl         time.Duration
	prefix      string
}

var _ Cache = &RedisCache{}

// NewRedisCache creates a new RedisCache instance.
func NewRedisCache(ctx context.Context, config *RedisConfig) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	address := config.Address
	if !strings.HasPrefix(address, "redis://") &&
		!strings.HasPrefix(address, "rediss://") &&
		!strings.HasPrefix(address, "unix://") {
		address = "redis://" + address
	}

	redisOpt, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redisURL: %w", err)
	}

	redisClient := redis.NewClient(redisOpt)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &RedisCache{
		RedisClient: redisClient,
		ttl:         config.TTL.Duration,
		prefix:      prefix,
	}, nil
}

func (r *RedisCache) redisKey(key Key) string {
	return r.prefix + key.String()
}

func (r *RedisCache) Get(ctx context.Context, key Key) (*Entry, bool, error) {
	b, err := r.RedisClient.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get answer %s: %w", key.String(), err)
	}

	var entry Entry
	if err := msgpack.Unmarshal(b, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode answer %s: %w", key.String(), err)
	}
	return &entry, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("nil entry for key %s", key.String())
	}

	b, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode answer %s: %w", key.String(), err)
	}

	if err := r.RedisClient.Set(ctx, r.redisKey(key), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store answer %s: %w", key.String(), err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisCache) Close() error {
	return r.RedisClient.Close()
}
