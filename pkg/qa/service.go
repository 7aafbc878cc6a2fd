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

// Package qa wires the model provider, the span extractor and the answer
// cache into the question-answering service used by the HTTP layer.
package qa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/answercache"
	"github.com/llm-d/llm-d-extractive-qa/pkg/errdefs"
	"github.com/llm-d/llm-d-extractive-qa/pkg/extraction"
	"github.com/llm-d/llm-d-extractive-qa/pkg/metrics"
	"github.com/llm-d/llm-d-extractive-qa/pkg/modelprovider"
	"github.com/llm-d/llm-d-extractive-qa/pkg/tokenization"
	"github.com/llm-d/llm-d-extractive-qa/pkg/utils/logging"
)

const defaultModelID = "deepset/roberta-base-squad2"

// Config holds the configuration for the QA service.
// The configuration cover the different components found in the service.
type Config struct {
	// ModelID is the model answering requests that do not name one.
	ModelID string `json:"modelID"`
	// ServedModels are additional models requests may select. Prefetched
	// models are always served.
	ServedModels []string `json:"servedModels,omitempty"`

	ModelProviderConfig *modelprovider.Config `json:"modelProviderConfig"`
	// AnswerCacheConfig configures answer memoisation. Nil disables it.
	AnswerCacheConfig *answercache.Config `json:"answerCacheConfig,omitempty"`
}

// NewDefaultConfig returns a default configuration for the QA service.
func NewDefaultConfig() *Config {
	return &Config{
		ModelID:             defaultModelID,
		ModelProviderConfig: modelprovider.DefaultConfig(),
		AnswerCacheConfig:   answercache.DefaultConfig(),
	}
}

// ModelMetadata describes a loaded model.
type ModelMetadata struct {
	ModelID           string    `json:"modelID"`
	Dir               string    `json:"dir"`
	LoadedAt          time.Time `json:"loadedAt"`
	Fetched           bool      `json:"fetched"`
	TemplateKind      string    `json:"templateKind,omitempty"`
	MaxSequenceLength int       `json:"maxSequenceLength,omitempty"`
}

// Option configures a Service.
type Option func(*options)

type options struct {
	providerOpts []modelprovider.Option
}

// WithProviderOptions forwards options to the underlying model provider.
func WithProviderOptions(opts ...modelprovider.Option) Option {
	return func(o *options) {
		o.providerOpts = append(o.providerOpts, opts...)
	}
}

// Service answers questions about a context passage.
type Service struct {
	config *Config
	served sets.Set[string]

	provider *modelprovider.Provider
	prefetch *modelprovider.PrefetchPool
	cache    answercache.Cache // nil when disabled
}

// NewService creates a Service given a Config.
func NewService(ctx context.Context, config *Config, opts ...Option) (*Service, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if err := modelprovider.ValidateModelID(config.ModelID); err != nil {
		return nil, fmt.Errorf("invalid default model: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	provider, err := modelprovider.NewProvider(config.ModelProviderConfig, o.providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create model provider: %w", err)
	}

	cache, err := answercache.NewCache(ctx, config.AnswerCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer cache: %w", err)
	}

	served := sets.New(config.ModelID).Insert(config.ServedModels...)
	if config.ModelProviderConfig != nil {
		served.Insert(config.ModelProviderConfig.PrefetchModels...)
	}

	return &Service{
		config:   config,
		served:   served,
		provider: provider,
		prefetch: modelprovider.NewPrefetchPool(provider),
		cache:    cache,
	}, nil
}

// Run enqueues the default model and the configured prefetch models for
// background loading, then processes the queue until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.prefetch.AddTask(s.config.ModelID)
	if s.config.ModelProviderConfig != nil {
		for _, id := range s.config.ModelProviderConfig.PrefetchModels {
			s.prefetch.AddTask(id)
		}
	}
	s.prefetch.Run(ctx)
}

// DefaultModel returns the model answering requests that do not name one.
func (s *Service) DefaultModel() string {
	return s.config.ModelID
}

// Serves reports whether requests may select modelID.
func (s *Service) Serves(modelID string) bool {
	return s.served.Has(modelID)
}

// ServedModels returns the selectable models, sorted.
func (s *Service) ServedModels() []string {
	return sets.List(s.served)
}

// Ready reports whether the default model is loaded.
func (s *Service) Ready() bool {
	_, ok := s.provider.Get(s.config.ModelID)
	return ok
}

// Answer returns the answer to question found in passage, using modelID or
// the default model when modelID is empty. The model is loaded on first use.
func (s *Service) Answer(ctx context.Context, modelID, question, passage string) (string, error) {
	if modelID == "" {
		modelID = s.config.ModelID
	}
	if !s.served.Has(modelID) {
		return "", errdefs.NewInvalidInputError(fmt.Sprintf("model %q is not served", modelID), nil)
	}

	logger := klog.FromContext(ctx).WithName("qa.Answer")
	began := time.Now()

	pair, err := s.provider.Load(ctx, modelID)
	if err != nil {
		return "", err
	}

	key, cacheable := s.cacheKey(ctx, modelID, question, passage)
	if cacheable {
		entry, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			logger.Error(err, "answer cache lookup failed", "key", key.String())
		case ok:
			logger.V(logging.DEBUG).Info("answer cache hit", "key", key.String())
			logger.Info("Predicted answer", "question", question, "answer", entry.Answer, "cached", true)
			observe(entry.Answer, began)
			return entry.Answer, nil
		}
	}

	answer, err := extraction.Extract(ctx, question, passage, pair.Tokenizer, pair.Model)
	if err != nil {
		return "", fmt.Errorf("failed to extract answer with %s: %w", modelID, err)
	}

	if cacheable {
		if err := s.cache.Set(ctx, key, &answercache.Entry{Answer: answer}); err != nil {
			logger.Error(err, "failed to cache answer", "key", key.String())
		}
	}

	observe(answer, began)
	return answer, nil
}

func (s *Service) cacheKey(ctx context.Context, modelID, question, passage string) (answercache.Key, bool) {
	if s.cache == nil || question == "" || passage == "" {
		return answercache.Key{}, false
	}

	key, err := answercache.NewKey(modelID, question, passage)
	if err != nil {
		klog.FromContext(ctx).Error(err, "failed to derive answer cache key")
		return answercache.Key{}, false
	}
	return key, true
}

func observe(answer string, began time.Time) {
	metrics.Extractions.Inc()
	if answer == "" {
		metrics.EmptyAnswers.Inc()
	}
	metrics.ExtractionLatency.Observe(time.Since(began).Seconds())
}

// Metadata describes modelID, or the default model when modelID is empty.
// A model that is not loaded yet is reported as unavailable.
func (s *Service) Metadata(modelID string) (*ModelMetadata, error) {
	if modelID == "" {
		modelID = s.config.ModelID
	}
	if !s.served.Has(modelID) {
		return nil, errdefs.NewInvalidInputError(fmt.Sprintf("model %q is not served", modelID), nil)
	}

	pair, ok := s.provider.Get(modelID)
	if !ok {
		return nil, errdefs.NewUnavailableError(fmt.Sprintf("model %s is not loaded yet", modelID), nil)
	}

	md := &ModelMetadata{
		ModelID:  pair.ModelID,
		Dir:      pair.Dir,
		LoadedAt: pair.LoadedAt,
		Fetched:  pair.Fetched,
	}
	if d, ok := pair.Tokenizer.(tokenization.Describer); ok {
		md.TemplateKind = d.TemplateKind()
		md.MaxSequenceLength = d.MaxSequenceLength()
	}
	return md, nil
}

// Provider returns the model provider used by the Service.
func (s *Service) Provider() *modelprovider.Provider {
	return s.provider
}

// Close releases loaded models and the answer cache.
func (s *Service) Close() error {
	errs := []error{s.provider.Close()}
	if closer, ok := s.cache.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
