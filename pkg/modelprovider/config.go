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
	"fmt"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/llm-d/llm-d-extractive-qa/pkg/errdefs"
	"github.com/llm-d/llm-d-extractive-qa/pkg/inference"
	"github.com/llm-d/llm-d-extractive-qa/pkg/tokenization"
)

// Strategy selects where a model directory is resolved from.
type Strategy string

const (
	// StrategyLocal loads from ModelsDir, fetching from RemoteBaseURL only
	// when the directory is empty and a remote is configured.
	StrategyLocal Strategy = "local"
	// StrategyRemote always resolves through the remote store, caching
	// artifacts under CacheDir.
	StrategyRemote Strategy = "remote"
)

const (
	defaultModelsDir       = "./models"
	defaultCacheDir        = "./.cache/models"
	defaultRemoteBaseURL   = "s3://mlops-course/models"
	defaultPrefetchWorkers = 2
)

// BackoffConfig bounds retries of remote fetches.
type BackoffConfig struct {
	Steps    int             `json:"steps"`
	Duration metav1.Duration `json:"duration"`
	Factor   float64         `json:"factor"`
}

// Backoff converts the configuration into a wait.Backoff.
func (c *BackoffConfig) Backoff() wait.Backoff {
	if c == nil {
		return wait.Backoff{Steps: 1}
	}
	return wait.Backoff{
		Steps:    max(c.Steps, 1),
		Duration: c.Duration.Duration,
		Factor:   c.Factor,
		Jitter:   0.1,
	}
}

// Config holds the configuration of the model Provider.
type Config struct {
	Strategy Strategy `json:"strategy"`
	// ModelsDir holds pre-cached model directories for StrategyLocal.
	ModelsDir string `json:"modelsDir"`
	// CacheDir holds fetched model directories for StrategyRemote.
	CacheDir string `json:"cacheDir"`
	// RemoteBaseURL is the object-store prefix holding one sub-prefix per
	// model id, e.g. s3://bucket/models.
	RemoteBaseURL string         `json:"remoteBaseURL"`
	FetchBackoff  *BackoffConfig `json:"fetchBackoff,omitempty"`

	// PrefetchModels are loaded in the background at startup.
	PrefetchModels  []string `json:"prefetchModels,omitempty"`
	PrefetchWorkers int      `json:"prefetchWorkers"`

	TokenizerConfig *tokenization.Config  `json:"tokenizer"`
	ONNXConfig      *inference.ONNXConfig `json:"onnx"`
}

// DefaultConfig returns a default configuration for the Provider.
func DefaultConfig() *Config {
	return &Config{
		Strategy:      StrategyLocal,
		ModelsDir:     defaultModelsDir,
		CacheDir:      defaultCacheDir,
		RemoteBaseURL: defaultRemoteBaseURL,
		FetchBackoff: &BackoffConfig{
			Steps:    3,
			Duration: metav1.Duration{Duration: 500 * time.Millisecond},
			Factor:   2,
		},
		PrefetchWorkers: defaultPrefetchWorkers,
		TokenizerConfig: tokenization.DefaultConfig(),
		ONNXConfig:      inference.DefaultONNXConfig(),
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyLocal:
		if c.ModelsDir == "" {
			return fmt.Errorf("modelsDir is required for the %q strategy", c.Strategy)
		}
	case StrategyRemote:
		if c.RemoteBaseURL == "" {
			return fmt.Errorf("remoteBaseURL is required for the %q strategy", c.Strategy)
		}
		if c.CacheDir == "" {
			return fmt.Errorf("cacheDir is required for the %q strategy", c.Strategy)
		}
	default:
		return fmt.Errorf("unknown model strategy %q", c.Strategy)
	}
	return nil
}

// ValidateModelID checks that id is a relative, slash-separated name such as
// "deepset/roberta-base-squad2".
func ValidateModelID(id string) error {
	if id == "" {
		return errdefs.NewNotFoundError("empty model id", nil)
	}
	if strings.HasPrefix(id, "/") || strings.HasSuffix(id, "/") {
		return errdefs.NewNotFoundError(fmt.Sprintf("invalid model id %q", id), nil)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-', r == '/':
		default:
			return errdefs.NewNotFoundError(fmt.Sprintf("invalid model id %q", id), nil)
		}
	}
	for _, segment := range strings.Split(id, "/") {
		if segment == "" || segment == "." || segment == ".." || strings.Contains(segment, partialSuffix) {
			return errdefs.NewNotFoundError(fmt.Sprintf("invalid model id %q", id), nil)
		}
	}
	return nil
}
