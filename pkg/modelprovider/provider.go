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

// Package modelprovider resolves model identifiers into loaded
// (tokenizer, model) pairs, fetching artifacts from remote storage into a
// local cache when needed.
package modelprovider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/viant/afs/url"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/errdefs"
	"github.com/llm-d/llm-d-extractive-qa/pkg/inference"
	"github.com/llm-d/llm-d-extractive-qa/pkg/metrics"
	"github.com/llm-d/llm-d-extractive-qa/pkg/storage"
	"github.com/llm-d/llm-d-extractive-qa/pkg/tokenization"
	"github.com/llm-d/llm-d-extractive-qa/pkg/utils/logging"
)

const (
	partialSuffix = ".partial-"
	// staging directories untouched for this long belong to a dead fetch.
	staleStagingAge = time.Hour

	defaultMarkerFile = "tokenizer.json"
)

// Pair is a loaded tokenizer and model, shared read-only by all requests.
type Pair struct {
	ModelID   string
	Dir       string
	Tokenizer tokenization.Tokenizer
	Model     inference.Model
	LoadedAt  time.Time
	// Fetched is true when the artifacts were copied from remote storage
	// by this process.
	Fetched bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithFetcher overrides the remote storage fetcher.
func WithFetcher(fetcher storage.Fetcher) Option {
	return func(p *Provider) {
		p.fetcher = fetcher
	}
}

// WithLoader overrides how a local directory is turned into a Pair.
func WithLoader(loader Loader) Option {
	return func(p *Provider) {
		p.loader = loader
	}
}

// Provider loads and retains model pairs for the process lifetime.
// Concurrent first loads of one identifier share a single in-flight load.
type Provider struct {
	config  *Config
	fetcher storage.Fetcher
	loader  Loader

	group singleflight.Group

	mu    sync.RWMutex
	pairs map[string]*Pair
}

// NewProvider creates a Provider. With no options it fetches with afs and
// loads ONNX models.
func NewProvider(config *Config, opts ...Option) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		config:  config,
		fetcher: storage.NewAFSFetcher(),
		loader: &ONNXLoader{
			TokenizerConfig: config.TokenizerConfig,
			ONNXConfig:      config.ONNXConfig,
		},
		pairs: make(map[string]*Pair),
	}
	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Get returns an already loaded pair without blocking.
func (p *Provider) Get(modelID string) (*Pair, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pair, ok := p.pairs[modelID]
	return pair, ok
}

// Models returns the identifiers of all loaded pairs, sorted.
func (p *Provider) Models() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.pairs))
	for id := range p.pairs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Load returns the pair for modelID, loading it on first use.
//
// A caller whose ctx ends while waiting gets ctx.Err(); the shared load keeps
// running for the other waiters and its result is retained.
func (p *Provider) Load(ctx context.Context, modelID string) (*Pair, error) {
	if err := ValidateModelID(modelID); err != nil {
		return nil, err
	}

	if pair, ok := p.Get(modelID); ok {
		return pair, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := p.group.DoChan(modelID, func() (any, error) {
		return p.load(detached, modelID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Pair), nil //nolint:forcetypeassert // load always returns *Pair
	}
}

func (p *Provider) load(ctx context.Context, modelID string) (*Pair, error) {
	if pair, ok := p.Get(modelID); ok {
		return pair, nil
	}

	logger := klog.FromContext(ctx).WithName("modelprovider").WithValues("model", modelID)
	logger.Info("Loading model", "strategy", p.config.Strategy)
	began := time.Now()

	dir, fetched, err := p.EnsureLocal(ctx, modelID)
	if err != nil {
		recordFailure(err)
		return nil, err
	}

	tokenizer, model, err := p.loader.Load(ctx, dir)
	if err != nil {
		metrics.ModelLoads.WithLabelValues(metrics.ResultFailed).Inc()
		return nil, errdefs.NewUnavailableError(fmt.Sprintf("failed to load model %s from %s", modelID, dir), err)
	}

	pair := &Pair{
		ModelID:   modelID,
		Dir:       dir,
		Tokenizer: tokenizer,
		Model:     model,
		LoadedAt:  time.Now(),
		Fetched:   fetched,
	}

	p.mu.Lock()
	p.pairs[modelID] = pair
	p.mu.Unlock()

	metrics.ModelLoads.WithLabelValues(metrics.ResultLoaded).Inc()
	metrics.ModelLoadLatency.Observe(time.Since(began).Seconds())
	logger.Info("Loaded model", "dir", dir, "fetched", fetched, "duration", time.Since(began))

	return pair, nil
}

func recordFailure(err error) {
	if errdefs.IsNotFound(err) {
		metrics.ModelLoads.WithLabelValues(metrics.ResultNotFound).Inc()
		return
	}
	metrics.ModelLoads.WithLabelValues(metrics.ResultFailed).Inc()
}

// LocalDir returns the directory modelID resolves to under the configured
// strategy.
func (p *Provider) LocalDir(modelID string) string {
	root := p.config.ModelsDir
	if p.config.Strategy == StrategyRemote {
		root = p.config.CacheDir
	}
	return filepath.Join(root, filepath.FromSlash(modelID))
}

// RemoteURL returns the object-store prefix of modelID, or "" when no remote
// is configured.
func (p *Provider) RemoteURL(modelID string) string {
	if p.config.RemoteBaseURL == "" {
		return ""
	}
	return url.Join(p.config.RemoteBaseURL, modelID)
}

// EnsureLocal makes sure the artifacts of modelID are present on disk and
// returns their directory. fetched reports whether a remote fetch happened.
func (p *Provider) EnsureLocal(ctx context.Context, modelID string) (dir string, fetched bool, err error) {
	if err := ValidateModelID(modelID); err != nil {
		return "", false, err
	}

	dir = p.LocalDir(modelID)
	populated, err := isPopulated(dir, p.markerFile())
	if err != nil {
		return "", false, errdefs.NewUnavailableError("failed to inspect "+dir, err)
	}
	if populated {
		klog.FromContext(ctx).V(logging.DEBUG).Info("using cached model", "model", modelID, "dir", dir)
		return dir, false, nil
	}

	remote := p.RemoteURL(modelID)
	if remote == "" {
		return "", false, errdefs.NewNotFoundError(
			fmt.Sprintf("model %s not present in %s and no remote storage configured", modelID, dir), nil)
	}

	if err := p.fetch(ctx, remote, dir); err != nil {
		return "", false, err
	}
	return dir, true, nil
}

// fetch downloads remote into a temporary sibling of dir with retries, then
// renames it into place. On failure nothing is left at dir.
func (p *Provider) fetch(ctx context.Context, remote, dir string) error {
	logger := klog.FromContext(ctx).WithName("modelprovider.fetch").WithValues("remote", remote, "dir", dir)
	logger.Info("Downloading model")

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errdefs.NewUnavailableError("failed to create "+parent, err)
	}
	sweepStaging(logger, dir)

	var (
		stats   *storage.FetchStats
		lastErr error
		attempt int
	)
	err := wait.ExponentialBackoffWithContext(ctx, p.config.FetchBackoff.Backoff(),
		func(ctx context.Context) (bool, error) {
			attempt++
			stats, lastErr = p.fetchOnce(ctx, remote, dir)
			switch {
			case lastErr == nil:
				return true, nil
			case errdefs.IsNotFound(lastErr):
				return false, lastErr
			default:
				logger.Error(lastErr, "fetch attempt failed", "attempt", attempt)
				return false, nil
			}
		})
	if err != nil {
		if lastErr != nil {
			err = lastErr
		}
		if errdefs.IsNotFound(err) || errdefs.IsUnavailable(err) {
			return err
		}
		return errdefs.NewUnavailableError("failed to download "+remote, err)
	}

	metrics.FetchedBytes.Add(float64(stats.Bytes))
	logger.Info("Downloaded model", "objects", stats.Objects, "bytes", stats.Bytes, "attempts", attempt)
	return nil
}

func (p *Provider) fetchOnce(ctx context.Context, remote, dir string) (*storage.FetchStats, error) {
	tmp, err := os.MkdirTemp(filepath.Dir(dir), filepath.Base(dir)+partialSuffix+"*")
	if err != nil {
		return nil, errdefs.NewUnavailableError("failed to create staging directory", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmp)
		}
	}()

	stats, err := p.fetcher.Fetch(ctx, remote, tmp)
	if err != nil {
		return nil, err
	}

	marker := p.markerFile()
	if _, err := os.Stat(filepath.Join(tmp, marker)); err != nil {
		return nil, errdefs.NewNotFoundError(fmt.Sprintf("no %s under %s", marker, remote), err)
	}

	// an empty directory left at dir would block the rename
	err = os.Remove(dir)
	switch {
	case err == nil, errors.Is(err, os.ErrNotExist):
		if err := os.Rename(tmp, dir); err != nil {
			return nil, errdefs.NewUnavailableError(fmt.Sprintf("failed to move %s into place", tmp), err)
		}
		committed = true
		return stats, nil
	default:
		if populated, _ := isPopulated(dir, marker); populated {
			return stats, nil
		}
		// dir holds the directories of nested model ids
		if err := mergeInto(tmp, dir, marker); err != nil {
			return nil, errdefs.NewUnavailableError(fmt.Sprintf("failed to move %s into place", tmp), err)
		}
		return stats, nil
	}
}

// markerFile is the artifact whose presence marks a model directory as
// complete. It is always the last file moved into place.
func (p *Provider) markerFile() string {
	if p.config.TokenizerConfig != nil && p.config.TokenizerConfig.TokenizerFile != "" {
		return p.config.TokenizerConfig.TokenizerFile
	}
	return defaultMarkerFile
}

// mergeInto moves the entries of src into the existing directory dst,
// moving marker last.
func mergeInto(src, dst, marker string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name() == marker {
			continue
		}
		if err := os.Rename(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return os.Rename(filepath.Join(src, marker), filepath.Join(dst, marker))
}

// sweepStaging removes staging directories of dir left by fetches that
// never finished.
func sweepStaging(logger klog.Logger, dir string) {
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(dir), filepath.Base(dir)+partialSuffix+"*"))
	if err != nil {
		return
	}
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || time.Since(info.ModTime()) < staleStagingAge {
			continue
		}
		if err := os.RemoveAll(match); err != nil {
			logger.Error(err, "failed to remove stale staging directory", "path", match)
			continue
		}
		logger.V(logging.DEBUG).Info("removed stale staging directory", "path", match)
	}
}

// isPopulated reports whether dir holds the marker file of a complete model.
func isPopulated(dir, marker string) (bool, error) {
	info, err := os.Stat(filepath.Join(dir, marker))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// Close releases every loaded pair.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for id, pair := range p.pairs {
		if err := closeAll(pair.Tokenizer, pair.Model); err != nil {
			errs = append(errs, fmt.Errorf("model %s: %w", id, err))
		}
		delete(p.pairs, id)
	}
	return errors.Join(errs...)
}
