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

// Package storage copies model artifacts out of URL-addressed object stores
// (s3://, gs://, file://, mem://) onto the local filesystem.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/errdefs"
	"github.com/llm-d/llm-d-extractive-qa/pkg/utils/logging"
)

// FetchStats summarises a completed fetch.
type FetchStats struct {
	Objects int
	Bytes   int64
}

// Fetcher copies every object under a remote prefix into a local directory.
type Fetcher interface {
	// Fetch mirrors remoteURL into localDir, preserving the relative layout.
	// A prefix holding no objects is reported as errdefs.NotFoundError;
	// storage or network failures as errdefs.UnavailableError.
	Fetch(ctx context.Context, remoteURL, localDir string) (*FetchStats, error)
}

// AFSFetcher implements Fetcher with viant/afs. Schemes other than file and
// mem must be registered by importing the matching afsc package.
type AFSFetcher struct {
	fs afs.Service
}

var _ Fetcher = &AFSFetcher{}

// NewAFSFetcher creates a fetcher backed by a fresh afs service.
func NewAFSFetcher() *AFSFetcher {
	return &AFSFetcher{fs: afs.New()}
}

// NewAFSFetcherWithService creates a fetcher backed by fs.
func NewAFSFetcherWithService(fs afs.Service) *AFSFetcher {
	return &AFSFetcher{fs: fs}
}

func (f *AFSFetcher) Fetch(ctx context.Context, remoteURL, localDir string) (*FetchStats, error) {
	logger := klog.FromContext(ctx).WithName("storage.Fetch")

	exists, err := f.fs.Exists(ctx, remoteURL)
	if err != nil {
		return nil, errdefs.NewUnavailableError("failed to probe "+remoteURL, err)
	}
	if !exists {
		return nil, errdefs.NewNotFoundError("no objects under "+remoteURL, nil)
	}

	if err := os.MkdirAll(localDir, file.DefaultDirOsMode); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", localDir, err)
	}

	stats := &FetchStats{}
	err = f.fs.Walk(ctx, remoteURL, func(ctx context.Context, _ string, parent string,
		info os.FileInfo, reader io.Reader,
	) (bool, error) {
		if info.IsDir() {
			return true, nil
		}

		target, err := localPath(localDir, parent, info.Name())
		if err != nil {
			return false, err
		}

		n, err := writeFile(target, reader)
		if err != nil {
			return false, err
		}

		stats.Objects++
		stats.Bytes += n
		logger.V(logging.TRACE).Info("fetched object", "path", target, "bytes", n)
		return true, nil
	})
	if err != nil {
		return stats, errdefs.NewUnavailableError("failed to fetch "+remoteURL, err)
	}

	if stats.Objects == 0 {
		return stats, errdefs.NewNotFoundError("no objects under "+remoteURL, nil)
	}

	return stats, nil
}

// localPath resolves an object location below root, rejecting names that
// would escape it.
func localPath(root, parent, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(parent), name)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("object %s/%s escapes %s", parent, name, root)
	}
	return target, nil
}

func writeFile(path string, reader io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), file.DefaultDirOsMode); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}

	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, file.DefaultFileOsMode)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	n, err := io.Copy(out, reader)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return n, nil
}
