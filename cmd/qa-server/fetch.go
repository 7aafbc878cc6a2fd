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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/modelprovider"
)

// FetchCmd downloads model artifacts ahead of deployment.
// Usage: qa-server fetch deepset/roberta-base-squad2
type FetchCmd struct {
	Strategy  string `long:"strategy" choice:"local" choice:"remote" description:"model source strategy"`
	ModelsDir string `long:"models-dir" description:"directory holding pre-cached models"`
	RemoteURL string `long:"remote-url" description:"object-store prefix holding one sub-prefix per model"`

	Args struct {
		Models []string `positional-arg-name:"model" description:"model ids; defaults to the configured model"`
	} `positional-args:"yes"`

	root *RootOptions
}

func (f *FetchCmd) setRoot(root *RootOptions) { f.root = root }

func (f *FetchCmd) Execute(_ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadFor(f.root)
	if err != nil {
		return err
	}

	providerConfig := cfg.QA.ModelProviderConfig
	if f.Strategy != "" {
		providerConfig.Strategy = modelprovider.Strategy(f.Strategy)
	}
	if f.ModelsDir != "" {
		providerConfig.ModelsDir = f.ModelsDir
	}
	if f.RemoteURL != "" {
		providerConfig.RemoteBaseURL = f.RemoteURL
	}

	provider, err := modelprovider.NewProvider(providerConfig)
	if err != nil {
		return err
	}

	models := f.Args.Models
	if len(models) == 0 {
		models = []string{cfg.QA.ModelID}
	}

	return fetchAll(ctx, provider, models)
}

func fetchAll(ctx context.Context, provider *modelprovider.Provider, models []string) error {
	logger := klog.FromContext(ctx).WithName("fetch")

	for _, id := range models {
		dir, fetched, err := provider.EnsureLocal(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", id, err)
		}
		if fetched {
			logger.Info("Fetched model", "model", id, "dir", dir, "remote", provider.RemoteURL(id))
		} else {
			logger.Info("Model already cached", "model", id, "dir", dir)
		}
	}
	return nil
}
