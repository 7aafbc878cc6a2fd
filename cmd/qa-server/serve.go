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

	"github.com/google/gops/agent"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/metrics"
	"github.com/llm-d/llm-d-extractive-qa/pkg/modelprovider"
	"github.com/llm-d/llm-d-extractive-qa/pkg/qa"
	"github.com/llm-d/llm-d-extractive-qa/pkg/server"
)

// ServeCmd starts the HTTP server.
// Usage: qa-server serve --port 8080 --model deepset/roberta-base-squad2
type ServeCmd struct {
	Port      string   `short:"p" long:"port" description:"listen port"`
	ModelID   string   `short:"m" long:"model" description:"default model id"`
	Strategy  string   `long:"strategy" choice:"local" choice:"remote" description:"model source strategy"`
	ModelsDir string   `long:"models-dir" description:"directory holding pre-cached models"`
	RemoteURL string   `long:"remote-url" description:"object-store prefix holding one sub-prefix per model"`
	Prefetch  []string `long:"prefetch" description:"additional model to load at startup (repeatable)"`
	Gops      bool     `long:"gops" description:"start the gops diagnostics agent"`

	root *RootOptions
}

func (s *ServeCmd) setRoot(root *RootOptions) { s.root = root }

// apply overrides cfg with the flags that were set.
func (s *ServeCmd) apply(cfg *Config) {
	provider := cfg.QA.ModelProviderConfig
	if s.Port != "" {
		cfg.Server.Port = s.Port
	}
	if s.ModelID != "" {
		cfg.QA.ModelID = s.ModelID
	}
	if s.Strategy != "" {
		provider.Strategy = modelprovider.Strategy(s.Strategy)
	}
	if s.ModelsDir != "" {
		provider.ModelsDir = s.ModelsDir
	}
	if s.RemoteURL != "" {
		provider.RemoteBaseURL = s.RemoteURL
	}
	if len(s.Prefetch) > 0 {
		provider.PrefetchModels = append(provider.PrefetchModels, s.Prefetch...)
	}
}

func (s *ServeCmd) Execute(_ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := klog.FromContext(ctx).WithName("qa-server")

	cfg, err := loadFor(s.root)
	if err != nil {
		return err
	}
	s.apply(cfg)

	if s.Gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fmt.Errorf("failed to start gops agent: %w", err)
		}
		defer agent.Close()
	}

	metrics.Register()
	if interval := cfg.MetricsLoggingInterval.Duration; interval > 0 {
		// this is non-blocking
		metrics.StartMetricsLogging(ctx, interval)
	}

	service, err := qa.NewService(ctx, cfg.QA)
	if err != nil {
		return fmt.Errorf("failed to create QA service: %w", err)
	}
	defer func() {
		if err := service.Close(); err != nil {
			logger.Error(err, "failed to release models")
		}
	}()

	go service.Run(ctx)
	logger.Info("Started QA service", "model", service.DefaultModel(), "served", service.ServedModels())

	srv, err := server.NewServer(ctx, cfg.Server, service)
	if err != nil {
		return err
	}

	return srv.Start(ctx)
}

func loadFor(root *RootOptions) (*Config, error) {
	if root == nil {
		root = &RootOptions{}
	}
	return LoadConfig(root.Config, root.EnvFile)
}
