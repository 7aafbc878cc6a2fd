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

// Package server exposes the QA service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

// GracefulShutdownTimeout bounds how long in-flight requests may take to
// drain once shutdown starts.
const GracefulShutdownTimeout = 10 * time.Second

// Server is the HTTP front of a QAService.
type Server struct {
	Echo *echo.Echo

	cfg     *Config
	service QAService
}

// Option configures a Server.
type Option func(*options)

type options struct {
	gatherer prometheus.Gatherer
}

// WithGatherer overrides the registry served on /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(o *options) {
		o.gatherer = gatherer
	}
}

// NewServer creates a Server with its middlewares and routes.
func NewServer(ctx context.Context, cfg *Config, service QAService, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	o := &options{gatherer: ctrlmetrics.Registry}
	for _, opt := range opts {
		opt(o)
	}

	logger := klog.FromContext(ctx).WithName("server")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.DisableHTTP2 = !cfg.UseHTTP2
	e.HTTPErrorHandler = errorHandler(logger)

	s := &Server{
		Echo:    e,
		cfg:     cfg,
		service: service,
	}

	s.setupMiddlewares(logger)
	s.setupRoutes(o.gatherer)

	return s, nil
}

func (s *Server) setupMiddlewares(logger klog.Logger) {
	s.Echo.Use(requestID())
	s.Echo.Use(requestLogger(logger))
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.cfg.CorsOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	s.Echo.GET("/", s.welcome)
	s.Echo.GET("/predict", s.predictQuery)
	s.Echo.POST("/predict", s.predictJSON)
	s.Echo.GET("/metadata", s.metadata)
	s.Echo.GET("/healthz", s.healthz)
	s.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logger := klog.FromContext(ctx).WithName("server")

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "port", s.cfg.Port)
		if err := s.Echo.Start(":" + s.cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), GracefulShutdownTimeout)
	defer cancel()

	if err := s.Echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	return nil
}
