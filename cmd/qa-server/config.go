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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/llm-d/llm-d-extractive-qa/pkg/answercache"
	"github.com/llm-d/llm-d-extractive-qa/pkg/modelprovider"
	"github.com/llm-d/llm-d-extractive-qa/pkg/qa"
	"github.com/llm-d/llm-d-extractive-qa/pkg/server"
)

const (
	envModelID       = "QA_MODEL_ID"
	envModelsDir     = "QA_MODELS_DIR"
	envCacheDir      = "QA_CACHE_DIR"
	envRemoteURL     = "QA_REMOTE_URL"
	envStrategy      = "QA_STRATEGY"
	envRedisAddr     = "REDIS_ADDR"
	envHTTPPort      = "HTTP_PORT"
	envCorsOrigins   = "CORS_ORIGINS"
	envORTLibPath    = "ORT_LIB_PATH"
	envPrefetch      = "QA_PREFETCH_MODELS"
	envServedModels  = "QA_SERVED_MODELS"
	envUseHTTP2      = "USE_HTTP2"
	envEnableMetrics = "QA_ENABLE_METRICS"
)

// Config is the complete configuration of the qa-server binary.
type Config struct {
	QA     *qa.Config     `json:"qa"`
	Server *server.Config `json:"server"`
	// MetricsLoggingInterval defines the interval at which metrics are
	// logged. If zero, metrics logging is disabled.
	MetricsLoggingInterval metav1.Duration `json:"metricsLoggingInterval"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		QA:     qa.NewDefaultConfig(),
		Server: server.DefaultConfig(),
	}
}

// LoadConfig layers, from lowest to highest precedence: defaults, the YAML
// file at path, the dotenv file at envFile, and the process environment.
// Empty paths are skipped; a missing dotenv file is not an error.
func LoadConfig(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if cfg.QA.ModelProviderConfig == nil {
		cfg.QA.ModelProviderConfig = modelprovider.DefaultConfig()
	}
	provider := cfg.QA.ModelProviderConfig

	setString(&cfg.QA.ModelID, envModelID)
	setList(&cfg.QA.ServedModels, envServedModels)
	setString(&provider.ModelsDir, envModelsDir)
	setString(&provider.CacheDir, envCacheDir)
	setString(&provider.RemoteBaseURL, envRemoteURL)
	setList(&provider.PrefetchModels, envPrefetch)
	if v, ok := os.LookupEnv(envStrategy); ok && v != "" {
		provider.Strategy = modelprovider.Strategy(v)
	}
	if v, ok := os.LookupEnv(envORTLibPath); ok && v != "" && provider.ONNXConfig != nil {
		provider.ONNXConfig.SharedLibraryPath = v
	}

	if v, ok := os.LookupEnv(envRedisAddr); ok && v != "" {
		enableMetrics := cfg.QA.AnswerCacheConfig != nil && cfg.QA.AnswerCacheConfig.EnableMetrics
		redisConfig := answercache.DefaultRedisConfig()
		redisConfig.Address = v
		cfg.QA.AnswerCacheConfig = &answercache.Config{
			RedisConfig:   redisConfig,
			EnableMetrics: enableMetrics,
		}
	}
	if v, ok := os.LookupEnv(envEnableMetrics); ok && cfg.QA.AnswerCacheConfig != nil {
		cfg.QA.AnswerCacheConfig.EnableMetrics = v == "true"
	}

	setString(&cfg.Server.Port, envHTTPPort)
	setList(&cfg.Server.CorsOrigins, envCorsOrigins)
	if v, ok := os.LookupEnv(envUseHTTP2); ok {
		cfg.Server.UseHTTP2 = v == "true"
	}
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

// setList reads a comma-separated list, dropping blank items.
func setList(dst *[]string, env string) {
	v, ok := os.LookupEnv(env)
	if !ok || v == "" {
		return
	}

	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) > 0 {
		*dst = items
	}
}
