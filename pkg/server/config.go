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

package server

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	defaultPort           = "8080"
	defaultRequestTimeout = 30 * time.Second
)

// Config holds the configuration of the HTTP server.
type Config struct {
	Port        string   `json:"port"`
	UseHTTP2    bool     `json:"useHTTP2"`
	CorsOrigins []string `json:"corsOrigins"`
	// RequestTimeout bounds how long a prediction may take. A prediction
	// still running at the deadline is abandoned and its result discarded.
	RequestTimeout metav1.Duration `json:"requestTimeout"`
}

// DefaultConfig returns a default configuration for the HTTP server.
func DefaultConfig() *Config {
	return &Config{
		Port:           defaultPort,
		CorsOrigins:    []string{"*"},
		RequestTimeout: metav1.Duration{Duration: defaultRequestTimeout},
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	portNum, err := strconv.Atoi(c.Port)
	if err != nil {
		return errors.New("port must be a number")
	}
	if portNum < 1 || portNum > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", portNum)
	}
	if c.RequestTimeout.Duration < 0 {
		return errors.New("request timeout must not be negative")
	}
	return nil
}
