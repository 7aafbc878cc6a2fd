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
	"context"
	"errors"
	"fmt"
	"io"

	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/inference"
	"github.com/llm-d/llm-d-extractive-qa/pkg/tokenization"
)

// Loader builds a tokenizer and model out of a populated local directory.
type Loader interface {
	Load(ctx context.Context, dir string) (tokenization.Tokenizer, inference.Model, error)
}

// ONNXLoader loads a HuggingFace tokenizer.json and an ONNX span model.
type ONNXLoader struct {
	TokenizerConfig *tokenization.Config
	ONNXConfig      *inference.ONNXConfig
}

var _ Loader = &ONNXLoader{}

func (l *ONNXLoader) Load(ctx context.Context, dir string) (tokenization.Tokenizer, inference.Model, error) {
	tokenizer, err := tokenization.NewHFTokenizer(dir, l.TokenizerConfig)
	if err != nil {
		return nil, nil, err
	}

	model, err := inference.NewONNXModel(dir, l.ONNXConfig)
	if err != nil {
		if closeErr := tokenizer.Close(); closeErr != nil {
			klog.FromContext(ctx).Error(closeErr, "failed to release tokenizer", "dir", dir)
		}
		return nil, nil, err
	}

	return tokenizer, model, nil
}

// closeAll releases every component implementing io.Closer.
func closeAll(components ...any) error {
	var errs []error
	for _, c := range components {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to release model resources: %w", errors.Join(errs...))
	}
	return nil
}
