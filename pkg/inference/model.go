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

// Package inference runs the span-prediction forward pass of an extractive
// question-answering model.
package inference

import (
	"context"

	"github.com/llm-d/llm-d-extractive-qa/pkg/tokenization"
)

// SpanLogits holds one start and one end score per input position.
type SpanLogits struct {
	Start []float32
	End   []float32
}

// Model is a pretrained span-prediction model.
//
// Implementations must be safe for concurrent use; a loaded model is shared
// read-only by every request.
type Model interface {
	// Predict runs the forward pass over enc and returns logits of length
	// enc.Len().
	Predict(ctx context.Context, enc *tokenization.Encoding) (*SpanLogits, error)
}
