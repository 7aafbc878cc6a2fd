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

// Package extraction decodes an answer span out of a (question, context)
// pair with a span-prediction model.
//
// The pipeline is:
//  1. encode the pair with the tokenizer's pair template,
//  2. run the forward pass to obtain start and end logits,
//  3. pick start = argmax(start logits) and end = argmax(end logits),
//  4. decode the non-special token ids in [start, end] back to text.
//
// An end position before the start position yields an empty answer.
package extraction

import (
	"context"
	"fmt"
	"math"

	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-extractive-qa/pkg/inference"
	"github.com/llm-d/llm-d-extractive-qa/pkg/tokenization"
	"github.com/llm-d/llm-d-extractive-qa/pkg/utils/logging"
)

// Span is a decoded answer span. Start and End are inclusive positions in the
// encoded pair; End < Start denotes the empty span.
type Span struct {
	Start  int
	End    int
	IDs    []uint32
	Answer string
}

// Empty reports whether the span selects no tokens.
func (s *Span) Empty() bool {
	return s.End < s.Start
}

// Argmax returns the first index holding the maximum of xs. NaN values never
// win. It returns -1 when xs is empty or holds only NaN.
func Argmax(xs []float32) int {
	best := -1
	for i, x := range xs {
		if math.IsNaN(float64(x)) {
			continue
		}
		if best < 0 || x > xs[best] {
			best = i
		}
	}
	return best
}

// Bounds returns the argmax start and end positions of logits.
// When either vector has no maximum the empty span (0, -1) is returned.
func Bounds(logits *inference.SpanLogits) (start, end int) {
	start, end = Argmax(logits.Start), Argmax(logits.End)
	if start < 0 || end < 0 {
		return 0, -1
	}
	return start, end
}

// Extract returns the answer to question found in passage.
// Empty inputs and inverted spans produce an empty answer, not an error.
func Extract(ctx context.Context, question, passage string,
	tokenizer tokenization.Tokenizer, model inference.Model,
) (string, error) {
	span, err := ExtractSpan(ctx, question, passage, tokenizer, model)
	if err != nil {
		return "", err
	}
	return span.Answer, nil
}

// ExtractSpan is Extract, also returning the selected positions and ids.
func ExtractSpan(ctx context.Context, question, passage string,
	tokenizer tokenization.Tokenizer, model inference.Model,
) (*Span, error) {
	logger := klog.FromContext(ctx).WithName("extraction")
	logger.V(logging.DEBUG).Info("Received context", "context", passage)

	if question == "" || passage == "" {
		logger.Info("Predicted answer", "question", question, "answer", "", "reason", "empty input")
		return &Span{Start: 0, End: -1}, nil
	}

	enc, err := tokenizer.EncodePair(question, passage)
	if err != nil {
		return nil, fmt.Errorf("failed to encode question and context: %w", err)
	}

	logits, err := model.Predict(ctx, enc)
	if err != nil {
		return nil, fmt.Errorf("failed to score encoding: %w", err)
	}
	if len(logits.Start) != enc.Len() || len(logits.End) != enc.Len() {
		return nil, fmt.Errorf("model returned %d/%d logits for %d positions",
			len(logits.Start), len(logits.End), enc.Len())
	}

	span := decodeSpan(enc, logits, tokenizer)
	logger.V(logging.TRACE).Info("decoded span", "start", span.Start, "end", span.End, "ids", span.IDs)
	logger.Info("Predicted answer", "question", question, "answer", span.Answer)

	return span, nil
}

func decodeSpan(enc *tokenization.Encoding, logits *inference.SpanLogits,
	tokenizer tokenization.Tokenizer,
) *Span {
	start, end := Bounds(logits)
	span := &Span{Start: start, End: end}
	if span.Empty() {
		return span
	}

	for i := start; i <= end; i++ {
		if enc.IsSpecial(i) {
			continue
		}
		span.IDs = append(span.IDs, enc.IDs[i])
	}

	if len(span.IDs) > 0 {
		span.Answer = tokenizer.Decode(span.IDs)
	}
	return span
}
