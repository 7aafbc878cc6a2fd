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

package tokenization

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/daulet/tokenizers"
)

const (
	defaultTokenizerFile = "tokenizer.json"
	// defaultMaxSequenceLength matches the position-embedding budget of
	// BERT/RoBERTa-sized extractive QA models.
	defaultMaxSequenceLength = 512
)

// Tokenizer converts (question, context) pairs into model input and
// converts token ids back into text.
//
// Implementations must be safe for concurrent use.
type Tokenizer interface {
	// EncodePair tokenizes question and context and lays them out following
	// the model's pair convention, including special tokens and truncation.
	EncodePair(question, context string) (*Encoding, error)
	// Decode turns token ids into text, dropping special tokens and merging
	// sub-word fragments into whitespace-separated words.
	Decode(ids []uint32) string
}

// Describer is implemented by tokenizers that can report their layout.
type Describer interface {
	TemplateKind() string
	MaxSequenceLength() int
}

// Config holds the configuration for tokenizers loaded from a model
// directory.
type Config struct {
	// TokenizerFile is the tokenizer definition inside the model directory.
	TokenizerFile string `json:"tokenizerFile"`
	// MaxSequenceLength bounds the encoded pair, special tokens included.
	// Zero disables truncation.
	MaxSequenceLength int `json:"maxSequenceLength"`
}

// DefaultConfig returns a default configuration for the HuggingFace tokenizer.
func DefaultConfig() *Config {
	return &Config{
		TokenizerFile:     defaultTokenizerFile,
		MaxSequenceLength: defaultMaxSequenceLength,
	}
}

// HFTokenizer implements the Tokenizer interface using bindings to
// HuggingFace's rust tokenizer.
type HFTokenizer struct {
	tokenizer         *tokenizers.Tokenizer
	template          *PairTemplate
	maxSequenceLength int
}

var _ Tokenizer = &HFTokenizer{}

// NewHFTokenizer loads the tokenizer definition found in dir.
func NewHFTokenizer(dir string, config *Config) (*HFTokenizer, error) {
	if config == nil {
		config = DefaultConfig()
	}

	path := filepath.Join(dir, config.TokenizerFile)
	definition, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tokenizer definition %s: %w", path, err)
	}

	template, err := ParsePairTemplate(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pair template from %s: %w", path, err)
	}

	tk, err := tokenizers.FromBytes(definition)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tokenizer from %s: %w", path, err)
	}

	return &HFTokenizer{
		tokenizer:         tk,
		template:          template,
		maxSequenceLength: config.MaxSequenceLength,
	}, nil
}

// EncodePair tokenizes both sequences without special tokens and assembles
// them with the pair template read from the tokenizer definition.
func (t *HFTokenizer) EncodePair(question, context string) (*Encoding, error) {
	questionIDs, _ := t.tokenizer.Encode(question, false)
	contextIDs, _ := t.tokenizer.Encode(context, false)

	return t.template.Assemble(questionIDs, contextIDs, t.maxSequenceLength), nil
}

// Decode converts token ids into a string, skipping special tokens.
func (t *HFTokenizer) Decode(ids []uint32) string {
	if len(ids) == 0 {
		return ""
	}
	return strings.TrimSpace(t.tokenizer.Decode(ids, true))
}

// TemplateKind returns the kind of pair template in use.
func (t *HFTokenizer) TemplateKind() string {
	return t.template.Kind
}

// MaxSequenceLength returns the truncation bound.
func (t *HFTokenizer) MaxSequenceLength() int {
	return t.maxSequenceLength
}

// Close releases the underlying rust tokenizer.
func (t *HFTokenizer) Close() error {
	return t.tokenizer.Close()
}
