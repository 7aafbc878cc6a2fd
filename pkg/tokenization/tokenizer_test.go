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

//nolint:testpackage // need to test internal types
package tokenization

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testModelDirEnv points at an exported QA model directory holding a
// tokenizer.json, e.g. deepset/roberta-base-squad2.
const testModelDirEnv = "QA_TEST_MODEL_DIR"

func testModelDir(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping tokenizer integration test in short mode")
	}
	dir := os.Getenv(testModelDirEnv)
	if dir == "" {
		t.Skipf("%s not set", testModelDirEnv)
	}
	return dir
}

func TestHFTokenizer_EncodePair(t *testing.T) {
	tokenizer, err := NewHFTokenizer(testModelDir(t), DefaultConfig())
	require.NoError(t, err)
	defer tokenizer.Close()

	enc, err := tokenizer.EncodePair("Why is model conversion important?",
		"The option to convert models between FARM and transformers gives freedom to the user.")
	require.NoError(t, err)

	assert.Equal(t, enc.Len(), len(enc.AttentionMask))
	assert.Equal(t, enc.Len(), len(enc.TypeIDs))
	assert.Equal(t, enc.Len(), len(enc.SpecialTokensMask))
	assert.True(t, enc.IsSpecial(0))
	assert.True(t, enc.IsSpecial(enc.Len()-1))
}

func TestHFTokenizer_DecodeRoundTrip(t *testing.T) {
	tokenizer, err := NewHFTokenizer(testModelDir(t), DefaultConfig())
	require.NoError(t, err)
	defer tokenizer.Close()

	ids, _ := tokenizer.tokenizer.Encode("freedom to the user", false)
	assert.Equal(t, "freedom to the user", tokenizer.Decode(ids))
	assert.Equal(t, "", tokenizer.Decode(nil))
}

func TestHFTokenizer_Truncation(t *testing.T) {
	tokenizer, err := NewHFTokenizer(testModelDir(t), &Config{
		TokenizerFile:     defaultTokenizerFile,
		MaxSequenceLength: 16,
	})
	require.NoError(t, err)
	defer tokenizer.Close()

	enc, err := tokenizer.EncodePair("question", "a very long context that keeps going and going well past sixteen tokens")
	require.NoError(t, err)
	assert.Equal(t, 16, enc.Len())
}

func TestNewHFTokenizer_MissingFile(t *testing.T) {
	_, err := NewHFTokenizer(t.TempDir(), DefaultConfig())
	assert.Error(t, err)
}
