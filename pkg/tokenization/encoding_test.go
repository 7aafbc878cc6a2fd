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

package tokenization_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llm-d/llm-d-extractive-qa/pkg/tokenization"
)

func TestPairTemplate_Assemble(t *testing.T) {
	question := []uint32{10, 11}
	context := []uint32{20, 21, 22}

	tests := []struct {
		name     string
		template *tokenization.PairTemplate
		ids      []uint32
		typeIDs  []uint32
		special  []uint32
	}{
		{
			name:     "bert",
			template: tokenization.BertPairTemplate(101, 102),
			ids:      []uint32{101, 10, 11, 102, 20, 21, 22, 102},
			typeIDs:  []uint32{0, 0, 0, 0, 1, 1, 1, 1},
			special:  []uint32{1, 0, 0, 1, 0, 0, 0, 1},
		},
		{
			name:     "roberta",
			template: tokenization.RobertaPairTemplate(0, 2),
			ids:      []uint32{0, 10, 11, 2, 2, 20, 21, 22, 2},
			typeIDs:  []uint32{0, 0, 0, 0, 0, 0, 0, 0, 0},
			special:  []uint32{1, 0, 0, 1, 1, 0, 0, 0, 1},
		},
		{
			name:     "plain",
			template: tokenization.PlainPairTemplate(),
			ids:      []uint32{10, 11, 20, 21, 22},
			typeIDs:  []uint32{0, 0, 0, 0, 0},
			special:  []uint32{0, 0, 0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := tt.template.Assemble(question, context, 0)

			assert.Equal(t, tt.ids, enc.IDs)
			assert.Equal(t, tt.typeIDs, enc.TypeIDs)
			assert.Equal(t, tt.special, enc.SpecialTokensMask)
			assert.Len(t, enc.AttentionMask, enc.Len())
			for _, m := range enc.AttentionMask {
				assert.Equal(t, uint32(1), m)
			}
		})
	}
}

func TestPairTemplate_AssembleTruncates(t *testing.T) {
	template := tokenization.RobertaPairTemplate(0, 2) // 4 special tokens

	t.Run("context first", func(t *testing.T) {
		enc := template.Assemble([]uint32{10, 11}, []uint32{20, 21, 22, 23}, 8)
		assert.Equal(t, []uint32{0, 10, 11, 2, 2, 20, 21, 2}, enc.IDs)
	})

	t.Run("question when context is exhausted", func(t *testing.T) {
		enc := template.Assemble([]uint32{10, 11, 12, 13}, []uint32{20}, 6)
		assert.Equal(t, []uint32{0, 10, 11, 2, 2, 2}, enc.IDs)
	})

	t.Run("budget smaller than special tokens", func(t *testing.T) {
		enc := template.Assemble([]uint32{10}, []uint32{20}, 2)
		assert.Equal(t, []uint32{0, 2, 2, 2}, enc.IDs)
		assert.Len(t, enc.AttentionMask, enc.Len())
	})

	t.Run("fits", func(t *testing.T) {
		enc := template.Assemble([]uint32{10}, []uint32{20}, 512)
		assert.Equal(t, 6, enc.Len())
	})
}

func TestEncoding_IsSpecial(t *testing.T) {
	enc := tokenization.BertPairTemplate(101, 102).Assemble([]uint32{5}, []uint32{6}, 0)

	assert.True(t, enc.IsSpecial(0))
	assert.False(t, enc.IsSpecial(1))
	assert.True(t, enc.IsSpecial(2))
	assert.False(t, enc.IsSpecial(100))
	assert.Equal(t, 0, (*tokenization.Encoding)(nil).Len())
}
