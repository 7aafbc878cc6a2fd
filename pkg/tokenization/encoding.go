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

const (
	// SequenceA marks the template slot holding the question tokens.
	SequenceA = "A"
	// SequenceB marks the template slot holding the context tokens.
	SequenceB = "B"
)

// Template kinds, named after the tokenizer post-processor they come from.
const (
	TemplateKindBert     = "bert"
	TemplateKindRoberta  = "roberta"
	TemplateKindTemplate = "template"
	TemplateKindNone     = "none"
)

// Encoding is the flat representation of a (question, context) pair as fed
// to the span model. All slices have the same length.
type Encoding struct {
	IDs               []uint32
	TypeIDs           []uint32
	AttentionMask     []uint32
	SpecialTokensMask []uint32
}

// Len returns the number of positions in the encoding.
func (e *Encoding) Len() int {
	if e == nil {
		return 0
	}
	return len(e.IDs)
}

// IsSpecial reports whether position i holds a special token.
func (e *Encoding) IsSpecial(i int) bool {
	return i < len(e.SpecialTokensMask) && e.SpecialTokensMask[i] == 1
}

func (e *Encoding) append(ids []uint32, typeID uint32, special bool) {
	var mask uint32
	if special {
		mask = 1
	}
	for _, id := range ids {
		e.IDs = append(e.IDs, id)
		e.TypeIDs = append(e.TypeIDs, typeID)
		e.AttentionMask = append(e.AttentionMask, 1)
		e.SpecialTokensMask = append(e.SpecialTokensMask, mask)
	}
}

// TemplatePiece is one element of a pair template: either a run of special
// token ids, or a slot for sequence A or B.
type TemplatePiece struct {
	// Sequence is SequenceA or SequenceB for a slot, empty for special tokens.
	Sequence   string
	SpecialIDs []uint32
	TypeID     uint32
}

// PairTemplate describes how a tokenizer lays out a sequence pair.
type PairTemplate struct {
	Kind   string
	Pieces []TemplatePiece
}

// BertPairTemplate returns the "[CLS] A [SEP] B [SEP]" layout.
func BertPairTemplate(cls, sep uint32) *PairTemplate {
	return &PairTemplate{
		Kind: TemplateKindBert,
		Pieces: []TemplatePiece{
			{SpecialIDs: []uint32{cls}},
			{Sequence: SequenceA},
			{SpecialIDs: []uint32{sep}},
			{Sequence: SequenceB, TypeID: 1},
			{SpecialIDs: []uint32{sep}, TypeID: 1},
		},
	}
}

// RobertaPairTemplate returns the "<s> A </s></s> B </s>" layout.
func RobertaPairTemplate(cls, sep uint32) *PairTemplate {
	return &PairTemplate{
		Kind: TemplateKindRoberta,
		Pieces: []TemplatePiece{
			{SpecialIDs: []uint32{cls}},
			{Sequence: SequenceA},
			{SpecialIDs: []uint32{sep, sep}},
			{Sequence: SequenceB},
			{SpecialIDs: []uint32{sep}},
		},
	}
}

// PlainPairTemplate concatenates both sequences without special tokens.
func PlainPairTemplate() *PairTemplate {
	return &PairTemplate{
		Kind: TemplateKindNone,
		Pieces: []TemplatePiece{
			{Sequence: SequenceA},
			{Sequence: SequenceB},
		},
	}
}

// SpecialCount returns the number of special tokens the template inserts.
func (t *PairTemplate) SpecialCount() int {
	n := 0
	for _, p := range t.Pieces {
		n += len(p.SpecialIDs)
	}
	return n
}

// Assemble lays out question and context token ids according to the template.
// When maxLen is positive the context is truncated first, then the question,
// so that the result never exceeds maxLen positions. Special tokens are
// always kept.
func (t *PairTemplate) Assemble(question, context []uint32, maxLen int) *Encoding {
	if maxLen > 0 {
		question, context = truncatePair(question, context, max(maxLen-t.SpecialCount(), 0))
	}

	size := t.SpecialCount() + len(question) + len(context)
	enc := &Encoding{
		IDs:               make([]uint32, 0, size),
		TypeIDs:           make([]uint32, 0, size),
		AttentionMask:     make([]uint32, 0, size),
		SpecialTokensMask: make([]uint32, 0, size),
	}

	for _, p := range t.Pieces {
		switch p.Sequence {
		case SequenceA:
			enc.append(question, p.TypeID, false)
		case SequenceB:
			enc.append(context, p.TypeID, false)
		default:
			enc.append(p.SpecialIDs, p.TypeID, true)
		}
	}

	return enc
}

// truncatePair trims b, then a, until len(a)+len(b) fits budget.
func truncatePair(a, b []uint32, budget int) ([]uint32, []uint32) {
	if len(a)+len(b) <= budget {
		return a, b
	}
	if len(a) <= budget {
		return a, b[:budget-len(a)]
	}
	return a[:budget], b[:0]
}
