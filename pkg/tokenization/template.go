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
	"bytes"
	"encoding/json"
	"fmt"
)

type tokenizerFile struct {
	PostProcessor json.RawMessage `json:"post_processor"`
}

type postProcessor struct {
	Type string `json:"type"`

	// BertProcessing and RobertaProcessing.
	Sep json.RawMessage `json:"sep"`
	Cls json.RawMessage `json:"cls"`

	// TemplateProcessing.
	Pair          []templateItem          `json:"pair"`
	SpecialTokens map[string]specialToken `json:"special_tokens"`

	// Sequence.
	Processors []json.RawMessage `json:"processors"`
}

type templateRef struct {
	ID     string `json:"id"`
	TypeID uint32 `json:"type_id"`
}

type templateItem struct {
	SpecialToken *templateRef `json:"SpecialToken"`
	Sequence     *templateRef `json:"Sequence"`
}

type specialToken struct {
	ID  string   `json:"id"`
	IDs []uint32 `json:"ids"`
}

// ParsePairTemplate reads the post_processor section of a HuggingFace
// tokenizer.json document and returns the pair layout it prescribes.
// A missing post-processor yields PlainPairTemplate.
func ParsePairTemplate(tokenizerJSON []byte) (*PairTemplate, error) {
	var file tokenizerFile
	if err := json.Unmarshal(tokenizerJSON, &file); err != nil {
		return nil, fmt.Errorf("failed to decode tokenizer definition: %w", err)
	}

	template, found, err := parsePostProcessor(file.PostProcessor)
	if err != nil {
		return nil, err
	}
	if !found {
		return PlainPairTemplate(), nil
	}

	return template, nil
}

func parsePostProcessor(raw json.RawMessage) (*PairTemplate, bool, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false, nil
	}

	var pp postProcessor
	if err := json.Unmarshal(raw, &pp); err != nil {
		return nil, false, fmt.Errorf("failed to decode post_processor: %w", err)
	}

	switch pp.Type {
	case "BertProcessing", "RobertaProcessing":
		cls, err := parseTokenRef(pp.Cls)
		if err != nil {
			return nil, false, fmt.Errorf("invalid cls token in %s: %w", pp.Type, err)
		}
		sep, err := parseTokenRef(pp.Sep)
		if err != nil {
			return nil, false, fmt.Errorf("invalid sep token in %s: %w", pp.Type, err)
		}
		if pp.Type == "BertProcessing" {
			return BertPairTemplate(cls, sep), true, nil
		}
		return RobertaPairTemplate(cls, sep), true, nil
	case "TemplateProcessing":
		template, err := templateFromItems(pp.Pair, pp.SpecialTokens)
		if err != nil {
			return nil, false, err
		}
		return template, true, nil
	case "Sequence":
		// the first processor that defines a pair layout wins
		for _, child := range pp.Processors {
			template, found, err := parsePostProcessor(child)
			if err != nil {
				return nil, false, err
			}
			if found {
				return template, true, nil
			}
		}
		return nil, false, nil
	default:
		// ByteLevel and friends only touch offsets
		return nil, false, nil
	}
}

// parseTokenRef decodes a ["token", id] pair.
func parseTokenRef(raw json.RawMessage) (uint32, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return 0, err
	}
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected [token, id], got %d elements", len(parts))
	}

	var id uint32
	if err := json.Unmarshal(parts[1], &id); err != nil {
		return 0, err
	}
	return id, nil
}

func templateFromItems(items []templateItem, specials map[string]specialToken) (*PairTemplate, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("TemplateProcessing has no pair template")
	}

	template := &PairTemplate{Kind: TemplateKindTemplate}
	for _, item := range items {
		switch {
		case item.Sequence != nil:
			if item.Sequence.ID != SequenceA && item.Sequence.ID != SequenceB {
				return nil, fmt.Errorf("unknown sequence %q in pair template", item.Sequence.ID)
			}
			template.Pieces = append(template.Pieces, TemplatePiece{
				Sequence: item.Sequence.ID,
				TypeID:   item.Sequence.TypeID,
			})
		case item.SpecialToken != nil:
			special, ok := specials[item.SpecialToken.ID]
			if !ok || len(special.IDs) == 0 {
				return nil, fmt.Errorf("special token %q not defined", item.SpecialToken.ID)
			}
			template.Pieces = append(template.Pieces, TemplatePiece{
				SpecialIDs: special.IDs,
				TypeID:     item.SpecialToken.TypeID,
			})
		default:
			return nil, fmt.Errorf("empty item in pair template")
		}
	}

	return template, nil
}
