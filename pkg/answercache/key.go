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

package answercache

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
)

// Key identifies a cached answer.
type Key struct {
	ModelID string
	Digest  uint64
	// Sum is the SHA-256 of the encoded pair. Digest addresses the entry,
	// Sum confirms it belongs to this pair.
	Sum [sha256.Size]byte
}

// String returns a string representation of the Key.
func (k Key) String() string {
	return k.ModelID + "@" + strconv.FormatUint(k.Digest, 16)
}

var encMode, encModeErr = cbor.CanonicalEncOptions().EncMode() // deterministic

// NewKey derives the cache key of a (question, context) pair for modelID.
// Both strings are length-delimited by the CBOR encoding, so distinct pairs
// never share a preimage.
func NewKey(modelID, question, passage string) (Key, error) {
	if encModeErr != nil {
		return Key{}, fmt.Errorf("failed to create CBOR encoder: %w", encModeErr)
	}

	b, err := encMode.Marshal([]string{question, passage})
	if err != nil {
		return Key{}, fmt.Errorf("failed to marshal cache key payload: %w", err)
	}

	return Key{ModelID: modelID, Digest: xxhash.Sum64(b), Sum: sha256.Sum256(b)}, nil
}

// Matches reports whether entry was stored for key.
func (e *Entry) Matches(key Key) bool {
	return bytes.Equal(e.Sum, key.Sum[:])
}
