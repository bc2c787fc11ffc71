// Copyright 2025 The DAGForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package embedding defines the external embedding-model contract
// (spec.md §1: "the embedding model (we require encode(text) -> vector)").
// The concrete model is explicitly out of scope; this package only pins
// the interface and a deterministic test double.
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// Vector is an opaque fixed-length embedding. Dimension D is fixed at
// startup for a given store; a dimension mismatch on load is a fatal
// error for that single record, not for the whole store (spec.md §9).
type Vector []float32

// Dim returns the vector's dimensionality.
func (v Vector) Dim() int { return len(v) }

// Encoder turns text into a Vector. Implementations may call out to a
// remote embedding service; this package never assumes one.
type Encoder interface {
	// Encode produces the embedding for text. Errors are the caller's to
	// handle; Suggester.Suggest treats an Encode failure as confidence 0
	// (spec.md §7: ScorerError / PathfinderError propagation policy
	// applies analogously upstream of scoring).
	Encode(ctx context.Context, text string) (Vector, error)

	// Dim returns the fixed embedding dimension this encoder produces.
	Dim() int
}

// CosineSimilarity returns cosine(a, b), or 0 if either vector is empty
// or has zero magnitude.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// HashEncoder is a deterministic, dependency-free Encoder used by tests
// and as a degraded-mode fallback: it hashes n-grams of the input text
// into a fixed-size bag-of-features vector. It is NOT semantically
// meaningful beyond exact/near-duplicate text matching, but it satisfies
// the Encoder contract so the rest of the system (Scorer, Suggester,
// Pathfinder) can be exercised without a real embedding backend wired in.
type HashEncoder struct {
	dim int
}

// NewHashEncoder creates a HashEncoder producing vectors of dimension dim.
func NewHashEncoder(dim int) *HashEncoder {
	if dim <= 0 {
		dim = 64
	}
	return &HashEncoder{dim: dim}
}

func (h *HashEncoder) Dim() int { return h.dim }

func (h *HashEncoder) Encode(_ context.Context, text string) (Vector, error) {
	if text == "" {
		return nil, fmt.Errorf("embedding: empty text")
	}
	vec := make(Vector, h.dim)
	words := splitWords(text)
	for _, w := range words {
		hsh := fnv.New32a()
		_, _ = hsh.Write([]byte(w))
		idx := int(hsh.Sum32()) % h.dim
		if idx < 0 {
			idx += h.dim
		}
		vec[idx] += 1
	}
	normalize(vec)
	return vec, nil
}

func splitWords(text string) []string {
	var words []string
	start := -1
	for i, r := range text {
		isWord := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if isWord {
			if start == -1 {
				start = i
			}
		} else if start != -1 {
			words = append(words, text[start:i])
			start = -1
		}
	}
	if start != -1 {
		words = append(words, text[start:])
	}
	return words
}

func normalize(v Vector) {
	var mag float64
	for _, f := range v {
		mag += float64(f) * float64(f)
	}
	if mag == 0 {
		return
	}
	mag = math.Sqrt(mag)
	for i := range v {
		v[i] = float32(float64(v[i]) / mag)
	}
}
