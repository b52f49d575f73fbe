package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
)

// MockEmbedder is a deterministic embedding backend for tests. It
// satisfies embedding.Backend and, through an embedding.Gateway, the
// ingestion and retrieval embedder interfaces.
//
// By default every text maps to a unit vector derived from its SHA-256
// hash, so equal texts always embed identically. Explicit vectors can
// be registered for precise similarity control.
//
// Thread-safe for concurrent use.
type MockEmbedder struct {
	mu      sync.Mutex
	dim     int
	vectors map[string][]float32
	calls   int
	err     error
}

// NewMockEmbedder creates a mock embedder producing dim-sized vectors.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{
		dim:     dim,
		vectors: make(map[string][]float32),
	}
}

// SetVector registers an explicit vector for a text. Use this to
// control exact cosine similarity between test inputs.
func (e *MockEmbedder) SetVector(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
}

// FailWith makes every following Embed call return err. Pass nil to
// recover.
func (e *MockEmbedder) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls reports how many Embed calls were made.
func (e *MockEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Embed returns one vector per input text, in order.
func (e *MockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls++
	if e.err != nil {
		return nil, e.err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = deterministicVector(text, e.dim)
	}
	return out, nil
}

// deterministicVector derives a unit vector from the text's SHA-256
// hash. The same text always produces the same vector.
func deterministicVector(text string, dim int) []float32 {
	hash := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)

	for i := range vec {
		idx := (i * 4) % len(hash)
		bits := binary.LittleEndian.Uint32([]byte{
			hash[idx], hash[(idx+1)%len(hash)], hash[(idx+2)%len(hash)], hash[(idx+3)%len(hash)],
		})
		vec[i] = (float32(bits)/float32(math.MaxUint32))*2 - 1
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	norm = float32(math.Sqrt(float64(norm)))
	if norm > 0 {
		for i := range vec {
			vec[i] /= norm
		}
	}

	return vec
}
