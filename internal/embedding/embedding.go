// Package embedding turns text into vectors through a provider-agnostic gateway.
//
// The Gateway owns the operational concerns every provider shares: batching,
// input truncation, retry with exponential backoff, rate limiting, and
// order preservation. Providers implement the minimal Backend interface and
// stay free of that machinery.
//
// Call flow:
//
//	gateway, err := embedding.NewGateway(embedding.Config{Backend: backend, Logger: logger})
//	vectors, err := gateway.Embed(ctx, texts)
//
// vectors[i] always corresponds to texts[i]. A batch that keeps failing after
// retries fails the whole call; partial results are never returned.
package embedding

import (
	"context"
	"errors"
)

// Backend converts one batch of texts into vectors.
//
// Implementations must return exactly one vector per input text, in input
// order. They should surface provider errors unwrapped enough that status
// text (429, 503, ...) stays visible for retry classification.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	// ErrBackendUnavailable indicates the provider kept failing after
	// retries were exhausted, or returned an unusable response.
	ErrBackendUnavailable = errors.New("embedding backend unavailable")
)

const (
	// DefaultBatchSize bounds the number of texts sent per provider call.
	// Providers accept far larger batches, but smaller ones keep token-per
	// -minute pressure down and make retries cheaper.
	DefaultBatchSize = 32

	// DefaultMaxInputRunes caps a single text before embedding. Longer
	// inputs are truncated at a rune boundary, never split mid-character.
	DefaultMaxInputRunes = 8000
)
