package embedding

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// fakeBackend records every batch it receives and delegates the response
// to a per-call function so tests can script failures.
type fakeBackend struct {
	mu      sync.Mutex
	batches [][]string
	respond func(call int, texts []string) ([][]float32, error)
}

func (f *fakeBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	call := len(f.batches)
	f.batches = append(f.batches, slices.Clone(texts))
	f.mu.Unlock()

	return f.respond(call, texts)
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// vectorFor derives a vector from the text so tests can verify which
// input produced which output slot.
func vectorFor(text string) []float32 {
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{sum, float32(utf8.RuneCountInString(text))}
}

func echoVectors(texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = vectorFor(text)
	}
	return vectors
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func mustGateway(t *testing.T, cfg Config) *Gateway {
	t.Helper()
	g, err := NewGateway(cfg)
	if err != nil {
		t.Fatalf("NewGateway() error = %v", err)
	}
	return g
}

func TestNewGatewayDefaults(t *testing.T) {
	t.Parallel()

	g := mustGateway(t, Config{Backend: &fakeBackend{}})

	if g.batchSize != DefaultBatchSize {
		t.Errorf("batchSize = %d, want %d", g.batchSize, DefaultBatchSize)
	}
	if g.maxInputRunes != DefaultMaxInputRunes {
		t.Errorf("maxInputRunes = %d, want %d", g.maxInputRunes, DefaultMaxInputRunes)
	}
	if g.retry != DefaultRetryConfig() {
		t.Errorf("retry = %+v, want %+v", g.retry, DefaultRetryConfig())
	}
	if g.logger == nil {
		t.Error("logger should default to a nop logger")
	}
}

func TestEmbedOrderAcrossBatches(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		respond: func(_ int, texts []string) ([][]float32, error) {
			return echoVectors(texts), nil
		},
	}
	g := mustGateway(t, Config{Backend: backend, BatchSize: 2, Retry: fastRetry()})

	texts := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	vectors, err := g.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(vectors) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vectors), len(texts))
	}
	for i, text := range texts {
		if !slices.Equal(vectors[i], vectorFor(text)) {
			t.Errorf("vectors[%d] = %v, want %v (for %q)", i, vectors[i], vectorFor(text), text)
		}
	}

	wantBatches := [][]string{
		{"alpha", "bravo"},
		{"charlie", "delta"},
		{"echo"},
	}
	if len(backend.batches) != len(wantBatches) {
		t.Fatalf("got %d batches, want %d", len(backend.batches), len(wantBatches))
	}
	for i, want := range wantBatches {
		if !slices.Equal(backend.batches[i], want) {
			t.Errorf("batch %d = %v, want %v", i, backend.batches[i], want)
		}
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		respond: func(_ int, texts []string) ([][]float32, error) {
			return echoVectors(texts), nil
		},
	}
	g := mustGateway(t, Config{Backend: backend})

	vectors, err := g.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed(nil) error = %v", err)
	}
	if vectors != nil {
		t.Errorf("Embed(nil) = %v, want nil", vectors)
	}
	if backend.calls() != 0 {
		t.Errorf("backend called %d times for empty input, want 0", backend.calls())
	}
}

func TestNewGatewayNilBackend(t *testing.T) {
	t.Parallel()

	if _, err := NewGateway(Config{}); err == nil {
		t.Error("NewGateway() without a backend should fail")
	}
}

func TestEmbedTruncatesAtRuneBoundary(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		respond: func(_ int, texts []string) ([][]float32, error) {
			return echoVectors(texts), nil
		},
	}
	g := mustGateway(t, Config{Backend: backend, MaxInputRunes: 4, Retry: fastRetry()})

	vectors, err := g.Embed(context.Background(), []string{"你好世界，朋友", "ok"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	sent := backend.batches[0]
	if sent[0] != "你好世界" {
		t.Errorf("backend received %q, want %q", sent[0], "你好世界")
	}
	if !utf8.ValidString(sent[0]) {
		t.Errorf("truncated text %q is not valid UTF-8", sent[0])
	}
	if sent[1] != "ok" {
		t.Errorf("short text was modified: got %q", sent[1])
	}

	// Vectors reflect the truncated inputs, still in input order.
	if !slices.Equal(vectors[0], vectorFor("你好世界")) {
		t.Errorf("vectors[0] = %v, want %v", vectors[0], vectorFor("你好世界"))
	}
	if !slices.Equal(vectors[1], vectorFor("ok")) {
		t.Errorf("vectors[1] = %v, want %v", vectors[1], vectorFor("ok"))
	}
}

func TestEmbedRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		respond: func(call int, texts []string) ([][]float32, error) {
			if call < 2 {
				return nil, errors.New("HTTP 429: Too Many Requests")
			}
			return echoVectors(texts), nil
		},
	}
	g := mustGateway(t, Config{Backend: backend, Retry: fastRetry()})

	vectors, err := g.Embed(context.Background(), []string{"persist"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 1 {
		t.Fatalf("got %d vectors, want 1", len(vectors))
	}
	if backend.calls() != 3 {
		t.Errorf("backend called %d times, want 3 (two failures then success)", backend.calls())
	}
}

func TestEmbedDoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	authErr := errors.New("invalid API key")
	backend := &fakeBackend{
		respond: func(int, []string) ([][]float32, error) {
			return nil, authErr
		},
	}
	g := mustGateway(t, Config{Backend: backend, Retry: fastRetry()})

	_, err := g.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, authErr) {
		t.Errorf("Embed() error = %v, want wrapped %v", err, authErr)
	}
	if errors.Is(err, ErrBackendUnavailable) {
		t.Error("permanent provider errors should not map to ErrBackendUnavailable")
	}
	if backend.calls() != 1 {
		t.Errorf("backend called %d times for a permanent error, want 1", backend.calls())
	}
}

func TestEmbedExhaustedRetriesMapToUnavailable(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		respond: func(int, []string) ([][]float32, error) {
			return nil, errors.New("503 Service Unavailable")
		},
	}
	retry := RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	g := mustGateway(t, Config{Backend: backend, Retry: retry})

	_, err := g.Embed(context.Background(), []string{"text"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Embed() error = %v, want ErrBackendUnavailable", err)
	}
	if backend.calls() != 3 {
		t.Errorf("backend called %d times, want 3 (initial + 2 retries)", backend.calls())
	}
}

func TestEmbedNoPartialResults(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		respond: func(call int, texts []string) ([][]float32, error) {
			if call == 1 {
				return nil, errors.New("invalid request payload")
			}
			return echoVectors(texts), nil
		},
	}
	g := mustGateway(t, Config{Backend: backend, BatchSize: 2, Retry: fastRetry()})

	vectors, err := g.Embed(context.Background(), []string{"a", "b", "c", "d"})
	if err == nil {
		t.Fatal("Embed() succeeded despite a failing batch")
	}
	if vectors != nil {
		t.Errorf("got partial vectors %v, want nil", vectors)
	}
	if !strings.Contains(err.Error(), "batch 2-4") {
		t.Errorf("error %q should name the failing batch range", err)
	}
	if backend.calls() != 2 {
		t.Errorf("backend called %d times, want 2 (first batch ok, second fails)", backend.calls())
	}
}

func TestEmbedLengthMismatch(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		respond: func(_ int, texts []string) ([][]float32, error) {
			return echoVectors(texts[:len(texts)-1]), nil
		},
	}
	g := mustGateway(t, Config{Backend: backend, Retry: fastRetry()})

	_, err := g.Embed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Embed() error = %v, want ErrBackendUnavailable", err)
	}
	if backend.calls() != 1 {
		t.Errorf("backend called %d times after a length mismatch, want 1", backend.calls())
	}
}

func TestEmbedOne(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		respond: func(_ int, texts []string) ([][]float32, error) {
			return echoVectors(texts), nil
		},
	}
	g := mustGateway(t, Config{Backend: backend, Retry: fastRetry()})

	vector, err := g.EmbedOne(context.Background(), "just one")
	if err != nil {
		t.Fatalf("EmbedOne() error = %v", err)
	}
	if !slices.Equal(vector, vectorFor("just one")) {
		t.Errorf("EmbedOne() = %v, want %v", vector, vectorFor("just one"))
	}
	if backend.calls() != 1 {
		t.Errorf("backend called %d times, want 1", backend.calls())
	}
}

func TestEmbedWithLimiter(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		respond: func(_ int, texts []string) ([][]float32, error) {
			return echoVectors(texts), nil
		},
	}
	g := mustGateway(t, Config{
		Backend: backend,
		Limiter: rate.NewLimiter(rate.Inf, 0),
		Retry:   fastRetry(),
	})

	vectors, err := g.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 {
		t.Errorf("got %d vectors, want 2", len(vectors))
	}
}

func TestEmbedLimiterHonorsCancellation(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{
		respond: func(_ int, texts []string) ([][]float32, error) {
			return echoVectors(texts), nil
		},
	}
	g := mustGateway(t, Config{
		Backend: backend,
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
		Retry:   fastRetry(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Embed(ctx, []string{"text"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Embed() error = %v, want context.Canceled", err)
	}
	if backend.calls() != 0 {
		t.Errorf("backend called %d times after cancellation, want 0", backend.calls())
	}
}

func TestEmbedCancellationDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	backend := &fakeBackend{
		respond: func(int, []string) ([][]float32, error) {
			cancel()
			return nil, errors.New("HTTP 429: Too Many Requests")
		},
	}
	retry := RetryConfig{MaxRetries: 10, InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second}
	g := mustGateway(t, Config{Backend: backend, Retry: retry})

	_, err := g.Embed(ctx, []string{"text"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Embed() error = %v, want context.Canceled", err)
	}
	if backend.calls() != 1 {
		t.Errorf("backend called %d times after cancellation, want 1", backend.calls())
	}
}
