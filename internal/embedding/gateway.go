package embedding

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/koopa0/ragpipe/internal/log"
)

// Config configures a Gateway.
type Config struct {
	// Backend performs the actual provider calls. Required.
	Backend Backend

	// Logger receives debug output. Defaults to a nop logger.
	Logger log.Logger

	// BatchSize bounds texts per provider call. Default: DefaultBatchSize.
	BatchSize int

	// MaxInputRunes truncates longer texts at a rune boundary.
	// Default: DefaultMaxInputRunes.
	MaxInputRunes int

	// Retry controls backoff on transient provider errors.
	// Zero value uses DefaultRetryConfig().
	Retry RetryConfig

	// Limiter, when set, gates every provider attempt (including retries).
	Limiter *rate.Limiter
}

// Gateway batches, truncates, retries, and rate limits embedding calls
// while preserving input order. Safe for concurrent use.
type Gateway struct {
	backend       Backend
	logger        log.Logger
	batchSize     int
	maxInputRunes int
	retry         RetryConfig
	limiter       *rate.Limiter
}

// NewGateway creates a Gateway, filling unset config fields with
// defaults. Backend is required.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxInputRunes <= 0 {
		cfg.MaxInputRunes = DefaultMaxInputRunes
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Gateway{
		backend:       cfg.Backend,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		maxInputRunes: cfg.MaxInputRunes,
		retry:         cfg.Retry,
		limiter:       cfg.Limiter,
	}, nil
}

// Embed converts texts into vectors, one per input, in input order.
//
// Texts longer than MaxInputRunes are truncated before embedding. Batches
// run sequentially; a batch that still fails after retries fails the whole
// call, so callers never see partial results.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	prepared := g.truncate(texts)

	allVectors := make([][]float32, 0, len(prepared))
	for i := 0; i < len(prepared); i += g.batchSize {
		end := min(i+g.batchSize, len(prepared))
		batch := prepared[i:end]

		vectors, err := g.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		allVectors = append(allVectors, vectors...)
	}

	g.logger.Debug("embedded texts",
		"count", len(texts),
		"batch_size", g.batchSize,
		"elapsed", time.Since(start),
	)

	return allVectors, nil
}

// EmbedOne embeds a single text. Convenience wrapper over Embed for
// query-time callers.
func (g *Gateway) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// truncate caps each text at maxInputRunes without splitting characters.
func (g *Gateway) truncate(texts []string) []string {
	prepared := make([]string, len(texts))
	truncated := 0
	for i, text := range texts {
		if utf8.RuneCountInString(text) <= g.maxInputRunes {
			prepared[i] = text
			continue
		}
		runes := []rune(text)
		prepared[i] = string(runes[:g.maxInputRunes])
		truncated++
	}

	if truncated > 0 {
		g.logger.Debug("truncated oversized inputs",
			"count", truncated,
			"max_runes", g.maxInputRunes,
		)
	}

	return prepared
}

// embedBatchWithRetry embeds a single batch with exponential backoff.
// Transient provider errors (rate limits, 5xx, network resets) are retried;
// everything else fails immediately via backoff.Permanent.
func (g *Gateway) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		// Rate limit EACH attempt, not just the first
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limit wait: %w", err))
			}
		}

		result, err := g.backend.Embed(ctx, texts)
		if err != nil {
			if retryableError(err) {
				return err // retried with backoff
			}
			return backoff.Permanent(err)
		}

		if len(result) != len(texts) {
			return backoff.Permanent(fmt.Errorf("%w: got %d vectors for %d texts",
				ErrBackendUnavailable, len(result), len(texts)))
		}

		vectors = result
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.retry.InitialInterval
	b.MaxInterval = g.retry.MaxInterval
	b.MaxElapsedTime = 0 // bounded by retry count, not wall clock

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.retry.MaxRetries)), ctx))
	if err != nil {
		if retryableError(err) {
			// Still transient after every retry: the provider is down or
			// throttling hard. Map to the sentinel so callers can degrade.
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		return nil, err
	}

	return vectors, nil
}
