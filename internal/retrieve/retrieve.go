// Package retrieve produces the ranked, deduplicated, budget-bounded
// context passages a query is answered from.
//
// The flow per query: embed the query, search the vector store, drop
// hits below the score threshold, keep the best chunk per source, then
// admit passages in rank order until the token budget would overflow.
// An empty result is not an error; the caller falls back to answering
// without retrieved context.
package retrieve

import (
	"context"
	"fmt"
	"time"

	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/token"
	"github.com/koopa0/ragpipe/internal/vectorstore"
)

// Defaults applied when an option or config field is unset.
const (
	DefaultTopK           = 5
	DefaultScoreThreshold = 0.0
	DefaultMaxSources     = 3
	DefaultTokenBudget    = 2048
)

// searchTimeout bounds one store round trip.
const searchTimeout = 10 * time.Second

// Embedder turns the query into a vector. *embedding.Gateway satisfies
// this.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Passage is one admitted piece of context, in final rank order.
// Index is 1-based and matches the citation numbering the prompt
// composer and generation layer use.
type Passage struct {
	ChunkID  string
	SourceID string
	Text     string
	Score    float64
	Index    int
}

// Result is the outcome of one retrieval.
type Result struct {
	Passages []Passage

	// Truncated reports that at least one passage cleared ranking but
	// was dropped by the token budget.
	Truncated bool
}

// Config configures a Retriever.
type Config struct {
	Embedder Embedder          // Required
	Store    vectorstore.Store // Required

	// Estimator prices passage texts against the token budget.
	// Defaults to the heuristic estimator.
	Estimator token.Estimator

	// Logger receives debug output. Defaults to a nop logger.
	Logger log.Logger

	// Per-query defaults, overridable per call via options.
	TopK           int
	ScoreThreshold float64
	MaxSources     int
	TokenBudget    int
}

// Option overrides one retrieval parameter for a single call.
type Option func(*params)

type params struct {
	topK           int
	scoreThreshold float64
	maxSources     int
	tokenBudget    int
}

// WithTopK sets how many chunks the store search returns.
func WithTopK(k int) Option {
	return func(p *params) {
		if k > 0 {
			p.topK = k
		}
	}
}

// WithScoreThreshold drops chunks scoring below the threshold.
func WithScoreThreshold(threshold float64) Option {
	return func(p *params) {
		p.scoreThreshold = threshold
	}
}

// WithMaxSources caps how many distinct sources contribute context.
func WithMaxSources(n int) Option {
	return func(p *params) {
		if n > 0 {
			p.maxSources = n
		}
	}
}

// WithTokenBudget caps the estimated tokens across admitted passages.
func WithTokenBudget(budget int) Option {
	return func(p *params) {
		if budget > 0 {
			p.tokenBudget = budget
		}
	}
}

// Retriever answers "what context does this query get".
//
// Retriever is safe for concurrent use.
type Retriever struct {
	embedder  Embedder
	store     vectorstore.Store
	estimator token.Estimator
	logger    log.Logger
	defaults  params
}

// New creates a Retriever, filling unset config fields with defaults.
func New(cfg Config) (*Retriever, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Estimator == nil {
		cfg.Estimator = token.Heuristic{}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = DefaultMaxSources
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}

	return &Retriever{
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		estimator: cfg.Estimator,
		logger:    cfg.Logger,
		defaults: params{
			topK:           cfg.TopK,
			scoreThreshold: cfg.ScoreThreshold,
			maxSources:     cfg.MaxSources,
			tokenBudget:    cfg.TokenBudget,
		},
	}, nil
}

// Retrieve embeds the query and assembles its context passages.
//
// Store and embedding failures propagate with their sentinel errors
// intact, so callers can tell an unavailable backend from a query that
// legitimately matched nothing.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...Option) (*Result, error) {
	p := r.defaults
	for _, opt := range opts {
		opt(&p)
	}

	vector, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	hits, err := r.store.Search(searchCtx, vector, p.topK)
	if err != nil {
		return nil, fmt.Errorf("searching store: %w", err)
	}

	ranked := dedupeBySource(filterByScore(hits, p.scoreThreshold), p.maxSources)
	result := r.admitWithinBudget(ranked, p.tokenBudget)

	r.logger.Debug("search complete",
		"hits", len(hits),
		"passages", len(result.Passages),
		"truncated", result.Truncated,
	)

	return result, nil
}

// filterByScore drops hits scoring below the threshold. Hits arrive
// ordered score descending with ties by chunk ID, and the order is
// preserved throughout.
func filterByScore(hits []vectorstore.ScoredChunk, threshold float64) []vectorstore.ScoredChunk {
	kept := make([]vectorstore.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			kept = append(kept, h)
		}
	}
	return kept
}

// dedupeBySource keeps the first (highest-scored) chunk per source and
// caps the result at maxSources, so one document cannot soak up the
// whole context.
func dedupeBySource(hits []vectorstore.ScoredChunk, maxSources int) []vectorstore.ScoredChunk {
	seen := make(map[string]struct{}, maxSources)
	kept := make([]vectorstore.ScoredChunk, 0, maxSources)
	for _, h := range hits {
		if _, ok := seen[h.SourceID]; ok {
			continue
		}
		seen[h.SourceID] = struct{}{}
		kept = append(kept, h)
		if len(kept) == maxSources {
			break
		}
	}
	return kept
}

// admitWithinBudget takes passages in rank order while their estimated
// tokens fit the budget. The first passage that would overflow stops
// admission entirely, keeping the admitted set a prefix of the ranking,
// and marks the result truncated.
func (r *Retriever) admitWithinBudget(ranked []vectorstore.ScoredChunk, budget int) *Result {
	result := &Result{}
	spent := 0
	for _, h := range ranked {
		cost := r.estimator.Estimate(h.Content)
		if spent+cost > budget {
			result.Truncated = true
			break
		}
		spent += cost
		result.Passages = append(result.Passages, Passage{
			ChunkID:  h.ID,
			SourceID: h.SourceID,
			Text:     h.Content,
			Score:    h.Score,
			Index:    len(result.Passages) + 1,
		})
	}
	return result
}
