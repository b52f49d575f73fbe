package testutil

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/koopa0/ragpipe/internal/generate"
	"github.com/koopa0/ragpipe/internal/prompt"
)

// MockGenerator is a deterministic generate.Backend for tests. It
// matches the final user message against registered patterns and
// streams the matching response word by word.
//
// Thread-safe for concurrent use.
type MockGenerator struct {
	mu       sync.Mutex
	rules    []generatorRule
	fallback string
	calls    []GeneratorCall
	err      error
}

type generatorRule struct {
	pattern  string // lowercase substring match against the user message
	response string
}

// GeneratorCall records a single generation request.
type GeneratorCall struct {
	Query    string // final user message text
	System   string // system section the request carried
	Response string // response text streamed back
}

// NewMockGenerator creates a mock generator with the given fallback
// response, returned when no pattern matches.
func NewMockGenerator(fallback string) *MockGenerator {
	return &MockGenerator{fallback: fallback}
}

// AddResponse registers a pattern-response pair. When the final user
// message contains the pattern (case-insensitive), the response is
// streamed. Patterns are checked in registration order; first match
// wins.
func (m *MockGenerator) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, generatorRule{
		pattern:  strings.ToLower(pattern),
		response: response,
	})
}

// FailWith makes every following Generate call yield err. Pass nil to
// recover.
func (m *MockGenerator) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of all recorded calls.
func (m *MockGenerator) Calls() []GeneratorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]GeneratorCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Generate streams the matched response split after each space, so a
// multi-word response exercises multi-delta consumers.
func (m *MockGenerator) Generate(ctx context.Context, req generate.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		query := finalUserMessage(req.Prompt)

		m.mu.Lock()
		if m.err != nil {
			err := m.err
			m.mu.Unlock()
			yield("", err)
			return
		}

		response := m.fallback
		lower := strings.ToLower(query)
		for _, rule := range m.rules {
			if strings.Contains(lower, rule.pattern) {
				response = rule.response
				break
			}
		}
		m.calls = append(m.calls, GeneratorCall{
			Query:    query,
			System:   req.Prompt.System,
			Response: response,
		})
		m.mu.Unlock()

		for _, delta := range strings.SplitAfter(response, " ") {
			if ctx.Err() != nil {
				yield("", ctx.Err())
				return
			}
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

// finalUserMessage returns the text of the last user turn, which is
// where the composer places the query.
func finalUserMessage(p prompt.Prompt) string {
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if p.Messages[i].Role == prompt.RoleUser {
			return p.Messages[i].Content
		}
	}
	return ""
}
