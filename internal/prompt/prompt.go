// Package prompt composes the generation payload from retrieved
// context, conversation history, and the user query.
//
// The composed prompt has a fixed shape: system instructions with
// numbered context blocks, history oldest to newest, and the query as
// the final user message. Context numbering matches the passage Index
// assigned at retrieval, so citations in the answer always resolve to
// a real passage.
package prompt

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/koopa0/ragpipe/internal/retrieve"
	"github.com/koopa0/ragpipe/internal/token"
)

// ErrBudgetExceeded reports that the system section and the query alone
// do not fit MaxPromptTokens. The query and context numbering are never
// silently truncated to force a fit.
var ErrBudgetExceeded = errors.New("prompt budget exceeded")

// Message roles. History carries user and assistant turns; the system
// role is reserved for the composed system section.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxPromptTokens bounds the whole composed prompt.
const DefaultMaxPromptTokens = 8192

// DefaultMaxHistoryMessages bounds how many history turns are even
// considered before the token budget applies.
const DefaultMaxHistoryMessages = 20

// DefaultSystemPrompt is the base instruction block. Context passages,
// when present, are appended after it.
const DefaultSystemPrompt = "You are a helpful assistant that answers questions using the provided context passages. " +
	"Cite a passage by its bracketed number, like [1] or [2], whenever it supports part of your answer. " +
	"If the provided context does not contain the answer, say so instead of guessing."

// noContextInstruction replaces the context section when retrieval
// produced nothing usable.
const noContextInstruction = "No context passages are available for this query. " +
	"Answer from general knowledge, and state clearly that the answer is not grounded in provided context."

// Message is one turn of the composed conversation.
type Message struct {
	Role    string
	Content string
}

// Prompt is the composed generation payload.
type Prompt struct {
	System   string
	Messages []Message
}

// Config configures a Composer.
type Config struct {
	// SystemPrompt is the base instruction block. Defaults to
	// DefaultSystemPrompt.
	SystemPrompt string

	// MaxPromptTokens bounds the estimated size of the whole prompt.
	// Defaults to DefaultMaxPromptTokens.
	MaxPromptTokens int

	// MaxHistoryMessages caps how many of the newest history turns are
	// considered at all. Defaults to DefaultMaxHistoryMessages.
	MaxHistoryMessages int

	// Estimator prices prompt parts against the budget. Defaults to
	// the heuristic estimator.
	Estimator token.Estimator
}

// Composer builds prompts. Safe for concurrent use.
type Composer struct {
	systemPrompt       string
	maxPromptTokens    int
	maxHistoryMessages int
	estimator          token.Estimator
}

// New creates a Composer, filling unset config fields with defaults.
func New(cfg Config) *Composer {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxPromptTokens <= 0 {
		cfg.MaxPromptTokens = DefaultMaxPromptTokens
	}
	if cfg.MaxHistoryMessages <= 0 {
		cfg.MaxHistoryMessages = DefaultMaxHistoryMessages
	}
	if cfg.Estimator == nil {
		cfg.Estimator = token.Heuristic{}
	}
	return &Composer{
		systemPrompt:       cfg.SystemPrompt,
		maxPromptTokens:    cfg.MaxPromptTokens,
		maxHistoryMessages: cfg.MaxHistoryMessages,
		estimator:          cfg.Estimator,
	}
}

// Compose assembles the prompt for one generation call.
//
// The system section and the query are mandatory and must fit the
// budget together, otherwise ErrBudgetExceeded. History fills whatever
// budget remains, dropping oldest turns first, with at most
// MaxHistoryMessages turns considered.
func (c *Composer) Compose(query string, passages []retrieve.Passage, history []Message) (Prompt, error) {
	system := c.buildSystem(passages)

	budget := c.maxPromptTokens
	spent := c.estimator.Estimate(system) + c.estimator.Estimate(query)
	if spent > budget {
		return Prompt{}, fmt.Errorf("%w: system and query need %d tokens, budget is %d",
			ErrBudgetExceeded, spent, budget)
	}

	kept := c.truncateHistory(history, budget-spent)

	messages := make([]Message, 0, len(kept)+1)
	messages = append(messages, kept...)
	messages = append(messages, Message{Role: RoleUser, Content: query})

	return Prompt{System: system, Messages: messages}, nil
}

// buildSystem renders the instruction block plus numbered context
// passages, or the no-context instruction when there are none.
func (c *Composer) buildSystem(passages []retrieve.Passage) string {
	var b strings.Builder
	b.WriteString(c.systemPrompt)

	if len(passages) == 0 {
		b.WriteString("\n\n")
		b.WriteString(noContextInstruction)
		return b.String()
	}

	b.WriteString("\n\nContext passages:\n")
	for _, p := range passages {
		fmt.Fprintf(&b, "\n[%d] (source: %s)\n%s\n", p.Index, p.SourceID, p.Text)
	}
	return b.String()
}

// truncateHistory keeps the most recent turns that fit the budget,
// never more than maxHistoryMessages of them. Walks newest to oldest,
// then reverses to restore chronological order.
func (c *Composer) truncateHistory(history []Message, budget int) []Message {
	if len(history) == 0 {
		return nil
	}
	if len(history) > c.maxHistoryMessages {
		history = history[len(history)-c.maxHistoryMessages:]
	}

	kept := make([]Message, 0, len(history))
	remaining := budget
	for i := len(history) - 1; i >= 0; i-- {
		cost := c.estimator.Estimate(history[i].Content)
		if cost > remaining {
			break
		}
		kept = append(kept, history[i])
		remaining -= cost
	}
	slices.Reverse(kept)
	return kept
}
