// Package generate streams model output as an ordered event sequence.
//
// A generation is a finite stream: zero or more delta events, an
// optional citations event, then exactly one terminal event (done or
// error). Nothing follows the terminal event. The stream cannot be
// replayed; callers wanting the full transcript buffer events
// themselves.
//
// Failures are never retried here. A generation that already streamed
// content cannot be retried without risking duplicate user-visible
// output; users resubmit instead.
package generate

import (
	"errors"
	"time"

	"github.com/koopa0/ragpipe/internal/prompt"
	"github.com/koopa0/ragpipe/internal/retrieve"
)

// ErrBackendUnavailable reports that the model backend failed to serve
// the generation.
var ErrBackendUnavailable = errors.New("generation backend unavailable")

// Request carries everything one generation needs.
type Request struct {
	Prompt prompt.Prompt

	// Passages are the context passages the prompt was composed from.
	// They determine the citations event.
	Passages []retrieve.Passage

	// Temperature and MaxOutputTokens pass through to the backend.
	// Zero values use the backend's defaults.
	Temperature     float32
	MaxOutputTokens int32
}

// Citation maps a context-block number in the answer back to its
// source. Citations derive from the request's passages, not from
// parsing model output.
type Citation struct {
	Index    int     `json:"index"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// Usage summarizes what a completed generation produced.
type Usage struct {
	Deltas      int           `json:"deltas"`
	OutputRunes int           `json:"output_runes"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Event is one element of a generation stream.
type Event interface {
	isEvent()
}

// EventDelta carries one chunk of model output, forwarded as it
// arrives.
type EventDelta struct {
	Text string
}

// EventCitations carries the citation set for the stream. Emitted at
// most once, after the final delta, and only when the request had
// context passages.
type EventCitations struct {
	Citations []Citation
}

// EventDone terminates a successful stream.
type EventDone struct {
	Usage Usage
}

// EventError terminates a failed or cancelled stream. A cancelled
// stream's Err wraps context.Canceled; anything else wraps
// ErrBackendUnavailable.
type EventError struct {
	Err error
}

func (EventDelta) isEvent()     {}
func (EventCitations) isEvent() {}
func (EventDone) isEvent()      {}
func (EventError) isEvent()     {}

// State is the orchestrator's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// citationsFor numbers the request's passages into citations, in
// passage order.
func citationsFor(passages []retrieve.Passage) []Citation {
	if len(passages) == 0 {
		return nil
	}
	citations := make([]Citation, len(passages))
	for i, p := range passages {
		citations[i] = Citation{
			Index:    p.Index,
			SourceID: p.SourceID,
			Score:    p.Score,
		}
	}
	return citations
}
