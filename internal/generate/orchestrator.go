package generate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/koopa0/ragpipe/internal/log"
)

// Backend produces model output for a request as a sequence of text
// deltas. The sequence ends after yielding a non-nil error or when the
// model finishes. Implementations must honor ctx cancellation by
// ending the sequence, closing any underlying call.
type Backend interface {
	Generate(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Config configures an Orchestrator.
type Config struct {
	Backend Backend // Required
	Logger  log.Logger
}

// Orchestrator runs one generation and exposes its lifecycle state.
// Create one per request; Stream can only be called once.
type Orchestrator struct {
	backend Backend
	logger  log.Logger
	state   atomic.Int32
}

// New creates an Orchestrator in StateIdle.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Orchestrator{
		backend: cfg.Backend,
		logger:  cfg.Logger,
	}, nil
}

// State reports the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Stream starts the generation and returns its event channel.
//
// The channel is unbuffered and closes after the terminal event. The
// caller must receive until the channel closes; to abandon a stream,
// cancel ctx and keep draining. Cancellation ends the stream promptly
// with a single error event wrapping context.Canceled.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)

	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRequesting)) {
		go func() {
			defer close(out)
			o.deliverTerminal(ctx, out, EventError{Err: errors.New("orchestrator already streamed")})
		}()
		return out
	}

	go o.run(ctx, req, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, req Request, out chan<- Event) {
	defer close(out)

	start := time.Now()
	var usage Usage

	for delta, err := range o.backend.Generate(ctx, req) {
		if err != nil {
			o.fail(ctx, out, err)
			return
		}
		if delta == "" {
			continue
		}

		o.state.CompareAndSwap(int32(StateRequesting), int32(StateStreaming))
		usage.Deltas++
		usage.OutputRunes += utf8.RuneCountInString(delta)

		if !o.send(ctx, out, EventDelta{Text: delta}) {
			o.fail(ctx, out, ctx.Err())
			return
		}
	}

	// Backend finished without error but the context may have been
	// cancelled between its last delta and here.
	if ctx.Err() != nil {
		o.fail(ctx, out, ctx.Err())
		return
	}

	if citations := citationsFor(req.Passages); citations != nil {
		if !o.send(ctx, out, EventCitations{Citations: citations}) {
			o.fail(ctx, out, ctx.Err())
			return
		}
	}

	usage.Elapsed = time.Since(start)
	o.state.Store(int32(StateCompleted))
	o.deliverTerminal(ctx, out, EventDone{Usage: usage})

	o.logger.Debug("generation complete",
		"deltas", usage.Deltas,
		"output_runes", usage.OutputRunes,
		"elapsed", usage.Elapsed,
	)
}

// fail transitions to the terminal failure state for err and delivers
// the single error event.
func (o *Orchestrator) fail(ctx context.Context, out chan<- Event, err error) {
	if errors.Is(err, context.Canceled) {
		o.state.Store(int32(StateCancelled))
		err = fmt.Errorf("generation cancelled: %w", err)
	} else {
		o.state.Store(int32(StateFailed))
		if !errors.Is(err, ErrBackendUnavailable) {
			err = fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	o.logger.Debug("generation ended", "state", o.State(), "error", err)
	o.deliverTerminal(ctx, out, EventError{Err: err})
}

// send delivers a non-terminal event, reporting false when ctx ends
// first.
func (o *Orchestrator) send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// deliverTerminal hands the terminal event to a draining receiver.
// When ctx is already dead the receiver may be gone, so delivery
// degrades to best effort rather than blocking the goroutine forever.
func (o *Orchestrator) deliverTerminal(ctx context.Context, out chan<- Event, ev Event) {
	if ctx.Err() == nil {
		out <- ev
		return
	}
	select {
	case out <- ev:
	case <-time.After(100 * time.Millisecond):
	}
}
