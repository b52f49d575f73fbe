package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/koopa0/ragpipe/internal/generate"
	"github.com/koopa0/ragpipe/internal/pipeline"
)

// runAsk retrieves context for a question and streams the grounded
// answer to stdout, deltas as they arrive.
func runAsk() error {
	askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
	askFlags.SetOutput(os.Stderr)
	rf := bindRetrievalFlags(askFlags)

	if err := askFlags.Parse(argsAfterCommand()); err != nil {
		return fmt.Errorf("parsing ask flags: %w", err)
	}

	question := strings.TrimSpace(strings.Join(askFlags.Args(), " "))
	if question == "" {
		return fmt.Errorf("usage: ragpipe ask [flags] <question>")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	events, err := a.Pipeline.Ask(ctx, pipeline.AskRequest{
		Query:   question,
		Options: rf.options(),
	})
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	var citations []generate.Citation
	for event := range events {
		switch ev := event.(type) {
		case generate.EventDelta:
			fmt.Print(ev.Text)
		case generate.EventCitations:
			citations = ev.Citations
		case generate.EventDone:
			fmt.Println()
		case generate.EventError:
			fmt.Println()
			return fmt.Errorf("ask failed: %w", ev.Err)
		}
	}

	if len(citations) > 0 {
		fmt.Println("Sources:")
		for _, c := range citations {
			fmt.Printf("  [%d] %s (score %.2f)\n", c.Index, c.SourceID, c.Score)
		}
	}
	return nil
}
