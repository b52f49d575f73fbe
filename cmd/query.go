package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

// runQuery retrieves matching passages and prints them without
// invoking the generator.
func runQuery() error {
	queryFlags := flag.NewFlagSet("query", flag.ContinueOnError)
	queryFlags.SetOutput(os.Stderr)
	rf := bindRetrievalFlags(queryFlags)

	if err := queryFlags.Parse(argsAfterCommand()); err != nil {
		return fmt.Errorf("parsing query flags: %w", err)
	}

	query := strings.TrimSpace(strings.Join(queryFlags.Args(), " "))
	if query == "" {
		return fmt.Errorf("usage: ragpipe query [flags] <text>")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	result, err := a.Pipeline.Query(ctx, query, rf.options()...)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if len(result.Passages) == 0 {
		fmt.Println("No passages matched the query.")
		return nil
	}

	for _, p := range result.Passages {
		fmt.Printf("[%d] %s (score %.3f)\n%s\n\n", p.Index, p.SourceID, p.Score, p.Text)
	}
	if result.Truncated {
		fmt.Println("Note: further passages were dropped to fit the token budget.")
	}
	return nil
}
