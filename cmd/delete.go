package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
)

// runDelete removes all indexed chunks for one source.
func runDelete() error {
	args := argsAfterCommand()
	if len(args) != 1 {
		return fmt.Errorf("usage: ragpipe delete <source-id>")
	}
	sourceID := args[0]

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	deleted, err := a.Pipeline.DeleteSource(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}

	fmt.Printf("Deleted %d chunks from %s.\n", deleted, sourceID)
	return nil
}
