package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
)

// runStatus reports index size and vector store health. Exits zero
// even when the store is unreachable, the report is the answer.
func runStatus() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	status, err := a.Pipeline.Status(ctx)
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}

	fmt.Printf("Store backend: %s\n", a.Config.StoreBackend)
	if !status.StoreReachable {
		fmt.Println("Vector store: unreachable")
		return nil
	}
	fmt.Println("Vector store: reachable")
	fmt.Printf("Indexed chunks: %d\n", status.ChunkCount)
	return nil
}
