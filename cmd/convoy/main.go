package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tsegert/convoy/internal/graph"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes configuration mistakes from operational failures:
// an invalid stack or unusable environment exits 2, anything that failed at
// runtime exits 1.
func exitCode(err error) int {
	var cyclic *graph.CyclicDependencyError
	var unknownDep *graph.UnknownDependencyError
	var usage *usageError
	if errors.As(err, &cyclic) || errors.As(err, &unknownDep) || errors.As(err, &usage) {
		return 2
	}
	return 1
}
