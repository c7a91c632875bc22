// File: cmd/webpilot/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/webpilot-ai/webpilot/cmd"
	"github.com/webpilot-ai/webpilot/internal/observability"
)

func main() {
	// Interrupt signals cancel the context so the loop winds down after the
	// current action instead of being killed mid-flight.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
