package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"kilnstudio/internal/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Execute(ctx); err != nil {
		logger.ErrorWithStack(err)
		stop()
		os.Exit(1)
	}
}
