// Command steamguard prints Steam Guard codes for a shared secret.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().rootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
