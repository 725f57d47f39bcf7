package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/goalrun/internal/cmd"
	"github.com/felixgeelhaar/goalrun/internal/exitcode"
)

func main() {
	// SIGTERM from the dispatcher cancels the running goal
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if ctx.Err() == context.Canceled {
			fmt.Fprintln(os.Stderr, "\nInterrupted")
			stop()
			exitcode.Exit(exitcode.Interrupted)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		exitcode.ExitWithError(err)
	}
}
