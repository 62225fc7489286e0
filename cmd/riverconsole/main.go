package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/riverqueue/riverconsole/cmd/riverconsole/consolecli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := consolecli.NewCLI().BaseCommandSet().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, consolecli.ErrUnsuccessful) {
			fmt.Fprintf(os.Stderr, "failed: %s\n", err)
		}
		stop()
		os.Exit(1)
	}
}
