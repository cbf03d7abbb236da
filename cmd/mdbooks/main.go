// Package main is the entry point for mdbooks.
//
// mdbooks stores books as directories of Markdown chapters, records every
// change in a git repository per book and exposes them over a JSON HTTP API.
// Configuration is read from <data-dir>/Config/settings.yaml.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maruel/mdbooks/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cli.Execute(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "mdbooks: %v\n", err)
		stop()
		os.Exit(1)
	}
}
