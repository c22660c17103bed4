package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"artifactcache/internal/cli"
)

// main cancels the context on SIGINT/SIGTERM so a running computation's
// process group is killed and nothing is published.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
