// Command registry-node runs a single-process registry chain: the
// ledger, a local ordering node, the gRPC node service and the ops
// HTTP endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blockberries/registry/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "registry-node: %v\n", err)
		os.Exit(2)
	}
	log := cfg.Logger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, log)
	stop()
	if err != nil {
		log.Error("registry-node exited", "error", err)
		os.Exit(1)
	}
}
