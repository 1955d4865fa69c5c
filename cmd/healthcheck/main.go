// Package main provides a minimal readiness check for pinsd containers.
// It exits with code 0 when the server reports ready and 1 otherwise.
// Usage: healthcheck [http://localhost:50051]
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/packrat/pinserver/pkg/pinclient"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	cfg := pinclient.ConfigFromEnv()
	if len(args) > 0 {
		cfg.BaseURL = args[0]
	}
	cfg.Timeout = 5 * time.Second
	cfg.RetryMax = 0

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if _, err := pinclient.New(cfg, nil).Ready(ctx); err != nil {
		fmt.Fprintf(stderr, "healthcheck failed: %v\n", err)
		return 1
	}
	return 0
}
