// Command probe performs a one-shot TCP health check against a memcached
// instance. It is a debugging aid for operators: it runs the same dial the
// controller's health monitor performs, so a failing in-cluster probe can be
// reproduced from a shell.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yashika/memcached-operator/internal/probe"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr *os.File) int {
	var (
		addr    string
		timeout time.Duration
	)

	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&addr, "addr", "", "Target address as host:port (required)")
	fs.DurationVar(&timeout, "timeout", 4*time.Second,
		"Timeout for the TCP dial (should be less than the probe periodSeconds)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	prober, err := probe.NewTCPProber(probe.ProberConfig{
		Addr:    addr,
		Timeout: timeout,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid -addr %q: %v\n", addr, err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := prober.Check(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "tcp dial failed: %v\n", err)
		return 1
	}

	return 0
}
