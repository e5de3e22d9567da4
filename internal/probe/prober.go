package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Prober performs a single health check against a cache instance.
type Prober interface {
	Check(ctx context.Context) error
}

// TCPProber implements Prober with a bare TCP connect-and-close against the
// memcached port. No payload is sent; a completed handshake counts as success.
type TCPProber struct {
	hostPort string
	timeout  time.Duration
}

// ProberConfig holds configuration for creating a Prober.
type ProberConfig struct {
	// Addr is the target in host:port form.
	Addr string
	// Timeout bounds each dial attempt.
	Timeout time.Duration
}

// NewTCPProber creates a TCPProber for the given host:port target.
func NewTCPProber(cfg ProberConfig) (*TCPProber, error) {
	host, port, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid addr %q: %w", cfg.Addr, err)
	}
	if host == "" || port == "" {
		return nil, fmt.Errorf("invalid addr %q: expected host:port", cfg.Addr)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 1 * time.Second
	}

	return &TCPProber{
		hostPort: net.JoinHostPort(host, port),
		timeout:  timeout,
	}, nil
}

// Check dials the target and closes the connection immediately. An error means
// the instance did not accept a TCP connection within the timeout.
func (p *TCPProber) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", p.hostPort)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.hostPort, err)
	}
	_ = conn.Close()
	return nil
}

// Addr returns the probe target in host:port form.
func (p *TCPProber) Addr() string {
	return p.hostPort
}
