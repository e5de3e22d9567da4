package probe

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestNewTCPProberValidatesAddr(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "host and port", addr: "cache-0.cache.default.svc:11211"},
		{name: "ip and port", addr: "10.0.0.5:11211"},
		{name: "missing port", addr: "cache-0.cache.default.svc", wantErr: true},
		{name: "missing host", addr: ":11211", wantErr: true},
		{name: "empty", addr: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTCPProber(ProberConfig{Addr: tt.addr})
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckSucceedsAgainstListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	prober, err := NewTCPProber(ProberConfig{Addr: ln.Addr().String(), Timeout: time.Second})
	if err != nil {
		t.Fatalf("failed to create prober: %v", err)
	}

	if err := prober.Check(context.Background()); err != nil {
		t.Errorf("expected success against live listener, got %v", err)
	}
}

func TestCheckFailsAgainstClosedPort(t *testing.T) {
	// Grab a free port and close the listener so nothing accepts on it.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	prober, err := NewTCPProber(ProberConfig{Addr: addr, Timeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create prober: %v", err)
	}

	if err := prober.Check(context.Background()); err == nil {
		t.Error("expected failure against closed port, got nil")
	}
}

func TestCheckHonorsContextCancellation(t *testing.T) {
	prober, err := NewTCPProber(ProberConfig{Addr: "10.255.255.1:11211", Timeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("failed to create prober: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := prober.Check(ctx); err == nil {
		t.Error("expected error from cancelled context, got nil")
	}
}
