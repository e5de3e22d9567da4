package main

import (
	"net"
	"os"
	"testing"
)

func TestRunAgainstListener(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer func() { _ = listener.Close() }()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	if code := run([]string{"-addr", listener.Addr().String()}, os.Stderr); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestRunAgainstClosedPort(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	if code := run([]string{"-addr", addr, "-timeout", "500ms"}, os.Stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}

func TestRunRejectsBadAddr(t *testing.T) {
	for _, addr := range []string{"", "no-port", "too:many:colons"} {
		if code := run([]string{"-addr", addr}, os.Stderr); code != 2 {
			t.Errorf("run(-addr %q) = %d, want 2", addr, code)
		}
	}
}
