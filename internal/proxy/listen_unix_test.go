//go:build unix

package proxy

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/die-net/keepalive-proxy/internal/testutil"
)

func acceptOne(t *testing.T, ka net.KeepAliveConfig) net.Conn {
	t.Helper()

	ln, err := ListenTCP(context.Background(), "127.0.0.1:0", ka)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })

	accepted, err := ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = accepted.Close() })
	return accepted
}

func TestListenTCPKeepAlive(t *testing.T) {
	tests := []struct {
		name string
		ka   net.KeepAliveConfig
		want bool
	}{
		{name: "off", ka: net.KeepAliveConfig{Enable: false}, want: false},
		{name: "on", ka: net.KeepAliveConfig{Enable: true}, want: true},
		{name: "tuned", ka: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 45 * time.Second, Count: 3}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.KeepAliveEnabled(t, acceptOne(t, tt.ka)); got != tt.want {
				t.Errorf("SO_KEEPALIVE = %v, want %v", got, tt.want)
			}
		})
	}
}
