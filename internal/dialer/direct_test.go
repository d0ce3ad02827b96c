package dialer

import (
	"context"
	"testing"
	"time"

	"github.com/die-net/keepalive-proxy/internal/testutil"
)

func TestDirectDialerDefaultsHaveNoDeadline(t *testing.T) {
	nd := NewDirectDialer(Config{}).(*directDialer).netDialer()
	if nd.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", nd.Timeout)
	}
	if !nd.Deadline.IsZero() {
		t.Errorf("Deadline = %v, want zero", nd.Deadline)
	}
	if nd.KeepAlive >= 0 {
		t.Errorf("KeepAlive = %v, want negative when keep-alive is disabled", nd.KeepAlive)
	}
}

func TestDirectDialerTimeout(t *testing.T) {
	nd := NewDirectDialer(Config{DialTimeout: 3 * time.Second}).(*directDialer).netDialer()
	if nd.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", nd.Timeout)
	}
}

func TestDirectDialerDials(t *testing.T) {
	addr := testutil.EchoServer(t)

	c, err := NewDirectDialer(Config{}).DialContext(context.Background(), "tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	testutil.AssertEcho(t, c, c, []byte("direct"))

	if _, err := NewDirectDialer(Config{}).DialContext(context.Background(), "tcp", testutil.ClosedAddr(t)); err == nil {
		t.Error("expected error dialing a closed port")
	}
}
