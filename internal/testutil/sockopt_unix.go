//go:build unix

package testutil

import (
	"net"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

// KeepAliveEnabled reports whether SO_KEEPALIVE is set on c.
func KeepAliveEnabled(t *testing.T, c net.Conn) bool {
	t.Helper()

	sc, ok := c.(syscall.Conn)
	if !ok {
		t.Fatalf("%T has no raw socket", c)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		t.Fatal(err)
	}

	var v int
	var serr error
	if err := raw.Control(func(fd uintptr) {
		v, serr = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE)
	}); err != nil {
		t.Fatal(err)
	}
	if serr != nil {
		t.Fatal(serr)
	}
	return v != 0
}
