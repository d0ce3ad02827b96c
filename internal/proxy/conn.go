package proxy

import (
	"bufio"
	"io"
	"net"
	"time"
)

// bufferedConn is a hijacked client connection whose first reads come from
// bytes the HTTP server had already buffered.
type bufferedConn struct {
	net.Conn
	r io.Reader
}

// newBufferedConn returns c, or a wrapper around it if br holds unread bytes.
func newBufferedConn(c net.Conn, br *bufio.Reader) net.Conn {
	if br == nil || br.Buffered() == 0 {
		return c
	}
	return &bufferedConn{
		Conn: c,
		r:    io.MultiReader(io.LimitReader(br, int64(br.Buffered())), c),
	}
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// idleTimeoutConn pushes its deadline forward on every Read and Write.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func withIdleTimeout(c net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return c
	}
	return &idleTimeoutConn{Conn: c, timeout: timeout}
}

func (c *idleTimeoutConn) Read(p []byte) (int, error) {
	_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(p)
}

func (c *idleTimeoutConn) Write(p []byte) (int, error) {
	_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(p)
}
