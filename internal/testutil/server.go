package testutil

import (
	"net"
	"sync"
	"testing"
)

// OneShot is a loopback listener that hands its first accepted connection to
// a handler, then stops accepting.
type OneShot struct {
	ln        net.Listener
	done      chan struct{}
	closeOnce sync.Once
}

// ServeOnce starts a OneShot whose handler is handle. The connection is closed
// when handle returns. Wait runs automatically on test cleanup.
func ServeOnce(t *testing.T, handle func(net.Conn)) *OneShot {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	o := &OneShot{ln: ln, done: make(chan struct{})}
	go func() {
		defer close(o.done)
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handle(c)
	}()

	t.Cleanup(o.Wait)
	return o
}

func (o *OneShot) Addr() string {
	return o.ln.Addr().String()
}

// Wait stops accepting and blocks until the handler has returned.
func (o *OneShot) Wait() {
	o.closeOnce.Do(func() { _ = o.ln.Close() })
	<-o.done
}
