package proxy

import (
	"bufio"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestNewBufferedConnDrainsReaderFirst(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	br := bufio.NewReader(strings.NewReader("buffered"))
	if _, err := br.Peek(len("buffered")); err != nil {
		t.Fatal(err)
	}

	c := newBufferedConn(local, br)
	if c == local {
		t.Fatal("expected a wrapper when bytes are buffered")
	}

	go func() {
		_, _ = io.WriteString(remote, "-live")
		_ = remote.Close()
	}()

	got, err := io.ReadAll(c)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "buffered-live" {
		t.Errorf("read %q, want %q", got, "buffered-live")
	}
}

func TestNewBufferedConnWithoutBufferedBytes(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	if c := newBufferedConn(local, bufio.NewReader(remote)); c != local {
		t.Error("expected the conn itself when nothing is buffered")
	}
	if c := newBufferedConn(local, nil); c != local {
		t.Error("expected the conn itself for a nil reader")
	}
}

func TestIdleTimeoutConnExpires(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	if c := withIdleTimeout(local, 0); c != local {
		t.Error("expected no wrapper for a zero timeout")
	}

	c := withIdleTimeout(local, 50*time.Millisecond)
	start := time.Now()
	_, err := c.Read(make([]byte, 1))
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Errorf("err = %v, want a timeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("idle timeout took too long")
	}
}
