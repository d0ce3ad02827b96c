package proxy

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
)

// recordingDialer is a dialer.Dialer test double that records every target
// it is asked to reach.
type recordingDialer struct {
	mu    sync.Mutex
	addrs []string

	dial func(ctx context.Context, network, address string) (net.Conn, error)
}

func (d *recordingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.addrs = append(d.addrs, address)
	d.mu.Unlock()

	if d.dial == nil {
		return nil, &net.OpError{Op: "dial", Net: network, Err: io.ErrUnexpectedEOF}
	}
	return d.dial(ctx, network, address)
}

func (d *recordingDialer) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.addrs...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// startProxy serves a proxy for cfg on a loopback listener until test cleanup.
func startProxy(t *testing.T, cfg Config) (*HTTPProxyServer, net.Listener) {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}

	ln, err := ListenTCP(context.Background(), "127.0.0.1:0", net.KeepAliveConfig{Enable: false})
	if err != nil {
		t.Fatal(err)
	}

	srv := NewHTTPProxyServer(context.Background(), cfg)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
		<-done
	})

	return srv, ln
}
