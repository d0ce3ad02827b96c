package dialer

import (
	"context"
	"fmt"
	"net"
)

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a Dialer that connects straight to the target.
func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{cfg: cfg}
}

// netDialer builds the net.Dialer for cfg. A zero DialTimeout leaves dials
// bounded only by the caller's context.
func (d *directDialer) netDialer() net.Dialer {
	nd := net.Dialer{Timeout: d.cfg.DialTimeout, KeepAliveConfig: d.cfg.KeepAlive}
	// Without this, a disabled KeepAliveConfig still gets Go's default probes.
	if !d.cfg.KeepAlive.Enable {
		nd.KeepAlive = -1
	}
	return nd
}

func (d *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	nd := d.netDialer()

	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	return conn, nil
}
