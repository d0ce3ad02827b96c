package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect. Zero means no deadline.
	DialTimeout time.Duration
	// NegotiationTimeout bounds upstream proxy handshakes. Zero means no deadline.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig
}
