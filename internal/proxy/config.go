package proxy

import (
	"log/slog"
	"net"
	"time"

	"github.com/die-net/keepalive-proxy/internal/dialer"
	"github.com/die-net/keepalive-proxy/internal/metrics"
)

type Config struct {
	// NegotiationTimeout bounds reading request headers from clients.
	NegotiationTimeout time.Duration
	// HTTPIdleTimeout bounds idle client keep-alive connections.
	HTTPIdleTimeout time.Duration

	// PoolIdleTimeout is how long idle origin connections stay pooled.
	PoolIdleTimeout  time.Duration
	PoolMaxIdleConns int

	// TunnelIdleTimeout closes a tunnel after this long without I/O. Zero
	// means tunnels never time out.
	TunnelIdleTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	Dialer dialer.Dialer

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (cfg Config) logger() *slog.Logger {
	if cfg.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return cfg.Logger
}

func (cfg Config) dialer() dialer.Dialer {
	if cfg.Dialer == nil {
		return dialer.NewDirectDialer(dialer.Config{KeepAlive: cfg.KeepAlive})
	}
	return cfg.Dialer
}
