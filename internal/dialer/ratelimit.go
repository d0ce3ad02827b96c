package dialer

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/time/rate"
)

type rateLimitedDialer struct {
	Dialer
	limiter *rate.Limiter
}

// WithRateLimit wraps d so that at most limit dials per second start, with
// bursts of up to burst. A non-positive limit returns d unchanged.
func WithRateLimit(d Dialer, limit float64, burst int) Dialer {
	if limit <= 0 {
		return d
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedDialer{Dialer: d, limiter: rate.NewLimiter(rate.Limit(limit), burst)}
}

func (d *rateLimitedDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dial %s %s: rate limit: %w", network, address, err)
	}
	return d.Dialer.DialContext(ctx, network, address)
}

func (d *rateLimitedDialer) Unwrap() Dialer {
	return d.Dialer
}
