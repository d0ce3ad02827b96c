package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/die-net/keepalive-proxy/internal/dialer"
	"github.com/die-net/keepalive-proxy/internal/metrics"
)

// errBuildRequest marks failures to construct the outbound request. The
// origin is never contacted when it is returned.
var errBuildRequest = errors.New("build proxy request")

// Forwarder sends forwarded GET requests to origin servers over one shared,
// pooled transport and rewrites their connection-management headers.
//
// A Forwarder is safe for concurrent use.
type Forwarder struct {
	transport *http.Transport
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewForwarder builds the shared transport from cfg. The pool idle timeout
// and dialer are fixed for the Forwarder's lifetime.
func NewForwarder(cfg Config) *Forwarder {
	return &Forwarder{
		transport: newTransport(cfg),
		logger:    cfg.logger().With("component", "forwarder"),
		metrics:   cfg.Metrics,
	}
}

// RoundTrip forwards r to its origin and returns the origin's response with
// Connection forced to "close". The caller must close the response body.
//
// Errors wrapping errBuildRequest mean no request was sent; any other error is
// a transport failure. RoundTrip never retries.
func (f *Forwarder) RoundTrip(r *http.Request) (*http.Response, error) {
	out, err := newOutboundRequest(r)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := f.transport.RoundTrip(out)
	if err != nil {
		f.metrics.ObserveUpstream(0, time.Since(start))
		return nil, fmt.Errorf("forward %s: %w", r.URL.Redacted(), err)
	}
	f.metrics.ObserveUpstream(resp.StatusCode, time.Since(start))

	// The client-facing connection must not be kept alive on the origin's say-so.
	resp.Header.Del("Connection")
	resp.Header.Set("Connection", "close")

	return resp, nil
}

// CloseIdleConnections closes pooled origin connections that are idle.
func (f *Forwarder) CloseIdleConnections() {
	f.transport.CloseIdleConnections()
}

// newOutboundRequest derives the GET sent to the origin: same URL, Host, and
// body; headers minus Proxy-Connection and Connection; plus
// "Connection: Keep-Alive" so the transport keeps the origin connection.
//
// Only those two headers are stripped, not the full RFC 7230 hop-by-hop set.
func newOutboundRequest(r *http.Request) (*http.Request, error) {
	body := r.Body
	if body == nil || r.ContentLength == 0 {
		body = http.NoBody
	}

	out, err := http.NewRequestWithContext(r.Context(), http.MethodGet, r.URL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBuildRequest, err)
	}
	if body != http.NoBody {
		out.ContentLength = r.ContentLength
	}
	out.Host = r.Host

	for name, values := range r.Header {
		switch http.CanonicalHeaderKey(name) {
		case "Proxy-Connection", "Connection":
			continue
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, fmt.Errorf("%w: invalid header name %q", errBuildRequest, name)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("%w: invalid value for header %q", errBuildRequest, name)
			}
			out.Header.Add(name, v)
		}
	}
	out.Header.Set("Connection", "Keep-Alive")

	// Keep net/http from adding a User-Agent the client never sent.
	if _, ok := out.Header["User-Agent"]; !ok {
		out.Header.Set("User-Agent", "")
	}

	return out, nil
}

// handleForward forwards r and streams the response to w. It returns the
// status code sent and, if the body could not be relayed in full, the copy
// error.
func (s *HTTPProxyServer) handleForward(w http.ResponseWriter, r *http.Request) (int, error) {
	resp, err := s.fwd.RoundTrip(r)
	if errors.Is(err, errBuildRequest) {
		s.logger.Error("could not build proxy request", "url", r.URL.Redacted(), "err", err)
		return writeError(w, http.StatusInternalServerError, msgBuildFailed), nil
	}
	if err != nil {
		s.logger.Warn("proxy request failed", "url", r.URL.Redacted(), "err", err)
		w.Header().Set("Connection", "close")
		return writeError(w, http.StatusBadGateway, msgOriginFailed), nil
	}
	defer resp.Body.Close()

	h := w.Header()
	for name, values := range resp.Header {
		h[name] = values
	}
	w.WriteHeader(resp.StatusCode)

	if err := s.copyBody(w, resp.Body); err != nil {
		s.logger.Warn("streaming response body", "url", r.URL.Redacted(), "err", err)
		return resp.StatusCode, err
	}

	return resp.StatusCode, nil
}

// copyBody streams body to w, flushing after every chunk so the client sees
// data as soon as the origin sends it.
func (s *HTTPProxyServer) copyBody(w http.ResponseWriter, body io.Reader) error {
	bp := s.pool.Get()
	defer s.pool.Put(bp)
	buf := *bp

	rc := http.NewResponseController(w)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write: %w", werr)
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return fmt.Errorf("flush: %w", ferr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read: %w", rerr)
		}
	}
}

func newTransport(cfg Config) *http.Transport {
	maxIdle := cfg.PoolMaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 100
	}

	d := cfg.dialer()

	t := &http.Transport{
		DialContext:         d.DialContext,
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: maxIdle,
		IdleConnTimeout:     cfg.PoolIdleTimeout,
		// Bodies pass through untouched; don't ask origins for gzip.
		DisableCompression: true,
	}

	// Forwarded requests go to an upstream HTTP proxy in absolute form rather
	// than through a CONNECT tunnel per origin.
	if up, ok := dialer.Unwrap(d).(*dialer.HTTPProxyDialer); ok {
		t.Proxy = http.ProxyURL(up.ProxyURL())
		t.DialContext = up.Direct().DialContext
	}

	return t
}
