package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/die-net/keepalive-proxy/internal/metrics"
)

// HTTPProxyServer serves an HTTP forward proxy.
//
// It supports:
//   - CONNECT tunneling (via connection hijacking + bidirectional relay)
//   - GET forwarding of absolute http:// URIs through a shared pooled transport
//
// Every other request is answered with 400.
type HTTPProxyServer struct {
	ctx    context.Context
	cancel context.CancelFunc

	cfg     Config
	fwd     *Forwarder
	srv     *http.Server
	pool    *bufferPool
	logger  *slog.Logger
	metrics *metrics.Metrics

	// tunnels tracks relay goroutines so Close can wait for them.
	mu      sync.Mutex
	closed  bool
	tunnels sync.WaitGroup
}

// NewHTTPProxyServer constructs an HTTP proxy server with the given config.
//
// Serve starts accepting connections on a listener; Close stops the underlying
// http.Server and tears down open tunnels. Tunnels also end when ctx is
// canceled.
func NewHTTPProxyServer(ctx context.Context, cfg Config) *HTTPProxyServer {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	cfg.Dialer = cfg.dialer()

	logger := cfg.logger()
	s := &HTTPProxyServer{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		fwd:     NewForwarder(cfg),
		pool:    newBufferPool(32 * 1024),
		logger:  logger.With("component", "http_proxy"),
		metrics: cfg.Metrics,
	}
	s.srv = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: cfg.NegotiationTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		BaseContext: func(net.Listener) context.Context {
			return s.ctx
		},
	}
	return s
}

// Serve serves HTTP proxy requests on ln.
func (s *HTTPProxyServer) Serve(ln net.Listener) error {
	return s.srv.Serve(ln)
}

// Close stops the HTTP server, closes every open tunnel, and waits for the
// relays to finish.
func (s *HTTPProxyServer) Close() error {
	s.cancel()
	err := s.srv.Close()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.tunnels.Wait()

	s.fwd.CloseIdleConnections()
	return err
}

// goTunnel runs fn in a new goroutine tracked by Close. It reports false,
// without running fn, once the server is closed.
func (s *HTTPProxyServer) goTunnel(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.tunnels.Go(fn)
	return true
}

// ServeHTTP classifies r and routes it to the CONNECT handler, the forwarder,
// or an error response.
func (s *HTTPProxyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer s.metrics.TrackInFlight()()

	route, status, err := s.dispatch(w, r)
	s.metrics.ObserveRequest(route, status)
	if err != nil {
		// Headers are out; aborting is the only way to tell the client the
		// body is truncated.
		panic(http.ErrAbortHandler)
	}
}

// dispatch returns the route taken and the status sent. A non-nil error means
// the response was cut short after its headers were written.
func (s *HTTPProxyServer) dispatch(w http.ResponseWriter, r *http.Request) (string, int, error) {
	if r.Method == http.MethodConnect {
		return metrics.RouteConnect, s.handleConnect(w, r), nil
	}

	if r.Method != http.MethodGet {
		s.logger.Warn("method not supported", "method", r.Method, "remote_addr", r.RemoteAddr)
		return metrics.RouteReject, writeError(w, http.StatusBadRequest, msgMethodUnsupported), nil
	}

	// net/url lowercases the scheme, so "HTTP://" also lands here as "http".
	if r.URL.Scheme != "http" || r.URL.Host == "" {
		s.logger.Warn("invalid uri scheme", "uri", r.RequestURI, "remote_addr", r.RemoteAddr)
		return metrics.RouteReject, writeError(w, http.StatusBadRequest, msgInvalidScheme), nil
	}

	s.logger.Info("proxy request", "url", r.URL.String())
	status, err := s.handleForward(w, r)
	return metrics.RouteForward, status, err
}
