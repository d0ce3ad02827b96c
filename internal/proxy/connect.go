package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
)

// ErrInvalidConnectTarget is returned for CONNECT URIs without both a host and
// an explicit numeric port.
var ErrInvalidConnectTarget = errors.New("invalid CONNECT target")

// connectTarget returns the host:port a CONNECT request asks for. No default
// port is assumed.
func connectTarget(r *http.Request) (string, error) {
	if r.URL == nil || r.URL.Host == "" {
		return "", ErrInvalidConnectTarget
	}

	host, port, err := net.SplitHostPort(r.URL.Host)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidConnectTarget, err)
	}
	if host == "" || port == "" {
		return "", ErrInvalidConnectTarget
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("%w: port %q", ErrInvalidConnectTarget, port)
	}

	return net.JoinHostPort(host, port), nil
}

// handleConnect dials the CONNECT target, takes over the client connection,
// answers 200, and leaves the relay running in the background. It returns the
// status code sent to the client.
//
// Tunnels never use the forwarding pool; each gets its own target connection.
func (s *HTTPProxyServer) handleConnect(w http.ResponseWriter, r *http.Request) int {
	target, err := connectTarget(r)
	if err != nil {
		s.logger.Warn("invalid CONNECT uri", "uri", r.RequestURI, "err", err)
		return writeError(w, http.StatusBadRequest, msgInvalidConnectURI)
	}

	s.logger.Info("connect request", "target", target)

	serverConn, err := s.cfg.Dialer.DialContext(r.Context(), "tcp", target)
	s.metrics.ObserveTunnelDial(err)
	if err != nil {
		s.logger.Warn("connection to target failed", "target", target, "err", err)
		return writeError(w, http.StatusBadGateway, msgConnectFailed)
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		_ = serverConn.Close()
		s.logger.Error("connection upgrade failed", "target", target, "err", "hijacking not supported")
		return writeError(w, http.StatusInternalServerError, msgHijackUnsupported)
	}
	clientConn, brw, err := hj.Hijack()
	if err != nil {
		_ = serverConn.Close()
		s.logger.Error("connection upgrade failed", "target", target, "err", err)
		return http.StatusInternalServerError
	}

	if _, err := fmt.Fprintf(brw, "HTTP/%d.%d 200 OK\r\n\r\n", r.ProtoMajor, r.ProtoMinor); err == nil {
		err = brw.Flush()
	}
	if err != nil {
		_ = clientConn.Close()
		_ = serverConn.Close()
		s.logger.Warn("writing CONNECT response", "target", target, "err", err)
		return http.StatusOK
	}

	client := withIdleTimeout(newBufferedConn(clientConn, brw.Reader), s.cfg.TunnelIdleTimeout)
	server := withIdleTimeout(serverConn, s.cfg.TunnelIdleTimeout)

	// Fire and forget: the 200 is already sent, so relay errors are only logged.
	started := s.goTunnel(func() {
		done := s.metrics.TunnelOpened()
		stats, err := Relay(s.ctx, client, server)
		done(stats.ClientToTarget, stats.TargetToClient)

		if err != nil {
			s.logger.Warn("upgraded connection error", "target", target, "err", err,
				"bytes_sent", stats.ClientToTarget, "bytes_received", stats.TargetToClient)
			return
		}
		s.logger.Info("upgraded connection closed", "target", target,
			"bytes_sent", stats.ClientToTarget, "bytes_received", stats.TargetToClient)
	})
	if !started {
		_ = client.Close()
		_ = server.Close()
	}

	return http.StatusOK
}
