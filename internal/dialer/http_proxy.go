package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPProxyDialer reaches targets through an upstream HTTP or HTTPS proxy by
// issuing CONNECT.
type HTTPProxyDialer struct {
	cfg       Config
	proxyURL  *url.URL
	header    http.Header
	tlsConfig *tls.Config // nil for plain http
	direct    Dialer
}

// NewHTTPProxyDialer constructs a CONNECT dialer for proxyURL. A non-empty
// username adds Basic Proxy-Authorization to every CONNECT.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil {
		return nil, errors.New("http proxy dialer: missing proxy url")
	}
	if proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: invalid proxy host")
	}

	d := &HTTPProxyDialer{
		cfg:      cfg,
		proxyURL: proxyURL,
		header:   make(http.Header),
		direct:   NewDirectDialer(cfg),
	}

	switch proxyURL.Scheme {
	case "http":
	case "https":
		d.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: proxyURL.Hostname()}
	default:
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme: %q", proxyURL.Scheme)
	}

	if username != "" {
		d.header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	}

	return d, nil
}

// ProxyURL returns the upstream proxy's URL.
func (d *HTTPProxyDialer) ProxyURL() *url.URL {
	return d.proxyURL
}

// Direct returns the dialer used to reach the proxy itself.
func (d *HTTPProxyDialer) Direct() Dialer {
	return d.direct
}

// DialContext connects to the proxy and asks it to CONNECT to address.
//
// NegotiationTimeout, if set, bounds the TLS and CONNECT exchanges together.
// Canceling ctx aborts either one.
func (d *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	raw, err := d.direct.DialContext(ctx, network, d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}

	c, err := d.handshake(ctx, raw, address)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("http proxy dial %s %s: %w", network, address, err)
	}
	return c, nil
}

// handshake runs TLS (for https proxies) and CONNECT over raw. On success the
// negotiation deadline has been cleared.
func (d *HTTPProxyDialer) handshake(ctx context.Context, raw net.Conn, address string) (net.Conn, error) {
	if d.cfg.NegotiationTimeout > 0 {
		_ = raw.SetDeadline(time.Now().Add(d.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = raw.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c := raw
	if d.tlsConfig != nil {
		tlsConn := tls.Client(raw, d.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		c = tlsConn
	}

	br, err := d.connect(c, address)
	if err != nil {
		return nil, err
	}

	if !stop() {
		return nil, ctx.Err()
	}
	_ = raw.SetDeadline(time.Time{})

	// The proxy may have sent tunnel bytes right behind its response head.
	if br.Buffered() > 0 {
		return &readerConn{Conn: c, r: br}, nil
	}
	return c, nil
}

// connect writes CONNECT for address and reads the proxy's reply.
func (d *HTTPProxyDialer) connect(c net.Conn, address string) (*bufio.Reader, error) {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: d.header,
	}
	if err := req.Write(c); err != nil {
		return nil, fmt.Errorf("write CONNECT: %w", err)
	}

	br := bufio.NewReader(c)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("read CONNECT reply: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("CONNECT refused: %s", resp.Status)
	}
	return br, nil
}

// readerConn drains r before reading from the embedded conn.
type readerConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *readerConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}
