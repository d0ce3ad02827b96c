// Package dialer provides the outbound dialers used by keepalive-proxy.
//
// Dialers implement a small interface (DialContext) and are used both to
// establish CONNECT tunnels and as the DialContext of the pooled forwarding
// transport. Connections are made either directly or via an upstream proxy
// (HTTP CONNECT or SOCKS5), optionally throttled by a rate limiter.
package dialer
