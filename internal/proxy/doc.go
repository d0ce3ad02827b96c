// Package proxy implements the keepalive-proxy HTTP forward proxy.
//
// It dispatches each request to one of three paths: CONNECT tunneling (via
// connection hijacking and a bidirectional byte relay), forwarding of absolute
// http:// GET requests through a shared pooled transport, or a plain-text error
// response. It also holds the listener and copy plumbing those paths share.
package proxy
