package proxy

import (
	"io"
	"net/http"
	"strconv"
)

// Plain-text bodies of the responses the proxy generates itself.
const (
	msgInvalidConnectURI = "Invalid URI for CONNECT request"
	msgConnectFailed     = "Connection to target failed"
	msgMethodUnsupported = "Method not supported (keepalive-proxy)"
	msgInvalidScheme     = "Invalid URI scheme or not an absolute URI (keepalive-proxy)"
	msgBuildFailed       = "Error building proxy request"
	msgOriginFailed      = "Request to origin failed"
	msgHijackUnsupported = "Hijacking not supported"
)

// writeError writes a plain-text response with exactly msg as its body and
// returns code for the caller to record.
//
// Unlike http.Error, no trailing newline is appended.
func writeError(w http.ResponseWriter, code int, msg string) int {
	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(msg)))
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg)
	return code
}
