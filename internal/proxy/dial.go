package proxy

import (
	"net"
	"net/http"
	"time"
)

const upstreamConnectTimeout = 60 * time.Second

// newUpstreamTransport builds the transport used for every upstream
// machine request (spec §4.6): a 60s connect timeout, IPv6-capable (the
// dialer is never forced to "tcp4"), and an unbounded response — no
// ResponseHeaderTimeout and no client-level Timeout, since a streamed SSE
// response can run indefinitely.
func newUpstreamTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: upstreamConnectTimeout}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: 0,
		DisableCompression:    true,
	}
}
