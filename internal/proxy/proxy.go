// Package proxy implements the Streaming Proxy (spec §4.6): it resolves a
// workspace to a live machine, forwards the request upstream, and streams
// the response back chunk by chunk with no total-duration cap.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/workspacehq/gateway/internal/platform/apierr"
	"github.com/workspacehq/gateway/internal/platform/logging"
	"github.com/workspacehq/gateway/internal/platform/metrics"
	"github.com/workspacehq/gateway/internal/workspace"
)

const (
	ensureMachineTimeout = 20 * time.Second
	defaultBodyLimit     = 10 << 20 // 10 MiB
	defaultChunkIdle     = 60 * time.Second
)

var errChunkIdleTimeout = errors.New("proxy: no data from upstream within idle timeout")

const startingPageHTML = `<!doctype html>
<html>
<head>
<meta http-equiv="refresh" content="3">
<title>Starting workspace</title>
</head>
<body>
<h1>Starting your workspace...</h1>
<p>This page will refresh automatically.</p>
</body>
</html>`

// Registry is the subset of workspace.Registry the proxy depends on.
type Registry interface {
	GetOrCreate(key workspace.Key) *workspace.Actor
}

// StreamingProxy resolves workspaces via a Registry and forwards requests
// to the resolved machine's internal hostname.
type StreamingProxy struct {
	registry         Registry
	appName          string
	bodyLimit        int64
	chunkIdleTimeout time.Duration
	client           *http.Client
	logger           *logging.Logger
}

// Config controls StreamingProxy construction.
type Config struct {
	AppName          string
	BodyLimit        int64
	ChunkIdleTimeout time.Duration
}

// NewStreamingProxy builds a StreamingProxy.
func NewStreamingProxy(registry Registry, cfg Config, logger *logging.Logger) *StreamingProxy {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = defaultBodyLimit
	}
	if cfg.ChunkIdleTimeout <= 0 {
		cfg.ChunkIdleTimeout = defaultChunkIdle
	}

	return &StreamingProxy{
		registry:         registry,
		appName:          cfg.AppName,
		bodyLimit:        cfg.BodyLimit,
		chunkIdleTimeout: cfg.ChunkIdleTimeout,
		client:           &http.Client{Transport: newUpstreamTransport()},
		logger:           logger,
	}
}

// ServeWorkspace resolves key to a machine and forwards r to it, per spec
// §4.6. On any resolution failure it renders the 502 "starting" page
// rather than a raw error — provisioning failures are expected to be
// transient and the client is expected to retry via the page's reload.
func (p *StreamingProxy) ServeWorkspace(w http.ResponseWriter, r *http.Request, key workspace.Key) {
	actor := p.registry.GetOrCreate(key)

	ctx, cancel := context.WithTimeout(r.Context(), ensureMachineTimeout)
	machineID, err := actor.EnsureMachine(ctx)
	cancel()
	if err != nil {
		p.logger.WithError(err).Warn("ensure machine failed, rendering starting page")
		p.renderStartingPage(w)
		return
	}

	p.forward(w, r, machineID)
}

func (p *StreamingProxy) renderStartingPage(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	w.Write([]byte(startingPageHTML))
}

func (p *StreamingProxy) upstreamURL(r *http.Request, machineID string) string {
	u := fmt.Sprintf("http://%s.vm.%s.internal:8080%s", machineID, p.appName, r.URL.Path)
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// forward builds the upstream request, preserving method and headers
// (minus host/connection), capping the body at bodyLimit, and streams the
// upstream response back chunk by chunk.
func (p *StreamingProxy) forward(w http.ResponseWriter, r *http.Request, machineID string) {
	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, p.upstreamURL(r, machineID), io.LimitReader(r.Body, p.bodyLimit))
	if err != nil {
		p.renderStartingPage(w)
		return
	}
	copyForwardableHeaders(upstreamReq.Header, r.Header)

	resp, err := p.client.Do(upstreamReq)
	if err != nil {
		p.logger.WithError(err).Warn("upstream request failed, rendering starting page")
		p.renderStartingPage(w)
		return
	}
	defer resp.Body.Close()

	copyUpstreamHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	streamStart := time.Now()
	err = p.streamBody(w, r, resp.Body)
	metrics.Global().RecordProxyStream(streamOutcome(err), time.Since(streamStart))

	if err != nil && !errors.Is(err, apierr.ErrProxyDisconnected) && !errors.Is(err, errChunkIdleTimeout) {
		p.logger.WithError(err).Warn("streaming upstream response ended with error")
	}
}

func streamOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apierr.ErrProxyDisconnected):
		return "disconnect"
	case errors.Is(err, errChunkIdleTimeout):
		return "idle_timeout"
	default:
		return "error"
	}
}

// copyForwardableHeaders copies every header except Host/Connection, per
// spec §4.6.
func copyForwardableHeaders(dst, src http.Header) {
	for k, values := range src {
		if strings.EqualFold(k, "Host") || strings.EqualFold(k, "Connection") {
			continue
		}
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}

// copyUpstreamHeaders copies every upstream header into dst, lowercasing
// names and comma-joining multi-valued headers (spec §4.6). It writes
// directly into the header map (bypassing Set/Add's canonicalization) so
// the lowercase names survive onto the wire.
func copyUpstreamHeaders(dst http.Header, src http.Header) {
	for k, values := range src {
		dst[strings.ToLower(k)] = []string{strings.Join(values, ", ")}
	}
}

type chunk struct {
	data []byte
	err  error
}

// streamBody copies body to w chunk by chunk, terminating on upstream EOF,
// on a client disconnect, or after chunkIdleTimeout of silence — whichever
// comes first. No total-duration cap is applied.
func (p *StreamingProxy) streamBody(w http.ResponseWriter, r *http.Request, body io.ReadCloser) error {
	flusher, _ := w.(http.Flusher)
	ch := make(chan chunk, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				select {
				case ch <- chunk{data: data}:
				case <-done:
					return
				}
			}
			if err != nil {
				select {
				case ch <- chunk{err: err}:
				case <-done:
				}
				return
			}
		}
	}()

	timer := time.NewTimer(p.chunkIdleTimeout)
	defer timer.Stop()

	for {
		select {
		case c := <-ch:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(p.chunkIdleTimeout)

			if len(c.data) > 0 {
				if _, werr := w.Write(c.data); werr != nil {
					return apierr.ErrProxyDisconnected
				}
				metrics.Global().RecordProxyBytes("down", len(c.data))
				if flusher != nil {
					flusher.Flush()
				}
			}
			if c.err != nil {
				if c.err == io.EOF {
					return nil
				}
				return c.err
			}
		case <-timer.C:
			return errChunkIdleTimeout
		case <-r.Context().Done():
			return apierr.ErrProxyDisconnected
		}
	}
}
