package middleware

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/workspacehq/gateway/internal/platform/logging"
)

// GracefulShutdown coordinates server shutdown: it runs registered
// callbacks (e.g. stopping the workspace reaper), then stops accepting new
// connections and waits out any in-flight streaming proxy responses up to
// timeout.
type GracefulShutdown struct {
	mu           sync.Mutex
	server       *http.Server
	logger       *logging.Logger
	timeout      time.Duration
	shutdownChan chan struct{}
	callbacks    []func()
}

// NewGracefulShutdown creates a new graceful shutdown manager.
func NewGracefulShutdown(server *http.Server, logger *logging.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{
		server:       server,
		logger:       logger,
		timeout:      timeout,
		shutdownChan: make(chan struct{}),
	}
}

// OnShutdown registers a callback to run during shutdown, e.g. stopping the
// workspace reaper.
func (g *GracefulShutdown) OnShutdown(callback func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, callback)
}

// ListenForSignals starts listening for SIGINT/SIGTERM/SIGQUIT and triggers
// Shutdown on receipt.
func (g *GracefulShutdown) ListenForSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		g.logger.WithFields(map[string]interface{}{"signal": sig.String()}).Info("received shutdown signal")
		g.Shutdown()
	}()
}

// Shutdown runs registered callbacks and stops the HTTP server, allowing
// in-flight requests (including streaming proxy responses) up to timeout
// to complete.
func (g *GracefulShutdown) Shutdown() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, callback := range g.callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					g.logger.WithFields(map[string]interface{}{"panic": r}).Error("panic in shutdown callback")
				}
			}()
			callback()
		}()
	}

	if g.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.WithContext(ctx).WithError(err).Error("error during server shutdown")
		}
	}

	close(g.shutdownChan)
}

// Wait blocks until shutdown has completed.
func (g *GracefulShutdown) Wait() {
	<-g.shutdownChan
}
