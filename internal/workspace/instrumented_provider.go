package workspace

import (
	"context"
	"time"

	"github.com/workspacehq/gateway/internal/backoff"
	"github.com/workspacehq/gateway/internal/platform/metrics"
	"github.com/workspacehq/gateway/internal/provider"
)

// providerBreaker is shared across every actor's instrumented client: it is
// the same downstream compute provider API regardless of which workspace is
// calling it, so a provider-wide outage should open one breaker rather than
// each actor separately exhausting its own retry budget against a dead API.
var providerBreaker = backoff.NewCircuitBreaker(backoff.DefaultCircuitBreakerConfig())

// instrumentedProviderClient wraps a ProviderClient so every call is
// recorded against the gateway_provider_calls_total /
// gateway_provider_call_duration_seconds metrics and protected by a shared
// circuit breaker, without requiring every actor handler to remember to do
// either itself.
type instrumentedProviderClient struct {
	inner ProviderClient
}

func instrumentProviderClient(inner ProviderClient) ProviderClient {
	return &instrumentedProviderClient{inner: inner}
}

func recordCall(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.Global().RecordProviderCall(op, status, time.Since(start))
}

func (c *instrumentedProviderClient) CreateMachine(ctx context.Context, override map[string]interface{}) (string, error) {
	start := time.Now()
	var id string
	err := providerBreaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		id, innerErr = c.inner.CreateMachine(ctx, override)
		return innerErr
	})
	recordCall("create_machine", start, err)
	return id, err
}

func (c *instrumentedProviderClient) StartMachine(ctx context.Context, id string) error {
	start := time.Now()
	err := providerBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.inner.StartMachine(ctx, id)
	})
	recordCall("start_machine", start, err)
	return err
}

func (c *instrumentedProviderClient) StopMachine(ctx context.Context, id string) error {
	start := time.Now()
	err := providerBreaker.Execute(ctx, func(ctx context.Context) error {
		return c.inner.StopMachine(ctx, id)
	})
	recordCall("stop_machine", start, err)
	return err
}

func (c *instrumentedProviderClient) GetMachine(ctx context.Context, id string) (provider.Machine, error) {
	start := time.Now()
	var m provider.Machine
	err := providerBreaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		m, innerErr = c.inner.GetMachine(ctx, id)
		return innerErr
	})
	recordCall("get_machine", start, err)
	return m, err
}

func (c *instrumentedProviderClient) ListMachines(ctx context.Context) ([]provider.Machine, error) {
	start := time.Now()
	var machines []provider.Machine
	err := providerBreaker.Execute(ctx, func(ctx context.Context) error {
		var innerErr error
		machines, innerErr = c.inner.ListMachines(ctx)
		return innerErr
	})
	recordCall("list_machines", start, err)
	return machines, err
}
