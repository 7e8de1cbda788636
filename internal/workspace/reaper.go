package workspace

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/workspacehq/gateway/internal/platform/logging"
	"github.com/workspacehq/gateway/internal/platform/metrics"
)

const reaperCallTimeout = 5 * time.Second

// Reaper periodically drops actors that have been suspended for longer
// than the registry's reapGrace, bounding process memory for a gateway
// that has served many distinct (session, user, repo) combinations over
// its lifetime (spec §4.4, "Idle actor eviction").
//
// Evicting an actor only discards its in-memory state; the machine id is
// already durable in the Store, so a later request simply re-adopts it via
// EnsureMachine's ListMachines/Store fallback instead of creating a new
// machine.
type Reaper struct {
	registry *Registry
	cron     *cron.Cron
	logger   *logging.Logger
}

// NewReaper builds a Reaper that sweeps on the given cron schedule (e.g.
// "@every 5m").
func NewReaper(registry *Registry, schedule string, logger *logging.Logger) (*Reaper, error) {
	c := cron.New()
	r := &Reaper{registry: registry, cron: c, logger: logger}

	if _, err := c.AddFunc(schedule, r.sweep); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the cron schedule in the background.
func (r *Reaper) Start() { r.cron.Start() }

// Stop halts the cron schedule, waiting for any in-flight sweep to finish.
func (r *Reaper) Stop() { <-r.cron.Stop().Done() }

func (r *Reaper) sweep() {
	keys := r.registry.Keys()
	reaped := 0

	for _, key := range keys {
		ctx, cancel := context.WithTimeout(context.Background(), reaperCallTimeout)
		evicted := r.registry.tryEvictIdle(ctx, key)
		cancel()
		if !evicted {
			continue
		}

		metrics.Global().RecordReap()
		reaped++
	}

	if reaped > 0 {
		r.logger.WithFields(map[string]interface{}{"count": reaped}).Info("reaped idle workspace actors")
	}
}
