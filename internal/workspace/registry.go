package workspace

import (
	"context"
	"sync"
	"time"

	"github.com/workspacehq/gateway/internal/platform/metrics"
	"github.com/workspacehq/gateway/internal/store"
)

// Registry is the process-wide key -> Actor map (spec §3 invariant 1: at
// most one live actor per key at any time). GetOrCreate is the only way to
// obtain an actor; callers never construct one directly.
type Registry struct {
	mu     sync.Mutex
	actors map[Key]*Actor

	newProviderClient func() ProviderClient
	store             store.Store
	invalidator       Invalidator
	events            *EventLogger
	inactivityTimeout time.Duration
	reapGrace         time.Duration
}

// NewRegistry builds a Registry. newProviderClient is called once per actor
// (rather than sharing a single client) purely so tests can hand each
// fabricated actor a distinct fake.
func NewRegistry(newProviderClient func() ProviderClient, st store.Store, inv Invalidator, events *EventLogger, inactivityTimeout, reapGrace time.Duration) *Registry {
	return &Registry{
		actors:            make(map[Key]*Actor),
		newProviderClient: newProviderClient,
		store:             st,
		invalidator:       inv,
		events:            events,
		inactivityTimeout: inactivityTimeout,
		reapGrace:         reapGrace,
	}
}

// GetOrCreate returns the live actor for key, creating one under the
// registry lock if none exists yet. The lock only ever guards the map
// itself — actor state is never touched here.
func (r *Registry) GetOrCreate(key Key) *Actor {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.actors[key]; ok {
		return a
	}

	a := NewActor(key, instrumentProviderClient(r.newProviderClient()), r.store, r.invalidator, r.events, r.inactivityTimeout, r.reapGrace)
	r.actors[key] = a
	metrics.Global().SetActorsActive(len(r.actors))
	return a
}

// Get returns the live actor for key without creating one.
func (r *Registry) Get(key Key) (*Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actors[key]
	return a, ok
}

// Len reports the number of live actors, used by the /healthz registry
// check and by registry/reaper tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}

// Keys returns a snapshot of all known keys, used by the reaper sweep.
func (r *Registry) Keys() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, len(r.actors))
	for k := range r.actors {
		keys = append(keys, k)
	}
	return keys
}

// tryEvictIdle asks key's actor to evict itself (see Actor.TryEvict) and,
// only if it agrees, drops it from the map. The eligibility check and the
// actor's self-close happen in one round trip through its own serialized
// inbox, so a concurrent EnsureMachine that reactivates the actor is
// always resolved before (or instead of) the eviction — unlike an
// external Snapshot-then-evict, which can race a machine back to life in
// the gap between the two calls.
func (r *Registry) tryEvictIdle(ctx context.Context, key Key) bool {
	r.mu.Lock()
	a, ok := r.actors[key]
	r.mu.Unlock()
	if !ok {
		return false
	}

	evicted, err := a.TryEvict(ctx)
	if err != nil || !evicted {
		return false
	}

	r.mu.Lock()
	if cur, ok := r.actors[key]; ok && cur == a {
		delete(r.actors, key)
	}
	remaining := len(r.actors)
	r.mu.Unlock()
	metrics.Global().SetActorsActive(remaining)
	return true
}

// evict unconditionally drops key from the map and stops its actor
// goroutine, regardless of current state. Used directly by callers that
// already know eviction is safe (tests); the reaper uses tryEvictIdle
// instead so the suspended-past-grace check and the close happen
// atomically against concurrent activity.
func (r *Registry) evict(key Key) {
	r.mu.Lock()
	a, ok := r.actors[key]
	if ok {
		delete(r.actors, key)
	}
	remaining := len(r.actors)
	r.mu.Unlock()
	if ok {
		metrics.Global().SetActorsActive(remaining)
		a.Close()
	}
}
