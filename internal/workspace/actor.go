package workspace

import (
	"context"
	"time"

	"github.com/workspacehq/gateway/internal/backoff"
	"github.com/workspacehq/gateway/internal/platform/apierr"
	"github.com/workspacehq/gateway/internal/provider"
	"github.com/workspacehq/gateway/internal/store"
)

const (
	createCallTimeout = 20 * time.Second
	startCallTimeout  = 10 * time.Second
	stopCallTimeout   = 10 * time.Second
	listCallTimeout   = 10 * time.Second
	machineOpTimeout  = 5 * time.Second
	defaultReapGrace  = 2 * time.Hour
)

// ProviderClient is the subset of the Provider Client the actor needs. It is
// an interface (rather than a concrete *provider.Client) so tests can
// substitute a fake without a network round trip.
type ProviderClient interface {
	CreateMachine(ctx context.Context, override map[string]interface{}) (string, error)
	StartMachine(ctx context.Context, id string) error
	StopMachine(ctx context.Context, id string) error
	GetMachine(ctx context.Context, id string) (provider.Machine, error)
	ListMachines(ctx context.Context) ([]provider.Machine, error)
}

// Invalidator drops a cached record on suspend, satisfied by
// *store.CachedStore. Plain FileStore usage leaves this nil.
type Invalidator interface {
	Invalidate(key store.Key)
}

// MachineOp is an operation run against a live machine by MachineRequest —
// e.g. an HTTP call to the machine's internal API. The actor never
// interprets the operation itself; it only classifies its error and drives
// the Start+Retry recovery path around it (spec §4.4).
type MachineOp func(ctx context.Context, machineID string) error

// Snapshot is a point-in-time, read-only view of actor state for tests and
// other observers; the registry reaper decides eviction through TryEvict
// instead.
type Snapshot struct {
	MachineID   string
	Suspended   bool
	SuspendedAt time.Time
}

type reqKind int

const (
	reqGetMachineID reqKind = iota
	reqEnsureMachine
	reqSuspend
	reqMachineRequest
	reqSnapshot
	reqInactivityFired
	reqTryEvict
)

type actorReq struct {
	kind  reqKind
	op    MachineOp
	seq   uint64
	reply chan actorRes
}

type actorRes struct {
	machineID string
	err       error
	snapshot  Snapshot
	evicted   bool
}

// Actor is the per-(session,user,repo) serialized lifecycle owner from
// spec §4.4. All mutable state is touched only inside run(), its single
// consuming goroutine — this is the "one mutation at a time per key" lock
// the spec calls for, implemented without a mutex.
type Actor struct {
	key Key

	providerClient ProviderClient
	store          store.Store
	invalidator    Invalidator
	events         *EventLogger
	retryConfig    backoff.Config

	inactivityTimeout time.Duration
	reapGrace         time.Duration

	inbox  chan actorReq
	closed chan struct{}

	// run()-goroutine-owned state:
	machineID    string
	timer        *time.Timer
	timerSeq     uint64
	suspendedAt  time.Time
	pending      bool
	lastSnapshot Snapshot
}

// NewActor constructs an Actor and starts its serving goroutine. Callers
// obtain actors through Registry.GetOrCreate, never directly, so that the
// one-actor-per-key invariant (spec §3 invariant 1) holds process-wide.
func NewActor(key Key, pc ProviderClient, st store.Store, inv Invalidator, events *EventLogger, inactivityTimeout time.Duration, reapGrace time.Duration) *Actor {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	if reapGrace <= 0 {
		reapGrace = defaultReapGrace
	}

	a := &Actor{
		key:               key,
		providerClient:    pc,
		store:             st,
		invalidator:       inv,
		events:            events,
		retryConfig:       backoff.DefaultConfig(),
		inactivityTimeout: inactivityTimeout,
		reapGrace:         reapGrace,
		inbox:             make(chan actorReq),
		closed:            make(chan struct{}),
	}
	go a.run()
	return a
}

// Close stops the actor's goroutine. Actors are long-lived by default
// (spec §3 Lifecycle); Close is only used by Registry.evict and by tests.
// The reaper's eviction path stops the actor from inside its own loop (see
// TryEvict) rather than through Close.
func (a *Actor) Close() {
	close(a.closed)
}

func (a *Actor) run() {
	for {
		select {
		case r := <-a.inbox:
			a.pending = true
			a.dispatch(r)
			a.pending = false
		case <-a.closed:
			if a.timer != nil {
				a.timer.Stop()
			}
			return
		}
	}
}

func (a *Actor) dispatch(r actorReq) {
	switch r.kind {
	case reqGetMachineID:
		a.handleGetMachineID(r)
	case reqEnsureMachine:
		a.handleEnsureMachine(r)
	case reqSuspend:
		a.handleSuspend(r)
	case reqMachineRequest:
		a.handleMachineRequest(r)
	case reqSnapshot:
		a.handleSnapshot(r)
	case reqInactivityFired:
		a.handleInactivityFired(r)
	case reqTryEvict:
		a.handleTryEvict(r)
	}
}

func (a *Actor) reply(r actorReq, id string, err error) {
	if r.reply != nil {
		r.reply <- actorRes{machineID: id, err: err}
	}
}

// call sends r and blocks for a reply, subject to ctx's deadline. Per spec
// §5 Cancellation, an expired ctx only makes the caller give up — the
// actor keeps processing r to completion regardless.
func (a *Actor) call(ctx context.Context, r actorReq) (string, error) {
	r.reply = make(chan actorRes, 1)
	select {
	case a.inbox <- r:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-a.closed:
		return "", apierr.ErrNoMachine
	}

	select {
	case out := <-r.reply:
		return out.machineID, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// GetMachineID returns the current machine id, or ErrNoMachine if none has
// been provisioned yet.
func (a *Actor) GetMachineID(ctx context.Context) (string, error) {
	return a.call(ctx, actorReq{kind: reqGetMachineID})
}

// EnsureMachine runs the spec §4.4 algorithm (reuse in-memory id, else
// adopt from the store, else adopt from ListMachines, else create) and
// arms the inactivity timer on every success path.
func (a *Actor) EnsureMachine(ctx context.Context) (string, error) {
	return a.call(ctx, actorReq{kind: reqEnsureMachine})
}

// Suspend stops the machine, keeping its id in memory for a later restart,
// and cancels the inactivity timer.
func (a *Actor) Suspend(ctx context.Context) (string, error) {
	return a.call(ctx, actorReq{kind: reqSuspend})
}

// MachineRequest forwards op to the live machine, recovering from a
// suspended/booting machine via Start+Retry (spec §4.4).
func (a *Actor) MachineRequest(ctx context.Context, op MachineOp) error {
	_, err := a.call(ctx, actorReq{kind: reqMachineRequest, op: op})
	return err
}

// Snapshot returns a read-only view of actor state, used by tests and by
// callers that only need to observe state, never to act on it.
func (a *Actor) Snapshot(ctx context.Context) (Snapshot, error) {
	_, err := a.call(ctx, actorReq{kind: reqSnapshot})
	if err != nil {
		return Snapshot{}, err
	}
	return a.lastSnapshot, nil
}

// TryEvict asks the actor's own serialized loop to check eligibility for
// eviction (suspended, and idle for at least its reap grace) and, if
// eligible, stop itself in that same step. Deciding and closing inside one
// inbox round trip (rather than an external Snapshot followed by a
// separate, later Close) means any EnsureMachine already queued ahead of
// this request is always applied first — the registry can never evict an
// actor a concurrent caller just reactivated.
func (a *Actor) TryEvict(ctx context.Context) (bool, error) {
	reply := make(chan actorRes, 1)
	r := actorReq{kind: reqTryEvict, reply: reply}

	select {
	case a.inbox <- r:
	case <-ctx.Done():
		return false, ctx.Err()
	case <-a.closed:
		return false, nil
	}

	select {
	case out := <-reply:
		return out.evicted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (a *Actor) handleGetMachineID(r actorReq) {
	if a.machineID == "" {
		a.reply(r, "", apierr.ErrNoMachine)
		return
	}
	a.reply(r, a.machineID, nil)
}

func (a *Actor) handleEnsureMachine(r actorReq) {
	if a.machineID != "" {
		a.armTimer()
		a.reply(r, a.machineID, nil)
		return
	}

	if rec, err := a.store.Load(a.key); err == nil && rec.MachineID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), startCallTimeout)
		startErr := a.providerClient.StartMachine(ctx, rec.MachineID)
		cancel()
		if startErr == nil {
			a.adopt(rec.MachineID)
			a.events.transition(a.key, "adopted_from_store", rec.MachineID)
			a.armTimer()
			a.reply(r, a.machineID, nil)
			return
		}
		a.events.errorEvent(a.key, "start_from_store_failed", startErr)
	}

	listCtx, listCancel := context.WithTimeout(context.Background(), listCallTimeout)
	machines, listErr := a.providerClient.ListMachines(listCtx)
	listCancel()
	if listErr == nil {
		if match, ok := provider.FindByWorkspace(machines, a.key.User, a.key.Repo); ok && match.ID != "" {
			a.adopt(match.ID)
			a.saveRecord()
			a.events.transition(a.key, "adopted_from_list", match.ID)
			a.armTimer()
			a.reply(r, a.machineID, nil)
			return
		}
	} else {
		a.events.errorEvent(a.key, "list_machines_failed", listErr)
	}

	createCtx, createCancel := context.WithTimeout(context.Background(), createCallTimeout)
	id, createErr := a.providerClient.CreateMachine(createCtx, provider.WorkspaceOverride(a.key.User, a.key.Repo))
	createCancel()
	if createErr != nil {
		a.events.errorEvent(a.key, "create_failed", createErr)
		a.reply(r, "", createErr)
		return
	}

	a.adopt(id)
	a.saveRecord()
	a.events.transition(a.key, "created", id)
	a.armTimer()
	a.reply(r, a.machineID, nil)
}

func (a *Actor) handleSuspend(r actorReq) {
	if a.machineID == "" {
		a.reply(r, "", apierr.ErrNoMachine)
		return
	}

	id := a.machineID
	ctx, cancel := context.WithTimeout(context.Background(), stopCallTimeout)
	err := a.providerClient.StopMachine(ctx, id)
	cancel()

	if err != nil {
		a.events.errorEvent(a.key, "suspend_failed", err)
		a.armTimer()
		a.reply(r, id, err)
		return
	}

	a.cancelTimer()
	a.suspendedAt = time.Now()

	a.events.transition(a.key, "suspended", id)
	if a.invalidator != nil {
		a.invalidator.Invalidate(a.key)
	}
	a.reply(r, id, nil)
}

func (a *Actor) handleMachineRequest(r actorReq) {
	if a.machineID == "" {
		a.reply(r, "", apierr.ErrNoMachine)
		return
	}
	id := a.machineID

	ctx, cancel := context.WithTimeout(context.Background(), machineOpTimeout)
	err := r.op(ctx, id)
	cancel()

	if err == nil {
		a.armTimer()
		a.reply(r, id, nil)
		return
	}

	if !apierr.IsTransientNetwork(err) && !apierr.IsTimeout(err) {
		a.reply(r, "", err)
		return
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), startCallTimeout)
	startErr := a.providerClient.StartMachine(startCtx, id)
	startCancel()
	if startErr != nil {
		a.events.errorEvent(a.key, "recovery_start_failed", startErr)
		a.reply(r, "", err)
		return
	}

	retryErr := backoff.Retry(context.Background(), func() error {
		rctx, rcancel := context.WithTimeout(context.Background(), machineOpTimeout)
		defer rcancel()
		return r.op(rctx, id)
	}, func(e error) bool {
		return apierr.IsTransientNetwork(e) || apierr.IsTimeout(e)
	}, a.retryConfig)

	if retryErr != nil {
		a.reply(r, "", retryErr)
		return
	}

	a.armTimer()
	a.reply(r, id, nil)
}

func (a *Actor) handleSnapshot(r actorReq) {
	a.lastSnapshot = Snapshot{
		MachineID:   a.machineID,
		Suspended:   a.machineID != "" && a.timer == nil,
		SuspendedAt: a.suspendedAt,
	}
	a.reply(r, a.machineID, nil)
}

func (a *Actor) handleTryEvict(r actorReq) {
	suspended := a.machineID != "" && a.timer == nil
	if !suspended || time.Since(a.suspendedAt) < a.reapGrace {
		if r.reply != nil {
			r.reply <- actorRes{evicted: false}
		}
		return
	}

	if r.reply != nil {
		r.reply <- actorRes{evicted: true}
	}
	close(a.closed)
}

func (a *Actor) handleInactivityFired(r actorReq) {
	if r.seq != a.timerSeq {
		return // stale fire: superseded by a reset or a manual Suspend
	}
	if a.machineID == "" {
		return
	}

	id := a.machineID
	ctx, cancel := context.WithTimeout(context.Background(), stopCallTimeout)
	err := a.providerClient.StopMachine(ctx, id)
	cancel()

	if err != nil {
		a.events.errorEvent(a.key, "auto_suspend_failed", err)
		a.armTimer()
		return
	}

	a.timer = nil
	a.suspendedAt = time.Now()

	a.events.transition(a.key, "auto_suspended", id)
	if a.invalidator != nil {
		a.invalidator.Invalidate(a.key)
	}
}

func (a *Actor) adopt(id string) {
	a.machineID = id
}

func (a *Actor) saveRecord() {
	if err := a.store.Save(a.key, store.Record{MachineID: a.machineID}); err != nil {
		a.events.errorEvent(a.key, "store_save_failed", err)
	}
}

// armTimer (re)starts the inactivity timer, invariant 3 of spec §3: a
// non-null timer implies machine_id != empty.
func (a *Actor) armTimer() {
	a.cancelTimerLocked()

	a.timerSeq++
	seq := a.timerSeq
	inbox := a.inbox
	closed := a.closed

	a.timer = time.AfterFunc(a.inactivityTimeout, func() {
		select {
		case inbox <- actorReq{kind: reqInactivityFired, seq: seq}:
		case <-closed:
		}
	})
}

func (a *Actor) cancelTimer() {
	a.cancelTimerLocked()
}

func (a *Actor) cancelTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.timerSeq++
}
