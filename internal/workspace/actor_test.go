package workspace

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/workspacehq/gateway/internal/platform/apierr"
	"github.com/workspacehq/gateway/internal/provider"
	"github.com/workspacehq/gateway/internal/store"
)

// fakeProvider is a scripted ProviderClient used across the actor test
// suite; each method call increments a counter so tests can assert on
// call counts without a network round trip.
type fakeProvider struct {
	mu sync.Mutex

	createCalls int
	startCalls  int
	stopCalls   int
	listCalls   int

	createID  string
	createErr error
	startErr  error
	stopErr   error
	listResp  []provider.Machine
	listErr   error
}

func (f *fakeProvider) CreateMachine(ctx context.Context, override map[string]interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.createID == "" {
		f.createID = "m_created"
	}
	return f.createID, nil
}

func (f *fakeProvider) StartMachine(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startErr
}

func (f *fakeProvider) StopMachine(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeProvider) GetMachine(ctx context.Context, id string) (provider.Machine, error) {
	return provider.Machine{ID: id}, nil
}

func (f *fakeProvider) ListMachines(ctx context.Context) ([]provider.Machine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.listResp, f.listErr
}

type memStore struct {
	mu      sync.Mutex
	records map[store.Key]store.Record
}

func newMemStore() *memStore { return &memStore{records: make(map[store.Key]store.Record)} }

func (m *memStore) Load(key store.Key) (store.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return store.Record{}, &apierr.StoreError{Kind: apierr.StoreKindNotFound}
	}
	return rec, nil
}

func (m *memStore) Save(key store.Key, rec store.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = rec
	return nil
}

func testKey() Key {
	return Key{SessionID: "sess1", User: "alice", Repo: "demo"}
}

func newTestActor(pc ProviderClient, st store.Store, timeout time.Duration) *Actor {
	a := NewActor(testKey(), pc, st, nil, NewEventLogger(), timeout, time.Hour)
	return a
}

func TestEnsureMachine_CreatesWhenNothingKnown(t *testing.T) {
	pc := &fakeProvider{}
	st := newMemStore()
	a := newTestActor(pc, st, time.Minute)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	id, err := a.EnsureMachine(ctx)
	if err != nil {
		t.Fatalf("EnsureMachine() error = %v", err)
	}
	if id != "m_created" {
		t.Fatalf("id = %q, want m_created", id)
	}
	if pc.createCalls != 1 {
		t.Fatalf("createCalls = %d, want 1", pc.createCalls)
	}

	rec, err := st.Load(testKey())
	if err != nil || rec.MachineID != id {
		t.Fatalf("store record = %+v, err = %v, want MachineID %q", rec, err, id)
	}
}

func TestEnsureMachine_ConcurrentCallsDedupeToOneCreate(t *testing.T) {
	pc := &fakeProvider{}
	st := newMemStore()
	a := newTestActor(pc, st, time.Minute)
	defer a.Close()

	const n = 20
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			ids[i], errs[i] = a.EnsureMachine(ctx)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: error = %v", i, errs[i])
		}
		if ids[i] != "m_created" {
			t.Fatalf("call %d: id = %q, want m_created", i, ids[i])
		}
	}
	if pc.createCalls != 1 {
		t.Fatalf("createCalls = %d, want exactly 1 — concurrent EnsureMachine calls must serialize", pc.createCalls)
	}
}

func TestEnsureMachine_AdoptsFromStoreViaStart(t *testing.T) {
	pc := &fakeProvider{}
	st := newMemStore()
	st.Save(testKey(), store.Record{MachineID: "m_existing"})
	a := newTestActor(pc, st, time.Minute)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := a.EnsureMachine(ctx)
	if err != nil {
		t.Fatalf("EnsureMachine() error = %v", err)
	}
	if id != "m_existing" {
		t.Fatalf("id = %q, want m_existing", id)
	}
	if pc.startCalls != 1 || pc.createCalls != 0 {
		t.Fatalf("startCalls = %d createCalls = %d, want 1/0", pc.startCalls, pc.createCalls)
	}
}

func TestEnsureMachine_AdoptsFromListWhenStartFails(t *testing.T) {
	pc := &fakeProvider{
		startErr: apierr.NewProviderError(apierr.KindNotFound, "gone", nil),
		listResp: []provider.Machine{
			{ID: "m_listed", Env: map[string]string{"USERNAME": "alice", "REPO_NAME": "demo"}},
		},
	}
	st := newMemStore()
	st.Save(testKey(), store.Record{MachineID: "m_existing"})
	a := newTestActor(pc, st, time.Minute)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := a.EnsureMachine(ctx)
	if err != nil {
		t.Fatalf("EnsureMachine() error = %v", err)
	}
	if id != "m_listed" {
		t.Fatalf("id = %q, want m_listed", id)
	}
	if pc.createCalls != 0 {
		t.Fatalf("createCalls = %d, want 0", pc.createCalls)
	}
}

func TestSuspend_ClearsTimerKeepsMachineID(t *testing.T) {
	pc := &fakeProvider{}
	st := newMemStore()
	a := newTestActor(pc, st, time.Minute)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := a.EnsureMachine(ctx); err != nil {
		t.Fatalf("EnsureMachine() error = %v", err)
	}

	if _, err := a.Suspend(ctx); err != nil {
		t.Fatalf("Suspend() error = %v", err)
	}
	if pc.stopCalls != 1 {
		t.Fatalf("stopCalls = %d, want 1", pc.stopCalls)
	}

	snap, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !snap.Suspended || snap.MachineID == "" {
		t.Fatalf("snapshot = %+v, want Suspended with MachineID retained", snap)
	}
}

func TestSuspend_FailedStopDoesNotMarkSuspended(t *testing.T) {
	pc := &fakeProvider{stopErr: errors.New("provider unavailable")}
	st := newMemStore()
	a := newTestActor(pc, st, time.Minute)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := a.EnsureMachine(ctx); err != nil {
		t.Fatalf("EnsureMachine() error = %v", err)
	}

	if _, err := a.Suspend(ctx); err == nil {
		t.Fatal("Suspend() error = nil, want provider error to propagate")
	}

	snap, err := a.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Suspended {
		t.Fatalf("snapshot = %+v, want Suspended=false after a failed stop", snap)
	}
	if snap.MachineID == "" {
		t.Fatal("machine id was cleared after a failed stop")
	}
}

func TestInactivityTimer_AutoSuspendsAfterTimeout(t *testing.T) {
	pc := &fakeProvider{}
	st := newMemStore()
	a := newTestActor(pc, st, 30*time.Millisecond)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := a.EnsureMachine(ctx); err != nil {
		t.Fatalf("EnsureMachine() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := a.Snapshot(ctx)
		if err == nil && snap.Suspended {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("actor did not auto-suspend within deadline")
}

func TestMachineRequest_RecoversViaStartAndRetry(t *testing.T) {
	pc := &fakeProvider{}
	st := newMemStore()
	a := newTestActor(pc, st, time.Minute)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := a.EnsureMachine(ctx); err != nil {
		t.Fatalf("EnsureMachine() error = %v", err)
	}

	var attempts int32
	op := func(opCtx context.Context, machineID string) error {
		n := atomic.AddInt32(&attempts, 1)
		if n == 1 {
			return apierr.NewProviderError(apierr.KindTransientNetwork, "dial refused", errors.New("connection refused"))
		}
		return nil
	}

	if err := a.MachineRequest(ctx, op); err != nil {
		t.Fatalf("MachineRequest() error = %v", err)
	}
	if attempts < 2 {
		t.Fatalf("attempts = %d, want >= 2 (recovery retry)", attempts)
	}
	if pc.startCalls != 1 {
		t.Fatalf("startCalls = %d, want 1 (recovery Start)", pc.startCalls)
	}
}

func TestMachineRequest_NonTransientErrorDoesNotTriggerRecovery(t *testing.T) {
	pc := &fakeProvider{}
	st := newMemStore()
	a := newTestActor(pc, st, time.Minute)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := a.EnsureMachine(ctx); err != nil {
		t.Fatalf("EnsureMachine() error = %v", err)
	}

	wantErr := apierr.NewProviderError(apierr.KindClientError, "bad request", nil)
	op := func(opCtx context.Context, machineID string) error { return wantErr }

	err := a.MachineRequest(ctx, op)
	if !errors.Is(err, wantErr) && err != wantErr {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if pc.startCalls != 0 {
		t.Fatalf("startCalls = %d, want 0 — non-transient errors must not trigger recovery", pc.startCalls)
	}
}

func TestGetMachineID_NoMachineIsErrNoMachine(t *testing.T) {
	pc := &fakeProvider{}
	st := newMemStore()
	a := newTestActor(pc, st, time.Minute)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := a.GetMachineID(ctx)
	if !errors.Is(err, apierr.ErrNoMachine) {
		t.Fatalf("err = %v, want ErrNoMachine", err)
	}
}
