package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/workspacehq/gateway/internal/platform/apierr"
	"github.com/workspacehq/gateway/internal/platform/logging"
	"github.com/workspacehq/gateway/internal/provider"
	"github.com/workspacehq/gateway/internal/store"
	"github.com/workspacehq/gateway/internal/workspace"
)

type stubProviderClient struct{}

func (stubProviderClient) CreateMachine(ctx context.Context, override map[string]interface{}) (string, error) {
	return "m_stub", nil
}
func (stubProviderClient) StartMachine(ctx context.Context, id string) error { return nil }
func (stubProviderClient) StopMachine(ctx context.Context, id string) error  { return nil }
func (stubProviderClient) GetMachine(ctx context.Context, id string) (provider.Machine, error) {
	return provider.Machine{ID: id}, nil
}
func (stubProviderClient) ListMachines(ctx context.Context) ([]provider.Machine, error) {
	return nil, nil
}

type memStore struct{ records map[store.Key]store.Record }

func newMemStore() *memStore { return &memStore{records: map[store.Key]store.Record{}} }
func (m *memStore) Load(key store.Key) (store.Record, error) {
	rec, ok := m.records[key]
	if !ok {
		return store.Record{}, &apierr.StoreError{Kind: apierr.StoreKindNotFound}
	}
	return rec, nil
}
func (m *memStore) Save(key store.Key, rec store.Record) error {
	m.records[key] = rec
	return nil
}

type failingProviderClient struct{}

func (failingProviderClient) CreateMachine(ctx context.Context, override map[string]interface{}) (string, error) {
	return "", apierr.NewProviderError(apierr.KindServerError, "boom", nil)
}
func (failingProviderClient) StartMachine(ctx context.Context, id string) error { return nil }
func (failingProviderClient) StopMachine(ctx context.Context, id string) error  { return nil }
func (failingProviderClient) GetMachine(ctx context.Context, id string) (provider.Machine, error) {
	return provider.Machine{}, nil
}
func (failingProviderClient) ListMachines(ctx context.Context) ([]provider.Machine, error) {
	return nil, apierr.NewProviderError(apierr.KindServerError, "boom", nil)
}

func testKey() workspace.Key {
	return workspace.Key{SessionID: "s1", User: "alice", Repo: "demo"}
}

func newTestRegistry(pc workspace.ProviderClient) *workspace.Registry {
	return workspace.NewRegistry(func() workspace.ProviderClient { return pc }, newMemStore(), nil, workspace.NewEventLogger(), time.Minute, time.Hour)
}

func TestServeWorkspace_EnsureFailureRendersStartingPage(t *testing.T) {
	reg := newTestRegistry(failingProviderClient{})
	p := NewStreamingProxy(reg, Config{AppName: "testapp"}, logging.New("test", "error", "text"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	p.ServeWorkspace(rec, req, testKey())

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Fatalf("Content-Type = %q, want text/html", ct)
	}
}

func TestCopyForwardableHeaders_DropsHostAndConnection(t *testing.T) {
	src := http.Header{}
	src.Set("Host", "should-not-forward")
	src.Set("Connection", "keep-alive")
	src.Set("X-Custom", "value")

	dst := http.Header{}
	copyForwardableHeaders(dst, src)

	if dst.Get("Host") != "" || dst.Get("Connection") != "" {
		t.Fatal("Host/Connection headers must not be forwarded")
	}
	if dst.Get("X-Custom") != "value" {
		t.Fatal("X-Custom header was not forwarded")
	}
}

func TestCopyUpstreamHeaders_LowercasesAndJoinsMultiValue(t *testing.T) {
	src := http.Header{}
	src.Add("X-Trace-Id", "a")
	src.Add("X-Trace-Id", "b")

	dst := http.Header{}
	copyUpstreamHeaders(dst, src)

	vals, ok := dst["x-trace-id"]
	if !ok {
		t.Fatalf("dst = %v, want lowercase key x-trace-id", dst)
	}
	if len(vals) != 1 || vals[0] != "a, b" {
		t.Fatalf("vals = %v, want single comma-joined entry", vals)
	}
}

func TestServeWorkspace_ProvisionsAndForwardsToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	reg := newTestRegistry(stubProviderClient{})
	p := NewStreamingProxy(reg, Config{AppName: "testapp"}, logging.New("test", "error", "text"))

	// The store is empty, so EnsureMachine provisions m_stub through the stub
	// provider; forwarding itself is exercised directly against the test
	// upstream server rather than through the unresolvable *.vm.*.internal
	// hostname.
	p.client.Transport = roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		upstreamReq, _ := http.NewRequest(req.Method, upstream.URL+req.URL.RequestURI(), req.Body)
		upstreamReq.Header = req.Header
		return http.DefaultTransport.RoundTrip(upstreamReq)
	})

	req := httptest.NewRequest(http.MethodGet, "/x?y=1", nil)
	rec := httptest.NewRecorder()
	p.ServeWorkspace(rec, req, testKey())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if vals := rec.Header()["x-upstream"]; len(vals) != 1 || vals[0] != "yes" {
		t.Fatalf("headers = %v, want lowercased x-upstream", rec.Header())
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("body = %q, want hello", rec.Body.String())
	}
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestStreamBody_StopsOnClientDisconnect(t *testing.T) {
	reader, writer := io.Pipe()
	p := &StreamingProxy{chunkIdleTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() { done <- p.streamBody(rec, req, reader) }()

	writer.Write([]byte("chunk"))
	cancel()

	select {
	case err := <-done:
		if err != apierr.ErrProxyDisconnected {
			t.Fatalf("err = %v, want ErrProxyDisconnected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("streamBody did not stop within timeout of client disconnect")
	}
	writer.Close()
}
