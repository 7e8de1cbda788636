package gateway

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/workspacehq/gateway/internal/platform/logging"
	"github.com/workspacehq/gateway/internal/workspace"
)

type fakeAuthenticator struct {
	ok        bool
	principal string
}

func (f fakeAuthenticator) Authenticate(r *http.Request) (string, bool) {
	return f.principal, f.ok
}

type fakeProxy struct {
	calledWith *workspace.Key
}

func (f *fakeProxy) ServeWorkspace(w http.ResponseWriter, r *http.Request, key workspace.Key) {
	k := key
	f.calledWith = &k
	w.WriteHeader(http.StatusOK)
}

func TestHandler_NonWorkspaceHostFallsThrough(t *testing.T) {
	fallbackCalled := false
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { fallbackCalled = true })
	proxy := &fakeProxy{}
	h := NewHandler(fakeAuthenticator{ok: true, principal: "alice"}, proxy, fallback, "eureka.local", logging.New("test", "error", "text"))

	req := httptest.NewRequest(http.MethodGet, "http://www.eureka.local/", nil)
	req.Host = "www.eureka.local"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !fallbackCalled {
		t.Fatal("expected fallback handler to be invoked for non-workspace host")
	}
	if proxy.calledWith != nil {
		t.Fatal("proxy should not be invoked for non-workspace host")
	}
}

func TestHandler_UnauthenticatedRedirectsToAuth(t *testing.T) {
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	proxy := &fakeProxy{}
	h := NewHandler(fakeAuthenticator{ok: false}, proxy, fallback, "eureka.local", logging.New("test", "error", "text"))

	req := httptest.NewRequest(http.MethodGet, "http://alice--demo.eureka.local/", nil)
	req.Host = "alice--demo.eureka.local"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}
	loc := rec.Header().Get("Location")
	if loc != "http://eureka.local/auth/github" {
		t.Fatalf("Location = %q, want http://eureka.local/auth/github", loc)
	}
}

func TestHandler_AuthenticatedDispatchesToProxyAndSetsCookie(t *testing.T) {
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	proxy := &fakeProxy{}
	h := NewHandler(fakeAuthenticator{ok: true, principal: "alice"}, proxy, fallback, "eureka.local", logging.New("test", "error", "text"))

	req := httptest.NewRequest(http.MethodGet, "http://alice--demo.eureka.local/", nil)
	req.Host = "alice--demo.eureka.local"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if proxy.calledWith == nil || proxy.calledWith.User != "alice" || proxy.calledWith.Repo != "demo" {
		t.Fatalf("proxy called with %+v, want alice/demo", proxy.calledWith)
	}
	if proxy.calledWith.SessionID == "" {
		t.Fatal("session id was not generated")
	}

	found := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "workspace_session_id" {
			found = true
			if c.Domain != ".eureka.local" {
				t.Errorf("cookie domain = %q, want .eureka.local", c.Domain)
			}
		}
	}
	if !found {
		t.Fatal("workspace_session_id cookie was not set")
	}
}

func TestHandler_CookieSecureMatchesRequestScheme(t *testing.T) {
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	plainReq := httptest.NewRequest(http.MethodGet, "http://alice--demo.eureka.local/", nil)
	plainReq.Host = "alice--demo.eureka.local"
	plainRec := httptest.NewRecorder()
	h := NewHandler(fakeAuthenticator{ok: true, principal: "alice"}, &fakeProxy{}, fallback, "eureka.local", logging.New("test", "error", "text"))
	h.ServeHTTP(plainRec, plainReq)

	for _, c := range plainRec.Result().Cookies() {
		if c.Name == "workspace_session_id" && c.Secure {
			t.Fatal("cookie Secure = true for a plain HTTP request, want false")
		}
	}

	tlsReq := httptest.NewRequest(http.MethodGet, "https://alice--demo.eureka.local/", nil)
	tlsReq.Host = "alice--demo.eureka.local"
	tlsReq.TLS = &tls.ConnectionState{}
	tlsRec := httptest.NewRecorder()
	h.ServeHTTP(tlsRec, tlsReq)

	found := false
	for _, c := range tlsRec.Result().Cookies() {
		if c.Name == "workspace_session_id" {
			found = true
			if !c.Secure {
				t.Fatal("cookie Secure = false for a TLS request, want true")
			}
		}
	}
	if !found {
		t.Fatal("workspace_session_id cookie was not set")
	}
}

func TestHandler_UnparseableHostReturns502PlainText(t *testing.T) {
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	proxy := &fakeProxy{}
	h := NewHandler(fakeAuthenticator{ok: true, principal: "alice"}, proxy, fallback, "eureka.local", logging.New("test", "error", "text"))

	req := httptest.NewRequest(http.MethodGet, "http://alice--demo--extra.eureka.local/", nil)
	req.Host = "alice--demo--extra.eureka.local"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("Content-Type = %q, want text/plain", ct)
	}
}
