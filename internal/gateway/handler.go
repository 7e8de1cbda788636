package gateway

import (
	"fmt"
	"net/http"

	"github.com/workspacehq/gateway/internal/auth"
	"github.com/workspacehq/gateway/internal/platform/logging"
	"github.com/workspacehq/gateway/internal/workspace"
)

// ProxyHandler forwards an authenticated workspace request to its machine.
// Implemented by *proxy.StreamingProxy.
type ProxyHandler interface {
	ServeWorkspace(w http.ResponseWriter, r *http.Request, key workspace.Key)
}

// Handler is the outermost HTTP entrypoint (spec §4.5): it classifies the
// host, and either dispatches to the proxy (after authentication) or falls
// through to the application router.
type Handler struct {
	authenticator Authenticator
	proxy         ProxyHandler
	fallback      http.Handler
	baseDomain    string
	logger        *logging.Logger
}

// Authenticator is the subset of auth.Authenticator the handler depends on
// — re-declared here (rather than importing the concrete type) so gateway
// only depends on the interface, per spec §6.1.
type Authenticator interface {
	Authenticate(r *http.Request) (principal string, ok bool)
}

var _ Authenticator = (*auth.JWTAuthenticator)(nil)

// NewHandler builds the gateway entrypoint.
func NewHandler(authenticator Authenticator, proxy ProxyHandler, fallback http.Handler, baseDomain string, logger *logging.Logger) *Handler {
	return &Handler{
		authenticator: authenticator,
		proxy:         proxy,
		fallback:      fallback,
		baseDomain:    baseDomain,
		logger:        logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host, port := splitHostPort(r.Host)
	classification := Classify(host)

	switch classification.Kind {
	case KindNotWorkspace:
		h.fallback.ServeHTTP(w, r)
		return
	case KindUnparseable:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintln(w, "unparseable workspace subdomain")
		return
	}

	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}

	_, ok := h.authenticator.Authenticate(r)
	if !ok {
		redirectHost := classification.BaseHost
		if port != "" {
			redirectHost = redirectHost + ":" + port
		}
		http.Redirect(w, r, fmt.Sprintf("%s://%s/auth/github", scheme, redirectHost), http.StatusFound)
		return
	}

	cookieDomain := ""
	if h.baseDomain != "" {
		cookieDomain = "." + h.baseDomain
	}
	sessionID, err := EnsureSessionCookie(w, r, cookieDomain, scheme == "https")
	if err != nil {
		h.logger.WithError(err).Error("failed to generate session cookie")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	key := workspace.Key{SessionID: sessionID, User: classification.User, Repo: classification.Repo}
	if err := key.Validate(); err != nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintln(w, "unparseable workspace subdomain")
		return
	}

	h.proxy.ServeWorkspace(w, r, key)
}

func splitHostPort(hostport string) (host, port string) {
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i], hostport[i+1:]
		}
		if hostport[i] == ']' {
			break
		}
	}
	return hostport, ""
}
