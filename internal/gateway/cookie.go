package gateway

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"
)

const sessionCookieMaxAge = 86400 // 24h, per spec §6

// NewSessionID generates an opaque 16-byte, base64url (no padding) session
// identifier — the session_id fed to WorkspaceKey (spec §6).
func NewSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// EnsureSessionCookie reads workspace_session_id from r, generating and
// setting it on w if absent. cookieDomain is ".<base-domain>" in
// production, left empty on localhost (spec §6).
func EnsureSessionCookie(w http.ResponseWriter, r *http.Request, cookieDomain string, secure bool) (string, error) {
	if c, err := r.Cookie("workspace_session_id"); err == nil && c.Value != "" {
		return c.Value, nil
	}

	sessionID, err := NewSessionID()
	if err != nil {
		return "", err
	}

	cookie := &http.Cookie{
		Name:     "workspace_session_id",
		Value:    sessionID,
		Path:     "/",
		MaxAge:   sessionCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	}
	if cookieDomain != "" && !isLocalhost(cookieDomain) {
		cookie.Domain = cookieDomain
	}
	http.SetCookie(w, cookie)

	return sessionID, nil
}

func isLocalhost(host string) bool {
	return strings.Contains(host, "localhost")
}
