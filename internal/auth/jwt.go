// Package auth provides the narrow Authenticator the Subdomain Router
// depends on. The real login flow (e.g. GitHub OAuth) is explicitly out of
// scope (spec §1); this package only verifies a session JWT another system
// is assumed to have issued.
package auth

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator decides whether a request carries a valid principal. It is
// the entire contract the Subdomain Router needs — swapping in a real
// OAuth-backed implementation later requires no change to the router.
type Authenticator interface {
	Authenticate(r *http.Request) (principal string, ok bool)
}

// JWTAuthenticator verifies a configured cookie against an HMAC secret. It
// issues nothing: there is no login handler here, only verification.
type JWTAuthenticator struct {
	cookieName string
	secret     []byte
}

// NewJWTAuthenticator builds a JWTAuthenticator reading cookieName and
// validating with secret.
func NewJWTAuthenticator(cookieName string, secret []byte) *JWTAuthenticator {
	return &JWTAuthenticator{cookieName: cookieName, secret: secret}
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Principal string `json:"principal"`
}

// Authenticate reports the principal carried by a valid, unexpired session
// cookie. Any parse or validation failure is treated as "no principal" —
// the router's response to that is a redirect, never a 401.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(a.cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	if claims.Principal == "" {
		return "", false
	}
	return claims.Principal, true
}
