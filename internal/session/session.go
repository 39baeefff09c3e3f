// Package session resolves inbound HTTP requests to authenticated user ids.
//
// Token issuance, password flows, and session storage live in the main web
// application; this package only verifies the signed token it sets.
package session

import (
	"errors"
	"net/http"
)

// ErrNoSession means the request carries no valid session token.
var ErrNoSession = errors.New("session: no valid session")

// DefaultCookie is the cookie name the web application stores its token in.
const DefaultCookie = "token"

// Verifier resolves a request to the authenticated user id.
// Handlers depend on this interface so tests can inject a fake.
type Verifier interface {
	UserID(r *http.Request) (int64, error)
}
