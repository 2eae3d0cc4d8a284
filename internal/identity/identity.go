// Package identity defines the pluggable token-verification boundary (§4.6
// C8, §6 "Identity callback"). The core never issues tokens or owns user
// registration; it only ever calls Verify with a bearer token handed to it
// at connect time.
package identity

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned by Verify when the token is missing,
// malformed, or rejected.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// Identity is the opaque user identity a successful verification yields.
type Identity struct {
	UserID   string
	Username string
}

// Verifier validates a bearer token and returns the identity it names.
// Deployments that already have their own auth facade implement this
// directly; internal/hub and internal/wsconn depend only on this interface.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
