// Package errs defines the error-kind sum type used at every boundary (§7):
// Unauthenticated, Forbidden, NotFound, Transient, ProtocolViolation,
// Overloaded. internal/hub and internal/wsconn classify failures against
// these sentinels with errors.Is rather than inspecting error strings.
package errs

import "errors"

var (
	// ErrUnauthenticated means the bearer token was missing or rejected by
	// the identity gate. internal/wsconn checks the token before the
	// websocket upgrade and refuses it with HTTP 401, so no session is
	// opened and no error frame is sent for this kind.
	ErrUnauthenticated = errors.New("errs: unauthenticated")
	// ErrForbidden means the caller is not a member of the room or file's
	// owning room. The session stays open; the caller sees an error frame.
	ErrForbidden = errors.New("errs: forbidden")
	// ErrNotFound means the room or file named by the request does not
	// exist (or was deleted concurrently).
	ErrNotFound = errors.New("errs: not found")
	// ErrTransient means a store call failed after exhausting retries.
	ErrTransient = errors.New("errs: transient store failure")
	// ErrProtocolViolation means an inbound frame could not be parsed into
	// a known event, or carried a nonsensical payload for its event. The
	// session closes.
	ErrProtocolViolation = errors.New("errs: protocol violation")
	// ErrOverloaded means a peer's outbound queue was full; the caller
	// decides whether to drop the message or disconnect the peer (§4.4).
	ErrOverloaded = errors.New("errs: overloaded")
)

// Code maps an error kind to the wire error code sent in an {event:"error"}
// frame's data.code field.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrTransient):
		return "TRANSIENT"
	case errors.Is(err, ErrProtocolViolation):
		return "PROTOCOL_VIOLATION"
	case errors.Is(err, ErrOverloaded):
		return "OVERLOADED"
	default:
		return "INTERNAL"
	}
}
