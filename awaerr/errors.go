// Package awaerr defines the caller-visible error kinds the core
// surfaces. The core never wraps these in its own framework; callers
// are expected to switch on errors.Is against the sentinels below (or
// on the concrete Unexpected/Negotiation types for extra detail).
package awaerr

import "errors"

// NeedMore is not an error condition: it signals that the inbound
// buffer does not yet hold a complete record.
var NeedMore = errors.New("awa: need more bytes")

// Malformed indicates the wire codec or packet framer could not parse
// the input. The caller must close the connection.
var Malformed = errors.New("awa: malformed input")

// MacFailure indicates the inbound packet's MAC did not verify. The
// caller must close the connection.
var MacFailure = errors.New("awa: mac verification failed")

// NegotiationFailure indicates KEXINIT negotiation found no algorithm
// in common for some category. The caller should send DISCONNECT if
// possible and then close.
var NegotiationFailure = errors.New("awa: no common algorithm")

// AuthExhausted indicates a session has reached the failed userauth
// attempt cap. The caller must close the connection.
var AuthExhausted = errors.New("awa: too many failed authentication attempts")

// Unhandled indicates a well-formed message outside the core's scope
// (eg. anything past userauth success).
var Unhandled = errors.New("awa: unhandled message")

// Unexpected indicates a well-formed message arrived while the session
// expected a different message id. The caller must close the connection.
type Unexpected struct {
	Expected string
	Got      string
}

func (e Unexpected) Error() string {
	return "awa: unexpected message: expected " + e.Expected + ", got " + e.Got
}
