// Package parlorerr defines the structured error taxonomy shared across the
// engine: every failure surfaced to an embedder carries a stable Kind so
// callers can switch on cause instead of matching message strings.
package parlorerr

import "fmt"

// Kind identifies the category of an Error.
type Kind string

const (
	KindTransport          Kind = "transport"
	KindHandshakeTimeout   Kind = "handshake_timeout"
	KindGlare              Kind = "glare"
	KindBadSdp             Kind = "bad_sdp"
	KindChannelTimeout     Kind = "channel_timeout"
	KindChannelClosed      Kind = "channel_closed"
	KindChannelBackpressure Kind = "channel_backpressure"
	KindNotAuthenticated   Kind = "not_authenticated"
	KindBadSignature       Kind = "bad_signature"
	KindAliasCollision     Kind = "alias_collision"
	KindValidationFailed   Kind = "validation_failed"
	KindRejected           Kind = "rejected"
	KindPrompted           Kind = "prompted"
	KindConfig             Kind = "config"
	KindUserAbort          Kind = "user_abort"
	KindSessionClosed      Kind = "session_closed"
	KindResponderError     Kind = "responder_error"
)

// Error is the structured error type returned across package boundaries.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error of the given kind.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Is reports whether err is a *Error with the given kind, so callers can
// write errors.Is(err, parlorerr.New(parlorerr.KindSessionClosed, "", nil))
// — but the conventional check is comparing the Kind returned by
// KindOf(err) against KindSessionClosed.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}
