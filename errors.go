package reverb

import (
	"errors"
	"fmt"
)

// ErrKind identifies the taxonomy of a core error, independent of its message.
// Callers should compare with errors.Is against the sentinel of the kind
// they care about rather than switching on ErrKind directly, since a single
// operation may wrap a sentinel with additional context.
type ErrKind int

const (
	// KindConnection covers transport failures: the socket could not be
	// opened, closed unexpectedly during handshake, or reconnection was
	// exhausted.
	KindConnection ErrKind = iota
	// KindAuthentication covers a broker rejection of an admission token
	// for a restricted channel.
	KindAuthentication
	// KindSubscription covers a broker rejection of a subscribe request
	// for any non-auth reason.
	KindSubscription
	// KindProtocol covers malformed envelopes, an unexpected first
	// envelope, or a pusher:error outside a subscribe context.
	KindProtocol
	// KindTimeout covers a subscribe waiter or handshake deadline elapsing.
	KindTimeout
	// KindPrecondition covers a caller violating an API contract.
	KindPrecondition
	// KindConfiguration covers missing required configuration before connect.
	KindConfiguration
)

func (k ErrKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindAuthentication:
		return "authentication"
	case KindSubscription:
		return "subscription"
	case KindProtocol:
		return "protocol"
	case KindTimeout:
		return "timeout"
	case KindPrecondition:
		return "precondition"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the error type returned at the core's boundary. It carries a
// Kind so callers can branch with errors.Is against the package-level
// sentinels, plus an optional wrapped cause for %w chains.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a sentinel for the same Kind. This lets
// errors.Is(err, ErrConnection) match any *Error with Kind == KindConnection,
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels, one per Kind, for use with errors.Is(err, reverb.ErrXxx).
var (
	ErrConnection     = &Error{Kind: KindConnection}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrSubscription   = &Error{Kind: KindSubscription}
	ErrProtocol       = &Error{Kind: KindProtocol}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrPrecondition   = &Error{Kind: KindPrecondition}
	ErrConfiguration  = &Error{Kind: KindConfiguration}
)

func newError(kind ErrKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func connectionError(message string, cause error) error {
	return newError(KindConnection, message, cause)
}

func authenticationError(message string, cause error) error {
	return newError(KindAuthentication, message, cause)
}

func subscriptionError(message string, cause error) error {
	return newError(KindSubscription, message, cause)
}

func protocolError(message string, cause error) error {
	return newError(KindProtocol, message, cause)
}

func timeoutError(message string) error {
	return newError(KindTimeout, message, nil)
}

func preconditionError(message string) error {
	return newError(KindPrecondition, message, nil)
}

func configurationError(message string) error {
	return newError(KindConfiguration, message, nil)
}

// IsKind reports whether err is, or wraps, a core *Error of the given kind.
func IsKind(err error, kind ErrKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
