package reverb

import "context"

// CloseInfo describes why a transport session ended, mirroring a WebSocket
// close frame's code/reason.
type CloseInfo struct {
	Code   int
	Reason string
}

// Normal close codes, per spec.md §4.5's termination-path classification.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// Expected reports whether this close code represents a clean server close
// (spec.md §4.5: "Clean server close (codes 1000/1001) ... expected=true").
func (c CloseInfo) Expected() bool {
	return c.Code == CloseNormal || c.Code == CloseGoingAway
}

// Session is a single open transport connection, as returned by
// Transport.Open.
type Session interface {
	// Send writes one message frame. Implementations must serialize
	// concurrent callers internally or document that they require the
	// single-writer discipline of spec.md §5 (the connection controller
	// never calls Send concurrently with itself, but a caller-supplied
	// Transport should not assume more than that).
	Send(ctx context.Context, data []byte) error

	// Recv blocks until the next message frame arrives, the session is
	// closed, or ctx is done. A clean or unclean close is reported via
	// CloseInfo and a non-nil error; callers distinguish the two with
	// CloseInfo.Expected().
	Recv(ctx context.Context) (data []byte, closeInfo *CloseInfo, err error)

	// Close ends the session, sending a close frame if the underlying
	// protocol supports one.
	Close() error

	// IsOpen reports whether the underlying socket is, right now, in the
	// OPEN state — not merely "not yet observed to close". spec.md §4.4
	// requires this because keepalive failures or a peer-initiated close
	// can transition the socket without Recv having returned yet.
	IsOpen() bool
}

// Transport is the physical WebSocket collaborator the core consumes only
// through this interface, per spec.md §1/§6 ("the physical transport
// library providing WebSocket frames" is an external collaborator). The
// default implementation shipped alongside this package, in
// transport/wsconn, adapts github.com/gorilla/websocket.
type Transport interface {
	// Open dials url and returns an open Session, or a ConnectionError.
	Open(ctx context.Context, url string) (Session, error)
}
