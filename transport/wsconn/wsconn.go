// Package wsconn is the default reverb.Transport, adapting
// github.com/gorilla/websocket to the core package's Session/Transport
// interfaces. It is the physical-transport collaborator spec.md §1/§6 call
// out as external to the core: swap it for a different implementation to
// run the client over a proxy, a test harness, or another websocket
// library entirely.
package wsconn

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	reverb "github.com/minicodemonkey/reverb-go"
)

// Transport dials with github.com/gorilla/websocket. The zero value is
// ready to use; set Dialer or Header to customize proxying, TLS, or
// additional handshake headers.
type Transport struct {
	// Dialer is used to establish the connection. Defaults to
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Header carries extra HTTP headers on the upgrade request.
	Header http.Header
	// WriteTimeout bounds every outbound frame, mirroring the teacher's
	// uplink.PusherClient write-deadline discipline. Zero means no
	// deadline.
	WriteTimeout time.Duration
}

// New returns a Transport using gorilla's default dialer.
func New() *Transport {
	return &Transport{Dialer: websocket.DefaultDialer}
}

// Open implements reverb.Transport.
func (t *Transport) Open(ctx context.Context, url string) (reverb.Session, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, url, t.Header)
	if err != nil {
		return nil, &reverb.Error{Kind: reverb.KindConnection, Message: "dialing " + url, Cause: err}
	}

	return newSession(conn, t.WriteTimeout), nil
}

// session adapts a single *websocket.Conn to reverb.Session. gorilla's
// ReadMessage has no context parameter, so every Recv call starts its own
// watcher goroutine that closes the connection if ctx is done before the
// read returns, and stands down the moment the read returns on its own.
// The watcher is scoped to the single call, not the session: a short
// handshake-timeout ctx must only ever be able to abort that one Recv,
// never a later call made with a different ctx on the same session.
type session struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu   sync.Mutex
	open bool
}

func newSession(conn *websocket.Conn, writeTimeout time.Duration) *session {
	return &session{conn: conn, writeTimeout: writeTimeout, open: true}
}

func (s *session) Send(ctx context.Context, data []byte) error {
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	} else if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) Recv(ctx context.Context) ([]byte, *reverb.CloseInfo, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-done:
		}
	}()

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		s.markClosed()
		if ce, ok := err.(*websocket.CloseError); ok {
			return nil, &reverb.CloseInfo{Code: ce.Code, Reason: ce.Text}, err
		}
		return nil, nil, err
	}
	return data, nil, nil
}

// Close closes the underlying network connection. No WebSocket close
// frame is sent to the peer.
func (s *session) Close() error {
	s.markClosed()
	return s.conn.Close()
}

func (s *session) markClosed() {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
}

// IsOpen reports false once Close has been called or a Recv has failed.
// It does not probe the socket: a connection the peer has dropped reads as
// open until the next Recv observes the failure.
func (s *session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}
