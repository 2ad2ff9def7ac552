package reverb

import (
	"context"
	"sync"
	"time"
)

// testShortTimeout bounds subscribe/handshake waits in tests so a bug that
// hangs forever fails fast instead of stalling the suite.
const testShortTimeout = 2 * time.Second

// fakeTransport is an in-memory Transport for tests that don't need a real
// socket. Each Open call pops the next queued session (or returns the
// configured error), mirroring the teacher's preference for hand-rolled
// fakes over a mocking framework.
type fakeTransport struct {
	mu       sync.Mutex
	sessions []Session
	openErrs []error
	opened   []string
}

func (f *fakeTransport) Open(ctx context.Context, url string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)

	if len(f.openErrs) > 0 {
		err := f.openErrs[0]
		f.openErrs = f.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(f.sessions) == 0 {
		return nil, connectionError("fakeTransport: no queued session", nil)
	}
	sess := f.sessions[0]
	f.sessions = f.sessions[1:]
	return sess, nil
}

// fakeSession is an in-memory Session backed by an inbound queue a test
// feeds, and an outbound queue the code under test writes to.
type fakeSession struct {
	mu     sync.Mutex
	inbox  chan []byte
	closed chan struct{}
	sent   [][]byte
	open   bool

	closeInfo *CloseInfo
	closeErr  error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		inbox:  make(chan []byte, 32),
		closed: make(chan struct{}),
		open:   true,
	}
}

func (s *fakeSession) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return connectionError("fakeSession: send on closed session", nil)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *fakeSession) Recv(ctx context.Context) ([]byte, *CloseInfo, error) {
	select {
	case data, ok := <-s.inbox:
		if !ok {
			return nil, s.closeInfo, s.closeErr
		}
		return data, nil, nil
	case <-s.closed:
		return nil, s.closeInfo, s.closeErr
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		s.open = false
		close(s.closed)
	}
	return nil
}

func (s *fakeSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// push delivers a raw inbound frame to the session's Recv loop.
func (s *fakeSession) push(data []byte) {
	s.inbox <- data
}

// pushEnvelope encodes e and delivers it.
func (s *fakeSession) pushEnvelope(e Envelope) {
	data, err := encode(e)
	if err != nil {
		panic(err)
	}
	s.push(data)
}

// breakWith simulates the peer closing the socket, unexpectedly unless
// info is a clean close code.
func (s *fakeSession) breakWith(info *CloseInfo, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeInfo = info
	s.closeErr = err
	if s.open {
		s.open = false
		close(s.closed)
	}
}

func testConfig(tr Transport) Config {
	return Config{
		AppKey:              "test-key",
		AppSecret:           "test-secret",
		Host:                "reverb.example.test",
		Transport:           tr,
		ReconnectDisabled:   true,
		SubscriptionTimeout: testShortTimeout,
		PingInterval:        testShortTimeout,
	}
}
