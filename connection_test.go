package reverb

import (
	"context"
	"testing"
	"time"
)

func connectionEstablishedEnvelope(socketID string, activityTimeout int) Envelope {
	return Envelope{
		Event: eventConnectionEstablished,
		Data: map[string]interface{}{
			"socket_id":        socketID,
			"activity_timeout": activityTimeout,
		},
	}
}

func newConnectedTestConnection(t *testing.T) (*connection, *fakeSession) {
	t.Helper()
	sess := newFakeSession()
	sess.pushEnvelope(connectionEstablishedEnvelope("123.456", 120))

	tr := &fakeTransport{sessions: []Session{sess}}
	cfg, err := testConfig(tr).withDefaults()
	if err != nil {
		t.Fatalf("withDefaults: %v", err)
	}

	reg := newRegistry(nil)
	conn := newConnection(cfg, reg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), testShortTimeout)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return conn, sess
}

func TestConnectionHandshakeSuccess(t *testing.T) {
	conn, _ := newConnectedTestConnection(t)
	if conn.SocketID() != "123.456" {
		t.Errorf("SocketID() = %q, want 123.456", conn.SocketID())
	}
	if !conn.IsConnected() {
		t.Error("IsConnected() = false, want true after handshake")
	}
}

func TestConnectionHandshakeWrongFirstEnvelopeIsProtocolError(t *testing.T) {
	sess := newFakeSession()
	sess.pushEnvelope(Envelope{Event: "something-else"})

	tr := &fakeTransport{sessions: []Session{sess}}
	cfg, _ := testConfig(tr).withDefaults()
	conn := newConnection(cfg, newRegistry(nil), nil)

	ctx, cancel := context.WithTimeout(context.Background(), testShortTimeout)
	defer cancel()
	err := conn.Connect(ctx)
	if !IsKind(err, KindProtocol) {
		t.Errorf("err = %v, want KindProtocol", err)
	}
}

func TestConnectionHandshakeTimeout(t *testing.T) {
	sess := newFakeSession() // never pushes anything

	tr := &fakeTransport{sessions: []Session{sess}}
	cfg, _ := testConfig(tr).withDefaults()
	cfg.SubscriptionTimeout = 50 * time.Millisecond
	conn := newConnection(cfg, newRegistry(nil), nil)

	err := conn.Connect(context.Background())
	if !IsKind(err, KindTimeout) {
		t.Errorf("err = %v, want KindTimeout", err)
	}
}

func TestConnectionSubscribeSuccess(t *testing.T) {
	conn, sess := newConnectedTestConnection(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Subscribe(context.Background(), "private-room", nil)
		done <- err
	}()

	// The subscribe envelope should arrive; reply with subscription_succeeded.
	time.Sleep(20 * time.Millisecond)
	sess.pushEnvelope(Envelope{Event: eventSubscriptionSucceeded, Channel: "private-room"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Subscribe: %v", err)
		}
	case <-time.After(testShortTimeout):
		t.Fatal("timeout waiting for Subscribe to resolve")
	}

	ch, ok := conn.reg.get("private-room")
	if !ok || !ch.Subscribed() {
		t.Error("channel must be marked subscribed after subscription_succeeded")
	}
}

func TestConnectionSubscribeRejected(t *testing.T) {
	conn, sess := newConnectedTestConnection(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Subscribe(context.Background(), "private-room", nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sess.pushEnvelope(Envelope{Event: eventError, Channel: "private-room", Data: map[string]interface{}{"message": "nope"}})

	select {
	case err := <-done:
		if !IsKind(err, KindSubscription) {
			t.Errorf("err = %v, want KindSubscription", err)
		}
	case <-time.After(testShortTimeout):
		t.Fatal("timeout waiting for Subscribe to resolve")
	}
}

func TestConnectionSubscribeRejectedForBadAuthToken(t *testing.T) {
	conn, sess := newConnectedTestConnection(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Subscribe(context.Background(), "private-room", nil)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sess.pushEnvelope(Envelope{
		Event:   eventError,
		Channel: "private-room",
		Data:    map[string]interface{}{"code": 4009, "message": "Connection is unauthorized within application"},
	})

	select {
	case err := <-done:
		if !IsKind(err, KindAuthentication) {
			t.Errorf("err = %v, want KindAuthentication", err)
		}
	case <-time.After(testShortTimeout):
		t.Fatal("timeout waiting for Subscribe to resolve")
	}
}

func TestConnectionTriggerPreconditions(t *testing.T) {
	conn, _ := newConnectedTestConnection(t)

	if err := conn.Trigger(context.Background(), "unknown", "client-foo", nil); !IsKind(err, KindPrecondition) {
		t.Errorf("unknown channel: err = %v, want KindPrecondition", err)
	}

	conn.reg.getOrCreate("public-chan", nil)
	if err := conn.Trigger(context.Background(), "public-chan", "client-foo", nil); !IsKind(err, KindPrecondition) {
		t.Errorf("public channel: err = %v, want KindPrecondition", err)
	}

	ch := conn.reg.getOrCreate("private-room", nil)
	if err := conn.Trigger(context.Background(), "private-room", "client-foo", nil); !IsKind(err, KindPrecondition) {
		t.Errorf("unsubscribed channel: err = %v, want KindPrecondition", err)
	}
	ch.setSubscribed(true)

	if err := conn.Trigger(context.Background(), "private-room", "foo", "hi"); err != nil {
		t.Errorf("Trigger on subscribed private channel: %v", err)
	}
}

func TestConnectionTriggerAddsClientPrefix(t *testing.T) {
	conn, sess := newConnectedTestConnection(t)
	ch := conn.reg.getOrCreate("private-room", nil)
	ch.setSubscribed(true)

	if err := conn.Trigger(context.Background(), "private-room", "foo", "hi"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}

	sess.mu.Lock()
	last := sess.sent[len(sess.sent)-1]
	sess.mu.Unlock()

	env, err := decode(last)
	if err != nil {
		t.Fatalf("decode sent frame: %v", err)
	}
	if env.Event != "client-foo" {
		t.Errorf("sent event = %q, want client-foo", env.Event)
	}
}

func TestConnectionPingPong(t *testing.T) {
	_, sess := newConnectedTestConnection(t)
	sess.pushEnvelope(Envelope{Event: eventPing})

	deadline := time.After(testShortTimeout)
	for {
		sess.mu.Lock()
		n := len(sess.sent)
		sess.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for pong")
		case <-time.After(5 * time.Millisecond):
		}
	}

	sess.mu.Lock()
	last := sess.sent[len(sess.sent)-1]
	sess.mu.Unlock()
	env, err := decode(last)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != eventPong {
		t.Errorf("sent event = %q, want pusher:pong", env.Event)
	}
}

func TestConnectionDisconnectRejectsWaitersAndStops(t *testing.T) {
	conn, _ := newConnectedTestConnection(t)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Subscribe(context.Background(), "private-room", nil)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	conn.Disconnect()

	select {
	case err := <-done:
		if !IsKind(err, KindConnection) {
			t.Errorf("err = %v, want KindConnection after Disconnect", err)
		}
	case <-time.After(testShortTimeout):
		t.Fatal("timeout waiting for rejected waiter")
	}

	select {
	case <-conn.Done():
	default:
		t.Error("Done() channel must be closed after Disconnect")
	}
}

func TestConnectionReconnectsAndResubscribes(t *testing.T) {
	first := newFakeSession()
	first.pushEnvelope(connectionEstablishedEnvelope("123.456", 1))

	second := newFakeSession()
	second.pushEnvelope(connectionEstablishedEnvelope("999.000", 1))

	tr := &fakeTransport{sessions: []Session{first, second}}
	cfg, _ := testConfig(tr).withDefaults()
	cfg.ReconnectDisabled = false
	cfg.ReconnectDelayMin = 10 * time.Millisecond
	cfg.ReconnectDelayMax = 20 * time.Millisecond
	cfg.SubscriptionTimeout = 200 * time.Millisecond

	reg := newRegistry(nil)
	conn := newConnection(cfg, reg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), testShortTimeout)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	reg.getOrCreate("private-room", nil)

	first.breakWith(nil, connectionError("simulated drop", nil))

	deadline := time.After(testShortTimeout)
	for {
		second.mu.Lock()
		n := len(second.sent)
		second.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for resubscribe on the new session")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if conn.SocketID() != "999.000" {
		t.Errorf("SocketID() = %q, want 999.000 after reconnect", conn.SocketID())
	}
}
