package reverb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// State is a coarse view of the connection controller's state machine, per
// spec.md §3. socket_id is only meaningful when State == StateConnected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type connectionEstablishedData struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

// connection is the controller of spec.md §4.5: handshake, socket-identity
// capture, keepalive, reconnect policy, and message routing into the
// registry. It owns the transport and both internal loops; the façade
// owns it exclusively, per spec.md §3's ownership rules.
type connection struct {
	cfg    Config
	reg    *registry
	signer *signer

	mu       sync.Mutex
	state    State
	socketID string
	attempt  int
	sess     Session

	sendMu sync.Mutex // single outbound writer, per spec.md §5

	lastRecvMu sync.Mutex
	lastRecv   time.Time

	waitersMu  sync.Mutex
	subWaiters map[string]chan error

	backoff *backoffPolicy

	onDisconnect func(err error)

	stopSession context.CancelFunc // cancels the current session's loops
	abortSleep  chan struct{}      // closed by disconnect to cut short a reconnect sleep

	closed   chan struct{} // closed once state reaches StateClosed
	closeSet bool
}

func newConnection(cfg Config, reg *registry, onDisconnect func(error)) *connection {
	return &connection{
		cfg:          cfg,
		reg:          reg,
		signer:       newSigner(cfg.AppKey, cfg.AppSecret),
		subWaiters:   make(map[string]chan error),
		backoff:      newBackoffPolicy(cfg.ReconnectDelayMin, cfg.ReconnectDelayMax, cfg.ReconnectMultiplier),
		onDisconnect: onDisconnect,
		abortSleep:   make(chan struct{}),
		closed:       make(chan struct{}),
	}
}

func (c *connection) getState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// SocketID returns the current socket identity, or "" if not connected.
func (c *connection) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// IsConnected implements the half-open-aware predicate of spec.md §9: the
// cached state must agree with the transport's own live-socket check.
func (c *connection) IsConnected() bool {
	c.mu.Lock()
	state := c.state
	sess := c.sess
	c.mu.Unlock()
	return state == StateConnected && sess != nil && sess.IsOpen()
}

// Done returns a channel closed once the controller reaches StateClosed.
func (c *connection) Done() <-chan struct{} {
	return c.closed
}

func (c *connection) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeSet {
		return
	}
	c.closeSet = true
	c.state = StateClosed
	close(c.closed)
}

// Connect performs the initial handshake and, on success, starts the
// receive and keepalive loops. It does not start the reconnect supervisor
// — that activates only once a live connection is subsequently lost.
func (c *connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	sess, socketID, pingInterval, err := c.dialAndHandshake(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.sess = sess
	c.socketID = socketID
	c.state = StateConnected
	c.attempt = 0
	c.mu.Unlock()

	c.startSession(sess, pingInterval)
	return nil
}

// dialAndHandshake opens a transport session and performs the handshake of
// spec.md §4.5: it must receive exactly one envelope, which must be
// pusher:connection_established. Any other first envelope is a
// ProtocolError; a deadline elapsing before that envelope arrives is a
// TimeoutError.
func (c *connection) dialAndHandshake(ctx context.Context) (Session, string, time.Duration, error) {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.SubscriptionTimeout)
	defer cancel()

	sess, err := c.cfg.Transport.Open(hctx, c.cfg.connURL())
	if err != nil {
		return nil, "", 0, connectionError("opening transport", err)
	}

	data, closeInfo, err := sess.Recv(hctx)
	if err != nil {
		sess.Close()
		if closeInfo != nil {
			return nil, "", 0, connectionError("closed during handshake", fmt.Errorf("close code %d", closeInfo.Code))
		}
		if hctx.Err() != nil {
			return nil, "", 0, timeoutError("handshake deadline elapsed")
		}
		return nil, "", 0, connectionError("receiving handshake envelope", err)
	}

	env, err := decode(data)
	if err != nil {
		sess.Close()
		return nil, "", 0, err
	}

	if env.Event != eventConnectionEstablished {
		sess.Close()
		return nil, "", 0, protocolError(fmt.Sprintf("unexpected first envelope %q", env.Event), nil)
	}

	var cdata connectionEstablishedData
	if err := decodeInto(env.Data, &cdata); err != nil {
		sess.Close()
		return nil, "", 0, protocolError("decoding connection_established payload", err)
	}

	pingInterval := c.cfg.PingInterval
	if cdata.ActivityTimeout > 0 {
		pingInterval = time.Duration(cdata.ActivityTimeout) * time.Second
	}

	return sess, cdata.SocketID, pingInterval, nil
}

// startSession launches the receive and keepalive loops for sess.
func (c *connection) startSession(sess Session, pingInterval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.stopSession = cancel
	c.mu.Unlock()

	c.touchRecv()

	go c.receiveLoop(ctx, sess)
	go c.keepaliveLoop(ctx, sess, pingInterval)
}

func (c *connection) touchRecv() {
	c.lastRecvMu.Lock()
	c.lastRecv = time.Now()
	c.lastRecvMu.Unlock()
}

func (c *connection) sinceRecv() time.Duration {
	c.lastRecvMu.Lock()
	defer c.lastRecvMu.Unlock()
	return time.Since(c.lastRecv)
}

// send encodes and writes an envelope, serialized through sendMu so the
// transport sees a single writer regardless of which goroutine (façade
// call, keepalive loop, or pong reply) originated the message.
func (c *connection) send(ctx context.Context, sess Session, e Envelope) error {
	data, err := encode(e)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return sess.Send(ctx, data)
}

// receiveLoop reads envelopes until the transport reports closed or
// raises, per spec.md §4.5. ctx.Done() means an intentional shutdown
// (Disconnect) already performed cleanup; any other exit goes through
// handleConnectionLost.
func (c *connection) receiveLoop(ctx context.Context, sess Session) {
	for {
		data, closeInfo, err := sess.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // intentional shutdown; Disconnect already cleaned up
			}
			expected := closeInfo != nil && closeInfo.Expected()
			c.handleConnectionLost(sess, expected, err)
			return
		}

		c.touchRecv()

		env, err := decode(data)
		if err != nil {
			c.reg.reporter("decode", "", err)
			continue
		}

		switch env.Event {
		case eventPing:
			_ = c.send(ctx, sess, Envelope{Event: eventPong, Data: nil})
		case eventError:
			c.resolveWaitersOnError(env)
			c.reg.invoke(c.reg.global, Envelope{Event: errorEventName, Channel: env.Channel, Data: env.Data})
		case eventPong:
			// liveness already recorded by touchRecv above.
		default:
			c.reg.dispatch(env)
			if env.Event == eventSubscriptionSucceeded {
				c.resolveWaiter(env.Channel, nil)
			}
		}
	}
}

// keepaliveLoop sends pusher:ping when nothing has been received for
// pingInterval, and force-closes the session if nothing has been received
// for 2*pingInterval, per spec.md §4.5.
func (c *connection) keepaliveLoop(ctx context.Context, sess Session, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := c.sinceRecv()
			if idle >= 2*pingInterval {
				c.handleConnectionLost(sess, false, connectionError("keepalive timeout", nil))
				return
			}
			if idle >= pingInterval {
				_ = c.send(ctx, sess, Envelope{Event: eventPing, Data: nil})
			}
		}
	}
}

// handleConnectionLost is the single convergence point for both receive-
// loop termination modes (exception vs. clean exit), per spec.md §9's open
// question: both paths land here so the registry is left consistent
// regardless of how the transport signaled closure.
func (c *connection) handleConnectionLost(sess Session, expected bool, cause error) {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	if c.sess != sess {
		// A newer session already replaced this one (e.g. a previous
		// handleConnectionLost already reconnected); nothing to do.
		c.mu.Unlock()
		return
	}
	reconnect := !c.cfg.ReconnectDisabled
	if reconnect {
		c.state = StateReconnecting
	} else {
		c.state = StateDisconnected
	}
	if c.stopSession != nil {
		c.stopSession()
	}
	c.mu.Unlock()

	c.reg.markAllUnsubscribed()
	c.rejectAllWaiters(connectionError("connection lost", cause))
	sess.Close()

	if c.onDisconnect != nil {
		if expected {
			c.onDisconnect(nil)
		} else {
			c.onDisconnect(connectionError("connection lost", cause))
		}
	}

	if reconnect {
		go c.reconnectSupervisor()
	} else {
		c.markClosed()
	}
}

// reconnectSupervisor implements spec.md §4.5's reconnect supervisor: sleep
// per the backoff policy, attempt to reconnect, and on success resubscribe
// every channel known to the registry in first-created order.
func (c *connection) reconnectSupervisor() {
	for {
		c.mu.Lock()
		attempt := c.attempt
		c.mu.Unlock()

		delay := c.backoff.delay(attempt)

		select {
		case <-c.abortSleep:
			return
		case <-time.After(delay):
		}

		if c.getState() == StateClosing || c.getState() == StateClosed {
			return
		}

		sess, socketID, pingInterval, err := c.dialAndHandshake(context.Background())
		if err != nil {
			c.mu.Lock()
			c.attempt++
			attempt = c.attempt
			maxAttempts := c.cfg.ReconnectMaxAttempts
			c.mu.Unlock()

			if maxAttempts > 0 && attempt >= maxAttempts {
				c.markClosed()
				if c.onDisconnect != nil {
					c.onDisconnect(connectionError("reconnection exhausted", err))
				}
				return
			}
			continue
		}

		c.mu.Lock()
		c.sess = sess
		c.socketID = socketID
		c.attempt = 0
		c.state = StateConnected
		c.mu.Unlock()

		c.startSession(sess, pingInterval)
		c.resubscribeAll()
		return
	}
}

// resubscribeAll resends pusher:subscribe for every channel known to the
// registry, in the order they were first created, per spec.md §4.5.
func (c *connection) resubscribeAll() {
	for _, name := range c.reg.snapshotNames() {
		ch, ok := c.reg.get(name)
		if !ok {
			continue
		}
		go func(ch *Channel) {
			_, _ = c.doSubscribe(context.Background(), ch.Name(), ch.userData)
		}(ch)
	}
}

// Subscribe implements spec.md §4.5's Subscribe: builds and sends the
// subscribe envelope (including admission), and waits for
// subscription_succeeded or a pertaining pusher:error, bounded by
// SubscriptionTimeout.
func (c *connection) Subscribe(ctx context.Context, name string, userData interface{}) (*Channel, error) {
	return c.doSubscribe(ctx, name, userData)
}

func (c *connection) doSubscribe(ctx context.Context, name string, userData interface{}) (*Channel, error) {
	ch := c.reg.getOrCreate(name, userData)

	c.mu.Lock()
	sess := c.sess
	socketID := c.socketID
	c.mu.Unlock()
	if sess == nil {
		return ch, connectionError("not connected", nil)
	}

	payload := map[string]interface{}{"channel": name}

	switch ch.Kind() {
	case KindPrivate:
		auth, err := c.signer.signPrivate(socketID, name)
		if err != nil {
			return ch, err
		}
		payload["auth"] = auth
	case KindPresence:
		auth, channelData, err := c.signer.signPresence(socketID, name, userData)
		if err != nil {
			return ch, err
		}
		payload["auth"] = auth
		payload["channel_data"] = channelData
	}

	waiter := make(chan error, 1)
	c.waitersMu.Lock()
	c.subWaiters[name] = waiter
	c.waitersMu.Unlock()
	defer func() {
		c.waitersMu.Lock()
		delete(c.subWaiters, name)
		c.waitersMu.Unlock()
	}()

	if err := c.send(ctx, sess, Envelope{Event: eventSubscribe, Data: payload}); err != nil {
		return ch, connectionError("sending subscribe", err)
	}

	timeout := c.cfg.SubscriptionTimeout
	select {
	case err := <-waiter:
		return ch, err
	case <-time.After(timeout):
		return ch, timeoutError(fmt.Sprintf("subscribe(%s) timed out after %s", name, timeout))
	case <-ctx.Done():
		return ch, connectionError("subscribe canceled", ctx.Err())
	}
}

func (c *connection) resolveWaiter(channel string, err error) {
	c.waitersMu.Lock()
	w, ok := c.subWaiters[channel]
	c.waitersMu.Unlock()
	if ok {
		select {
		case w <- err:
		default:
		}
	}
}

// pusherErrorData is the `data` payload of a pusher:error envelope, per
// spec.md §4.1 ("pusher:error{code?, message?}").
type pusherErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Pusher's published "connection closed by server" error codes reserve
// 4000-4099 for authentication/authorization failures (e.g. 4009,
// "Connection is unauthorized within application"). A pusher:error during
// a subscribe whose code falls in this band is the broker rejecting the
// admission token itself, distinct from any other subscribe-time
// rejection (bad channel name, capacity, etc.), per spec.md §7's separate
// AuthenticationError kind.
const (
	authErrorCodeMin = 4000
	authErrorCodeMax = 4099
)

func classifySubscribeError(env Envelope) error {
	var data pusherErrorData
	_ = decodeInto(env.Data, &data)

	if data.Code >= authErrorCodeMin && data.Code <= authErrorCodeMax {
		return authenticationError("broker rejected admission token", fmt.Errorf("%v", env.Data))
	}
	return subscriptionError("broker rejected subscription", fmt.Errorf("%v", env.Data))
}

// resolveWaitersOnError implements the "pusher:error pertaining to the
// subscription" rejection rule of spec.md §4.5. A channel-scoped error
// rejects that channel's waiter specifically; an unscoped error with
// exactly one pending waiter is attributed to it; an unscoped error with
// several pending waiters rejects all of them, since there is no way to
// tell which subscribe it concerns.
func (c *connection) resolveWaitersOnError(env Envelope) {
	err := classifySubscribeError(env)

	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()

	if env.Channel != "" {
		if w, ok := c.subWaiters[env.Channel]; ok {
			select {
			case w <- err:
			default:
			}
		}
		return
	}

	for _, w := range c.subWaiters {
		select {
		case w <- err:
		default:
		}
	}
}

func (c *connection) rejectAllWaiters(err error) {
	c.waitersMu.Lock()
	defer c.waitersMu.Unlock()
	for _, w := range c.subWaiters {
		select {
		case w <- err:
		default:
		}
	}
}

// Unsubscribe sends pusher:unsubscribe and removes the channel from the
// registry irrespective of broker acknowledgement, per spec.md §4.5.
func (c *connection) Unsubscribe(ctx context.Context, name string) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	defer c.reg.drop(name)

	if sess == nil {
		return nil
	}
	return c.send(ctx, sess, Envelope{Event: eventUnsubscribe, Data: map[string]interface{}{"channel": name}})
}

// Trigger sends a client event on a restricted, subscribed channel, per
// spec.md §4.5. Violations raise PreconditionError and send no bytes.
func (c *connection) Trigger(ctx context.Context, channel, event string, data interface{}) error {
	ch, ok := c.reg.get(channel)
	if !ok {
		return preconditionError(fmt.Sprintf("cannot trigger on unknown channel %q", channel))
	}
	if !ch.Kind().Restricted() {
		return preconditionError(fmt.Sprintf("cannot trigger client events on public channel %q", channel))
	}
	if !ch.Subscribed() {
		return preconditionError(fmt.Sprintf("cannot trigger on unsubscribed channel %q", channel))
	}
	if !strings.HasPrefix(event, clientEventPrefix) {
		event = clientEventPrefix + event
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return connectionError("not connected", nil)
	}
	return c.send(ctx, sess, Envelope{Event: event, Channel: channel, Data: data})
}

// Disconnect cancels all internal tasks cooperatively: in-flight subscribe
// waiters reject with ConnectionError, the current session is closed, the
// reconnect supervisor (if any) is told to abort its sleep, and the
// onDisconnect callback is notified with a nil error, per spec.md §5.
func (c *connection) Disconnect() {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	sess := c.sess
	stop := c.stopSession
	c.mu.Unlock()

	close(c.abortSleep)
	if stop != nil {
		stop()
	}

	c.reg.markAllUnsubscribed()
	c.rejectAllWaiters(connectionError("disconnected", nil))

	if sess != nil {
		sess.Close()
	}

	if c.onDisconnect != nil {
		c.onDisconnect(nil)
	}

	c.markClosed()
}
