package reverb

import (
	"context"
	"sync"
)

// Client is the façade described in spec.md §3: the only surface a
// consumer needs. It owns a single connection controller and the channel
// registry behind it exclusively, per spec.md §5's ownership rule — the
// teacher's `uplink.PusherClient` plays the same role for its own
// proprietary protocol.
type Client struct {
	cfg  Config
	reg  *registry
	conn *connection

	mu      sync.Mutex
	started bool
}

// New validates cfg, applies the defaults of spec.md §6, and returns an
// unconnected Client. Call Connect (or use Open) before Subscribe/Trigger.
func New(cfg Config) (*Client, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	reg := newRegistry(cfg.ErrorReporter)
	c := &Client{cfg: cfg, reg: reg}
	c.conn = newConnection(cfg, reg, c.notifyDisconnect)
	return c, nil
}

// Open connects to the broker and invokes fn with the live Client,
// guaranteeing Disconnect runs on every exit path — fn returning an error,
// fn returning normally, or fn panicking — per spec.md §5's acquire/
// release discipline.
func Open(ctx context.Context, cfg Config, fn func(*Client) error) error {
	c, err := New(cfg)
	if err != nil {
		return err
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Disconnect()
	return fn(c)
}

func (c *Client) notifyDisconnect(err error) {
	var data interface{}
	if err != nil {
		data = err.Error()
	}
	c.reg.invoke(c.reg.global, Envelope{Event: disconnectedEventName, Data: data})
}

// Connect performs the handshake of spec.md §4.5 and blocks until it
// succeeds or fails. It may be called exactly once per Client.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return preconditionError("Connect called more than once on this client")
	}
	c.started = true
	c.mu.Unlock()
	return c.conn.Connect(ctx)
}

// Disconnect cooperatively tears down the connection, any in-flight
// subscribe waiters, and any running reconnect attempt, per spec.md §5,
// and dispatches a "disconnected" event to global handlers. It is safe to
// call more than once and from any goroutine.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

// Subscribe requests subscription to name, creating it in the registry if
// unknown, and blocks until the broker acknowledges or
// Config.SubscriptionTimeout elapses, per spec.md §4.5. userData is
// required for presence channels (marshaled into channel_data) and
// ignored for public and private channels.
func (c *Client) Subscribe(ctx context.Context, name string, userData interface{}) (*Channel, error) {
	return c.conn.Subscribe(ctx, name, userData)
}

// Unsubscribe sends pusher:unsubscribe and removes the channel from the
// client regardless of whether the broker acknowledges, per spec.md §4.5.
func (c *Client) Unsubscribe(ctx context.Context, name string) error {
	return c.conn.Unsubscribe(ctx, name)
}

// Trigger sends a client event (auto-prefixed "client-" if absent) on a
// subscribed, restricted (private or presence) channel, per spec.md §4.5.
// Any precondition violation returns a PreconditionError and sends no
// bytes.
func (c *Client) Trigger(ctx context.Context, channel, event string, data interface{}) error {
	return c.conn.Trigger(ctx, channel, event, data)
}

// Bind registers a global handler for event, or for every event when event
// is "*", independent of any particular channel — including the
// internally synthesized "error" and "disconnected" events.
func (c *Client) Bind(event string, h Handler) int {
	return c.reg.global.add(event, h)
}

// Unbind removes a global handler previously registered with Bind.
func (c *Client) Unbind(event string, id int) {
	c.reg.global.unbind(event, id)
}

// Channel returns the named channel if the registry already knows about
// it (because Subscribe was called for it at some point).
func (c *Client) Channel(name string) (*Channel, bool) {
	return c.reg.get(name)
}

// Channels returns the names of every channel known to the registry, in
// first-subscribed order.
func (c *Client) Channels() []string {
	return c.reg.snapshotNames()
}

// SocketID returns the broker-assigned socket identity, or "" before the
// first successful handshake.
func (c *Client) SocketID() string {
	return c.conn.SocketID()
}

// IsConnected reports whether the client currently has a live, open
// socket, per spec.md §9's half-open-aware definition.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// Listen blocks until the client reaches its terminal closed state (a
// call to Disconnect, or reconnection exhausted under
// Config.ReconnectMaxAttempts) or ctx is done, whichever comes first.
func (c *Client) Listen(ctx context.Context) error {
	select {
	case <-c.conn.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
