package reverb

import (
	"strings"
	"sync"
)

// Kind classifies a channel by its name prefix, per spec.md §3.
type Kind int

const (
	// KindPublic channels require no admission.
	KindPublic Kind = iota
	// KindPrivate channels require an HMAC admission token.
	KindPrivate
	// KindPresence channels require admission plus user_data and maintain
	// a roster of joined members.
	KindPresence
)

func (k Kind) String() string {
	switch k {
	case KindPrivate:
		return "private"
	case KindPresence:
		return "presence"
	default:
		return "public"
	}
}

// kindOf derives a channel's Kind from its name, per the `private-`/
// `presence-` prefix convention in spec.md §3 and the GLOSSARY.
func kindOf(name string) Kind {
	switch {
	case strings.HasPrefix(name, "private-"):
		return KindPrivate
	case strings.HasPrefix(name, "presence-"):
		return KindPresence
	default:
		return KindPublic
	}
}

// Restricted reports whether a channel of this Kind requires admission.
func (k Kind) Restricted() bool {
	return k == KindPrivate || k == KindPresence
}

// Handler is a user-registered callback invoked with the event name, the
// decoded payload, and the name of the channel the event arrived on (empty
// for events not scoped to a channel). Global handlers receive the same
// channel name as the channel's own handlers.
type Handler func(event string, data interface{}, channel string)

// wildcardKey is the handler-table key for wildcard bindings, per
// spec.md §3 ("the special key `*` is the wildcard bucket").
const wildcardKey = "*"

// Member is a single entry in a presence channel's roster.
type Member struct {
	UserID   string
	UserInfo interface{}
}

// handlerEntry pairs a handler with a stable id so it can be unbound by
// identity rather than by position, which would be invalidated by an
// earlier unbind shifting later indices.
type handlerEntry struct {
	id int
	h  Handler
}

// handlerTable is an ordered map of event name to a sequence of handlers,
// in registration order. Bind/Unbind mutate it from the caller's goroutine
// while the connection's receive loop reads it during dispatch, so the
// RWMutex guards every access.
type handlerTable struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   int
}

func newHandlerTable() *handlerTable {
	return &handlerTable{handlers: make(map[string][]handlerEntry)}
}

// add registers h under event and returns an id that unbind can use to
// remove exactly this registration later.
func (t *handlerTable) add(event string, h Handler) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.handlers[event] = append(t.handlers[event], handlerEntry{id: id, h: h})
	return id
}

// unbind removes the registration with the given id from event's handler
// list, if present.
func (t *handlerTable) unbind(event string, id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.handlers[event]
	for i, entry := range list {
		if entry.id == id {
			t.handlers[event] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// ordered returns the exact-match handlers for event, followed by the
// wildcard handlers, per spec.md §4.3's dispatch rule.
func (t *handlerTable) ordered(event string) []Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Handler
	for _, entry := range t.handlers[event] {
		out = append(out, entry.h)
	}
	if event != wildcardKey {
		for _, entry := range t.handlers[wildcardKey] {
			out = append(out, entry.h)
		}
	}
	return out
}

// Channel is the registry's per-channel state: subscription status, the
// event-handler table, and — for presence channels — a roster.
type Channel struct {
	name       string
	kind       Kind
	handlers   *handlerTable
	userData   interface{}

	mu         sync.RWMutex
	subscribed bool
	roster     map[string]interface{} // user_id -> user_info, presence only
	me         *Member
}

func newChannel(name string, userData interface{}) *Channel {
	return &Channel{
		name:     name,
		kind:     kindOf(name),
		handlers: newHandlerTable(),
		userData: userData,
	}
}

// Bind registers h for event on this channel and returns an id usable with
// Unbind. The wildcard event "*" receives every event on this channel,
// including internal protocol events.
func (c *Channel) Bind(event string, h Handler) int {
	return c.handlers.add(event, h)
}

// Unbind removes the registration identified by id from event's handler
// list.
func (c *Channel) Unbind(event string, id int) {
	c.handlers.unbind(event, id)
}

// Name returns the channel's name.
func (c *Channel) Name() string { return c.name }

// Kind returns the channel's Kind.
func (c *Channel) Kind() Kind { return c.kind }

// Subscribed reports whether the broker has acknowledged subscription.
func (c *Channel) Subscribed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribed
}

// Members returns a snapshot of the presence roster. Empty for non-presence
// channels or before subscription_succeeded.
func (c *Channel) Members() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{}, len(c.roster))
	for k, v := range c.roster {
		out[k] = v
	}
	return out
}

// Me returns the local user's roster entry, or nil if this is not a
// presence channel, no user_data with a string user_id was supplied at
// subscribe time, or no subscription_succeeded has arrived yet.
func (c *Channel) Me() *Member {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.me
}

func (c *Channel) setSubscribed(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = v
}

// seedRoster initializes the presence roster from the `hash` field of a
// subscription_succeeded payload and sets `me` from the stored user_data,
// per spec.md §4.3. `me.user_id` is added to the roster explicitly rather
// than assumed present in hash: spec.md §3's invariant is that it is
// always a roster key once subscription succeeds, and that must hold
// regardless of whether the broker itself echoes the local member back.
func (c *Channel) seedRoster(hash map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster = make(map[string]interface{}, len(hash))
	for k, v := range hash {
		c.roster[k] = v
	}
	if c.kind == KindPresence {
		if md, ok := c.userData.(map[string]interface{}); ok {
			if uid, ok := md["user_id"].(string); ok {
				c.me = &Member{UserID: uid, UserInfo: md["user_info"]}
				c.roster[uid] = md["user_info"]
			}
		}
	}
}

func (c *Channel) addMember(userID string, userInfo interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roster == nil {
		c.roster = make(map[string]interface{})
	}
	c.roster[userID] = userInfo
}

func (c *Channel) removeMember(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.roster, userID)
}

// clearRosterKeepMe clears the presence roster on disconnect while
// retaining `me`, per spec.md §4.3's mark_all_unsubscribed contract.
func (c *Channel) clearRosterKeepMe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roster = nil
}
