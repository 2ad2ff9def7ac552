package reverb

import (
	"log"
	"sync"
)

// ErrorReporter is the pluggable sink the registry uses when a user handler
// panics or a dispatched event otherwise fails, per spec.md §6. The default
// logs and continues, matching the teacher's `ws.Dispatcher` behavior for
// unknown message types.
type ErrorReporter func(event, channel string, err error)

// defaultErrorReporter logs via the standard library, same as every
// package in the teacher repository.
func defaultErrorReporter(event, channel string, err error) {
	if channel == "" {
		log.Printf("reverb: handler error for event %q: %v", event, err)
		return
	}
	log.Printf("reverb: handler error for event %q on channel %q: %v", event, channel, err)
}

// registry owns all channels for a client: creation, lookup, dispatch to
// user handlers, and the internal protocol-event bookkeeping described in
// spec.md §4.3. The façade (subscribe/unsubscribe/bind/unbind) and the
// connection controller's receive loop both reach it from their own
// goroutines, so the channels map and creation order are guarded by a
// mutex — the same discipline the teacher's `ws.Client` applies to its
// `subscribedChannels` map. Per-channel and per-handler-table state guards
// itself (see Channel and handlerTable).
type registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	order    []string // first-created order, for resubscription (spec.md §4.5)
	global   *handlerTable
	reporter ErrorReporter
}

func newRegistry(reporter ErrorReporter) *registry {
	if reporter == nil {
		reporter = defaultErrorReporter
	}
	return &registry{
		channels: make(map[string]*Channel),
		global:   newHandlerTable(),
		reporter: reporter,
	}
}

// getOrCreate returns the named channel, creating it if absent. userData is
// only meaningful (and only used) the first time a presence channel is
// created; later calls reuse the channel's existing state.
func (r *registry) getOrCreate(name string, userData interface{}) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[name]; ok {
		return ch
	}
	ch := newChannel(name, userData)
	r.channels[name] = ch
	r.order = append(r.order, name)
	return ch
}

func (r *registry) get(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// drop removes a channel from the registry irrespective of broker
// acknowledgement, per spec.md §4.5's Unsubscribe contract.
func (r *registry) drop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// snapshotNames returns channel names in first-created order, the order
// spec.md §4.5's reconnect supervisor must resubscribe in.
func (r *registry) snapshotNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// markAllUnsubscribed sets every channel's subscribed flag false and clears
// presence rosters (retaining `me`), per spec.md §4.3.
func (r *registry) markAllUnsubscribed() {
	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()

	for _, ch := range channels {
		ch.setSubscribed(false)
		if ch.kind == KindPresence {
			ch.clearRosterKeepMe()
		}
	}
}

// dispatch handles an incoming envelope: first the internal protocol
// bookkeeping of spec.md §4.3, then fan-out to the channel's handler table
// (if the channel is known) and always to the global table, exact-match
// handlers before wildcard, per spec.md §4.3's ordering rule.
func (r *registry) dispatch(e Envelope) {
	var ch *Channel
	if e.Channel != "" {
		ch, _ = r.get(e.Channel)
	}

	switch e.Event {
	case eventSubscriptionSucceeded:
		if ch != nil {
			ch.setSubscribed(true)
			if ch.kind == KindPresence {
				ch.seedRoster(presenceHash(e.Data))
			}
		}
	case eventMemberAdded:
		if ch != nil && ch.kind == KindPresence {
			if userID, userInfo, ok := memberFields(e.Data); ok {
				ch.addMember(userID, userInfo)
			}
		}
	case eventMemberRemoved:
		if ch != nil && ch.kind == KindPresence {
			if userID, ok := removedUserID(e.Data); ok {
				ch.removeMember(userID)
			}
		}
	}

	if ch != nil {
		r.invoke(ch.handlers, e)
	}
	r.invoke(r.global, e)
}

// invoke runs every handler bound to e.Event (then wildcard) in a table,
// recovering from panics and reporting them rather than letting one
// handler's failure stop the rest, per spec.md §4.3 and §7.
func (r *registry) invoke(table *handlerTable, e Envelope) {
	for _, h := range table.ordered(e.Event) {
		r.safeCall(h, e)
	}
}

func (r *registry) safeCall(h Handler, e Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			err, ok := rec.(error)
			if !ok {
				err = protocolError("handler panic", nil)
			}
			r.reporter(e.Event, e.Channel, err)
		}
	}()
	h(e.Event, e.Data, e.Channel)
}

// presenceHash extracts the `hash` field of a subscription_succeeded
// payload (user_id -> user_info), tolerating its absence.
func presenceHash(data interface{}) map[string]interface{} {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	hash, ok := m["hash"].(map[string]interface{})
	if !ok {
		return nil
	}
	return hash
}

// memberFields extracts user_id/user_info from a member_added payload.
func memberFields(data interface{}) (userID string, userInfo interface{}, ok bool) {
	m, isMap := data.(map[string]interface{})
	if !isMap {
		return "", nil, false
	}
	userID, ok = m["user_id"].(string)
	if !ok {
		return "", nil, false
	}
	return userID, m["user_info"], true
}

// removedUserID extracts user_id from a member_removed payload. An unknown
// or malformed payload is a no-op, per spec.md §8's boundary behavior for
// member_removed on an unknown user_id.
func removedUserID(data interface{}) (string, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return "", false
	}
	userID, ok := m["user_id"].(string)
	return userID, ok
}
