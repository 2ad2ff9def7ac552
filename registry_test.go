package reverb

import (
	"fmt"
	"testing"
)

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	r := newRegistry(nil)
	a := r.getOrCreate("private-foo", nil)
	b := r.getOrCreate("private-foo", nil)
	if a != b {
		t.Error("getOrCreate must return the same *Channel for the same name")
	}
}

func TestRegistrySnapshotNamesPreservesOrder(t *testing.T) {
	r := newRegistry(nil)
	r.getOrCreate("a", nil)
	r.getOrCreate("b", nil)
	r.getOrCreate("c", nil)
	r.drop("b")
	r.getOrCreate("d", nil)

	got := r.snapshotNames()
	want := []string{"a", "c", "d"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("snapshotNames() = %v, want %v", got, want)
	}
}

func TestRegistryDispatchSubscriptionSucceeded(t *testing.T) {
	r := newRegistry(nil)
	ch := r.getOrCreate("presence-room", map[string]interface{}{"user_id": "1"})

	r.dispatch(Envelope{
		Event:   eventSubscriptionSucceeded,
		Channel: "presence-room",
		Data:    map[string]interface{}{"hash": map[string]interface{}{"1": "ada"}},
	})

	if !ch.Subscribed() {
		t.Error("channel must be subscribed after subscription_succeeded")
	}
	if len(ch.Members()) != 1 {
		t.Errorf("Members() = %v, want 1 entry seeded from hash", ch.Members())
	}
}

func TestRegistryDispatchMemberAddedRemoved(t *testing.T) {
	r := newRegistry(nil)
	ch := r.getOrCreate("presence-room", nil)
	ch.setSubscribed(true)

	r.dispatch(Envelope{
		Event:   eventMemberAdded,
		Channel: "presence-room",
		Data:    map[string]interface{}{"user_id": "2", "user_info": "bob"},
	})
	if len(ch.Members()) != 1 {
		t.Fatalf("Members() = %v, want 1 entry", ch.Members())
	}

	r.dispatch(Envelope{
		Event:   eventMemberRemoved,
		Channel: "presence-room",
		Data:    map[string]interface{}{"user_id": "2"},
	})
	if len(ch.Members()) != 0 {
		t.Errorf("Members() = %v, want empty after member_removed", ch.Members())
	}
}

func TestRegistryDispatchFansOutToChannelAndGlobal(t *testing.T) {
	r := newRegistry(nil)
	ch := r.getOrCreate("private-foo", nil)

	var channelCalls, globalCalls int
	ch.Bind("my-event", func(event string, data interface{}, channel string) { channelCalls++ })
	r.global.add("my-event", func(event string, data interface{}, channel string) { globalCalls++ })

	r.dispatch(Envelope{Event: "my-event", Channel: "private-foo"})

	if channelCalls != 1 || globalCalls != 1 {
		t.Errorf("channelCalls=%d globalCalls=%d, want 1 and 1", channelCalls, globalCalls)
	}
}

func TestRegistryMarkAllUnsubscribedKeepsMe(t *testing.T) {
	r := newRegistry(nil)
	ch := r.getOrCreate("presence-room", map[string]interface{}{"user_id": "1"})
	ch.setSubscribed(true)
	ch.seedRoster(map[string]interface{}{"1": "ada", "2": "bob"})

	r.markAllUnsubscribed()

	if ch.Subscribed() {
		t.Error("channel must be unsubscribed")
	}
	if len(ch.Members()) != 0 {
		t.Errorf("Members() = %v, want empty roster", ch.Members())
	}
	if me := ch.Me(); me == nil || me.UserID != "1" {
		t.Error("Me() must survive markAllUnsubscribed")
	}
}

func TestRegistrySafeCallRecoversPanic(t *testing.T) {
	var reported string
	r := newRegistry(func(event, channel string, err error) { reported = event })

	r.global.add("boom", func(event string, data interface{}, channel string) { panic("kaboom") })
	r.dispatch(Envelope{Event: "boom"})

	if reported != "boom" {
		t.Errorf("reporter was not invoked for a panicking handler, got %q", reported)
	}
}

func TestRegistryDropRemovesFromOrderAndMap(t *testing.T) {
	r := newRegistry(nil)
	r.getOrCreate("a", nil)
	r.drop("a")

	if _, ok := r.get("a"); ok {
		t.Error("dropped channel must no longer be retrievable")
	}
	if names := r.snapshotNames(); len(names) != 0 {
		t.Errorf("snapshotNames() = %v, want empty", names)
	}
}
