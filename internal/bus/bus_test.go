package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: "message.inserted", Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != "message.inserted" {
			t.Errorf("got kind %q, want message.inserted", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	defer unsub()

	b.Publish(Event{Kind: "message.inserted"})
	b.Publish(Event{Kind: "session.subscription_changed"})

	select {
	case evt := <-ch:
		if evt.Kind != "session.subscription_changed" {
			t.Errorf("got kind %q, want session.subscription_changed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the message event was not delivered.
	select {
	case evt, ok := <-ch:
		if ok {
			t.Errorf("unexpected event: %v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()
	unsub()

	b.Publish(Event{Kind: "message.inserted"})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("channel not closed after unsubscribe")
	}
	if n := b.Subscribers(); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
}

func TestLaggingSubscriberDropped(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	if dropped := b.Publish(Event{Kind: "test.one"}); dropped != 0 {
		t.Fatalf("dropped = %d on first publish", dropped)
	}
	// Buffer is full: the subscriber is dropped.
	if dropped := b.Publish(Event{Kind: "test.two"}); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}

	evt, ok := <-ch
	if !ok || evt.Kind != "test.one" {
		t.Errorf("got (%q, %v), want buffered test.one", evt.Kind, ok)
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after lag")
	}
}

func TestNewEventStampsIDAndTime(t *testing.T) {
	before := time.Now()
	a := NewEvent("message.inserted", 1)
	b := NewEvent("message.inserted", 2)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if a.Timestamp.Before(before) {
		t.Errorf("timestamp %v before %v", a.Timestamp, before)
	}
	if a.Kind != "message.inserted" || a.Payload != 1 {
		t.Errorf("unexpected event %+v", a)
	}
}
