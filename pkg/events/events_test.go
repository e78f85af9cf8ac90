package events

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventAgentEnrolled, AgentID: "001", AgentName: "web01"})

	select {
	case ev := <-sub:
		if ev.Type != EventAgentEnrolled {
			t.Errorf("expected %s, got %s", EventAgentEnrolled, ev.Type)
		}
		if ev.AgentID != "001" {
			t.Errorf("expected agent 001, got %s", ev.AgentID)
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp should be set on publish")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	if b.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", b.SubscriberCount())
	}

	b.Unsubscribe(sub)
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.SubscriberCount())
	}

	if _, ok := <-sub; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}
