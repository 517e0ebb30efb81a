package events

import (
	"testing"
)

func TestBusDeliversToTopicSubscriber(t *testing.T) {
	bus := NewBus()

	var got []Event
	bus.Subscribe(TopicPushed, func(e Event) {
		got = append(got, e)
	})

	bus.Publish(TopicPushed, Pushed{ID: 1, Receiver: "alice.near", Amount: "100"})
	bus.Publish(TopicSuccess, Succeeded{TxHash: "h"})

	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].Topic != TopicPushed {
		t.Errorf("Expected topic pushed, got %s", got[0].Topic)
	}
	data, ok := got[0].Data.(Pushed)
	if !ok {
		t.Fatalf("Expected Pushed payload, got %T", got[0].Data)
	}
	if data.Receiver != "alice.near" {
		t.Errorf("Expected receiver alice.near, got %s", data.Receiver)
	}
	if got[0].At.IsZero() {
		t.Error("Expected event timestamp set")
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus()

	var topics []Topic
	bus.SubscribeAll(func(e Event) {
		topics = append(topics, e.Topic)
	})

	bus.Publish(TopicPushed, nil)
	bus.Publish(TopicBatchProcessed, nil)
	bus.Publish(TopicLoopCompleted, nil)

	if len(topics) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(topics))
	}
	if topics[1] != TopicBatchProcessed {
		t.Errorf("Expected batchProcessed, got %s", topics[1])
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	unsubscribe := bus.Subscribe(TopicFailed, func(Event) {
		count++
	})

	bus.Publish(TopicFailed, nil)
	unsubscribe()
	bus.Publish(TopicFailed, nil)

	if count != 1 {
		t.Errorf("Expected 1 delivery after unsubscribe, got %d", count)
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus()

	// Must not panic or block.
	bus.Publish(TopicPeeked, Peeked{})
}

func TestBusContainsHandlerPanic(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(TopicPushed, func(Event) {
		panic("bad handler")
	})

	delivered := false
	bus.Subscribe(TopicPushed, func(Event) {
		delivered = true
	})

	bus.Publish(TopicPushed, nil)

	if !delivered {
		t.Error("Expected remaining handlers to run after a panic")
	}
}
