// Package events provides the best-effort lifecycle event fabric:
// an in-process bus the queue and executor publish on, plus an
// optional forwarder that mirrors events onto NATS subjects for
// external consumers.
//
// The bus is observability plumbing, not a work queue. Publishing
// never fails, handlers run after the store transaction that produced
// the event has committed, and a panicking subscriber cannot corrupt
// queue state.
package events

import (
	"log/slog"
	"sync"
	"time"

	"go.payrelay.dev/internal/common/metrics"
	"go.payrelay.dev/internal/store"
)

// Topic identifies one lifecycle event stream.
type Topic string

const (
	// TopicPushed - an item entered the queue (new or coalesced)
	TopicPushed Topic = "pushed"

	// TopicPeeked - a peek returned a non-empty candidate set
	TopicPeeked Topic = "peeked"

	// TopicSuccess - an item reached terminal success
	TopicSuccess Topic = "success"

	// TopicFailed - an item was recycled or stalled out of a failed batch
	TopicFailed Topic = "failed"

	// TopicBatchProcessed - a batch settled successfully on-chain
	TopicBatchProcessed Topic = "batchProcessed"

	// TopicBatchFailed - a batch was torn down after a failure
	TopicBatchFailed Topic = "batchFailed"

	// TopicLoopCompleted - one executor tick finished
	TopicLoopCompleted Topic = "loopCompleted"
)

// Event is one notification published on the bus.
type Event struct {
	Topic Topic     `json:"topic"`
	At    time.Time `json:"at"`
	Data  any       `json:"data,omitempty"`
}

// Pushed reports an item entering the queue.
type Pushed struct {
	ID                int64  `json:"id"`
	Receiver          string `json:"receiver"`
	Amount            string `json:"amount"`
	Memo              string `json:"memo,omitempty"`
	HasStorageDeposit bool   `json:"hasStorageDeposit"`
	Coalesced         bool   `json:"coalesced"`
}

// Peeked reports a non-empty scheduling peek.
type Peeked struct {
	Items []*store.Item `json:"items"`
}

// Succeeded reports one item reaching terminal success.
type Succeeded struct {
	Item   *store.Item `json:"item"`
	TxHash string      `json:"txHash"`
}

// Failed reports one item coming back out of a failed batch.
type Failed struct {
	Item   *store.Item `json:"item"`
	Reason string      `json:"reason"`
}

// BatchProcessed reports a successful on-chain batch.
type BatchProcessed struct {
	BatchID int64  `json:"batchId"`
	Count   int    `json:"count"`
	TxHash  string `json:"txHash"`
}

// BatchFailed reports a torn-down batch.
type BatchFailed struct {
	BatchID int64  `json:"batchId"`
	Count   int    `json:"count"`
	Reason  string `json:"reason"`
}

// LoopCompleted reports one finished executor tick.
type LoopCompleted struct {
	Processed  int   `json:"processed"`
	DurationMS int64 `json:"durationMs"`
}

// Handler receives events. Handlers run synchronously on the
// publishing goroutine, so they must return quickly; anything slow
// should hand off internally (see Forwarder).
type Handler func(Event)

// Bus is a minimal in-process pub/sub fabric. Subscribers may be
// absent; publishing to zero subscribers is a no-op.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	topics map[Topic]map[int]Handler
	all    map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[Topic]map[int]Handler),
		all:    make(map[int]Handler),
	}
}

// Subscribe registers a handler for one topic and returns its
// unsubscribe function.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]Handler)
	}
	b.topics[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.topics[topic], id)
	}
}

// SubscribeAll registers a handler for every topic and returns its
// unsubscribe function.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.all[id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish delivers an event to every matching subscriber. Delivery is
// best-effort: a panicking handler is logged and the remaining
// handlers still run.
func (b *Bus) Publish(topic Topic, data any) {
	event := Event{Topic: topic, At: time.Now().UTC(), Data: data}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.topics[topic])+len(b.all))
	for _, h := range b.topics[topic] {
		handlers = append(handlers, h)
	}
	for _, h := range b.all {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(topic)).Inc()

	for _, h := range handlers {
		invoke(h, event)
	}
}

func invoke(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", "topic", event.Topic, "panic", r)
		}
	}()
	h(event)
}
