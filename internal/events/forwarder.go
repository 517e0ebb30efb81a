package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"go.payrelay.dev/internal/common/metrics"
)

// ForwarderConfig configures the NATS event forwarder.
type ForwarderConfig struct {
	// URL is the NATS server address
	URL string `toml:"url"`

	// StreamName is the JetStream stream receiving events
	StreamName string `toml:"stream_name"`

	// SubjectPrefix is prepended to the topic, e.g. payrelay.queue.pushed
	SubjectPrefix string `toml:"subject_prefix"`

	// BufferSize is how many events may sit between the bus and the
	// publishing goroutine before new ones are dropped
	BufferSize int `toml:"buffer_size"`

	// MaxAge bounds event retention in the stream
	MaxAge time.Duration `toml:"max_age"`
}

// DefaultForwarderConfig returns the default forwarder configuration.
func DefaultForwarderConfig() *ForwarderConfig {
	return &ForwarderConfig{
		URL:           "nats://localhost:4222",
		StreamName:    "PAYRELAY_EVENTS",
		SubjectPrefix: "payrelay.queue",
		BufferSize:    256,
		MaxAge:        24 * time.Hour,
	}
}

// jsPublisher is the slice of jetstream.JetStream the forwarder uses.
type jsPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Forwarder mirrors bus events onto NATS subjects so external
// consumers can follow queue progress. Bus handlers must not block,
// so the forwarder hands events to a buffered channel and publishes
// from its own goroutine; when the buffer is full events are dropped
// and counted rather than applying backpressure to the queue.
type Forwarder struct {
	conn   *nats.Conn
	js     jsPublisher
	prefix string

	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewForwarder connects to NATS, ensures the event stream exists and
// starts the publishing goroutine.
func NewForwarder(ctx context.Context, cfg *ForwarderConfig) (*Forwarder, error) {
	if cfg == nil {
		cfg = DefaultForwarderConfig()
	}
	defaults := DefaultForwarderConfig()
	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = defaults.StreamName
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaults.SubjectPrefix
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaults.MaxAge
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("payrelay-events"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if err := ensureStream(ctx, js, cfg); err != nil {
		conn.Close()
		return nil, err
	}

	f := newForwarder(js, cfg.SubjectPrefix, cfg.BufferSize)
	f.conn = conn

	slog.Info("Event forwarder connected",
		"url", cfg.URL,
		"stream", cfg.StreamName,
		"subjectPrefix", cfg.SubjectPrefix)
	return f, nil
}

// newForwarder wires the channel and publishing goroutine around an
// already-built JetStream handle.
func newForwarder(js jsPublisher, prefix string, buffer int) *Forwarder {
	f := &Forwarder{
		js:     js,
		prefix: prefix,
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	f.wg.Add(1)
	go f.run()
	return f
}

// ensureStream creates or updates the JetStream stream holding events.
func ensureStream(ctx context.Context, js jetstream.JetStream, cfg *ForwarderConfig) error {
	streamCfg := jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy, // events fan out to any number of readers
		MaxAge:    cfg.MaxAge,
		Replicas:  1,
		Discard:   jetstream.DiscardOld,
		MaxMsgs:   -1,
		MaxBytes:  -1,
	}

	_, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		slog.Info("Created JetStream stream", "stream", cfg.StreamName)
		return nil
	}

	if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// Attach subscribes the forwarder to every bus topic and returns the
// unsubscribe function.
func (f *Forwarder) Attach(bus *Bus) func() {
	return bus.SubscribeAll(f.offer)
}

// offer is the bus handler: a non-blocking hand-off to the publisher.
func (f *Forwarder) offer(e Event) {
	select {
	case f.ch <- e:
	default:
		metrics.EventsDropped.Inc()
		slog.Warn("Event forwarder buffer full, dropping event", "topic", e.Topic)
	}
}

func (f *Forwarder) run() {
	defer f.wg.Done()
	for {
		select {
		case e := <-f.ch:
			f.publish(e)
		case <-f.done:
			// Drain whatever is still buffered before exiting.
			for {
				select {
				case e := <-f.ch:
					f.publish(e)
				default:
					return
				}
			}
		}
	}
}

func (f *Forwarder) publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Error("Failed to marshal event", "topic", e.Topic, "error", err)
		return
	}

	msg := &nats.Msg{
		Subject: f.prefix + "." + string(e.Topic),
		Data:    payload,
		Header:  make(nats.Header),
	}
	msg.Header.Set("Nats-Msg-Id", uuid.NewString())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := f.js.PublishMsg(ctx, msg); err != nil {
		slog.Warn("Failed to forward event", "topic", e.Topic, "error", err)
		return
	}
	metrics.EventsForwarded.WithLabelValues(string(e.Topic)).Inc()
}

// Close stops the publishing goroutine, drains buffered events and
// closes the NATS connection.
func (f *Forwarder) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.wg.Wait()
		if f.conn != nil {
			f.conn.Close()
		}
	})
}

// IsConnected reports whether the NATS connection is up. Wired into
// the readiness check when forwarding is enabled.
func (f *Forwarder) IsConnected() bool {
	return f.conn != nil && f.conn.IsConnected()
}
