package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.payrelay.dev/internal/chain"
	"go.payrelay.dev/internal/events"
	"go.payrelay.dev/internal/queue"
	"go.payrelay.dev/internal/store"
)

// fakeSigner produces deterministic blobs without a chain key.
type fakeSigner struct {
	mu             sync.Mutex
	calls          int
	actionsPerCall []int
	err            error
}

func (s *fakeSigner) Sign(ctx context.Context, actions []chain.Action) (*chain.SignedTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.actionsPerCall = append(s.actionsPerCall, len(actions))
	if s.err != nil {
		return nil, s.err
	}

	blob, err := json.Marshal(len(actions))
	if err != nil {
		return nil, err
	}
	return &chain.SignedTx{Blob: blob, Hash: fmt.Sprintf("content-%d", s.calls)}, nil
}

func (s *fakeSigner) actionCounts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.actionsPerCall...)
}

// fakeCaster replays scripted outcomes in order; the last one repeats.
type fakeCaster struct {
	mu       sync.Mutex
	outcomes []chain.Outcome
	sent     [][]byte
}

func (c *fakeCaster) Send(ctx context.Context, signedTx []byte) chain.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), signedTx...))
	if len(c.outcomes) == 0 {
		return chain.Success("chain-hash")
	}
	outcome := c.outcomes[0]
	if len(c.outcomes) > 1 {
		c.outcomes = c.outcomes[1:]
	}
	return outcome
}

func (c *fakeCaster) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func newTestExecutor(t *testing.T, cfg *Config, queueCfg *queue.Config) (*Executor, *queue.Queue, *fakeSigner, *fakeCaster, *events.Bus) {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "payrelay.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	bus := events.NewBus()
	q := queue.New(s, bus, queueCfg)
	signer := &fakeSigner{}
	caster := &fakeCaster{}

	exec, err := New(cfg, q, signer, caster, chain.DefaultParams("token.near"), bus)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return exec, q, signer, caster, bus
}

func boolPtr(b bool) *bool { return &b }

func enqueueN(t *testing.T, q *queue.Queue, n int, amount string, registered bool) []*store.Item {
	t.Helper()
	items := make([]*store.Item, 0, n)
	for i := 0; i < n; i++ {
		item, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
			Receiver:          fmt.Sprintf("r%02d.near", i),
			Amount:            amount,
			HasStorageDeposit: boolPtr(registered),
		})
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
		items = append(items, item)
	}
	return items
}

// Scenario: three same-receiver enqueues coalesce into one item that a
// single tick settles.
func TestTick_CoalescedBatch(t *testing.T) {
	exec, q, _, caster, _ := newTestExecutor(t, nil, nil)
	ctx := context.Background()

	for _, amount := range []string{"100", "200", "300"} {
		if _, err := q.Enqueue(ctx, queue.EnqueueRequest{
			Receiver:          "alice.near",
			Amount:            amount,
			HasStorageDeposit: boolPtr(true),
		}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	peeked, err := q.Peek(ctx, 10)
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if len(peeked) != 1 {
		t.Fatalf("Expected 1 coalesced item, got %d", len(peeked))
	}
	if peeked[0].Amount != "600" {
		t.Errorf("Expected coalesced amount 600, got %s", peeked[0].Amount)
	}

	exec.tick(ctx)

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Success != 1 {
		t.Errorf("Expected 1 success, got %d", stats.Success)
	}
	if stats.Pending != 0 {
		t.Errorf("Expected 0 pending, got %d", stats.Pending)
	}
	if caster.sendCount() != 1 {
		t.Errorf("Expected 1 broadcast, got %d", caster.sendCount())
	}
}

// Scenario: ten items with batchSize=3 settle in four batches of
// 3, 3, 3, 1.
func TestTick_BoundedBatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 3
	exec, q, signer, caster, _ := newTestExecutor(t, cfg, &queue.Config{Coalesce: false})
	ctx := context.Background()

	enqueueN(t, q, 10, "10", true)

	for i := 0; i < 4; i++ {
		exec.tick(ctx)
	}

	counts := signer.actionCounts()
	expected := []int{3, 3, 3, 1}
	if len(counts) != len(expected) {
		t.Fatalf("Expected %d batches, got %d", len(expected), len(counts))
	}
	for i, want := range expected {
		if counts[i] != want {
			t.Errorf("Batch %d: expected %d actions, got %d", i, want, counts[i])
		}
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Success != 10 {
		t.Errorf("Expected 10 success, got %d", stats.Success)
	}
	if stats.Pending != 0 {
		t.Errorf("Expected 0 pending, got %d", stats.Pending)
	}
	if caster.sendCount() != 4 {
		t.Errorf("Expected 4 broadcasts, got %d", caster.sendCount())
	}
}

// Scenario: an action-indexed failure stalls exactly the offending
// item; siblings return to pending untouched and the batch row is
// deleted.
func TestTick_ActionIndexIsolation(t *testing.T) {
	exec, q, _, caster, _ := newTestExecutor(t, nil, &queue.Config{Coalesce: false})
	ctx := context.Background()

	items := enqueueN(t, q, 5, "10", true)

	index := 2
	caster.outcomes = []chain.Outcome{chain.ActionFailure(&index, "ReceiverNotRegistered")}

	exec.tick(ctx)

	for i, enqueued := range items {
		got, err := q.Item(ctx, enqueued.ID)
		if err != nil {
			t.Fatalf("Item %d failed: %v", i, err)
		}

		if i == index {
			if got.State() != store.StateStalled {
				t.Errorf("Item %d: expected STALLED, got %s", i, got.State())
			}
			if got.ErrorMessage != "ReceiverNotRegistered" {
				t.Errorf("Item %d: expected offender error message, got %q", i, got.ErrorMessage)
			}
			continue
		}

		if got.State() != store.StatePending {
			t.Errorf("Item %d: expected PENDING, got %s", i, got.State())
		}
		if got.RetryCount != 0 {
			t.Errorf("Item %d: expected retry count 0, got %d", i, got.RetryCount)
		}
		if got.ErrorMessage != "" {
			t.Errorf("Item %d: expected no error message, got %q", i, got.ErrorMessage)
		}
	}

	inflight, err := q.ReplayInFlight(ctx)
	if err != nil {
		t.Fatalf("ReplayInFlight failed: %v", err)
	}
	if len(inflight) != 0 {
		t.Errorf("Expected failed batch to be deleted, found %d in flight", len(inflight))
	}
}

// Scenario: whole-batch failures recycle with retry accounting until
// the item crosses maxRetries and stalls.
func TestTick_RetriesExhaustAndStall(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	exec, q, _, caster, _ := newTestExecutor(t, cfg, nil)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, queue.EnqueueRequest{
		Receiver:          "alice.near",
		Amount:            "100",
		HasStorageDeposit: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	caster.outcomes = []chain.Outcome{chain.InvalidTx("InvalidNonce")}

	for i := 0; i < 3; i++ {
		exec.tick(ctx)
	}

	got, err := q.Item(ctx, item.ID)
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if got.RetryCount != 3 {
		t.Errorf("Expected retry count 3, got %d", got.RetryCount)
	}
	if got.State() != store.StateStalled {
		t.Errorf("Expected STALLED, got %s", got.State())
	}
	if got.ErrorMessage != "InvalidNonce" {
		t.Errorf("Expected error message InvalidNonce, got %q", got.ErrorMessage)
	}

	inflight, err := q.ReplayInFlight(ctx)
	if err != nil {
		t.Fatalf("ReplayInFlight failed: %v", err)
	}
	if len(inflight) != 0 {
		t.Errorf("Expected no batches left, found %d in flight", len(inflight))
	}

	// A stalled item is invisible to later ticks
	sends := caster.sendCount()
	exec.tick(ctx)
	if caster.sendCount() != sends {
		t.Error("Expected no broadcast for a stalled item")
	}
}

// Scenario: a batch committed before a crash is resubmitted at startup
// and settles on the chain's answer.
func TestRecoverInFlight_ResubmitsSignedBatch(t *testing.T) {
	exec, q, _, caster, _ := newTestExecutor(t, nil, nil)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, queue.EnqueueRequest{Receiver: "alice.near", Amount: "100"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if item.HasStorageDeposit {
		t.Fatal("Expected item to need registration")
	}

	// The previous process signed and attached, then died before the
	// broadcast.
	blob := []byte("signed-before-crash")
	if _, err := q.AttachBatch(ctx, "content-hash", blob, []int64{item.ID}); err != nil {
		t.Fatalf("AttachBatch failed: %v", err)
	}

	caster.outcomes = []chain.Outcome{chain.Success("prior-chain-hash")}

	exec.recoverInFlight(ctx)

	if caster.sendCount() != 1 {
		t.Fatalf("Expected 1 resubmission, got %d", caster.sendCount())
	}
	if string(caster.sent[0]) != string(blob) {
		t.Error("Expected the stored blob to be resubmitted verbatim")
	}

	got, err := q.Item(ctx, item.ID)
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if got.State() != store.StateSuccess {
		t.Errorf("Expected SUCCESS, got %s", got.State())
	}
	if !got.HasStorageDeposit {
		t.Error("Expected storage-deposit flag flipped on success")
	}
}

// A replayed batch that fails on resubmission recycles its items, and
// the trailing recover() leaves the store consistent.
func TestRecoverInFlight_FailedResubmissionRecycles(t *testing.T) {
	exec, q, _, caster, _ := newTestExecutor(t, nil, nil)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, queue.EnqueueRequest{Receiver: "alice.near", Amount: "100"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.AttachBatch(ctx, "content-hash", []byte("blob"), []int64{item.ID}); err != nil {
		t.Fatalf("AttachBatch failed: %v", err)
	}

	caster.outcomes = []chain.Outcome{chain.InvalidTx("Expired")}

	exec.recoverInFlight(ctx)

	got, err := q.Item(ctx, item.ID)
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if got.State() != store.StatePending {
		t.Errorf("Expected PENDING, got %s", got.State())
	}
	if got.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", got.RetryCount)
	}
}

// Scenario: sixty unregistered items pack 50 to the 100-action budget;
// the stragglers ride the next tick.
func TestTick_MixedBudget(t *testing.T) {
	exec, q, signer, _, _ := newTestExecutor(t, nil, nil)
	ctx := context.Background()

	enqueueN(t, q, 60, "10", false)

	exec.tick(ctx)

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Success != 50 {
		t.Errorf("Expected 50 success after first tick, got %d", stats.Success)
	}
	if stats.Pending != 10 {
		t.Errorf("Expected 10 pending after first tick, got %d", stats.Pending)
	}

	// The first batch registered its receivers. Mark the stragglers
	// registered too (coalescing overwrites the flag), so the next
	// batch needs one action each.
	for i := 50; i < 60; i++ {
		if _, err := q.Enqueue(ctx, queue.EnqueueRequest{
			Receiver:          fmt.Sprintf("r%02d.near", i),
			Amount:            "0",
			HasStorageDeposit: boolPtr(true),
		}); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	exec.tick(ctx)

	counts := signer.actionCounts()
	if len(counts) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(counts))
	}
	if counts[0] != 100 {
		t.Errorf("Expected 100 actions in first batch, got %d", counts[0])
	}
	if counts[1] != 10 {
		t.Errorf("Expected 10 actions in second batch, got %d", counts[1])
	}

	stats, err = q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Success != 60 {
		t.Errorf("Expected 60 success, got %d", stats.Success)
	}
	if stats.Pending != 0 {
		t.Errorf("Expected 0 pending, got %d", stats.Pending)
	}
}

func TestTick_SkipsBelowMinQueue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinQueueToProcess = 3
	exec, q, _, caster, _ := newTestExecutor(t, cfg, &queue.Config{Coalesce: false})
	ctx := context.Background()

	enqueueN(t, q, 2, "10", true)

	exec.tick(ctx)

	if caster.sendCount() != 0 {
		t.Errorf("Expected no broadcast below the queue threshold, got %d", caster.sendCount())
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Pending != 2 {
		t.Errorf("Expected 2 pending, got %d", stats.Pending)
	}
}

func TestTick_SignerFailurePenalizesItems(t *testing.T) {
	exec, q, signer, caster, _ := newTestExecutor(t, nil, &queue.Config{Coalesce: false})
	ctx := context.Background()

	items := enqueueN(t, q, 2, "10", true)
	signer.err = errors.New("key provider unreachable")

	exec.tick(ctx)

	if caster.sendCount() != 0 {
		t.Error("Expected no broadcast after signer failure")
	}

	for i, enqueued := range items {
		got, err := q.Item(ctx, enqueued.ID)
		if err != nil {
			t.Fatalf("Item %d failed: %v", i, err)
		}
		if got.State() != store.StatePending {
			t.Errorf("Item %d: expected PENDING, got %s", i, got.State())
		}
		if got.RetryCount != 1 {
			t.Errorf("Item %d: expected retry count 1, got %d", i, got.RetryCount)
		}
		if got.ErrorMessage != "key provider unreachable" {
			t.Errorf("Item %d: expected signer error recorded, got %q", i, got.ErrorMessage)
		}
	}

	// The signer recovers; the next tick settles both items.
	signer.mu.Lock()
	signer.err = nil
	signer.mu.Unlock()

	exec.tick(ctx)

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Success != 2 {
		t.Errorf("Expected 2 success, got %d", stats.Success)
	}
}

func TestTick_TransportFailureRecycles(t *testing.T) {
	exec, q, _, caster, _ := newTestExecutor(t, nil, nil)
	ctx := context.Background()

	item, err := q.Enqueue(ctx, queue.EnqueueRequest{
		Receiver:          "alice.near",
		Amount:            "100",
		HasStorageDeposit: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	caster.outcomes = []chain.Outcome{
		chain.TransportFailure(errors.New("connection refused")),
		chain.Success("chain-hash"),
	}

	exec.tick(ctx)

	got, err := q.Item(ctx, item.ID)
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if got.State() != store.StatePending {
		t.Errorf("Expected PENDING after transport failure, got %s", got.State())
	}
	if got.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", got.RetryCount)
	}
	if got.ErrorMessage != "connection refused" {
		t.Errorf("Expected transport error recorded, got %q", got.ErrorMessage)
	}

	exec.tick(ctx)

	got, err = q.Item(ctx, item.ID)
	if err != nil {
		t.Fatalf("Item failed: %v", err)
	}
	if got.State() != store.StateSuccess {
		t.Errorf("Expected SUCCESS after retry, got %s", got.State())
	}
}

func TestTick_ActionIndexOutOfRangeRecyclesBatch(t *testing.T) {
	exec, q, _, caster, _ := newTestExecutor(t, nil, &queue.Config{Coalesce: false})
	ctx := context.Background()

	items := enqueueN(t, q, 2, "10", true)

	index := 99
	caster.outcomes = []chain.Outcome{chain.ActionFailure(&index, "FunctionCallError")}

	exec.tick(ctx)

	for i, enqueued := range items {
		got, err := q.Item(ctx, enqueued.ID)
		if err != nil {
			t.Fatalf("Item %d failed: %v", i, err)
		}
		if got.State() != store.StatePending {
			t.Errorf("Item %d: expected PENDING, got %s", i, got.State())
		}
		if got.RetryCount != 1 {
			t.Errorf("Item %d: expected retry count 1, got %d", i, got.RetryCount)
		}
	}
}

func TestTick_EmitsLifecycleEvents(t *testing.T) {
	exec, q, _, caster, bus := newTestExecutor(t, nil, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var processed []events.BatchProcessed
	var failed []events.BatchFailed
	var loops []events.LoopCompleted

	bus.Subscribe(events.TopicBatchProcessed, func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		processed = append(processed, ev.Data.(events.BatchProcessed))
	})
	bus.Subscribe(events.TopicBatchFailed, func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, ev.Data.(events.BatchFailed))
	})
	bus.Subscribe(events.TopicLoopCompleted, func(ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		loops = append(loops, ev.Data.(events.LoopCompleted))
	})

	if _, err := q.Enqueue(ctx, queue.EnqueueRequest{
		Receiver:          "alice.near",
		Amount:            "100",
		HasStorageDeposit: boolPtr(true),
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	caster.outcomes = []chain.Outcome{
		chain.TransportFailure(errors.New("connection refused")),
		chain.Success("chain-hash"),
	}

	exec.tick(ctx)
	exec.tick(ctx)

	mu.Lock()
	defer mu.Unlock()

	if len(failed) != 1 {
		t.Fatalf("Expected 1 batchFailed event, got %d", len(failed))
	}
	if failed[0].Reason != "connection refused" {
		t.Errorf("Expected failure reason recorded, got %q", failed[0].Reason)
	}

	if len(processed) != 1 {
		t.Fatalf("Expected 1 batchProcessed event, got %d", len(processed))
	}
	if processed[0].TxHash != "chain-hash" {
		t.Errorf("Expected chain hash in batchProcessed, got %q", processed[0].TxHash)
	}
	if processed[0].Count != 1 {
		t.Errorf("Expected count 1 in batchProcessed, got %d", processed[0].Count)
	}

	if len(loops) != 2 {
		t.Errorf("Expected 2 loopCompleted events, got %d", len(loops))
	}
}

func TestWaitUntilIdle(t *testing.T) {
	exec, q, _, _, _ := newTestExecutor(t, nil, nil)
	ctx := context.Background()

	// Empty queue resolves immediately
	if err := exec.WaitUntilIdle(ctx); err != nil {
		t.Fatalf("WaitUntilIdle on empty queue failed: %v", err)
	}

	if _, err := q.Enqueue(ctx, queue.EnqueueRequest{
		Receiver:          "alice.near",
		Amount:            "100",
		HasStorageDeposit: boolPtr(true),
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	released := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			released <- exec.WaitUntilIdle(ctx)
		}()
	}

	// Give the waiters time to register before the tick drains the
	// queue.
	time.Sleep(50 * time.Millisecond)

	exec.tick(ctx)

	for i := 0; i < 2; i++ {
		select {
		case err := <-released:
			if err != nil {
				t.Errorf("Waiter %d failed: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for idle notification")
		}
	}
}

func TestWaitUntilIdle_ContextCancelled(t *testing.T) {
	exec, q, _, _, _ := newTestExecutor(t, nil, nil)

	if _, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		Receiver: "alice.near",
		Amount:   "100",
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := exec.WaitUntilIdle(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestStartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	exec, q, _, _, _ := newTestExecutor(t, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := q.Enqueue(ctx, queue.EnqueueRequest{
		Receiver:          "alice.near",
		Amount:            "100",
		HasStorageDeposit: boolPtr(true),
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	startErr := make(chan error, 1)
	go func() {
		startErr <- exec.Start(ctx)
	}()

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	if err := exec.WaitUntilIdle(waitCtx); err != nil {
		t.Fatalf("WaitUntilIdle failed: %v", err)
	}

	if err := exec.Health(); err != nil {
		t.Errorf("Expected healthy while running, got %v", err)
	}

	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := exec.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-startErr:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}

	if err := exec.Health(); err == nil {
		t.Error("Expected health error after stop")
	}

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Success != 1 {
		t.Errorf("Expected 1 success, got %d", stats.Success)
	}
}

func TestActionOwner(t *testing.T) {
	items := []*store.Item{
		{ID: 1, HasStorageDeposit: false}, // actions 0, 1
		{ID: 2, HasStorageDeposit: true},  // action 2
		{ID: 3, HasStorageDeposit: false}, // actions 3, 4
	}

	tests := []struct {
		index    int
		expected int64 // 0 means no owner
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 3},
		{4, 3},
		{5, 0},
		{-1, 0},
	}

	for _, tt := range tests {
		owner := actionOwner(items, tt.index)
		if tt.expected == 0 {
			if owner != nil {
				t.Errorf("Index %d: expected no owner, got item %d", tt.index, owner.ID)
			}
			continue
		}
		if owner == nil {
			t.Errorf("Index %d: expected item %d, got nil", tt.index, tt.expected)
			continue
		}
		if owner.ID != tt.expected {
			t.Errorf("Index %d: expected item %d, got %d", tt.index, tt.expected, owner.ID)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"batch size zero", func(c *Config) { c.BatchSize = 0 }},
		{"batch size over cap", func(c *Config) { c.BatchSize = 101 }},
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"min queue zero", func(c *Config) { c.MinQueueToProcess = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero action budget", func(c *Config) { c.MaxActionsPerTransaction = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}
