// Package executor drains the transfer queue. Each tick it peeks
// pending items, packs as many as fit the per-transaction action
// budget, signs one batched transaction, durably attaches the batch to
// the store, and only then broadcasts. That ordering is the crash
// contract: a signed batch found at startup is resubmitted as-is, and
// the chain deduplicates by content.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"go.payrelay.dev/internal/chain"
	"go.payrelay.dev/internal/common/metrics"
	"go.payrelay.dev/internal/events"
	"go.payrelay.dev/internal/queue"
	"go.payrelay.dev/internal/store"
)

// Config holds configuration for the executor
type Config struct {
	// BatchSize is the maximum items considered per tick (1..100)
	BatchSize int `json:"batchSize" toml:"batch_size"`

	// Interval is the minimum wall time between tick starts
	Interval time.Duration `json:"interval" toml:"interval"`

	// MinQueueToProcess defers work until this many items are pending
	MinQueueToProcess int `json:"minQueueToProcess" toml:"min_queue_to_process"`

	// MaxRetries is the recycle budget before an item auto-stalls
	MaxRetries int `json:"maxRetries" toml:"max_retries"`

	// MaxActionsPerTransaction is the chain-imposed action cap
	MaxActionsPerTransaction int `json:"maxActionsPerTransaction" toml:"max_actions_per_transaction"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BatchSize:                100,
		Interval:                 500 * time.Millisecond,
		MinQueueToProcess:        1,
		MaxRetries:               5,
		MaxActionsPerTransaction: 100,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.BatchSize < 1 || c.BatchSize > 100 {
		return fmt.Errorf("batch size must be between 1 and 100, got %d", c.BatchSize)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.MinQueueToProcess < 1 {
		return fmt.Errorf("min queue to process must be at least 1, got %d", c.MinQueueToProcess)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.MaxActionsPerTransaction < 1 {
		return fmt.Errorf("max actions per transaction must be at least 1, got %d", c.MaxActionsPerTransaction)
	}
	return nil
}

// Executor owns the scheduling loop. It is the single writer deciding
// when a batch forms, how large it is, and how to react to its
// outcome.
type Executor struct {
	cfg    *Config
	queue  *queue.Queue
	signer chain.Signer
	caster chain.Broadcaster
	params chain.Params
	bus    *events.Bus

	done      chan struct{}
	running   bool
	runningMu sync.Mutex

	// lastTick is the completion time of the most recent tick in unix
	// nanoseconds, zero before the first tick finishes
	lastTick atomic.Int64

	// idleCh is the one-shot rendezvous for WaitUntilIdle. All
	// registered waiters are released together when a tick observes an
	// empty queue.
	idleMu sync.Mutex
	idleCh chan struct{}
}

// New creates an executor.
func New(cfg *Config, q *queue.Queue, signer chain.Signer, caster chain.Broadcaster, params chain.Params, bus *events.Bus) (*Executor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("executor config: %w", err)
	}
	if q == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if caster == nil {
		return nil, fmt.Errorf("broadcaster is required")
	}
	if bus == nil {
		bus = events.NewBus()
	}

	return &Executor{
		cfg:    cfg,
		queue:  q,
		signer: signer,
		caster: caster,
		params: params,
		bus:    bus,
		done:   make(chan struct{}),
	}, nil
}

// Name returns the service identifier
func (e *Executor) Name() string {
	return "executor"
}

// Start runs crash recovery and then the tick loop. Blocks until ctx
// is cancelled. Implements lifecycle.Service.
func (e *Executor) Start(ctx context.Context) error {
	e.runningMu.Lock()
	if e.running {
		e.runningMu.Unlock()
		return fmt.Errorf("executor already running")
	}
	e.running = true
	e.runningMu.Unlock()

	slog.Info("Starting executor",
		"batchSize", e.cfg.BatchSize,
		"interval", e.cfg.Interval,
		"maxRetries", e.cfg.MaxRetries,
		"maxActionsPerTransaction", e.cfg.MaxActionsPerTransaction)

	e.recoverInFlight(ctx)

	e.loop(ctx)

	e.runningMu.Lock()
	e.running = false
	e.runningMu.Unlock()
	close(e.done)
	return nil
}

// Stop waits for the in-progress tick to complete. No new tick starts
// once the run context is cancelled.
func (e *Executor) Stop(ctx context.Context) error {
	e.runningMu.Lock()
	running := e.running
	e.runningMu.Unlock()
	if !running {
		return nil
	}

	slog.Info("Stopping executor")
	select {
	case <-e.done:
		slog.Info("Executor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor did not stop in time: %w", ctx.Err())
	}
}

// Health reports whether the loop is running
func (e *Executor) Health() error {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	if !e.running {
		return fmt.Errorf("executor not running")
	}
	return nil
}

// Running reports whether the loop is active.
func (e *Executor) Running() bool {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()
	return e.running
}

// LastTick returns when the most recent tick finished, zero before the
// first tick completes.
func (e *Executor) LastTick() time.Time {
	if v := e.lastTick.Load(); v != 0 {
		return time.Unix(0, v)
	}
	return time.Time{}
}

// WaitUntilIdle blocks until the queue has no pending work. All
// waiters are released on the first idle observation after any tick.
func (e *Executor) WaitUntilIdle(ctx context.Context) error {
	has, err := e.queue.HasWork(ctx)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}

	e.idleMu.Lock()
	if e.idleCh == nil {
		e.idleCh = make(chan struct{})
	}
	ch := e.idleCh
	e.idleMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wakeIdleWaiters releases everyone blocked in WaitUntilIdle.
func (e *Executor) wakeIdleWaiters() {
	e.idleMu.Lock()
	if e.idleCh != nil {
		close(e.idleCh)
		e.idleCh = nil
	}
	e.idleMu.Unlock()
}

// loop runs ticks separated by at least the configured interval.
func (e *Executor) loop(ctx context.Context) {
	for {
		started := time.Now()

		// A tick in progress runs to completion; shutdown is observed
		// between ticks.
		e.tick(context.WithoutCancel(ctx))

		sleep := e.cfg.Interval - time.Since(started)
		if sleep < 0 {
			sleep = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// tick runs one scheduling iteration: peek, fit, sign, attach,
// broadcast, dispatch.
func (e *Executor) tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.ExecutorTickDuration.Observe(time.Since(started).Seconds())
		e.lastTick.Store(time.Now().UnixNano())
	}()

	processed := 0
	defer func() {
		e.bus.Publish(events.TopicLoopCompleted, events.LoopCompleted{
			Processed:  processed,
			DurationMS: time.Since(started).Milliseconds(),
		})
		e.notifyIfIdle(ctx)
	}()

	candidates, err := e.queue.Peek(ctx, e.cfg.BatchSize)
	if err != nil {
		slog.Error("Failed to peek queue", "error", err)
		return
	}
	if len(candidates) < e.cfg.MinQueueToProcess {
		return
	}

	chosen, actions := e.fitBudget(ctx, candidates)
	if len(chosen) == 0 {
		if actionCost(candidates[0]) > e.cfg.MaxActionsPerTransaction {
			slog.Warn("No item fits the action budget",
				"maxActionsPerTransaction", e.cfg.MaxActionsPerTransaction,
				"firstItemId", candidates[0].ID)
		}
		return
	}

	signed, err := e.signer.Sign(ctx, actions)
	if err != nil {
		// No batch exists yet; penalize the cohort directly so retry
		// accounting still advances toward the stall threshold.
		slog.Error("Failed to sign batch", "items", len(chosen), "error", err)
		if perr := e.queue.PenalizeItems(ctx, itemIDs(chosen), err.Error(), e.cfg.MaxRetries); perr != nil {
			slog.Error("Failed to penalize items after signer failure", "error", perr)
		}
		return
	}
	metrics.ExecutorBatchActions.Observe(float64(len(actions)))

	// Durability barrier: the signed artifact reaches the store before
	// the network sees it.
	batchID, err := e.queue.AttachBatch(ctx, signed.Hash, signed.Blob, itemIDs(chosen))
	if err != nil {
		slog.Error("Failed to attach batch", "error", err)
		return
	}

	slog.Debug("Broadcasting batch",
		"batchId", batchID,
		"items", len(chosen),
		"actions", len(actions),
		"contentHash", signed.Hash)

	outcome := e.caster.Send(ctx, signed.Blob)
	e.dispatchOutcome(ctx, batchID, chosen, outcome)
	processed = len(chosen)
}

// fitBudget walks candidates in id order and accepts items while the
// cumulative action cost stays inside the budget. The walk stops at
// the first item that would exceed it; the remainder stays pending. An
// item whose actions cannot be built is stalled and skipped so it
// never blocks its siblings.
func (e *Executor) fitBudget(ctx context.Context, candidates []*store.Item) ([]*store.Item, []chain.Action) {
	var chosen []*store.Item
	var actions []chain.Action

	used := 0
	for _, item := range candidates {
		cost := actionCost(item)
		if used+cost > e.cfg.MaxActionsPerTransaction {
			break
		}

		acts, err := e.itemActions(item)
		if err != nil {
			slog.Error("Failed to build actions for item", "itemId", item.ID, "error", err)
			if serr := e.queue.MarkItemStalled(ctx, item.ID, err.Error()); serr != nil {
				slog.Error("Failed to stall malformed item", "itemId", item.ID, "error", serr)
			}
			continue
		}

		chosen = append(chosen, item)
		actions = append(actions, acts...)
		used += cost
	}
	return chosen, actions
}

// itemActions maps one item to its action sequence: an optional
// registration followed by the transfer.
func (e *Executor) itemActions(item *store.Item) ([]chain.Action, error) {
	actions := make([]chain.Action, 0, 2)

	if !item.HasStorageDeposit {
		deposit, err := chain.StorageDepositAction(e.params, item.Receiver)
		if err != nil {
			return nil, err
		}
		actions = append(actions, deposit)
	}

	transfer, err := chain.TransferAction(e.params, item.Receiver, item.Amount, item.Memo)
	if err != nil {
		return nil, err
	}
	return append(actions, transfer), nil
}

// dispatchOutcome applies one broadcast outcome to the batch. Used by
// both the tick path and crash recovery.
func (e *Executor) dispatchOutcome(ctx context.Context, batchID int64, items []*store.Item, outcome chain.Outcome) {
	switch outcome.Result {
	case chain.ResultSuccess:
		if err := e.queue.MarkBatchSuccess(ctx, batchID, outcome.TxHash); err != nil {
			slog.Error("Failed to mark batch success", "batchId", batchID, "error", err)
			return
		}
		slog.Info("Batch committed", "batchId", batchID, "items", len(items), "txHash", outcome.TxHash)
		metrics.ExecutorBatchesProcessed.WithLabelValues("success").Inc()
		metrics.ExecutorItemsSettled.WithLabelValues("success").Add(float64(len(items)))
		e.bus.Publish(events.TopicBatchProcessed, events.BatchProcessed{
			BatchID: batchID,
			Count:   len(items),
			TxHash:  outcome.TxHash,
		})
		return

	case chain.ResultActionError:
		if outcome.ActionIndex != nil {
			if offender := actionOwner(items, *outcome.ActionIndex); offender != nil {
				e.isolateOffender(ctx, batchID, items, offender, outcome)
				return
			}
			slog.Error("Action index outside batch, recycling whole batch",
				"batchId", batchID, "index", *outcome.ActionIndex)
		}
		e.recycleBatch(ctx, batchID, items, outcome, "action_error")

	case chain.ResultInvalidTx:
		e.recycleBatch(ctx, batchID, items, outcome, "invalid_tx")

	default:
		e.recycleBatch(ctx, batchID, items, outcome, "transport_error")
	}
}

// isolateOffender stalls the one item whose action failed and releases
// its siblings without retry accounting. The batch error belongs to
// the offender, not the cohort.
func (e *Executor) isolateOffender(ctx context.Context, batchID int64, items []*store.Item, offender *store.Item, outcome chain.Outcome) {
	reason := outcome.FailureText()

	if err := e.queue.MarkItemStalled(ctx, offender.ID, reason); err != nil {
		slog.Error("Failed to stall offending item", "itemId", offender.ID, "error", err)
	}
	if err := e.queue.ReleaseBatch(ctx, batchID); err != nil {
		slog.Error("Failed to release batch", "batchId", batchID, "error", err)
		return
	}

	slog.Warn("Action failed, offender stalled",
		"batchId", batchID,
		"itemId", offender.ID,
		"actionIndex", *outcome.ActionIndex,
		"kind", outcome.Kind)

	metrics.ExecutorBatchesProcessed.WithLabelValues("action_error").Inc()
	metrics.ExecutorItemsSettled.WithLabelValues("stalled").Inc()
	metrics.ExecutorItemsSettled.WithLabelValues("recycled").Add(float64(len(items) - 1))
	e.publishBatchFailed(batchID, len(items), reason)
}

// recycleBatch returns every item of a failed batch to pending with
// retry accounting and the stall check.
func (e *Executor) recycleBatch(ctx context.Context, batchID int64, items []*store.Item, outcome chain.Outcome, result string) {
	reason := outcome.FailureText()

	if err := e.queue.RecoverFailedBatch(ctx, batchID, reason, e.cfg.MaxRetries); err != nil {
		slog.Error("Failed to recover batch", "batchId", batchID, "error", err)
		return
	}

	slog.Warn("Batch failed, items recycled",
		"batchId", batchID,
		"items", len(items),
		"result", result,
		"reason", reason)

	metrics.ExecutorBatchesProcessed.WithLabelValues(result).Inc()
	metrics.ExecutorItemsSettled.WithLabelValues("recycled").Add(float64(len(items)))
	e.publishBatchFailed(batchID, len(items), reason)
}

func (e *Executor) publishBatchFailed(batchID int64, count int, reason string) {
	e.bus.Publish(events.TopicBatchFailed, events.BatchFailed{
		BatchID: batchID,
		Count:   count,
		Reason:  reason,
	})
}

// recoverInFlight resubmits every signed batch whose outcome the
// previous process never observed. Submission is idempotent on the
// signed content, so a batch the chain already accepted reports its
// prior outcome. Errors are logged, not fatal.
func (e *Executor) recoverInFlight(ctx context.Context) {
	inflight, err := e.queue.ReplayInFlight(ctx)
	if err != nil {
		slog.Error("Failed to list in-flight batches", "error", err)
	}

	for _, batch := range inflight {
		slog.Info("Resubmitting in-flight batch",
			"batchId", batch.BatchID,
			"items", len(batch.Items),
			"contentHash", batch.TxHash)

		outcome := e.caster.Send(ctx, batch.SignedTx)
		e.dispatchOutcome(ctx, batch.BatchID, batch.Items, outcome)
		metrics.ExecutorReplayedBatches.Inc()
	}

	reset, err := e.queue.Recover(ctx)
	if err != nil {
		slog.Error("Failed to recover stale associations", "error", err)
		return
	}
	if reset > 0 {
		slog.Info("Recovered items from stale batches", "items", reset)
	}
	metrics.ExecutorRecoveredItems.Add(float64(reset))
}

// notifyIfIdle wakes idle waiters when no pending work remains.
func (e *Executor) notifyIfIdle(ctx context.Context) {
	has, err := e.queue.HasWork(ctx)
	if err != nil {
		slog.Error("Failed to check queue for work", "error", err)
		return
	}
	if !has {
		e.wakeIdleWaiters()
	}
}

// actionCost is the number of actions an item contributes: a transfer,
// plus a registration when the receiver has no storage deposit yet.
func actionCost(item *store.Item) int {
	if item.HasStorageDeposit {
		return 1
	}
	return 2
}

// actionOwner maps a failing action index back to the item that
// contributed the action.
func actionOwner(items []*store.Item, index int) *store.Item {
	if index < 0 {
		return nil
	}
	offset := 0
	for _, item := range items {
		offset += actionCost(item)
		if index < offset {
			return item
		}
	}
	return nil
}

func itemIDs(items []*store.Item) []int64 {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
