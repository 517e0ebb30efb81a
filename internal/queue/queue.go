// Package queue implements the durable transfer queue: the
// invariant-preserving operations the executor and the API drive
// against the store.
//
// Every operation that touches more than one row runs inside a single
// store transaction. Lifecycle events are published only after the
// transaction commits, so a subscriber can never observe state that
// later rolled back.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.payrelay.dev/internal/common/metrics"
	"go.payrelay.dev/internal/common/repository"
	"go.payrelay.dev/internal/events"
	"go.payrelay.dev/internal/store"
)

var (
	// ErrInvalidAmount rejects enqueue requests whose amount is not a
	// decimal string of a non-negative integer.
	ErrInvalidAmount = errors.New("amount must be a decimal string of a non-negative integer")

	// ErrEmptyReceiver rejects enqueue requests without a receiver.
	ErrEmptyReceiver = errors.New("receiver must not be empty")

	// ErrNoItems rejects batch attachment without items.
	ErrNoItems = errors.New("batch must contain at least one item")
)

// defaultFailureReason is attached to failed events when a batch is
// torn down without a specific error message.
const defaultFailureReason = "batch failed"

// Config tunes queue behavior.
type Config struct {
	// Coalesce merges a new enqueue into the single pending item for
	// the same receiver instead of inserting a second row.
	Coalesce bool `json:"coalesce" toml:"coalesce"`

	// AssumeRegistered is the storage-deposit flag applied when an
	// enqueue request does not state one.
	AssumeRegistered bool `json:"assumeRegistered" toml:"assume_registered"`
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		Coalesce:         true,
		AssumeRegistered: false,
	}
}

// Queue exposes the transfer queue operations over a store.
type Queue struct {
	store *store.Store
	bus   *events.Bus
	cfg   *Config
}

// New creates a queue over the store. A nil bus gets a private one so
// publishing never needs a nil check; a nil config gets the defaults.
func New(st *store.Store, bus *events.Bus, cfg *Config) *Queue {
	if bus == nil {
		bus = events.NewBus()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Queue{store: st, bus: bus, cfg: cfg}
}

// EnqueueRequest describes one transfer to enqueue.
type EnqueueRequest struct {
	// Receiver is the recipient account identifier
	Receiver string

	// Amount is a decimal string of a non-negative integer in the
	// token's smallest unit
	Amount string

	// Memo is an optional opaque string forwarded with the transfer
	Memo string

	// HasStorageDeposit, when nil, takes the queue's configured default
	HasStorageDeposit *bool
}

// Enqueue adds a transfer to the queue. With coalescing enabled and a
// pending item already queued for the receiver, the amounts are summed
// into that item and the newer memo and storage-deposit flag win;
// otherwise a fresh item is inserted. Returns the resulting item.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*store.Item, error) {
	if req.Receiver == "" {
		return nil, ErrEmptyReceiver
	}
	if !validAmount(req.Amount) {
		return nil, fmt.Errorf("amount %q: %w", req.Amount, ErrInvalidAmount)
	}

	hasDeposit := q.cfg.AssumeRegistered
	if req.HasStorageDeposit != nil {
		hasDeposit = *req.HasStorageDeposit
	}

	var item *store.Item
	coalesced := false

	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		if q.cfg.Coalesce {
			existing, err := tx.PendingItemForReceiver(ctx, req.Receiver)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return err
			}
			if err == nil {
				sum, err := sumAmounts(existing.Amount, req.Amount)
				if err != nil {
					return err
				}
				if err := tx.UpdateCoalesced(ctx, existing.ID, sum, req.Memo, hasDeposit); err != nil {
					return err
				}
				coalesced = true
				item, err = tx.ItemByID(ctx, existing.ID)
				return err
			}
		}

		id, err := tx.InsertItem(ctx, req.Receiver, req.Amount, req.Memo, hasDeposit)
		if err != nil {
			return err
		}
		item, err = tx.ItemByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	mode := "new"
	if coalesced {
		mode = "coalesced"
	}
	metrics.QueueItemsEnqueued.WithLabelValues(mode).Inc()

	q.bus.Publish(events.TopicPushed, events.Pushed{
		ID:                item.ID,
		Receiver:          req.Receiver,
		Amount:            req.Amount,
		Memo:              req.Memo,
		HasStorageDeposit: hasDeposit,
		Coalesced:         coalesced,
	})

	return item, nil
}

// Peek returns up to limit pending items in ascending id order. Read
// only: claiming items is AttachBatch's job.
func (q *Queue) Peek(ctx context.Context, limit int) ([]*store.Item, error) {
	items, err := q.store.PendingItems(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("peek: %w", err)
	}

	if len(items) > 0 {
		q.bus.Publish(events.TopicPeeked, events.Peeked{Items: items})
	}
	return items, nil
}

// AttachBatch durably records a signed transaction as a processing
// batch and points every listed item at it. Both effects commit
// together; this must happen before the blob is broadcast.
func (q *Queue) AttachBatch(ctx context.Context, txHash string, signedTx []byte, itemIDs []int64) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, ErrNoItems
	}

	var batchID int64
	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		batchID, err = tx.InsertBatch(ctx, txHash, signedTx)
		if err != nil {
			return err
		}
		return tx.AttachItems(ctx, batchID, itemIDs)
	})
	if err != nil {
		return 0, fmt.Errorf("attach batch: %w", err)
	}
	return batchID, nil
}

// MarkBatchSuccess finalizes a batch the chain executed: the batch
// flips to success carrying the chain-reported hash, the signed blob
// is dropped, and every member item is marked storage-registered
// (any registration action has now persisted on-chain).
func (q *Queue) MarkBatchSuccess(ctx context.Context, batchID int64, txHash string) error {
	var items []*store.Item

	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.MarkBatchSuccess(ctx, batchID, txHash); err != nil {
			return err
		}
		if err := tx.MarkBatchItemsRegistered(ctx, batchID); err != nil {
			return err
		}
		var err error
		items, err = tx.ItemsByBatch(ctx, batchID)
		return err
	})
	if err != nil {
		return fmt.Errorf("mark batch success: %w", err)
	}

	for _, item := range items {
		q.bus.Publish(events.TopicSuccess, events.Succeeded{Item: item, TxHash: txHash})
	}
	return nil
}

// RecoverFailedBatch tears down a failed batch: the batch row is
// deleted and every member item returns to pending with one retry
// charged. A non-empty errorMessage is recorded on each item. When
// maxRetries is non-negative, items whose new retry count exceeds it
// are stalled in the same transaction.
func (q *Queue) RecoverFailedBatch(ctx context.Context, batchID int64, errorMessage string, maxRetries int) error {
	var post []*store.Item
	var stalled int64

	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		items, err := tx.ItemsByBatch(ctx, batchID)
		if err != nil {
			return err
		}
		ids := itemIDs(items)

		if err := tx.RecycleBatchItems(ctx, batchID, errorMessage); err != nil {
			return err
		}
		if maxRetries >= 0 {
			stalled, err = tx.StallItemsOverLimit(ctx, ids, maxRetries)
			if err != nil {
				return err
			}
		}
		if err := tx.DeleteBatch(ctx, batchID); err != nil {
			return err
		}

		post, err = tx.ItemsByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return fmt.Errorf("recover failed batch: %w", err)
	}

	if stalled > 0 {
		metrics.QueueItemsStalled.WithLabelValues("retries_exhausted").Add(float64(stalled))
	}

	reason := errorMessage
	if reason == "" {
		reason = defaultFailureReason
	}
	for _, item := range post {
		q.bus.Publish(events.TopicFailed, events.Failed{Item: item, Reason: reason})
	}
	return nil
}

// ReleaseBatch tears down a failed batch without retry accounting:
// the batch row is deleted and every member item returns to pending
// with retry count and error message untouched. Used when the failure
// has been pinned on a single stalled item and its siblings should
// retry cleanly.
func (q *Queue) ReleaseBatch(ctx context.Context, batchID int64) error {
	var post []*store.Item

	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		items, err := tx.ItemsByBatch(ctx, batchID)
		if err != nil {
			return err
		}
		ids := itemIDs(items)

		if err := tx.DetachBatchItems(ctx, batchID); err != nil {
			return err
		}
		if err := tx.DeleteBatch(ctx, batchID); err != nil {
			return err
		}

		post, err = tx.ItemsByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return fmt.Errorf("release batch: %w", err)
	}

	for _, item := range post {
		q.bus.Publish(events.TopicFailed, events.Failed{Item: item, Reason: defaultFailureReason})
	}
	return nil
}

// PenalizeItems charges one retry against pending items that never
// made it into a batch, such as when signing fails. A non-empty
// errorMessage is recorded; when maxRetries is non-negative, items
// whose new retry count exceeds it are stalled.
func (q *Queue) PenalizeItems(ctx context.Context, ids []int64, errorMessage string, maxRetries int) error {
	if len(ids) == 0 {
		return nil
	}

	var post []*store.Item
	var stalled int64

	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.PenalizeItems(ctx, ids, errorMessage); err != nil {
			return err
		}
		if maxRetries >= 0 {
			var err error
			stalled, err = tx.StallItemsOverLimit(ctx, ids, maxRetries)
			if err != nil {
				return err
			}
		}
		var err error
		post, err = tx.ItemsByIDs(ctx, ids)
		return err
	})
	if err != nil {
		return fmt.Errorf("penalize items: %w", err)
	}

	if stalled > 0 {
		metrics.QueueItemsStalled.WithLabelValues("retries_exhausted").Add(float64(stalled))
	}

	reason := errorMessage
	if reason == "" {
		reason = defaultFailureReason
	}
	for _, item := range post {
		q.bus.Publish(events.TopicFailed, events.Failed{Item: item, Reason: reason})
	}
	return nil
}

// MarkItemStalled parks one item with an error message. The executor
// uses this when the chain identifies a specific failing action: the
// offender is stalled and ReleaseBatch recycles its siblings.
func (q *Queue) MarkItemStalled(ctx context.Context, itemID int64, errorMessage string) error {
	existed, err := q.store.StallItem(ctx, itemID, errorMessage)
	if err != nil {
		return fmt.Errorf("mark item stalled: %w", err)
	}
	if !existed {
		return fmt.Errorf("mark item stalled %d: %w", itemID, repository.ErrNotFound)
	}

	metrics.QueueItemsStalled.WithLabelValues("action_error").Inc()
	return nil
}

// Unstall returns one stalled item to scheduling. The count is 0 when
// the item does not exist or was not stalled.
func (q *Queue) Unstall(ctx context.Context, itemID int64) (int64, error) {
	return q.UnstallMany(ctx, []int64{itemID})
}

// UnstallMany returns the listed stalled items to scheduling and
// reports how many actually changed.
func (q *Queue) UnstallMany(ctx context.Context, ids []int64) (int64, error) {
	n, err := q.store.UnstallItems(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("unstall: %w", err)
	}
	metrics.QueueItemsUnstalled.Add(float64(n))
	return n, nil
}

// UnstallAll returns every stalled item to scheduling.
func (q *Queue) UnstallAll(ctx context.Context) (int64, error) {
	n, err := q.store.UnstallAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("unstall all: %w", err)
	}
	metrics.QueueItemsUnstalled.Add(float64(n))
	return n, nil
}

// InFlight is one signed batch that was committed but whose outcome
// is unknown, paired with the items it owns.
type InFlight struct {
	BatchID  int64
	TxHash   string
	SignedTx []byte
	Items    []*store.Item
}

// ReplayInFlight returns every processing batch still carrying its
// signed blob, with its items in id order. Used at startup to
// resubmit work interrupted by a crash.
func (q *Queue) ReplayInFlight(ctx context.Context) ([]*InFlight, error) {
	batches, err := q.store.InFlightBatches(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay in-flight: %w", err)
	}

	inflight := make([]*InFlight, 0, len(batches))
	for _, batch := range batches {
		items, err := q.store.ItemsByBatch(ctx, batch.ID)
		if err != nil {
			return nil, fmt.Errorf("replay in-flight items: %w", err)
		}
		inflight = append(inflight, &InFlight{
			BatchID:  batch.ID,
			TxHash:   batch.TxHash,
			SignedTx: batch.SignedTx,
			Items:    items,
		})
	}
	return inflight, nil
}

// Recover resets any item still pointing at a non-success batch and
// deletes those batch rows. Returns the number of items reset. Runs
// at startup after ReplayInFlight has resolved what it could.
func (q *Queue) Recover(ctx context.Context) (int64, error) {
	var reset int64

	err := q.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		reset, err = tx.ResetStaleItems(ctx)
		if err != nil {
			return err
		}
		_, err = tx.DeleteStaleBatches(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("recover: %w", err)
	}
	return reset, nil
}

// Stats returns the queue composition counters and refreshes the
// corresponding gauges.
func (q *Queue) Stats(ctx context.Context) (*store.Stats, error) {
	stats, err := q.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	metrics.QueueItems.WithLabelValues("pending").Set(float64(stats.Pending))
	metrics.QueueItems.WithLabelValues("processing").Set(float64(stats.Processing))
	metrics.QueueItems.WithLabelValues("success").Set(float64(stats.Success))
	metrics.QueueItems.WithLabelValues("stalled").Set(float64(stats.Stalled))

	return stats, nil
}

// HasWork reports whether any pending item exists.
func (q *Queue) HasWork(ctx context.Context) (bool, error) {
	has, err := q.store.HasWork(ctx)
	if err != nil {
		return false, fmt.Errorf("has work: %w", err)
	}
	return has, nil
}

// Item returns one item by id.
func (q *Queue) Item(ctx context.Context, id int64) (*store.Item, error) {
	item, err := q.store.ItemByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("item: %w", err)
	}
	return item, nil
}

// List returns items matching the filter in ascending id order.
func (q *Queue) List(ctx context.Context, filter store.ListFilter) ([]*store.Item, error) {
	items, err := q.store.ListItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return items, nil
}

// validAmount reports whether s is a decimal string of a non-negative
// integer. "0" and leading zeros are accepted; signs, spaces and
// fractional parts are not.
func validAmount(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// sumAmounts adds two validated decimal strings with arbitrary
// precision.
func sumAmounts(a, b string) (string, error) {
	x, ok := new(big.Int).SetString(a, 10)
	if !ok {
		return "", fmt.Errorf("stored amount %q is not a valid integer", a)
	}
	y, ok := new(big.Int).SetString(b, 10)
	if !ok {
		return "", fmt.Errorf("amount %q: %w", b, ErrInvalidAmount)
	}
	return x.Add(x, y).String(), nil
}

func itemIDs(items []*store.Item) []int64 {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
