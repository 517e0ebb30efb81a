// Package store provides the durable persistence layer for transfer
// items and batches: an embedded SQLite database with ACID transactions,
// an advisory file lock enforcing single ownership, and typed row
// primitives that the queue composes into invariant-preserving
// operations.
//
// Two relations:
//  1. transfer_items - one row per requested transfer. batch_id IS NULL
//     is the ground truth for "pending"; is_stalled hides a row from
//     scheduling until an operator intervenes.
//  2. transfer_batches - one row per signed on-chain transaction.
//     A processing batch always carries its signed blob; the blob is
//     cleared on success and the whole row is deleted on failure.
package store

import (
	"time"
)

// BatchStatus represents the lifecycle status of a batch.
// Failed batches are deleted rather than retained, so only two
// statuses exist.
type BatchStatus string

const (
	// BatchProcessing - the batch is signed and in flight
	BatchProcessing BatchStatus = "processing"

	// BatchSuccess - the chain accepted and executed the batch
	BatchSuccess BatchStatus = "success"
)

// ItemState is the derived scheduling state of an item.
type ItemState string

const (
	// StatePending - item is waiting to be batched (batch_id IS NULL, not stalled)
	StatePending ItemState = "PENDING"

	// StateProcessing - item belongs to an in-flight batch
	StateProcessing ItemState = "PROCESSING"

	// StateSuccess - item belongs to a successful batch
	StateSuccess ItemState = "SUCCESS"

	// StateStalled - item is parked until an operator unstalls it
	StateStalled ItemState = "STALLED"
)

// Item represents one requested transfer.
type Item struct {
	// ID is a monotonically increasing identifier, unique forever
	// within the store
	ID int64 `json:"id"`

	// Receiver is the recipient account identifier
	Receiver string `json:"receiver"`

	// Amount is a decimal string of a non-negative integer in the
	// smallest on-chain unit
	Amount string `json:"amount"`

	// Memo is an optional opaque string forwarded with the transfer
	Memo string `json:"memo,omitempty"`

	// HasStorageDeposit is false when the item needs a registration
	// action prepended before its transfer action
	HasStorageDeposit bool `json:"hasStorageDeposit"`

	// RetryCount is the number of times this item has been rolled
	// back from a failed batch
	RetryCount int `json:"retryCount"`

	// ErrorMessage is the last error text attached to the item
	ErrorMessage string `json:"errorMessage,omitempty"`

	// BatchID references the batch this item is attached to, nil while
	// the item is pending
	BatchID *int64 `json:"batchId,omitempty"`

	// IsStalled hides the item from the scheduler
	IsStalled bool `json:"isStalled"`

	// CreatedAt is when the item was created
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the item was last updated
	UpdatedAt time.Time `json:"updatedAt"`

	// BatchStatus is the status of the referenced batch, populated by
	// joined reads and nil while pending
	BatchStatus *BatchStatus `json:"-"`
}

// State derives the scheduling state word from the item's fields.
func (i *Item) State() ItemState {
	switch {
	case i.IsStalled:
		return StateStalled
	case i.BatchID == nil:
		return StatePending
	case i.BatchStatus != nil && *i.BatchStatus == BatchSuccess:
		return StateSuccess
	default:
		return StateProcessing
	}
}

// Batch represents a single on-chain transaction bundling one or more items.
type Batch struct {
	// ID is a monotonically increasing identifier
	ID int64 `json:"id"`

	// TxHash is the content hash of the signed blob until the chain
	// confirms, then the hash the chain reported
	TxHash string `json:"txHash"`

	// SignedTx is the serialized signed transaction. Present while the
	// batch is in flight, cleared on success
	SignedTx []byte `json:"-"`

	// Status is processing or success
	Status BatchStatus `json:"status"`

	// CreatedAt is when the batch was created
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the batch was last updated
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stats summarizes queue composition.
type Stats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Success    int64 `json:"success"`
	Stalled    int64 `json:"stalled"`
}

// ListFilter narrows item listings.
type ListFilter struct {
	// Receiver filters by exact receiver when non-empty
	Receiver string

	// Stalled filters by stall flag when non-nil
	Stalled *bool

	// Limit caps the result set; zero or negative means no cap
	Limit int
}
