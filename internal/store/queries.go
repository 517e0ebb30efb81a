package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.payrelay.dev/internal/common/repository"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so every row
// primitive works directly on the store and inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries holds the row primitives. Every method runs under
// repository.Instrument, so durations, counts and slow statements are
// observable whether the call runs on the store or inside a
// transaction.
type queries struct {
	q querier
}

const itemColumns = `i.id, i.receiver, i.amount, i.memo, i.has_storage_deposit,
	i.retry_count, i.error_message, i.batch_id, i.is_stalled, i.created_at, i.updated_at, b.status`

const batchColumns = `id, tx_hash, signed_tx, status, created_at, updated_at`

const (
	tableItems   = "transfer_items"
	tableBatches = "transfer_batches"
)

// InsertItem inserts a new pending item and returns its id.
func (r queries) InsertItem(ctx context.Context, receiver, amount, memo string, hasStorageDeposit bool) (int64, error) {
	return repository.Instrument(ctx, tableItems, "InsertItem", func() (int64, error) {
		now := time.Now().UTC()
		res, err := r.q.ExecContext(ctx, `
			INSERT INTO transfer_items
				(receiver, amount, memo, has_storage_deposit, retry_count, is_stalled, created_at, updated_at)
			VALUES (?, ?, ?, ?, 0, 0, ?, ?)
		`, receiver, amount, memo, hasStorageDeposit, now, now)
		if err != nil {
			return 0, fmt.Errorf("insert item: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("insert item id: %w", err)
		}
		return id, nil
	})
}

// PendingItemForReceiver returns the single pending item for a receiver.
// Returns repository.ErrNotFound when no pending item exists.
func (r queries) PendingItemForReceiver(ctx context.Context, receiver string) (*Item, error) {
	return repository.Instrument(ctx, tableItems, "PendingItemForReceiver", func() (*Item, error) {
		row := r.q.QueryRowContext(ctx, `
			SELECT `+itemColumns+`
			FROM transfer_items i
			LEFT JOIN transfer_batches b ON i.batch_id = b.id
			WHERE i.receiver = ? AND i.batch_id IS NULL AND i.is_stalled = 0
			LIMIT 1
		`, receiver)

		item, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pending item for %s: %w", receiver, repository.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("pending item for receiver: %w", err)
		}
		return item, nil
	})
}

// ItemByID returns one item with its batch status joined in.
// Returns repository.ErrNotFound when the id does not exist.
func (r queries) ItemByID(ctx context.Context, id int64) (*Item, error) {
	return repository.Instrument(ctx, tableItems, "ItemByID", func() (*Item, error) {
		row := r.q.QueryRowContext(ctx, `
			SELECT `+itemColumns+`
			FROM transfer_items i
			LEFT JOIN transfer_batches b ON i.batch_id = b.id
			WHERE i.id = ?
		`, id)

		item, err := scanItem(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item %d: %w", id, repository.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("item by id: %w", err)
		}
		return item, nil
	})
}

// PendingItems returns up to limit pending items in ascending id order.
func (r queries) PendingItems(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		return nil, nil
	}

	return repository.Instrument(ctx, tableItems, "PendingItems", func() ([]*Item, error) {
		rows, err := r.q.QueryContext(ctx, `
			SELECT `+itemColumns+`
			FROM transfer_items i
			LEFT JOIN transfer_batches b ON i.batch_id = b.id
			WHERE i.batch_id IS NULL AND i.is_stalled = 0
			ORDER BY i.id ASC
			LIMIT ?
		`, limit)
		if err != nil {
			return nil, fmt.Errorf("pending items: %w", err)
		}
		defer rows.Close()

		return scanItems(rows)
	})
}

// ItemsByBatch returns every item attached to the batch in id order.
func (r queries) ItemsByBatch(ctx context.Context, batchID int64) ([]*Item, error) {
	return repository.Instrument(ctx, tableItems, "ItemsByBatch", func() ([]*Item, error) {
		rows, err := r.q.QueryContext(ctx, `
			SELECT `+itemColumns+`
			FROM transfer_items i
			LEFT JOIN transfer_batches b ON i.batch_id = b.id
			WHERE i.batch_id = ?
			ORDER BY i.id ASC
		`, batchID)
		if err != nil {
			return nil, fmt.Errorf("items by batch: %w", err)
		}
		defer rows.Close()

		return scanItems(rows)
	})
}

// ItemsByIDs returns the listed items in ascending id order. Missing
// ids are skipped, not reported.
func (r queries) ItemsByIDs(ctx context.Context, ids []int64) ([]*Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	return repository.Instrument(ctx, tableItems, "ItemsByIDs", func() ([]*Item, error) {
		placeholders, args := buildInClause(ids)
		query := fmt.Sprintf(`
			SELECT `+itemColumns+`
			FROM transfer_items i
			LEFT JOIN transfer_batches b ON i.batch_id = b.id
			WHERE i.id IN (%s)
			ORDER BY i.id ASC
		`, placeholders)

		rows, err := r.q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("items by ids: %w", err)
		}
		defer rows.Close()

		return scanItems(rows)
	})
}

// ListItems returns items matching the filter in ascending id order.
func (r queries) ListItems(ctx context.Context, filter ListFilter) ([]*Item, error) {
	return repository.Instrument(ctx, tableItems, "ListItems", func() ([]*Item, error) {
		var conds []string
		var args []interface{}

		if filter.Receiver != "" {
			conds = append(conds, "i.receiver = ?")
			args = append(args, filter.Receiver)
		}
		if filter.Stalled != nil {
			conds = append(conds, "i.is_stalled = ?")
			args = append(args, *filter.Stalled)
		}

		query := `
			SELECT ` + itemColumns + `
			FROM transfer_items i
			LEFT JOIN transfer_batches b ON i.batch_id = b.id`
		if len(conds) > 0 {
			query += " WHERE " + strings.Join(conds, " AND ")
		}
		query += " ORDER BY i.id ASC"
		if filter.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, filter.Limit)
		}

		rows, err := r.q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		defer rows.Close()

		return scanItems(rows)
	})
}

// UpdateCoalesced replaces the amount, memo and storage-deposit flag of
// a pending item in place.
func (r queries) UpdateCoalesced(ctx context.Context, id int64, amount, memo string, hasStorageDeposit bool) error {
	return repository.InstrumentVoid(ctx, tableItems, "UpdateCoalesced", func() error {
		_, err := r.q.ExecContext(ctx, `
			UPDATE transfer_items
			SET amount = ?, memo = ?, has_storage_deposit = ?, updated_at = ?
			WHERE id = ?
		`, amount, memo, hasStorageDeposit, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("update coalesced item: %w", err)
		}
		return nil
	})
}

// AttachItems points every listed item at the batch.
func (r queries) AttachItems(ctx context.Context, batchID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	return repository.InstrumentVoid(ctx, tableItems, "AttachItems", func() error {
		placeholders, args := buildInClause(ids, batchID, time.Now().UTC())
		query := fmt.Sprintf(`
			UPDATE transfer_items
			SET batch_id = ?, updated_at = ?
			WHERE id IN (%s)
		`, placeholders)

		_, err := r.q.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("attach items: %w", err)
		}
		return nil
	})
}

// RecycleBatchItems detaches every item from the batch, incrementing
// retry counts. An empty errorMessage leaves the stored message alone.
func (r queries) RecycleBatchItems(ctx context.Context, batchID int64, errorMessage string) error {
	return repository.InstrumentVoid(ctx, tableItems, "RecycleBatchItems", func() error {
		_, err := r.q.ExecContext(ctx, `
			UPDATE transfer_items
			SET batch_id = NULL,
				retry_count = retry_count + 1,
				error_message = CASE WHEN ? <> '' THEN ? ELSE error_message END,
				updated_at = ?
			WHERE batch_id = ?
		`, errorMessage, errorMessage, time.Now().UTC(), batchID)
		if err != nil {
			return fmt.Errorf("recycle batch items: %w", err)
		}
		return nil
	})
}

// DetachBatchItems returns every item in the batch to pending without
// touching retry counts or error messages. Stall flags stay as they
// are, so a stalled offender remains parked while its siblings are
// rescheduled cleanly.
func (r queries) DetachBatchItems(ctx context.Context, batchID int64) error {
	return repository.InstrumentVoid(ctx, tableItems, "DetachBatchItems", func() error {
		_, err := r.q.ExecContext(ctx, `
			UPDATE transfer_items
			SET batch_id = NULL, updated_at = ?
			WHERE batch_id = ?
		`, time.Now().UTC(), batchID)
		if err != nil {
			return fmt.Errorf("detach batch items: %w", err)
		}
		return nil
	})
}

// PenalizeItems charges one retry against every listed item. An empty
// errorMessage leaves the stored message alone.
func (r queries) PenalizeItems(ctx context.Context, ids []int64, errorMessage string) error {
	if len(ids) == 0 {
		return nil
	}

	return repository.InstrumentVoid(ctx, tableItems, "PenalizeItems", func() error {
		placeholders, args := buildInClause(ids, errorMessage, errorMessage, time.Now().UTC())
		query := fmt.Sprintf(`
			UPDATE transfer_items
			SET retry_count = retry_count + 1,
				error_message = CASE WHEN ? <> '' THEN ? ELSE error_message END,
				updated_at = ?
			WHERE id IN (%s)
		`, placeholders)

		_, err := r.q.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("penalize items: %w", err)
		}
		return nil
	})
}

// StallItem parks one item with an error message. Reports whether the
// row existed.
func (r queries) StallItem(ctx context.Context, id int64, errorMessage string) (bool, error) {
	return repository.Instrument(ctx, tableItems, "StallItem", func() (bool, error) {
		res, err := r.q.ExecContext(ctx, `
			UPDATE transfer_items
			SET is_stalled = 1, error_message = ?, updated_at = ?
			WHERE id = ?
		`, errorMessage, time.Now().UTC(), id)
		if err != nil {
			return false, fmt.Errorf("stall item: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("stall item rows: %w", err)
		}
		return n > 0, nil
	})
}

// StallItemsOverLimit parks every listed item whose retry count exceeds
// maxRetries. Returns the number of items stalled.
func (r queries) StallItemsOverLimit(ctx context.Context, ids []int64, maxRetries int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	return repository.Instrument(ctx, tableItems, "StallItemsOverLimit", func() (int64, error) {
		placeholders, args := buildInClause(ids, time.Now().UTC())
		args = append(args, maxRetries)
		query := fmt.Sprintf(`
			UPDATE transfer_items
			SET is_stalled = 1, updated_at = ?
			WHERE id IN (%s) AND retry_count > ?
		`, placeholders)

		res, err := r.q.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("stall items over limit: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("stall items rows: %w", err)
		}
		return n, nil
	})
}

// UnstallItems returns the listed items to scheduling. Only rows that
// were actually stalled count toward the result.
func (r queries) UnstallItems(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	return repository.Instrument(ctx, tableItems, "UnstallItems", func() (int64, error) {
		placeholders, args := buildInClause(ids, time.Now().UTC())
		query := fmt.Sprintf(`
			UPDATE transfer_items
			SET is_stalled = 0, batch_id = NULL, updated_at = ?
			WHERE id IN (%s) AND is_stalled = 1
		`, placeholders)

		res, err := r.q.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("unstall items: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("unstall items rows: %w", err)
		}
		return n, nil
	})
}

// UnstallAll returns every stalled item to scheduling.
func (r queries) UnstallAll(ctx context.Context) (int64, error) {
	return repository.Instrument(ctx, tableItems, "UnstallAll", func() (int64, error) {
		res, err := r.q.ExecContext(ctx, `
			UPDATE transfer_items
			SET is_stalled = 0, batch_id = NULL, updated_at = ?
			WHERE is_stalled = 1
		`, time.Now().UTC())
		if err != nil {
			return 0, fmt.Errorf("unstall all: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("unstall all rows: %w", err)
		}
		return n, nil
	})
}

// MarkBatchItemsRegistered flips has_storage_deposit on every item in
// the batch. Called on batch success, after which any registration
// action has persisted on-chain.
func (r queries) MarkBatchItemsRegistered(ctx context.Context, batchID int64) error {
	return repository.InstrumentVoid(ctx, tableItems, "MarkBatchItemsRegistered", func() error {
		_, err := r.q.ExecContext(ctx, `
			UPDATE transfer_items
			SET has_storage_deposit = 1, updated_at = ?
			WHERE batch_id = ?
		`, time.Now().UTC(), batchID)
		if err != nil {
			return fmt.Errorf("mark batch items registered: %w", err)
		}
		return nil
	})
}

// InsertBatch inserts an in-flight batch carrying its signed blob and
// returns its id.
func (r queries) InsertBatch(ctx context.Context, txHash string, signedTx []byte) (int64, error) {
	return repository.Instrument(ctx, tableBatches, "InsertBatch", func() (int64, error) {
		now := time.Now().UTC()
		res, err := r.q.ExecContext(ctx, `
			INSERT INTO transfer_batches (tx_hash, signed_tx, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, txHash, signedTx, BatchProcessing, now, now)
		if err != nil {
			return 0, fmt.Errorf("insert batch: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("insert batch id: %w", err)
		}
		return id, nil
	})
}

// BatchByID returns one batch. Returns repository.ErrNotFound when the
// id does not exist.
func (r queries) BatchByID(ctx context.Context, id int64) (*Batch, error) {
	return repository.Instrument(ctx, tableBatches, "BatchByID", func() (*Batch, error) {
		row := r.q.QueryRowContext(ctx, `
			SELECT `+batchColumns+`
			FROM transfer_batches
			WHERE id = ?
		`, id)

		batch, err := scanBatch(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("batch %d: %w", id, repository.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("batch by id: %w", err)
		}
		return batch, nil
	})
}

// MarkBatchSuccess finalizes a batch: success status, chain-reported
// hash, signed blob dropped.
func (r queries) MarkBatchSuccess(ctx context.Context, id int64, txHash string) error {
	return repository.InstrumentVoid(ctx, tableBatches, "MarkBatchSuccess", func() error {
		_, err := r.q.ExecContext(ctx, `
			UPDATE transfer_batches
			SET status = ?, tx_hash = ?, signed_tx = NULL, updated_at = ?
			WHERE id = ?
		`, BatchSuccess, txHash, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("mark batch success: %w", err)
		}
		return nil
	})
}

// DeleteBatch removes a batch row. Items must be detached first so the
// foreign key holds.
func (r queries) DeleteBatch(ctx context.Context, id int64) error {
	return repository.InstrumentVoid(ctx, tableBatches, "DeleteBatch", func() error {
		_, err := r.q.ExecContext(ctx, `DELETE FROM transfer_batches WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete batch: %w", err)
		}
		return nil
	})
}

// InFlightBatches returns every processing batch that still carries its
// signed blob, in ascending id order.
func (r queries) InFlightBatches(ctx context.Context) ([]*Batch, error) {
	return repository.Instrument(ctx, tableBatches, "InFlightBatches", func() ([]*Batch, error) {
		rows, err := r.q.QueryContext(ctx, `
			SELECT `+batchColumns+`
			FROM transfer_batches
			WHERE status = ? AND signed_tx IS NOT NULL
			ORDER BY id ASC
		`, BatchProcessing)
		if err != nil {
			return nil, fmt.Errorf("in-flight batches: %w", err)
		}
		defer rows.Close()

		var batches []*Batch
		for rows.Next() {
			batch, err := scanBatch(rows)
			if err != nil {
				return nil, fmt.Errorf("scan in-flight batch: %w", err)
			}
			batches = append(batches, batch)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("in-flight batches iteration: %w", err)
		}
		return batches, nil
	})
}

// ResetStaleItems clears the batch association of every item whose
// batch is not in terminal success.
func (r queries) ResetStaleItems(ctx context.Context) (int64, error) {
	return repository.Instrument(ctx, tableItems, "ResetStaleItems", func() (int64, error) {
		res, err := r.q.ExecContext(ctx, `
			UPDATE transfer_items
			SET batch_id = NULL, updated_at = ?
			WHERE batch_id IN (SELECT id FROM transfer_batches WHERE status <> ?)
		`, time.Now().UTC(), BatchSuccess)
		if err != nil {
			return 0, fmt.Errorf("reset stale items: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("reset stale items rows: %w", err)
		}
		return n, nil
	})
}

// DeleteStaleBatches removes every batch not in terminal success.
func (r queries) DeleteStaleBatches(ctx context.Context) (int64, error) {
	return repository.Instrument(ctx, tableBatches, "DeleteStaleBatches", func() (int64, error) {
		res, err := r.q.ExecContext(ctx, `
			DELETE FROM transfer_batches WHERE status <> ?
		`, BatchSuccess)
		if err != nil {
			return 0, fmt.Errorf("delete stale batches: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete stale batches rows: %w", err)
		}
		return n, nil
	})
}

// Stats returns the queue composition counters in one scan.
func (r queries) Stats(ctx context.Context) (*Stats, error) {
	return repository.Instrument(ctx, tableItems, "Stats", func() (*Stats, error) {
		row := r.q.QueryRowContext(ctx, `
			SELECT
				COUNT(*),
				COALESCE(SUM(CASE WHEN i.batch_id IS NULL AND i.is_stalled = 0 THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN b.status = 'processing' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN b.status = 'success' THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN i.is_stalled = 1 THEN 1 ELSE 0 END), 0)
			FROM transfer_items i
			LEFT JOIN transfer_batches b ON i.batch_id = b.id
		`)

		var s Stats
		if err := row.Scan(&s.Total, &s.Pending, &s.Processing, &s.Success, &s.Stalled); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		return &s, nil
	})
}

// HasWork reports whether any pending item exists.
func (r queries) HasWork(ctx context.Context) (bool, error) {
	return repository.Instrument(ctx, tableItems, "HasWork", func() (bool, error) {
		row := r.q.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM transfer_items WHERE batch_id IS NULL AND is_stalled = 0
			)
		`)

		var exists bool
		if err := row.Scan(&exists); err != nil {
			return false, fmt.Errorf("has work: %w", err)
		}
		return exists, nil
	})
}

// buildInClause builds a ?, ?, ... placeholder list for ids, with the
// given leading args bound first.
func buildInClause(ids []int64, leading ...interface{}) (string, []interface{}) {
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(leading)+len(ids))
	args = append(args, leading...)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	return strings.Join(placeholders, ", "), args
}

// rowScanner lets scanItem work on both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanItem scans one joined item row.
func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var memo, errorMessage, batchStatus sql.NullString
	var batchID sql.NullInt64

	err := row.Scan(
		&item.ID,
		&item.Receiver,
		&item.Amount,
		&memo,
		&item.HasStorageDeposit,
		&item.RetryCount,
		&errorMessage,
		&batchID,
		&item.IsStalled,
		&item.CreatedAt,
		&item.UpdatedAt,
		&batchStatus,
	)
	if err != nil {
		return nil, err
	}

	if memo.Valid {
		item.Memo = memo.String
	}
	if errorMessage.Valid {
		item.ErrorMessage = errorMessage.String
	}
	if batchID.Valid {
		id := batchID.Int64
		item.BatchID = &id
	}
	if batchStatus.Valid {
		status := BatchStatus(batchStatus.String)
		item.BatchStatus = &status
	}

	return &item, nil
}

// scanItems scans a joined item result set.
func scanItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

// scanBatch scans one batch row.
func scanBatch(row rowScanner) (*Batch, error) {
	var batch Batch
	var signedTx []byte

	err := row.Scan(
		&batch.ID,
		&batch.TxHash,
		&signedTx,
		&batch.Status,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	batch.SignedTx = signedTx
	return &batch, nil
}
