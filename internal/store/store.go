package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/mattn/go-sqlite3"

	"go.payrelay.dev/internal/common/repository"
)

// ErrStoreLocked indicates another process owns the store file.
// Exactly one executor process may own the queue; a second owner would
// break nonce management and the crash-recovery protocol.
var ErrStoreLocked = errors.New("store is locked by another process")

// Store is the embedded relational store backing the transfer queue.
type Store struct {
	queries
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Open opens (creating if necessary) the store at path, acquires its
// advisory lock and bootstraps the schema. Fails fast with
// ErrStoreLocked when another process holds the lock.
func Open(path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !locked {
		return nil, ErrStoreLocked
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open store: %w", err)
	}

	// One connection serializes all access through the driver and
	// keeps long transactions from fighting reads for the write lock.
	db.SetMaxOpenConns(1)

	s := &Store{
		queries: queries{q: translate{q: db}},
		db:      db,
		path:    path,
		lock:    lock,
	}

	if err := s.createSchema(context.Background()); err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	return s, nil
}

// Close releases the database handle and the advisory lock.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("release store lock: %w", err)
	}
	if dbErr != nil {
		return fmt.Errorf("close store: %w", dbErr)
	}
	return nil
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Ping verifies the database handle is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx is an open store transaction exposing the same row primitives as
// the Store itself. Everything executed through a Tx commits or rolls
// back together.
type Tx struct {
	queries
	tx *sql.Tx
}

// WithTx runs fn inside a transaction. fn returning an error rolls the
// transaction back and propagates the error; otherwise the transaction
// commits.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	t := &Tx{queries: queries{q: translate{q: tx}}, tx: tx}
	if err := fn(t); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// translate maps sqlite driver errors onto the repository sentinels on
// their way out, so callers branch with errors.Is instead of importing
// the driver.
type translate struct {
	q querier
}

func (t translate) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := t.q.ExecContext(ctx, query, args...)
	return res, sentinelErr(err)
}

func (t translate) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	return rows, sentinelErr(err)
}

func (t translate) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	// sql.Row defers its error to Scan, so single-row lookups surface
	// driver errors untranslated.
	return t.q.QueryRowContext(ctx, query, args...)
}

// sentinelErr tags lock contention with repository.ErrBusy. The flock
// keeps other payrelay processes out, but an operator's sqlite shell
// can still hold the write lock past the busy timeout.
func sentinelErr(err error) error {
	if err == nil {
		return nil
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) && (serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", repository.ErrBusy, err)
	}
	return err
}

// createSchema creates the tables and indexes if they don't exist.
// Safe to run on every startup.
func (s *Store) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS transfer_batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_hash TEXT NOT NULL,
			signed_tx BLOB,
			status TEXT NOT NULL DEFAULT 'processing',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transfer_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			receiver TEXT NOT NULL,
			amount TEXT NOT NULL,
			memo TEXT,
			has_storage_deposit BOOLEAN NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			batch_id INTEGER REFERENCES transfer_batches(id),
			is_stalled BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_batch
			ON transfer_items(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_receiver_batch
			ON transfer_items(receiver, batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_items_stalled
			ON transfer_items(is_stalled)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_status
			ON transfer_batches(status)`,
		`CREATE INDEX IF NOT EXISTS idx_batches_tx_hash
			ON transfer_batches(tx_hash)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
