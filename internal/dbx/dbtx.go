// Package dbx provides the small database abstractions shared by the
// repositories: DBTX, satisfied by both *sql.DB and *sql.Tx, a helper that
// runs a function inside a transaction, and a Writer that serializes write
// transactions against a single-writer store such as SQLite.
package dbx

import (
	"context"
	"database/sql"
	"sync"
)

// DBTX is the subset of database/sql used by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with the transactional handle and
// commits on success. It rolls back on error or panic; panics are rethrown.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// Writer funnels every write transaction on one database through a mutex so
// concurrent writers (the inbound change feed and the outbound push cycle)
// never interleave inside a single record update.
type Writer struct {
	db *sql.DB
	mu sync.Mutex
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// DB returns the underlying handle for reads.
func (w *Writer) DB() *sql.DB {
	return w.db
}

// WithTx runs fn in a serialized transaction. The lock is released on every
// exit path, including panics.
func (w *Writer) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WithTx(ctx, w.db, nil, fn)
}
