// SPDX-License-Identifier: Apache-2.0

// Package pgconn provides a retrying, savepoint-aware wrapper around
// database/sql connections to the shadow PostgreSQL cluster. All PostgreSQL
// traffic issued by the rest of this module funnels through a Conn.
package pgconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	// LockNotAvailableErrorCode is the SQLSTATE PostgreSQL returns when a
	// statement times out waiting to acquire a lock (lock_timeout).
	LockNotAvailableErrorCode pq.ErrorCode = "55P03"
	// DependentObjectsStillExistErrorCode is the SQLSTATE PostgreSQL returns
	// from a DROP/ALTER that is blocked by a dependent view.
	DependentObjectsStillExistErrorCode pq.ErrorCode = "2BP01"
	// FeatureNotSupportedErrorCode is the SQLSTATE PostgreSQL returns for
	// some unsupported ALTER/DROP combinations, e.g. altering a column type
	// that a view still depends on in a way PostgreSQL cannot auto-cast.
	FeatureNotSupportedErrorCode pq.ErrorCode = "0A000"

	maxBackoffDuration = 1 * time.Minute
	backoffInterval    = 1 * time.Second
)

// Conn is the interface the rest of this module uses to talk to the shadow
// database. Implementations retry lock_timeout errors transparently and
// expose RawConn for call sites (the analyzer's DESCRIBE path) that need the
// underlying driver connection.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error
	RawConn() *sql.DB
	Close() error
}

// RetryableConn wraps a *sql.DB and retries queries using an exponential
// backoff (with jitter) on lock_timeout errors, the way pgroll's db.RDB
// retries DDL blocked on a concurrent lock.
type RetryableConn struct {
	DB *sql.DB
}

func New(db *sql.DB) *RetryableConn {
	return &RetryableConn{DB: db}
}

func (c *RetryableConn) RawConn() *sql.DB { return c.DB }

// ExecContext wraps sql.DB.ExecContext, retrying on lock_timeout errors.
func (c *RetryableConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		res, err := c.DB.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}

		if isLockTimeout(err) {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// QueryContext wraps sql.DB.QueryContext, retrying on lock_timeout errors.
func (c *RetryableConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		rows, err := c.DB.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}

		if isLockTimeout(err) {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, err
			}
			continue
		}

		return nil, err
	}
}

// QueryRowContext wraps sql.DB.QueryRowContext. Single-row queries can't be
// transparently retried (the error surfaces from Scan, not here), so this
// does not loop; callers that need retry semantics should use QueryContext.
func (c *RetryableConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return c.DB.QueryRowContext(ctx, query, args...)
}

// WithRetryableTransaction runs f in a transaction, retrying the whole
// transaction on lock_timeout errors.
func (c *RetryableConn) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)

	for {
		tx, err := c.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		err = f(ctx, tx)
		if err == nil {
			return tx.Commit()
		}

		if errRollback := tx.Rollback(); errRollback != nil {
			return errRollback
		}

		if isLockTimeout(err) {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return err
			}
			continue
		}

		return err
	}
}

func (c *RetryableConn) Close() error {
	return c.DB.Close()
}

func isLockTimeout(err error) bool {
	pqErr := &pq.Error{}
	return errors.As(err, &pqErr) && pqErr.Code == LockNotAvailableErrorCode
}

// Code returns the SQLSTATE of err if it is (or wraps) a *pq.Error, and ""
// otherwise.
func Code(err error) pq.ErrorCode {
	pqErr := &pq.Error{}
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// WithSavepoint runs f inside a named SAVEPOINT nested within tx. On success
// the savepoint is released (folded into tx). On failure the savepoint is
// rolled back (leaving tx otherwise usable) and f's error is returned
// unchanged, so callers can inspect its SQLSTATE via Code and decide whether
// to retry (see shadowdb's dependent-view-drop-and-retry discipline, §4.4).
func WithSavepoint(ctx context.Context, tx *sql.Tx, f func(ctx context.Context) error) error {
	name := savepointName()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %s", name)); err != nil {
		return fmt.Errorf("creating savepoint: %w", err)
	}

	if err := f(ctx); err != nil {
		if _, rollbackErr := tx.ExecContext(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", name)); rollbackErr != nil {
			return fmt.Errorf("rolling back savepoint after %q: %w", err, rollbackErr)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", name)); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}

	return nil
}

func savepointName() string {
	return "sp_" + uuid.New().String()[:8]
}

// ScanFirstValue scans the first column of the first row of rows into dest.
// It is a convenience helper for single-value queries (counts, oids, hashes)
// issued throughout the catalog and shadow-DB packages.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
