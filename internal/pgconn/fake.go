// SPDX-License-Identifier: Apache-2.0

package pgconn

import (
	"context"
	"database/sql"
)

// FakeConn is a fake implementation of Conn. All methods are no-ops; it
// exists so unit tests of callers that accept a Conn don't need a real
// database connection.
type FakeConn struct{}

func (c *FakeConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (c *FakeConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (c *FakeConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (c *FakeConn) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	return nil
}

func (c *FakeConn) RawConn() *sql.DB {
	return nil
}

func (c *FakeConn) Close() error {
	return nil
}
