// SPDX-License-Identifier: Apache-2.0

package pgconn_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlcheck/sqlcheck/internal/pgconn"
	"github.com/sqlcheck/sqlcheck/internal/shadowdb"
)

func TestMain(m *testing.M) {
	shadowdb.SharedTestMain(m)
}

func TestExecContext(t *testing.T) {
	t.Parallel()

	shadowdb.WithScratchDB(t, func(conn *sql.DB, dsn string) {
		ctx := context.Background()
		setupTableLock(t, dsn, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		c := pgconn.New(conn)
		_, err := c.ExecContext(ctx, "INSERT INTO test(id) VALUES (1)")
		require.NoError(t, err)
	})
}

func TestExecContextWhenContextCancelled(t *testing.T) {
	t.Parallel()

	shadowdb.WithScratchDB(t, func(conn *sql.DB, dsn string) {
		ctx, cancel := context.WithCancel(context.Background())
		setupTableLock(t, dsn, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		c := pgconn.New(conn)

		go time.AfterFunc(500*time.Millisecond, cancel)

		_, err := c.ExecContext(ctx, "INSERT INTO test(id) VALUES (1)")
		require.Errorf(t, err, "context canceled")
	})
}

func TestQueryContext(t *testing.T) {
	t.Parallel()

	shadowdb.WithScratchDB(t, func(conn *sql.DB, dsn string) {
		ctx := context.Background()
		setupTableLock(t, dsn, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		c := pgconn.New(conn)
		rows, err := c.QueryContext(ctx, "SELECT COUNT(*) FROM test")
		require.NoError(t, err)

		var count int
		err = pgconn.ScanFirstValue(rows, &count)
		assert.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestQueryContextWhenContextCancelled(t *testing.T) {
	t.Parallel()

	shadowdb.WithScratchDB(t, func(conn *sql.DB, dsn string) {
		ctx, cancel := context.WithCancel(context.Background())
		setupTableLock(t, dsn, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		c := pgconn.New(conn)

		go time.AfterFunc(500*time.Millisecond, cancel)

		_, err := c.QueryContext(ctx, "SELECT COUNT(*) FROM test")
		require.Errorf(t, err, "context canceled")
	})
}

func TestWithRetryableTransactionWhenContextCancelled(t *testing.T) {
	t.Parallel()

	shadowdb.WithScratchDB(t, func(conn *sql.DB, dsn string) {
		ctx, cancel := context.WithCancel(context.Background())
		setupTableLock(t, dsn, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		c := pgconn.New(conn)

		go time.AfterFunc(500*time.Millisecond, cancel)

		err := c.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, "SELECT 1 FROM test").Err()
		})
		require.Errorf(t, err, "context canceled")
	})
}

func TestWithRetryableTransaction(t *testing.T) {
	t.Parallel()

	shadowdb.WithScratchDB(t, func(conn *sql.DB, dsn string) {
		ctx := context.Background()
		setupTableLock(t, dsn, 2*time.Second)
		ensureLockTimeout(t, conn, 100)

		c := pgconn.New(conn)
		err := c.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			return tx.QueryRowContext(ctx, "SELECT 1 FROM test").Err()
		})
		require.NoError(t, err)
	})
}

func TestWithSavepointRollsBackOnError(t *testing.T) {
	t.Parallel()

	shadowdb.WithScratchDB(t, func(conn *sql.DB, dsn string) {
		ctx := context.Background()

		_, err := conn.ExecContext(ctx, "CREATE TABLE widgets (id int primary key)")
		require.NoError(t, err)

		tx, err := conn.BeginTx(ctx, nil)
		require.NoError(t, err)
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, "INSERT INTO widgets (id) VALUES (1)")
		require.NoError(t, err)

		err = pgconn.WithSavepoint(ctx, tx, func(ctx context.Context) error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO widgets (id) VALUES (1)"); err != nil {
				return err
			}
			return nil
		})
		require.Error(t, err)
		assert.Equal(t, pgconn.UniqueViolationErrorCode, "unique_violation")

		// the savepoint rollback should leave the first insert intact and the
		// transaction usable for further statements.
		var count int
		require.NoError(t, tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM widgets").Scan(&count))
		assert.Equal(t, 1, count)

		require.NoError(t, tx.Commit())
	})
}

func setupTableLock(t *testing.T, dsn string, d time.Duration) {
	t.Helper()
	ctx := context.Background()

	conn2, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn2.Close() })

	_, err = conn2.ExecContext(ctx, "CREATE TABLE test (id INT PRIMARY KEY)")
	require.NoError(t, err)

	errCh := make(chan error)
	go func() {
		tx, err := conn2.Begin()
		if err != nil {
			errCh <- err
			return
		}

		_, err = tx.ExecContext(ctx, "LOCK TABLE test IN ACCESS EXCLUSIVE MODE")
		if err != nil {
			errCh <- err
			return
		}

		errCh <- nil

		time.Sleep(d)

		tx.Commit()
	}()

	err = <-errCh
	require.NoError(t, err)
}

func ensureLockTimeout(t *testing.T, conn *sql.DB, ms int) {
	t.Helper()

	query := fmt.Sprintf("SET lock_timeout = '%dms'", ms)
	_, err := conn.ExecContext(context.Background(), query)
	require.NoError(t, err)

	var lockTimeout string
	err = conn.QueryRowContext(context.Background(), "SHOW lock_timeout").Scan(&lockTimeout)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%dms", ms), lockTimeout)
}
