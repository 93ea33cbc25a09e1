// SPDX-License-Identifier: Apache-2.0

package analyzer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlcheck/sqlcheck/internal/analyzer"
	"github.com/sqlcheck/sqlcheck/internal/catalog"
	"github.com/sqlcheck/sqlcheck/internal/pgconn"
)

// testResolver builds an analyzer.ColumnResolver backed directly by the
// shadow connection's pg_class/pg_attribute catalogs, the same lookup
// Analyzer performs internally, so describe_test can exercise Describe
// without depending on Analyzer itself.
func testResolver(conn pgconn.Conn) analyzer.ColumnResolver {
	return func(ctx context.Context, relation, column string) (uint32, int16, bool) {
		var relOID uint32
		var attNum int16
		row := conn.QueryRowContext(ctx, `
			SELECT c.oid, a.attnum
			FROM pg_class c
			JOIN pg_attribute a ON a.attrelid = c.oid
			WHERE c.relname = $1 AND a.attname = $2 AND NOT a.attisdropped
		`, relation, column)
		if err := row.Scan(&relOID, &attNum); err != nil {
			return 0, 0, false
		}
		return relOID, attNum, true
	}
}

func TestDescribeReportsNamesAndTypes(t *testing.T) {
	withCatalog(t, `CREATE TABLE employee (id int primary key, fname text not null, nickname text)`,
		func(conn pgconn.Conn, lib *catalog.Library) {
			fields, err := analyzer.Describe(context.Background(), conn, "SELECT id, fname, nickname FROM employee", testResolver(conn))
			require.NoError(t, err)
			require.Len(t, fields, 3)

			assert.Equal(t, "id", fields[0].Name)
			assert.True(t, fields[0].FromTable)
			assert.Equal(t, "employee", fields[0].Relation)
		})
}

func TestDescribeReportsSyntaxErrorAsDescribeError(t *testing.T) {
	withCatalog(t, "", func(conn pgconn.Conn, lib *catalog.Library) {
		_, err := analyzer.Describe(context.Background(), conn, "SELEKT 1", testResolver(conn))
		require.Error(t, err)

		var derr *analyzer.DescribeError
		require.ErrorAs(t, err, &derr)
	})
}

func TestDescribeLeavesExpressionFieldsWithoutProvenance(t *testing.T) {
	withCatalog(t, `CREATE TABLE employee (id int primary key)`, func(conn pgconn.Conn, lib *catalog.Library) {
		fields, err := analyzer.Describe(context.Background(), conn, "SELECT id + 1 AS next_id FROM employee", testResolver(conn))
		require.NoError(t, err)
		require.Len(t, fields, 1)
		assert.False(t, fields[0].FromTable)
	})
}

func TestDescribeRollsBackSideEffects(t *testing.T) {
	withCatalog(t, `CREATE TABLE employee (id int primary key)`, func(conn pgconn.Conn, lib *catalog.Library) {
		_, err := analyzer.Describe(context.Background(), conn, "INSERT INTO employee (id) VALUES (1) RETURNING id", testResolver(conn))
		require.NoError(t, err)

		var count int
		require.NoError(t, conn.QueryRowContext(context.Background(), "SELECT count(*) FROM employee").Scan(&count))
		assert.Zero(t, count, "describe must not leave behind the row it inserted to obtain the shape")
	})
}
