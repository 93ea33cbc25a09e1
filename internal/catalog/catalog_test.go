// SPDX-License-Identifier: Apache-2.0

package catalog_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlcheck/sqlcheck/internal/catalog"
	"github.com/sqlcheck/sqlcheck/internal/pgconn"
	"github.com/sqlcheck/sqlcheck/internal/shadowdb"
)

func TestMain(m *testing.M) {
	shadowdb.SharedTestMain(m)
}

func TestRefreshTablesTracksNotNull(t *testing.T) {
	shadowdb.WithScratchDB(t, func(db *sql.DB, dsn string) {
		ctx := context.Background()
		conn := pgconn.New(db)

		_, err := conn.ExecContext(ctx, `CREATE TABLE employee (
			id int primary key,
			fname text not null,
			phonenumber text
		)`)
		require.NoError(t, err)

		lib := catalog.NewLibrary()
		require.NoError(t, lib.RefreshTables(ctx, conn))

		var relOID uint32
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT 'employee'::regclass::oid").Scan(&relOID))

		fnameKey := attNumKey(t, ctx, conn, relOID, "fname")
		phoneKey := attNumKey(t, ctx, conn, relOID, "phonenumber")

		assert.True(t, lib.NotNull(fnameKey))
		assert.False(t, lib.NotNull(phoneKey))
	})
}

func TestRefreshViewsDerivesProvenanceFromBaseTable(t *testing.T) {
	shadowdb.WithScratchDB(t, func(db *sql.DB, dsn string) {
		ctx := context.Background()
		conn := pgconn.New(db)

		_, err := conn.ExecContext(ctx, `CREATE TABLE employee (
			id int primary key,
			fname text not null
		)`)
		require.NoError(t, err)

		_, err = conn.ExecContext(ctx, `CREATE VIEW employee_names AS SELECT fname AS employee_fname FROM employee`)
		require.NoError(t, err)

		lib := catalog.NewLibrary()
		require.NoError(t, lib.RefreshTables(ctx, conn))
		require.NoError(t, lib.RefreshViews(ctx, conn))

		var viewOID uint32
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT 'employee_names'::regclass::oid").Scan(&viewOID))
		viewKey := attNumKey(t, ctx, conn, viewOID, "employee_fname")

		assert.True(t, lib.ViewNotNull(viewKey))
	})
}

func TestLoadPgTypes(t *testing.T) {
	shadowdb.WithScratchDB(t, func(db *sql.DB, dsn string) {
		ctx := context.Background()
		conn := pgconn.New(db)

		types, err := catalog.LoadPgTypes(ctx, conn)
		require.NoError(t, err)
		assert.NotEmpty(t, types)

		var textOID uint32
		require.NoError(t, conn.QueryRowContext(ctx, "SELECT 'text'::regtype::oid").Scan(&textOID))
		assert.Equal(t, "text", string(types[textOID]))
	})
}

func attNumKey(t *testing.T, ctx context.Context, conn pgconn.Conn, relOID uint32, column string) catalog.ColKey {
	t.Helper()
	var attNum int16
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT attnum FROM pg_attribute WHERE attrelid = $1 AND attname = $2", relOID, column).Scan(&attNum))
	return catalog.ColKey{RelOID: relOID, AttNum: attNum}
}
