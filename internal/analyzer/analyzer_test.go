// SPDX-License-Identifier: Apache-2.0

package analyzer_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sqlcheck/sqlcheck/internal/catalog"
	"github.com/sqlcheck/sqlcheck/internal/pgconn"
	"github.com/sqlcheck/sqlcheck/internal/shadowdb"
)

func TestMain(m *testing.M) {
	shadowdb.SharedTestMain(m)
}

// withCatalog wires a fresh scratch database through setupSQL, then builds
// a populated catalog.Library against it, mirroring how Lifecycle refreshes
// its libraries after a migration replay (§4.4, §4.5).
func withCatalog(t *testing.T, setupSQL string, fn func(conn pgconn.Conn, lib *catalog.Library)) {
	t.Helper()

	shadowdb.WithScratchDB(t, func(db *sql.DB, _ string) {
		ctx := context.Background()
		conn := pgconn.New(db)

		if setupSQL != "" {
			_, err := conn.ExecContext(ctx, setupSQL)
			require.NoError(t, err)
		}

		lib := catalog.NewLibrary()
		require.NoError(t, lib.RefreshTables(ctx, conn))
		require.NoError(t, lib.RefreshViews(ctx, conn))

		fn(conn, lib)
	})
}
