// SPDX-License-Identifier: Apache-2.0

// Package catalog implements C6: the table/view column NOT-NULL library
// and the Postgres-oid-to-SqlType map, both read directly from the shadow
// database's system catalogs (§4.5).
package catalog

import (
	"context"
	"fmt"

	"github.com/sqlcheck/sqlcheck/internal/model"
	"github.com/sqlcheck/sqlcheck/internal/pgconn"
)

// ColKey identifies a single relation column by Postgres oid and attribute
// number, matching how DESCRIBE and pg_attribute both report columns.
type ColKey struct {
	RelOID uint32
	AttNum int16
}

// Library is the table/view column NOT-NULL map described in §3's
// TableColsLibrary: two independent (oid,attnum) -> notNull mappings, one
// for base tables and one for views.
type Library struct {
	Tables map[ColKey]bool
	Views  map[ColKey]bool
}

// NewLibrary returns an empty Library.
func NewLibrary() *Library {
	return &Library{
		Tables: make(map[ColKey]bool),
		Views:  make(map[ColKey]bool),
	}
}

// NotNull reports whether the table column at key is known to be NOT NULL.
// Unknown columns default to false (nullable), matching §4.5's failure mode.
func (l *Library) NotNull(key ColKey) bool {
	return l.Tables[key]
}

// ViewNotNull reports whether the view column at key is known to be
// NOT NULL by provenance to a base table, per §4.5's failure mode.
func (l *Library) ViewNotNull(key ColKey) bool {
	return l.Views[key]
}

// RefreshTables repopulates l.Tables by reading pg_attribute joined to
// pg_class, filtered to ordinary tables (relkind='r') and to user-visible
// attributes (attnum > 0, not dropped).
func (l *Library) RefreshTables(ctx context.Context, conn pgconn.Conn) error {
	rows, err := conn.QueryContext(ctx, `
		SELECT a.attrelid, a.attnum, a.attnotnull
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		WHERE c.relkind = 'r'
		  AND a.attnum > 0
		  AND NOT a.attisdropped
	`)
	if err != nil {
		return fmt.Errorf("reading pg_attribute for tables: %w", err)
	}
	defer rows.Close()

	tables := make(map[ColKey]bool)
	for rows.Next() {
		var relOID uint32
		var attNum int16
		var notNull bool
		if err := rows.Scan(&relOID, &attNum, &notNull); err != nil {
			return fmt.Errorf("scanning pg_attribute row: %w", err)
		}
		tables[ColKey{RelOID: relOID, AttNum: attNum}] = notNull
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating pg_attribute rows: %w", err)
	}

	l.Tables = tables
	return nil
}

// viewProvenanceQuery mines pg_rewrite.ev_action -- the stored, serialized
// query node tree backing each view's default ON SELECT rule -- for each
// view column's origin, by regexp-matching every TARGETENTRY's resno,
// resorigtbl and resorigcol fields in the node tree's textual
// representation. It yields one (view_oid, view_attnum, base_oid,
// base_attnum) row per target entry with a known origin. That origin is the
// relation the view's own query reads, so for a view built on another view
// it is the inner view; the query itself does not recurse, and RefreshViews
// follows such links down to a table column.
//
// This textual format is not a stable Postgres wire contract across major
// versions (§9 open question); callers should pin supported Postgres
// versions and treat a parse failure here as "no provenance known" rather
// than a fatal error.
const viewProvenanceQuery = `
WITH RECURSIVE rewrite_rules AS (
	SELECT
		r.ev_class AS view_oid,
		r.ev_action,
		regexp_matches(r.ev_action, ':resno (\d+) :resname [^:]*:ressortgroupref \d+ :resorigtbl (\d+) :resorigcol (\d+)', 'g') AS m
	FROM pg_rewrite r
	JOIN pg_class c ON c.oid = r.ev_class
	WHERE c.relkind = 'v'
)
SELECT
	view_oid,
	(m[1])::int2 AS view_attnum,
	(m[2])::oid AS base_oid,
	(m[3])::int2 AS base_attnum
FROM rewrite_rules
WHERE (m[2])::oid <> 0
`

// RefreshViews repopulates l.Views with each view column's NOT-NULL status,
// derived by walking view provenance back to base-table columns already
// present in l.Tables (populated by a prior RefreshTables call). A view
// column with no recorded origin is absent from l.Views, and one whose
// origin is not a NOT NULL table column maps to false; NotNull/ViewNotNull
// treat both as nullable (§4.5 failure mode).
func (l *Library) RefreshViews(ctx context.Context, conn pgconn.Conn) error {
	rows, err := conn.QueryContext(ctx, viewProvenanceQuery)
	if err != nil {
		return fmt.Errorf("reading view column provenance: %w", err)
	}
	defer rows.Close()

	views := make(map[ColKey]bool)
	origins := make(map[ColKey]ColKey)
	for rows.Next() {
		var viewOID, baseOID uint32
		var viewAttNum, baseAttNum int16
		if err := rows.Scan(&viewOID, &viewAttNum, &baseOID, &baseAttNum); err != nil {
			return fmt.Errorf("scanning view provenance row: %w", err)
		}

		baseKey := ColKey{RelOID: baseOID, AttNum: baseAttNum}
		viewKey := ColKey{RelOID: viewOID, AttNum: viewAttNum}
		origins[viewKey] = baseKey
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating view provenance rows: %w", err)
	}

	for viewKey, baseKey := range origins {
		// Follow view-on-view links down to a table column.
		for hops := 0; hops < len(origins); hops++ {
			next, ok := origins[baseKey]
			if !ok {
				break
			}
			baseKey = next
		}
		views[viewKey] = l.Tables[baseKey]
	}

	l.Views = views
	return nil
}

// LoadPgTypes reads pg_type into the oid -> SQLType map described in §3's
// PgTypes entity.
func LoadPgTypes(ctx context.Context, conn pgconn.Conn) (map[uint32]model.SQLType, error) {
	rows, err := conn.QueryContext(ctx, `SELECT oid, typname FROM pg_type`)
	if err != nil {
		return nil, fmt.Errorf("reading pg_type: %w", err)
	}
	defer rows.Close()

	types := make(map[uint32]model.SQLType)
	for rows.Next() {
		var oid uint32
		var name string
		if err := rows.Scan(&oid, &name); err != nil {
			return nil, fmt.Errorf("scanning pg_type row: %w", err)
		}
		types[oid] = model.SQLType(name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pg_type rows: %w", err)
	}

	return types, nil
}
