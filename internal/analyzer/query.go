// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sqlcheck/sqlcheck/internal/catalog"
	"github.com/sqlcheck/sqlcheck/internal/model"
	"github.com/sqlcheck/sqlcheck/internal/pgconn"
)

// Analyzer is C7: it turns a resolved SELECT or INSERT request into a
// SelectAnswer/InsertAnswer by describing the query against the shadow
// database and comparing the inferred shape to the request's declared
// ColTypes (§4.6).
type Analyzer struct {
	conn    pgconn.Conn
	catalog *catalog.Library
	types   *TypeMapper
	format  model.ColTypesFormat
}

// NewAnalyzer builds an Analyzer over conn, using lib's NOT-NULL maps for
// provenance-based nullability inference, types for SQLType -> TargetType
// translation, and format to render a WrongColumnTypes quick fix the way
// the call site's own config requests (§4.6 step 5, §4.7, §7).
func NewAnalyzer(conn pgconn.Conn, lib *catalog.Library, types *TypeMapper, format model.ColTypesFormat) *Analyzer {
	return &Analyzer{conn: conn, catalog: lib, types: types, format: format}
}

// resolveColumn implements ColumnResolver against the shadow database's
// pg_class/pg_attribute catalogs, used to recover a field's (relOID,
// attNum) once its FROM-clause relation and source column name are known.
func (a *Analyzer) resolveColumn(ctx context.Context, relation, column string) (uint32, int16, bool) {
	var relOID uint32
	var attNum int16
	row := a.conn.QueryRowContext(ctx, `
		SELECT c.oid, at.attnum
		FROM pg_class c
		JOIN pg_attribute at ON at.attrelid = c.oid
		WHERE c.relname = $1 AND at.attname = $2 AND NOT at.attisdropped
	`, relation, column)
	if err := row.Scan(&relOID, &attNum); err != nil {
		return 0, 0, false
	}
	return relOID, attNum, true
}

// notNull reports whether fd is known NOT NULL by provenance, consulting
// both the table and view libraries since a FROM-clause relation may be
// either (§4.5).
func (a *Analyzer) notNull(fd FieldDescriptor) bool {
	if !fd.FromTable {
		return false
	}
	key := catalog.ColKey{RelOID: fd.RelOID, AttNum: fd.AttNum}
	return a.catalog.NotNull(key) || a.catalog.ViewNotNull(key)
}

// CheckQuery implements §4.6's query-path: DESCRIBE, then duplicate-name
// detection, then per-field nullability/type inference, then a
// canonicalized diff against req's declared ColTypes.
func (a *Analyzer) CheckQuery(ctx context.Context, req model.ResolvedSelect) (SelectAnswer, error) {
	fields, err := Describe(ctx, a.conn, req.Text, a.resolveColumn)
	if err != nil {
		var derr *DescribeError
		if errors.As(err, &derr) {
			return SelectAnswer{Kind: SelectDescribeError, DescribeErr: derr}, nil
		}
		return SelectAnswer{}, err
	}

	if dup, ok := duplicateNames(fields); ok {
		return SelectAnswer{Kind: SelectDuplicateColNames, DuplicateCols: dup}, nil
	}

	inferred := make(map[string]model.ColType, len(fields))
	for _, fd := range fields {
		nullability := model.Optional
		if a.notNull(fd) {
			nullability = model.Required
		}
		inferred[fd.Name] = model.ColType{
			Nullability: nullability,
			Type:        a.types.Map(fd.Type, fd.Relation, fd.Column),
		}
	}

	if mismatch := diffColTypes(req.ColTypes, inferred); len(mismatch) > 0 {
		return SelectAnswer{
			Kind:             SelectWrongColumnTypes,
			WrongColTypes:    mismatch,
			RenderedColTypes: renderColTypes(inferred, a.format, req.IndentLevel),
		}, nil
	}

	return SelectAnswer{Kind: SelectNoErrors}, nil
}

// duplicateNames reports the set of field names that occur more than once
// in fields, or ok=false if every name is unique.
func duplicateNames(fields []FieldDescriptor) ([]string, bool) {
	seen := make(map[string]int, len(fields))
	for _, fd := range fields {
		seen[fd.Name]++
	}

	var dup []string
	for name, count := range seen {
		if count > 1 {
			dup = append(dup, name)
		}
	}
	return dup, len(dup) > 0
}

// diffColTypes compares declared against inferred, returning the subset of
// declared keys whose nullability or type disagrees with what was
// inferred, plus any inferred column missing from declared entirely. A key
// present in inferred but absent from declared is itself a mismatch (the
// query produces a column the programmer didn't declare).
func diffColTypes(declared, inferred map[string]model.ColType) map[string]model.ColType {
	mismatch := make(map[string]model.ColType)

	for name, want := range declared {
		got, ok := inferred[name]
		if !ok || got != want {
			mismatch[name] = want
		}
	}
	for name, got := range inferred {
		if _, ok := declared[name]; !ok {
			mismatch[name] = got
		}
	}

	return mismatch
}

// renderColTypes formats inferred as a row-shape literal suitable for a
// WrongColumnTypes quick fix, wrapping each field's type in Req<...>/
// Opt<...> per its nullability, indented to indentLevel (the call site's
// own nesting depth) and honoring format's delimiter and region-marker
// preference (§4.6 step 5, §4.7, §7).
func renderColTypes(inferred map[string]model.ColType, format model.ColTypesFormat, indentLevel int) string {
	if len(inferred) == 0 {
		return "{} (Or no type argument at all)"
	}

	names := make([]string, 0, len(inferred))
	for name := range inferred {
		names = append(names, name)
	}
	sort.Strings(names)

	delim := string(format.Delimiter)
	if delim == "" {
		delim = ","
	}

	fieldIndent := strings.Repeat("  ", indentLevel+1)
	closeIndent := strings.Repeat("  ", indentLevel)

	var b strings.Builder
	b.WriteString("{\n")
	for i, name := range names {
		ct := inferred[name]
		wrapper := "Req"
		if ct.Nullability == model.Optional {
			wrapper = "Opt"
		}
		b.WriteString(fieldIndent)
		fmt.Fprintf(&b, "%s: %s<%s>", name, wrapper, ct.Type)
		if i < len(names)-1 {
			b.WriteString(delim)
		}
		b.WriteString("\n")
	}
	b.WriteString(closeIndent)
	b.WriteString("}")

	rendered := b.String()
	if format.IncludeRegionMarker {
		return "/* region colTypes */\n" + rendered + "\n/* endregion */"
	}
	return rendered
}

