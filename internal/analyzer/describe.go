// SPDX-License-Identifier: Apache-2.0

// Package analyzer implements C7: DESCRIBE-driven field inference for
// queries and inserts, SQL-type-to-target-type translation, and the
// answer taxonomy §4.7 defines for reporting the result back as
// diagnostics.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	pgq "github.com/xataio/pg_query_go/v6"

	"github.com/sqlcheck/sqlcheck/internal/model"
	"github.com/sqlcheck/sqlcheck/internal/pgconn"
)

// DescribeError reports that PostgreSQL rejected a query outright (a
// syntax or semantic error in the SQL text itself), as opposed to a
// mismatch between inferred and declared shape.
type DescribeError struct {
	Query string
	Cause error
}

func (e *DescribeError) Error() string {
	return fmt.Sprintf("describing query: %s", e.Cause)
}

func (e *DescribeError) Unwrap() error { return e.Cause }

// FieldDescriptor is one result column PostgreSQL reports for a query,
// enriched with the provenance this module can recover statically from the
// query's own AST.
type FieldDescriptor struct {
	Name string
	Type model.SQLType

	// FromTable is true when this field is a direct (optionally
	// relation-qualified) reference to a column of a single named relation (table or view) in the
	// query's FROM clause, rather than an expression, function call, or
	// literal. Only such fields can be proven NOT NULL by provenance
	// (§4.6 step 4's "field.table > 0").
	FromTable bool
	Relation  string
	Column    string
	RelOID    uint32
	AttNum    int16
}

// ColumnResolver resolves a plain column reference (relation, column) to
// its (table oid, attribute number) in the shadow database's catalogs, the
// same coordinates catalog.Library's NOT-NULL maps are keyed by.
type ColumnResolver func(ctx context.Context, relation, column string) (relOID uint32, attNum int16, ok bool)

// Describe obtains a query's result shape without altering any table's
// data: it runs the query inside a transaction that is always rolled back,
// regardless of outcome (PostgreSQL's wire-level Describe message reports
// this same shape without executing at all, but that message is not
// reachable through database/sql's driver abstraction over lib/pq, which
// surfaces row metadata only once a query has actually run).
func Describe(ctx context.Context, conn pgconn.Conn, query string, resolveColumn ColumnResolver) ([]FieldDescriptor, error) {
	provenance := columnProvenance(query)

	db := conn.RawConn()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning describe transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, &DescribeError{Query: query, Cause: err}
	}
	defer rows.Close()

	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, &DescribeError{Query: query, Cause: err}
	}

	fields := make([]FieldDescriptor, 0, len(cols))
	for _, col := range cols {
		fd := FieldDescriptor{
			Name: col.Name(),
			Type: model.SQLType(strings.ToLower(col.DatabaseTypeName())),
		}

		if origin, ok := provenance[fd.Name]; ok && resolveColumn != nil {
			if relOID, attNum, ok := resolveColumn(ctx, origin.relation, origin.column); ok {
				fd.FromTable = true
				fd.Relation = origin.relation
				fd.Column = origin.column
				fd.RelOID = relOID
				fd.AttNum = attNum
			}
		}

		fields = append(fields, fd)
	}

	return fields, nil
}

type columnOrigin struct {
	relation string
	column   string
}

// columnProvenance statically walks query's AST to find, for each plainly
// named result column, the single FROM-clause relation it is an
// unqualified or qualified reference to. Unqualified columns of a FROM
// clause naming more than one relation, expressions, and subqueries are
// left out of the returned map; those fields simply never get FromTable=true,
// which is the safe (OPT) fallback (§4.6 step 4).
func columnProvenance(query string) map[string]columnOrigin {
	result := make(map[string]columnOrigin)

	tree, err := pgq.Parse(query)
	if err != nil {
		return result
	}

	for _, stmt := range tree.GetStmts() {
		sel, ok := stmt.GetStmt().GetNode().(*pgq.Node_SelectStmt)
		if !ok {
			continue
		}
		relations := fromRelations(sel.SelectStmt)
		for _, target := range sel.SelectStmt.GetTargetList() {
			resTarget, ok := target.GetNode().(*pgq.Node_ResTarget)
			if !ok {
				continue
			}
			colRef, ok := resTarget.ResTarget.GetVal().GetNode().(*pgq.Node_ColumnRef)
			if !ok {
				continue
			}

			fields := colRef.ColumnRef.GetFields()
			var relAlias, colName string
			switch len(fields) {
			case 1:
				colName, ok = fieldString(fields[0])
			case 2:
				relAlias, ok = fieldString(fields[0])
				if ok {
					colName, ok = fieldString(fields[1])
				}
			default:
				ok = false
			}
			if !ok || colName == "" {
				continue
			}

			relation, unambiguous := resolveRelation(relations, relAlias)
			if !unambiguous {
				continue
			}

			name := colName
			if resTarget.ResTarget.GetName() != "" {
				name = resTarget.ResTarget.GetName()
			}
			result[name] = columnOrigin{relation: relation, column: colName}
		}
	}

	return result
}

func fieldString(node *pgq.Node) (string, bool) {
	str, ok := node.GetNode().(*pgq.Node_String_)
	if !ok {
		return "", false
	}
	return str.String_.GetSval(), true
}

// fromRelations maps each alias (or bare relation name, when unaliased) in
// sel's FROM clause to the underlying relation name. Only plain table
// references are considered, including those inside JOIN expressions;
// subqueries contribute no entries.
func fromRelations(sel *pgq.SelectStmt) map[string]string {
	relations := make(map[string]string)
	for _, item := range sel.GetFromClause() {
		collectRangeVars(item, relations)
	}
	return relations
}

func collectRangeVars(node *pgq.Node, out map[string]string) {
	switch n := node.GetNode().(type) {
	case *pgq.Node_RangeVar:
		name := n.RangeVar.GetRelname()
		alias := name
		if a := n.RangeVar.GetAlias(); a != nil && a.GetAliasname() != "" {
			alias = a.GetAliasname()
		}
		out[alias] = name
	case *pgq.Node_JoinExpr:
		collectRangeVars(n.JoinExpr.GetLarg(), out)
		collectRangeVars(n.JoinExpr.GetRarg(), out)
	}
}

// resolveRelation looks up alias in relations. An empty alias resolves
// only when exactly one relation is in scope (an unqualified column name
// is ambiguous across a multi-relation FROM clause).
func resolveRelation(relations map[string]string, alias string) (string, bool) {
	if alias != "" {
		rel, ok := relations[alias]
		return rel, ok
	}
	if len(relations) != 1 {
		return "", false
	}
	for _, rel := range relations {
		return rel, true
	}
	return "", false
}
