// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"context"

	"github.com/sqlcheck/sqlcheck/internal/model"
)

// CheckInsert implements §4.6's insert path: the epilogue (RETURNING
// clause, or the bare statement's own empty shape) is checked the same way
// a SELECT is, then the target table and its supplied columns are checked
// against pg_attribute.
func (a *Analyzer) CheckInsert(ctx context.Context, req model.ResolvedInsert) (InsertAnswer, error) {
	selectAnswer, err := a.CheckQuery(ctx, req.ResolvedSelect)
	if err != nil {
		return InsertAnswer{}, err
	}
	if selectAnswer.Kind != SelectNoErrors {
		return InsertAnswer{Kind: InsertUsesSelectAnswer, Select: selectAnswer}, nil
	}

	tableCols, err := a.tableColumns(ctx, req.TableName)
	if err != nil {
		return InsertAnswer{}, err
	}
	if len(tableCols) == 0 {
		return InsertAnswer{Kind: InsertInvalidTableName, InvalidTable: req.TableName}, nil
	}

	var issues []InsertColIssue

	for name, supplied := range req.InsertColumns {
		col, ok := tableCols[name]
		if !ok {
			issues = append(issues, InsertColIssue{Kind: ColNotFound, ColumnName: name})
			continue
		}
		expected := a.types.Map(col.sqlType, req.TableName, name)
		if supplied.SuppliedType != expected || (col.notNull && !supplied.NotNull) {
			issues = append(issues, InsertColIssue{
				Kind:       ColWrongType,
				ColumnName: name,
				Expected:   expected,
				Supplied:   supplied.SuppliedType,
			})
		}
	}

	for name, col := range tableCols {
		if _, supplied := req.InsertColumns[name]; supplied {
			continue
		}
		if col.notNull && !col.hasDefault {
			issues = append(issues, InsertColIssue{Kind: MissingRequiredCol, ColumnName: name})
		}
	}

	if len(issues) > 0 {
		return InsertAnswer{Kind: InsertInvalidCols, ColIssues: issues}, nil
	}

	return InsertAnswer{Kind: InsertNoErrors}, nil
}

type columnShape struct {
	sqlType    model.SQLType
	notNull    bool
	hasDefault bool
}

// tableColumns reads pg_attribute/pg_type/pg_attrdef for tableName's
// user-visible columns, keyed by column name. An empty, non-error result
// means tableName does not name a relation in the shadow database.
func (a *Analyzer) tableColumns(ctx context.Context, tableName string) (map[string]columnShape, error) {
	rows, err := a.conn.QueryContext(ctx, `
		SELECT
			att.attname,
			ty.typname,
			att.attnotnull,
			EXISTS (
				SELECT 1 FROM pg_attrdef d
				WHERE d.adrelid = att.attrelid AND d.adnum = att.attnum
			) AS has_default
		FROM pg_attribute att
		JOIN pg_class c ON c.oid = att.attrelid
		JOIN pg_type ty ON ty.oid = att.atttypid
		WHERE c.relname = $1
		  AND c.relkind IN ('r', 'p')
		  AND att.attnum > 0
		  AND NOT att.attisdropped
	`, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]columnShape)
	for rows.Next() {
		var name, sqlType string
		var notNull, hasDefault bool
		if err := rows.Scan(&name, &sqlType, &notNull, &hasDefault); err != nil {
			return nil, err
		}
		cols[name] = columnShape{
			sqlType:    model.SQLType(sqlType),
			notNull:    notNull,
			hasDefault: hasDefault,
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cols, nil
}
