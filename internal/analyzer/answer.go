// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sqlcheck/sqlcheck/internal/diag"
	"github.com/sqlcheck/sqlcheck/internal/model"
)

// SelectAnswer is the outcome of checking one resolved SELECT against its
// declared ColTypes, per §4.7's tagged-variant answer taxonomy. Exactly one
// field is meaningful; which one is named by Kind.
type SelectAnswer struct {
	Kind SelectAnswerKind

	DescribeErr      *DescribeError
	DuplicateCols    []string
	WrongColTypes    map[string]model.ColType
	RenderedColTypes string
}

type SelectAnswerKind int

const (
	SelectNoErrors SelectAnswerKind = iota
	SelectDescribeError
	SelectDuplicateColNames
	SelectWrongColumnTypes
)

// InsertColIssueKind discriminates one column-level problem inside an
// InvalidInsertCols answer.
type InsertColIssueKind int

const (
	MissingRequiredCol InsertColIssueKind = iota
	ColWrongType
	ColNotFound
)

// InsertColIssue is one column-level finding reported by CheckInsert's
// column-by-column pass (§4.6's insert path).
type InsertColIssue struct {
	Kind       InsertColIssueKind
	ColumnName string
	Expected   model.TargetType
	Supplied   model.TargetType
}

// InsertAnswer is the outcome of checking one resolved INSERT, per §4.7.
// It carries everything a SelectAnswer does (the RETURNING/epilogue shape
// check) plus the table- and column-level findings unique to inserts.
type InsertAnswer struct {
	Select SelectAnswer

	Kind         InsertAnswerKind
	InvalidTable string
	ColIssues    []InsertColIssue
}

type InsertAnswerKind int

const (
	InsertNoErrors InsertAnswerKind = iota
	InsertUsesSelectAnswer
	InsertInvalidTableName
	InsertInvalidCols
)

// ViewAnswerKind discriminates a view's create/resolve outcome (§4.9
// UPDATE_VIEWS).
type ViewAnswerKind int

const (
	ViewNoErrors ViewAnswerKind = iota
	ViewCreateError
	ViewInvalidFeature
)

// ViewAnswer is the outcome of resolving and creating one view.
type ViewAnswer struct {
	Kind ViewAnswerKind

	ViewName string
	Cause    error

	Message  string
	Position int
}

// ToDiagnostics converts a, relative to the request req originated from,
// into zero or more ErrorDiagnostics. A SelectNoErrors answer yields none.
func (a SelectAnswer) ToDiagnostics(req model.ResolvedSelect) []diag.ErrorDiagnostic {
	switch a.Kind {
	case SelectNoErrors:
		return nil

	case SelectDescribeError:
		return []diag.ErrorDiagnostic{
			diag.New(req.FileName, req.FileContents, diag.FileSpan(), a.DescribeErr.Error()),
		}

	case SelectDuplicateColNames:
		sorted := append([]string(nil), a.DuplicateCols...)
		sort.Strings(sorted)
		return []diag.ErrorDiagnostic{
			diag.New(req.FileName, req.FileContents, spanFromSourceSpan(req.SourceMap, req.ColTypeSpan),
				fmt.Sprintf("query returns duplicate column names: %s", strings.Join(sorted, ", "))),
		}

	case SelectWrongColumnTypes:
		d := diag.New(req.FileName, req.FileContents, spanFromSourceSpan(req.SourceMap, req.ColTypeSpan),
			fmt.Sprintf("declared row type does not match the query's actual columns: %s", describeMismatch(a.WrongColTypes)))
		return []diag.ErrorDiagnostic{d.WithQuickFix("fix-col-types", a.RenderedColTypes)}
	}

	return nil
}

// ToDiagnostics converts an InsertAnswer into diagnostics, relative to the
// request req originated from.
func (a InsertAnswer) ToDiagnostics(req model.ResolvedInsert) []diag.ErrorDiagnostic {
	switch a.Kind {
	case InsertNoErrors:
		return nil

	case InsertUsesSelectAnswer:
		return a.Select.ToDiagnostics(req.ResolvedSelect)

	case InsertInvalidTableName:
		return []diag.ErrorDiagnostic{
			diag.New(req.FileName, req.FileContents, spanFromSourceSpan(req.SourceMap, req.TableNameExprSpan),
				fmt.Sprintf("unknown table %q", a.InvalidTable)),
		}

	case InsertInvalidCols:
		var msgs []string
		for _, issue := range a.ColIssues {
			msgs = append(msgs, issue.String())
		}
		return []diag.ErrorDiagnostic{
			diag.New(req.FileName, req.FileContents, spanFromSourceSpan(req.SourceMap, req.InsertExprSpan), msgs...),
		}
	}

	return nil
}

func (i InsertColIssue) String() string {
	switch i.Kind {
	case MissingRequiredCol:
		return fmt.Sprintf("column %q is required and has no default but was not supplied", i.ColumnName)
	case ColWrongType:
		return fmt.Sprintf("column %q expects %s but %s was supplied", i.ColumnName, i.Expected, i.Supplied)
	case ColNotFound:
		return fmt.Sprintf("column %q does not exist on the target table", i.ColumnName)
	}
	return fmt.Sprintf("column %q is invalid", i.ColumnName)
}

// ToDiagnostic converts a ViewAnswer into a single diagnostic, or reports
// ok=false for ViewNoErrors.
func (a ViewAnswer) ToDiagnostic(fileName, fileContents string) (diag.ErrorDiagnostic, bool) {
	switch a.Kind {
	case ViewCreateError:
		return diag.New(fileName, fileContents, diag.FileSpan(),
			fmt.Sprintf("creating view %s: %s", a.ViewName, a.Cause)), true

	case ViewInvalidFeature:
		return diag.New(fileName, fileContents, diag.FileSpan(), a.Message), true
	}

	return diag.ErrorDiagnostic{}, false
}

func describeMismatch(wrong map[string]model.ColType) string {
	names := make([]string, 0, len(wrong))
	for name := range wrong {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// spanFromSourceSpan remaps span's start offset to a (line, col) point span
// via sm, falling back to a whole-file span when sm is nil or the offset
// can't be remapped.
func spanFromSourceSpan(sm model.SourceMap, span model.SourceSpan) diag.Span {
	if sm == nil {
		return diag.FileSpan()
	}
	line, col, ok := sm.Remap(span.StartOffset)
	if !ok {
		return diag.FileSpan()
	}
	return diag.PointSpan(line, col)
}
