// SPDX-License-Identifier: Apache-2.0

// Package diag defines the diagnostic model (C1): the record shape every
// other component converts its findings into before handing them to the
// external, out-of-scope reporter named in §1. This package renders nothing
// itself -- it is the data contract the reporter consumes, plus a small
// code-frame helper a CLI-style reporter can use directly.
package diag

import (
	"fmt"
	"strings"
)

// SpanKind discriminates the three shapes a diagnostic's location can take.
type SpanKind int

const (
	// SpanFile anchors a diagnostic to the whole file (no specific
	// location), used for config and fatal session-level errors (§7).
	SpanFile SpanKind = iota
	// SpanLineAndCol anchors a diagnostic to a single 1-based (line, col).
	SpanLineAndCol
	// SpanLineAndColRange anchors a diagnostic to a 1-based (line, col)
	// range.
	SpanLineAndColRange
)

// Span is a diagnostic's location, per §6's "Diagnostic model": spans are
// 1-based line/column.
type Span struct {
	Kind SpanKind

	Line    int
	Col     int
	EndLine int
	EndCol  int
}

// FileSpan builds a whole-file span.
func FileSpan() Span { return Span{Kind: SpanFile} }

// PointSpan builds a single-point span.
func PointSpan(line, col int) Span {
	return Span{Kind: SpanLineAndCol, Line: line, Col: col}
}

// RangeSpan builds a range span.
func RangeSpan(line, col, endLine, endCol int) Span {
	return Span{Kind: SpanLineAndColRange, Line: line, Col: col, EndLine: endLine, EndCol: endCol}
}

// QuickFix is an optional machine-applicable fix a diagnostic may carry,
// e.g. WrongColumnTypes' rendered row-shape literal (§4.7, §7).
type QuickFix struct {
	Name            string
	ReplacementText string
}

// ErrorDiagnostic is the unit this module reports to its external
// collaborator (the linter-side reporter, out of scope per §1). See §6.
type ErrorDiagnostic struct {
	FileName     string
	FileContents string
	Span         Span
	Messages     []string
	Epilogue     string
	QuickFix     *QuickFix
}

// New builds a diagnostic with no quick fix and no epilogue.
func New(fileName, fileContents string, span Span, messages ...string) ErrorDiagnostic {
	return ErrorDiagnostic{
		FileName:     fileName,
		FileContents: fileContents,
		Span:         span,
		Messages:     messages,
	}
}

// WithEpilogue returns a copy of d with Epilogue set.
func (d ErrorDiagnostic) WithEpilogue(epilogue string) ErrorDiagnostic {
	d.Epilogue = epilogue
	return d
}

// WithQuickFix returns a copy of d with QuickFix set.
func (d ErrorDiagnostic) WithQuickFix(name, replacementText string) ErrorDiagnostic {
	d.QuickFix = &QuickFix{Name: name, ReplacementText: replacementText}
	return d
}

// CodeFrame renders a minimal source-excerpt the way a terminal reporter
// would: the offending line(s), prefixed by line numbers, with a caret
// line under a point span. This is a convenience for a CLI frontend; a
// richer reporter is expected to build its own rendering from the same
// ErrorDiagnostic fields instead of calling this.
func CodeFrame(d ErrorDiagnostic) string {
	if d.Span.Kind == SpanFile {
		return d.FileName
	}

	lines := strings.Split(d.FileContents, "\n")
	lineIdx := d.Span.Line - 1
	if lineIdx < 0 || lineIdx >= len(lines) {
		return fmt.Sprintf("%s:%d:%d", d.FileName, d.Span.Line, d.Span.Col)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d:%d\n", d.FileName, d.Span.Line, d.Span.Col)
	fmt.Fprintf(&b, "%4d | %s\n", d.Span.Line, lines[lineIdx])

	if d.Span.Kind == SpanLineAndCol || d.Span.Line == d.Span.EndLine {
		pad := strings.Repeat(" ", max(d.Span.Col-1, 0))
		width := 1
		if d.Span.Kind == SpanLineAndColRange && d.Span.EndCol > d.Span.Col {
			width = d.Span.EndCol - d.Span.Col
		}
		fmt.Fprintf(&b, "     | %s%s\n", pad, strings.Repeat("^", width))
	}

	return b.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
