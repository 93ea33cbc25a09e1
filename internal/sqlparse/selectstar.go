// SPDX-License-Identifier: Apache-2.0

// Package sqlparse implements the two parse-tree-assisted duties of §4.7 and
// §4.4: locating a forbidden "SELECT *" inside a view body, and splitting a
// migration file's text into individually-savepointable statements.
package sqlparse

import (
	"fmt"
	"regexp"

	pgq "github.com/xataio/pg_query_go/v6"
)

// selectStarPattern is the spec's baseline detection mechanism (§4.7): a
// case-insensitive regex fast path, checked before any parsing is
// attempted. A view body that doesn't match this can never contain a
// forbidden "SELECT *" and does not need to be parsed at all.
var selectStarPattern = regexp.MustCompile(`(?i)(select|\.|,)\s*\*`)

// StarMatch locates a forbidden "*" target inside a view body.
type StarMatch struct {
	// Offset is the byte offset of the "*" character itself.
	Offset int
}

// FindSelectStar reports the first forbidden "SELECT *"-style target in
// body, or ok=false if none is present.
//
// The regex match is always computed first and used as-is unless the body
// parses cleanly, in which case the parse tree is walked for an AStar node
// to recover the star's exact byte offset -- the regex's match index can be
// off by the leading "select"/"."/"," it also captures. If parsing fails
// (the body is not standalone valid SQL, e.g. it still contains unresolved
// view-reference placeholders), the regex's own match position is used as a
// fallback so the ban is still enforced.
func FindSelectStar(body string) (StarMatch, bool) {
	loc := selectStarPattern.FindStringIndex(body)
	if loc == nil {
		return StarMatch{}, false
	}

	// Fallback: point at the literal "*" within the regex match itself.
	fallback := StarMatch{Offset: loc[0] + len("*") - 1}
	for i := loc[0]; i < loc[1]; i++ {
		if body[i] == '*' {
			fallback.Offset = i
			break
		}
	}

	tree, err := pgq.Parse(body)
	if err != nil {
		return fallback, true
	}

	for _, stmt := range tree.GetStmts() {
		sel, ok := stmt.GetStmt().GetNode().(*pgq.Node_SelectStmt)
		if !ok {
			continue
		}
		if off, found := firstStarInSelect(sel.SelectStmt); found {
			// A qualified "rel.*" is located at its qualifier; advance to
			// the "*" itself.
			for off < len(body) && body[off] != '*' {
				off++
			}
			return StarMatch{Offset: off}, true
		}
	}

	return fallback, true
}

func firstStarInSelect(sel *pgq.SelectStmt) (int, bool) {
	for _, target := range sel.GetTargetList() {
		resTarget, ok := target.GetNode().(*pgq.Node_ResTarget)
		if !ok {
			continue
		}
		colRef, ok := resTarget.ResTarget.GetVal().GetNode().(*pgq.Node_ColumnRef)
		if !ok {
			continue
		}
		for _, field := range colRef.ColumnRef.GetFields() {
			if star, ok := field.GetNode().(*pgq.Node_AStar); ok {
				_ = star
				return int(colRef.ColumnRef.GetLocation()), true
			}
		}
	}

	// Recurse into set-operation branches (UNION/INTERSECT/EXCEPT).
	if sel.GetLarg() != nil {
		if off, found := firstStarInSelect(sel.GetLarg()); found {
			return off, true
		}
	}
	if sel.GetRarg() != nil {
		if off, found := firstStarInSelect(sel.GetRarg()); found {
			return off, true
		}
	}

	return 0, false
}

// SplitStatements splits a migration file's text into its individual SQL
// statements, returning each statement's own text and its byte offset
// within the original file, so C5 can apply and savepoint-retry each
// statement independently instead of sending the whole file as one
// multi-statement Exec (§4.4 step 3).
func SplitStatements(fileContents string) ([]Statement, error) {
	tree, err := pgq.Parse(fileContents)
	if err != nil {
		return nil, fmt.Errorf("parsing migration file: %w", err)
	}

	stmts := make([]Statement, 0, len(tree.GetStmts()))
	for _, raw := range tree.GetStmts() {
		start := int(raw.GetStmtLocation())
		length := int(raw.GetStmtLen())
		end := start + length
		if length == 0 || end > len(fileContents) {
			end = len(fileContents)
		}

		stmts = append(stmts, Statement{
			Text:   fileContents[start:end],
			Offset: start,
		})
	}

	return stmts, nil
}

// Statement is one SQL statement recovered from a larger file, alongside
// its byte offset in that file (used to locate migration errors, §7).
type Statement struct {
	Text   string
	Offset int
}
