// SPDX-License-Identifier: Apache-2.0

// Package naming implements C2: deriving a stable, collision-resistant
// PostgreSQL relation name for a resolved view body, escaping SQL
// identifiers, and recovering a view's generated name from arbitrary
// PostgreSQL error detail text.
package naming

import (
	"crypto/sha1" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Prefix marks every relation this module creates in the shadow database,
// so a generated view's name can be recognized in PostgreSQL error text
// (ParseViewNameFromErrorDetail) and never collides with a user's own
// objects.
const Prefix = "$$mfv_"

// MaxIdentifierLength is PostgreSQL's limit on unquoted and quoted
// identifiers alike (NAMEDATALEN - 1).
// https://www.postgresql.org/docs/current/sql-syntax-lexical.html#SQL-SYNTAX-IDENTIFIERS
const MaxIdentifierLength = 63

const hashLength = 12

// ViewDBName computes the deterministic relation name for a view, given its
// (optional) source variable name and its fully-resolved create-query body.
// The name is Prefix + [varName + "_"]? + sha1(body)[:12], truncated on the
// variable-name segment so the whole identifier never exceeds
// MaxIdentifierLength bytes (§4.1, §8 "View-name truncation").
func ViewDBName(varName, createQueryBody string) string {
	sum := sha1.Sum([]byte(createQueryBody)) //nolint:gosec
	hash := hex.EncodeToString(sum[:])[:hashLength]

	if varName == "" {
		return Prefix + hash
	}

	suffix := "_" + hash
	budget := MaxIdentifierLength - len(Prefix) - len(suffix)
	if budget < 0 {
		budget = 0
	}

	truncatedVar := varName
	if len(truncatedVar) > budget {
		truncatedVar = truncatedVar[:budget]
	}

	return Prefix + truncatedVar + suffix
}

// EscapeIdentifier quotes name as a SQL identifier, doubling any embedded
// double quotes, so it can be safely substituted into generated SQL text
// regardless of its contents.
func EscapeIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// viewNamePattern matches an mfv-prefixed relation name (optionally
// double-quoted, as PostgreSQL renders it in error `detail` text) anywhere
// in a string.
var viewNamePattern = regexp.MustCompile(`"?(\$\$mfv_[A-Za-z0-9_]+)"?`)

// ParseViewNameFromErrorDetail recovers the first mfv-prefixed view name
// appearing in arbitrary PostgreSQL error detail text, e.g. `view
// "$$mfv_foo_bar" depends on table employee`. Used when a DROP/ALTER fails
// because a generated view (not the original target) depends on the
// changed object, so C5 knows which view to drop and retry (§4.4).
func ParseViewNameFromErrorDetail(detail string) (string, bool) {
	m := viewNamePattern.FindStringSubmatch(detail)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FormatUniqueRangeTypeName renders the synthetic RANGE type name C5 creates
// for a UniqueTableColumnType: tableName(columnName), matching the format
// documented in the glossary and §4.4 step 4.
func FormatUniqueRangeTypeName(tableName, columnName string) string {
	return fmt.Sprintf("%s(%s)", tableName, columnName)
}
