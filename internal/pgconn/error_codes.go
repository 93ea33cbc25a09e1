// SPDX-License-Identifier: Apache-2.0

package pgconn

// Named SQLSTATE classes (by condition name, not code) that call sites match
// against frequently enough to be worth naming instead of repeating the raw
// five-character code.
const (
	CheckViolationErrorCode   string = "check_violation"
	FKViolationErrorCode      string = "foreign_key_violation"
	NotNullViolationErrorCode string = "not_null_violation"
	UniqueViolationErrorCode  string = "unique_violation"
)
