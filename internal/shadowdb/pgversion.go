// SPDX-License-Identifier: Apache-2.0

package shadowdb

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// SupportedMajors lists the PostgreSQL major versions this module's
// strict-datetime catalog surgery (§4.4 step 7) is known to be correct for.
// The underlying catalog row shapes it mutates are not guaranteed stable
// across majors outside this list (§9 open question on pg_rewrite's
// textual format applies equally here).
var SupportedMajors = []string{"13", "14", "15", "16"}

// UnsupportedVersionError is returned at INITIALIZE when the shadow
// cluster's Postgres major version is not in SupportedMajors (§9 Decision).
type UnsupportedVersionError struct {
	Version string
}

func (e UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported postgres version %q (supported majors: %s)", e.Version, strings.Join(SupportedMajors, ", "))
}

// CheckSupportedVersion returns an UnsupportedVersionError if version's
// major component is not in SupportedMajors. version may be a full
// server_version string ("15.3 (Debian ...)") or a bare major ("15").
func CheckSupportedVersion(version string) error {
	major := MajorVersion(version)
	for _, m := range SupportedMajors {
		if major == m {
			return nil
		}
	}
	return UnsupportedVersionError{Version: version}
}

// MajorVersion extracts the leading major-version component from a
// PostgreSQL server_version string, e.g. "15.3 (Debian 15.3-1)" -> "15".
func MajorVersion(version string) string {
	fields := strings.Fields(version)
	if len(fields) == 0 {
		return ""
	}
	head := fields[0]

	if idx := strings.IndexByte(head, '.'); idx >= 0 {
		return head[:idx]
	}
	return head
}

// strictDateTimeOperator names a cross-date/timestamp operator to delete
// from pg_operator when strictDateTimeChecking is enabled (§4.4 step 7).
type strictDateTimeOperator struct {
	Name      string
	LeftType  string
	RightType string
}

// strictDateTimeCast names a cast PostgreSQL otherwise performs implicitly
// between a date/time type and a wider or narrower one.
type strictDateTimeCast struct {
	SourceType string
	TargetType string
	// MakeExplicit, when true, changes the cast's context to 'e' (explicit)
	// rather than deleting it outright.
	MakeExplicit bool
}

// strictDateTimeMutations is the per-major-version catalog mutation list
// applied by the shadow-DB lifecycle's strict-datetime step. The set is
// identical across the supported majors today; a version-specific override
// would be added here if a future major changed these catalog rows.
var strictDateTimeMutations = struct {
	Operators []strictDateTimeOperator
	Casts     []strictDateTimeCast
}{
	Operators: []strictDateTimeOperator{
		{Name: "=", LeftType: "date", RightType: "timestamp"},
		{Name: "=", LeftType: "date", RightType: "timestamptz"},
		{Name: "<", LeftType: "date", RightType: "timestamp"},
		{Name: ">", LeftType: "date", RightType: "timestamp"},
		{Name: "=", LeftType: "timestamp", RightType: "timestamptz"},
	},
	Casts: []strictDateTimeCast{
		{SourceType: "timestamp", TargetType: "date", MakeExplicit: true},
		{SourceType: "timestamptz", TargetType: "date", MakeExplicit: true},
		{SourceType: "timestamp", TargetType: "time", MakeExplicit: true},
	},
}

// normalizeSemver turns a bare "15" or "15.3" version string into a form
// golang.org/x/mod/semver accepts ("v15.0.0"), used when comparing against
// a future version-gated mutation list.
func normalizeSemver(version string) string {
	major := MajorVersion(version)
	v := "v" + major + ".0.0"
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
