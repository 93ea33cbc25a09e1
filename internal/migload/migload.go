// SPDX-License-Identifier: Apache-2.0

// Package migload implements C3: enumerating a directory of versioned SQL
// migration files, ordering them deterministically, and computing a content
// hash C5 uses to decide whether the shadow database already reflects the
// current migration set.
package migload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// fileNamePattern matches "V<n>__<desc>.sql", e.g. "V12__add_employee_table.sql".
var fileNamePattern = regexp.MustCompile(`^V(\d+)__(.*)\.sql$`)

// File is one loaded migration file.
type File struct {
	// Path is the file's full path on disk.
	Path string
	// Name is the file's base name, e.g. "V12__add_employee_table.sql".
	Name string
	// Rank is the numeric version extracted from the file name.
	Rank int
	// Description is the human-readable description, with underscores
	// replaced by spaces (§6 "Migration files").
	Description string
	// Contents is the raw SQL file contents.
	Contents string
}

// GapError reports a hole in the migration rank sequence (§8 "Migration
// numbering gap").
type GapError struct {
	PrevRank int
	NextRank int
}

func (e *GapError) Error() string {
	missing := e.PrevRank + 1
	return fmt.Sprintf("Rank %d is missing (found V%d then V%d)", missing, e.PrevRank, e.NextRank)
}

// Load reads every file in dir matching fileNamePattern, stably sorted by
// rank (ties broken lexicographically by name, which cannot actually occur
// since rank alone determines sort order for well-formed directories), and
// returns them alongside the sha256 migrations-hash over their contents in
// that order (§4.2).
//
// Load does not itself reject rank gaps; callers that need the "Migration
// gap" diagnostic (§8 scenario 6) should call CheckNoGaps on the result.
func Load(dir string) ([]File, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("reading migrations directory %q: %w", dir, err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		m := fileNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}

		rank, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, "", fmt.Errorf("migration file %q: rank %q is not a valid integer: %w", entry.Name(), m[1], err)
		}

		path := filepath.Join(dir, entry.Name())
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("reading migration file %q: %w", path, err)
		}

		files = append(files, File{
			Path:        path,
			Name:        entry.Name(),
			Rank:        rank,
			Description: strings.ReplaceAll(m[2], "_", " "),
			Contents:    string(contents),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Rank != files[j].Rank {
			return files[i].Rank < files[j].Rank
		}
		return files[i].Name < files[j].Name
	})

	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f.Contents))
	}

	return files, hex.EncodeToString(h.Sum(nil)), nil
}

// CheckNoGaps verifies that files, already sorted by Load, has no hole in
// its Rank sequence. Duplicate ranks are not considered gaps.
func CheckNoGaps(files []File) error {
	for i := 1; i < len(files); i++ {
		prev, next := files[i-1].Rank, files[i].Rank
		if next > prev+1 {
			return &GapError{PrevRank: prev, NextRank: next}
		}
	}
	return nil
}
