// SPDX-License-Identifier: Apache-2.0

package migload_test

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlcheck/sqlcheck/internal/migload"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644))
}

func TestLoadOrdersByRank(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "V2__add_index.sql", "CREATE INDEX foo ON bar(id);")
	writeFile(t, dir, "V1__init.sql", "CREATE TABLE bar(id int);")
	writeFile(t, dir, "V10__later.sql", "ALTER TABLE bar ADD COLUMN x int;")

	files, _, err := migload.Load(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)

	assert.Equal(t, "V1__init.sql", files[0].Name)
	assert.Equal(t, "V2__add_index.sql", files[1].Name)
	assert.Equal(t, "V10__later.sql", files[2].Name)
}

func TestLoadParsesDescription(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "V1__add_employee_table.sql", "CREATE TABLE employee(id int);")

	files, _, err := migload.Load(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	assert.Equal(t, 1, files[0].Rank)
	assert.Equal(t, "add employee table", files[0].Description)
}

func TestLoadIgnoresNonMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "V1__init.sql", "CREATE TABLE bar(id int);")
	writeFile(t, dir, "README.md", "not a migration")
	writeFile(t, dir, "init.sql", "missing rank prefix")

	files, _, err := migload.Load(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "V1__init.sql", files[0].Name)
}

func TestLoadHashIsOverSortedContentsOnly(t *testing.T) {
	dirA := t.TempDir()
	writeFile(t, dirA, "V1__init.sql", "CREATE TABLE bar(id int);")
	writeFile(t, dirA, "V2__next.sql", "ALTER TABLE bar ADD COLUMN y int;")

	dirB := t.TempDir()
	// same content, different file name for the second migration: the hash
	// must still match since it is computed over contents in sorted order,
	// not over names.
	writeFile(t, dirB, "V1__init.sql", "CREATE TABLE bar(id int);")
	writeFile(t, dirB, "V2__totally_different_name.sql", "ALTER TABLE bar ADD COLUMN y int;")

	_, hashA, err := migload.Load(dirA)
	require.NoError(t, err)
	_, hashB, err := migload.Load(dirB)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)

	want := sha256.Sum256([]byte("CREATE TABLE bar(id int);" + "ALTER TABLE bar ADD COLUMN y int;"))
	assert.Equal(t, hex.EncodeToString(want[:]), hashA)
}

func TestLoadHashChangesWithContent(t *testing.T) {
	dirA := t.TempDir()
	writeFile(t, dirA, "V1__init.sql", "CREATE TABLE bar(id int);")

	dirB := t.TempDir()
	writeFile(t, dirB, "V1__init.sql", "CREATE TABLE bar(id int, name text);")

	_, hashA, err := migload.Load(dirA)
	require.NoError(t, err)
	_, hashB, err := migload.Load(dirB)
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestCheckNoGapsDetectsHole(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "V1__init.sql", "CREATE TABLE bar(id int);")
	writeFile(t, dir, "V3__later.sql", "ALTER TABLE bar ADD COLUMN y int;")

	files, _, err := migload.Load(dir)
	require.NoError(t, err)

	err = migload.CheckNoGaps(files)
	require.Error(t, err)

	var gapErr *migload.GapError
	require.ErrorAs(t, err, &gapErr)
	assert.Equal(t, 1, gapErr.PrevRank)
	assert.Equal(t, 3, gapErr.NextRank)
	assert.Contains(t, err.Error(), "Rank 2")
}

func TestCheckNoGapsAcceptsContiguousRanks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "V1__init.sql", "CREATE TABLE bar(id int);")
	writeFile(t, dir, "V2__next.sql", "ALTER TABLE bar ADD COLUMN y int;")

	files, _, err := migload.Load(dir)
	require.NoError(t, err)
	assert.NoError(t, migload.CheckNoGaps(files))
}
