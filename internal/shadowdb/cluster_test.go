// SPDX-License-Identifier: Apache-2.0

package shadowdb

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlcheck/sqlcheck/internal/wlog"
)

func newTestCluster(t *testing.T) *Cluster {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return New(dir, 5555, wlog.NewNoop())
}

func TestReadPIDParsesFirstLine(t *testing.T) {
	c := newTestCluster(t)
	require.NoError(t, os.WriteFile(c.pidFilePath(), []byte("12345\n/some/data/dir\n1234567890\n"), 0o644))

	pid, err := c.readPID()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestReadPIDMissingFile(t *testing.T) {
	c := newTestCluster(t)

	_, err := c.readPID()
	assert.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestIsAliveTrueForOwnProcess(t *testing.T) {
	c := newTestCluster(t)
	require.NoError(t, os.WriteFile(c.pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0o644))

	alive, err := c.isAlive()
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestIsAliveFalseWhenPIDFileAbsent(t *testing.T) {
	c := newTestCluster(t)

	alive, err := c.isAlive()
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestAdminURLIncludesConfiguredPort(t *testing.T) {
	c := New(t.TempDir(), 5987, wlog.NewNoop())
	assert.Contains(t, c.AdminURL(), ":5987/")
}

func TestDataDirIsUnderProjectDir(t *testing.T) {
	projectDir := t.TempDir()
	c := New(projectDir, 5555, wlog.NewNoop())
	assert.Equal(t, filepath.Join(projectDir, "embedded-pg"), c.DataDir())
}
