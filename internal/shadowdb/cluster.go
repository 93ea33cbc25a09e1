// SPDX-License-Identifier: Apache-2.0

package shadowdb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sqlcheck/sqlcheck/internal/wlog"
)

// AdminDatabase is the fixed database name the worker connects to in order
// to administer the shadow database (§6 "Shadow DB wire").
const AdminDatabase = "postgres"

// ShadowDatabase is the fixed name of the disposable database every check
// runs against.
const ShadowDatabase = "shadow_database"

// adminUser and adminPassword are the fixed credentials the embedded
// cluster is initialized with; since the cluster is private to one
// project directory and reachable only on localhost, a fixed password is
// not a meaningful exposure.
const (
	adminUser     = "postgres"
	adminPassword = "password"
)

const pidFileName = "postmaster.pid"

// Cluster manages the lifecycle of a project-local, disposable PostgreSQL
// cluster: initializing its data directory, starting/adopting its
// postmaster process, and producing connection strings to it (§4.4, §5
// "Embedded cluster").
type Cluster struct {
	dataDir string
	port    int
	log     wlog.Logger

	cmd *exec.Cmd
}

// New returns a Cluster rooted at <projectDir>/embedded-pg (§6).
func New(projectDir string, port int, log wlog.Logger) *Cluster {
	return &Cluster{
		dataDir: filepath.Join(projectDir, "embedded-pg"),
		port:    port,
		log:     log,
	}
}

// DataDir is the cluster's data directory.
func (c *Cluster) DataDir() string { return c.dataDir }

// AdminURL is the fixed connection URL to the cluster's admin database
// (§6).
func (c *Cluster) AdminURL() string {
	return c.DatabaseURL(AdminDatabase)
}

// DatabaseURL is the connection URL to a named database on this cluster,
// using the same fixed admin credentials as AdminURL. Lifecycle uses this
// to reopen a connection to the shadow database after recreating it.
func (c *Cluster) DatabaseURL(database string) string {
	return fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", adminUser, adminPassword, c.port, database)
}

func (c *Cluster) pidFilePath() string {
	return filepath.Join(c.dataDir, pidFileName)
}

// EnsureStarted initializes the data directory if it doesn't exist, then
// starts the postmaster if it is not already alive, identified via its PID
// file (§4.4, §5 "Shared resources").
func (c *Cluster) EnsureStarted(ctx context.Context) error {
	if _, err := os.Stat(c.dataDir); os.IsNotExist(err) {
		if err := c.initdb(ctx); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("statting data directory %q: %w", c.dataDir, err)
	}

	alive, err := c.isAlive()
	if err != nil {
		return err
	}
	if alive {
		c.log.Debugf("adopting already-running postmaster")
		return nil
	}

	return c.start(ctx)
}

func (c *Cluster) initdb(ctx context.Context) error {
	c.log.Infof("initializing shadow cluster data directory")

	pwFile, err := os.CreateTemp("", "sqlcheck-initdb-pw")
	if err != nil {
		return fmt.Errorf("creating initdb password file: %w", err)
	}
	defer os.Remove(pwFile.Name())
	if _, err := pwFile.WriteString(adminPassword); err != nil {
		return fmt.Errorf("writing initdb password file: %w", err)
	}
	if err := pwFile.Close(); err != nil {
		return fmt.Errorf("closing initdb password file: %w", err)
	}

	cmd := exec.CommandContext(ctx, "initdb",
		"-D", c.dataDir,
		"-U", adminUser,
		"--pwfile="+pwFile.Name(),
		"--auth=md5",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("initdb failed: %w: %s", err, out)
	}

	return nil
}

func (c *Cluster) start(ctx context.Context) error {
	c.log.Infof("starting shadow cluster postmaster")

	cmd := exec.CommandContext(ctx, "pg_ctl",
		"-D", c.dataDir,
		"-o", fmt.Sprintf("-p %d -h localhost", c.port),
		"-w",
		"start",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_ctl start failed: %w: %s", err, out)
	}

	c.cmd = cmd
	return nil
}

// Stop stops the postmaster if this Cluster owns it (§4.9 END, §5
// "process-exit hook").
func (c *Cluster) Stop(ctx context.Context) error {
	if c.cmd == nil {
		return nil
	}
	cmd := exec.CommandContext(ctx, "pg_ctl", "-D", c.dataDir, "-m", "fast", "stop")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_ctl stop failed: %w: %s", err, out)
	}
	return nil
}

// isAlive checks the postmaster's liveness via its PID file, the
// embedded-cluster analogue of kill(pid, 0) (§5, §9 "Embedded cluster").
func (c *Cluster) isAlive() (bool, error) {
	pid, err := c.readPID()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, nil
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false, nil
	}

	return true, nil
}

func (c *Cluster) readPID() (int, error) {
	data, err := os.ReadFile(c.pidFilePath())
	if err != nil {
		return 0, err
	}

	lines := strings.SplitN(string(data), "\n", 2)
	if len(lines) == 0 {
		return 0, fmt.Errorf("empty postmaster.pid file")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, fmt.Errorf("parsing pid from postmaster.pid: %w", err)
	}

	return pid, nil
}

// waitReady polls the postmaster PID file's liveness until it reports alive
// or timeout elapses. start() passes -w to pg_ctl and does not call it.
func (c *Cluster) waitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if alive, err := c.isAlive(); err == nil && alive {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for postmaster to become ready")
}
