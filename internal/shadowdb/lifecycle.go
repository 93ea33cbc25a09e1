// SPDX-License-Identifier: Apache-2.0

package shadowdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lib/pq"

	"github.com/sqlcheck/sqlcheck/internal/catalog"
	"github.com/sqlcheck/sqlcheck/internal/diag"
	"github.com/sqlcheck/sqlcheck/internal/migload"
	"github.com/sqlcheck/sqlcheck/internal/model"
	"github.com/sqlcheck/sqlcheck/internal/naming"
	"github.com/sqlcheck/sqlcheck/internal/pgconn"
	"github.com/sqlcheck/sqlcheck/internal/sqlparse"
	"github.com/sqlcheck/sqlcheck/internal/viewresolve"
	"github.com/sqlcheck/sqlcheck/internal/wlog"
)

const migrationsHashFileName = "migrations-hash.txt"

// MigrationError locates a SQL or I/O failure encountered while replaying
// a migration file (§7 "Migration errors").
type MigrationError struct {
	FileName string
	Offset   int
	Cause    error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s failed: %s", e.FileName, e.Cause)
}

func (e *MigrationError) Unwrap() error { return e.Cause }

// Dialer opens a Conn to a named database on the embedded cluster. Dropping
// and recreating the shadow database invalidates any existing connection to
// it, so Lifecycle redials rather than reusing a stale one.
type Dialer func(ctx context.Context, database string) (pgconn.Conn, error)

// Lifecycle owns the shadow database's full reset/replay/refresh cycle
// (§4.4) on top of an already-started Cluster.
type Lifecycle struct {
	admin   pgconn.Conn
	dial    Dialer
	conn    pgconn.Conn
	dataDir string
	log     wlog.Logger

	Catalog *catalog.Library
	PgTypes map[uint32]model.SQLType
}

// NewLifecycle builds a Lifecycle. admin is an already-open connection to
// the cluster's admin database, used only to DROP/CREATE the shadow
// database itself; dial opens fresh connections to a named database
// afterwards. dataDir is the cluster's data directory, used to persist the
// migrations-hash file.
func NewLifecycle(admin pgconn.Conn, dial Dialer, dataDir string, log wlog.Logger) *Lifecycle {
	return &Lifecycle{
		admin:   admin,
		dial:    dial,
		dataDir: dataDir,
		log:     log,
		Catalog: catalog.NewLibrary(),
	}
}

// Conn returns the lifecycle's current connection to the shadow database,
// or nil if Reset has not yet been called.
func (l *Lifecycle) Conn() pgconn.Conn { return l.conn }

// Close releases the lifecycle's connection to the shadow database, if one
// is open.
func (l *Lifecycle) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

func (l *Lifecycle) migrationsHashPath() string {
	return filepath.Join(l.dataDir, migrationsHashFileName)
}

func (l *Lifecycle) persistedMigrationsHash() (string, bool) {
	data, err := os.ReadFile(l.migrationsHashPath())
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (l *Lifecycle) persistMigrationsHash(hash string) error {
	return os.WriteFile(l.migrationsHashPath(), []byte(hash), 0o644)
}

// Reset runs the fast or full path described in §4.4: if the migrations
// directory's content hash matches what was persisted from a prior run,
// only the table/view libraries and PgTypes are refreshed; otherwise the
// shadow database is dropped, recreated, migrations are replayed, unique
// column types are installed, and strict-datetime catalog surgery is
// applied if cfg.StrictDateTimeChecking is set.
func (l *Lifecycle) Reset(ctx context.Context, cfg model.Config, force bool) ([]diag.ErrorDiagnostic, error) {
	files, hash, err := migload.Load(cfg.MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}

	if err := migload.CheckNoGaps(files); err != nil {
		return []diag.ErrorDiagnostic{diag.New(cfg.MigrationsDir, "", diag.FileSpan(), err.Error())}, nil
	}

	if !force {
		if prev, ok := l.persistedMigrationsHash(); ok && prev == hash {
			l.log.Infof("migrations hash unchanged, skipping rebuild")
			if l.conn == nil {
				conn, err := l.dial(ctx, ShadowDatabase)
				if err != nil {
					return nil, fmt.Errorf("connecting to shadow database: %w", err)
				}
				l.conn = conn
			}
			if err := l.refreshLibraries(ctx); err != nil {
				return nil, err
			}
			return nil, nil
		}
	}

	if err := l.fullReset(ctx, files, cfg); err != nil {
		return nil, err
	}

	if err := l.refreshLibraries(ctx); err != nil {
		return nil, err
	}

	if cfg.StrictDateTimeChecking {
		if err := l.applyStrictDateTime(ctx); err != nil {
			return nil, err
		}
	}

	if err := l.persistMigrationsHash(hash); err != nil {
		return nil, fmt.Errorf("persisting migrations hash: %w", err)
	}

	return nil, nil
}

func (l *Lifecycle) fullReset(ctx context.Context, files []migload.File, cfg model.Config) error {
	l.log.Infof("rebuilding shadow database")

	if err := l.Close(); err != nil {
		return fmt.Errorf("closing prior shadow database connection: %w", err)
	}

	if _, err := l.admin.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", pq.QuoteIdentifier(ShadowDatabase))); err != nil {
		return fmt.Errorf("dropping shadow database: %w", err)
	}
	if _, err := l.admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(ShadowDatabase))); err != nil {
		return fmt.Errorf("creating shadow database: %w", err)
	}

	conn, err := l.dial(ctx, ShadowDatabase)
	if err != nil {
		return fmt.Errorf("connecting to recreated shadow database: %w", err)
	}
	l.conn = conn

	for _, f := range files {
		if err := l.applyMigrationFile(ctx, f); err != nil {
			return err
		}
	}

	if err := l.applyUniqueColumnTypes(ctx, cfg.UniqueTableColumnTypes); err != nil {
		return err
	}

	return nil
}

// applyMigrationFile replays one migration file's statements, each inside
// its own savepoint so a dependent-view error ("cannot DROP ... view
// depends on it") can be recovered by dropping the named view and retrying,
// per §4.4's transaction discipline and the Decision recorded in §9: each
// file runs inside its own outer transaction, with a savepoint per
// statement for the drop/retry recursion.
func (l *Lifecycle) applyMigrationFile(ctx context.Context, f migload.File) error {
	stmts, err := sqlparse.SplitStatements(f.Contents)
	if err != nil {
		return &MigrationError{FileName: f.Name, Cause: err}
	}

	return l.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, stmt := range stmts {
			if err := l.applyStatementWithRetry(ctx, tx, stmt, nil); err != nil {
				return &MigrationError{FileName: f.Name, Offset: stmt.Offset, Cause: err}
			}
		}
		return nil
	})
}

// applyStatementWithRetry executes stmt inside a named savepoint; on a
// dependent-view error it drops the named view and retries, recursing so a
// chain of dependent views is unwound one at a time. dropped tracks views
// already dropped in this chain so none is dropped twice (§4.4).
func (l *Lifecycle) applyStatementWithRetry(ctx context.Context, tx *sql.Tx, stmt sqlparse.Statement, dropped map[string]bool) error {
	if dropped == nil {
		dropped = make(map[string]bool)
	}

	err := pgconn.WithSavepoint(ctx, tx, func(ctx context.Context) error {
		l.log.PGStatement(stmt.Text)
		_, err := tx.ExecContext(ctx, stmt.Text)
		return err
	})
	if err == nil {
		return nil
	}

	code := pgconn.Code(err)
	if code != pgconn.DependentObjectsStillExistErrorCode && code != pgconn.FeatureNotSupportedErrorCode {
		return err
	}

	viewName, ok := dependentViewFromError(err)
	if !ok || dropped[viewName] {
		return err
	}
	dropped[viewName] = true

	if dropErr := pgconn.WithSavepoint(ctx, tx, func(ctx context.Context) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE", naming.EscapeIdentifier(viewName)))
		return err
	}); dropErr != nil {
		return fmt.Errorf("dropping dependent view %s: %w", viewName, dropErr)
	}

	return l.applyStatementWithRetry(ctx, tx, stmt, dropped)
}

func dependentViewFromError(err error) (string, bool) {
	pqErr := &pq.Error{}
	if !errors.As(err, &pqErr) {
		return "", false
	}
	return naming.ParseViewNameFromErrorDetail(pqErr.Detail)
}

// applyUniqueColumnTypes installs the RANGE-type substitution for each
// configured UniqueTableColumnType (§4.4 step 4).
func (l *Lifecycle) applyUniqueColumnTypes(ctx context.Context, uniques []model.UniqueTableColumnType) error {
	for _, u := range uniques {
		if err := l.applyOneUniqueColumnType(ctx, u); err != nil {
			return fmt.Errorf("applying unique column type for %s.%s: %w", u.TableName, u.ColumnName, err)
		}
	}
	return nil
}

func (l *Lifecycle) applyOneUniqueColumnType(ctx context.Context, u model.UniqueTableColumnType) error {
	return l.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var baseType string
		row := tx.QueryRowContext(ctx, `
			SELECT format_type(a.atttypid, a.atttypmod)
			FROM pg_attribute a
			JOIN pg_class c ON c.oid = a.attrelid
			WHERE c.relname = $1 AND a.attname = $2 AND NOT a.attisdropped
		`, u.TableName, u.ColumnName)
		if err := row.Scan(&baseType); err != nil {
			return fmt.Errorf("looking up base type: %w", err)
		}

		rangeTypeName := naming.FormatUniqueRangeTypeName(u.TableName, u.ColumnName)

		// A column's value v is represented as the closed singleton range
		// [v,v], so equality and containment checks against the branded type
		// still behave like equality on the underlying scalar while the type
		// system refuses to unify it with another table's branded column.
		stmts := []string{
			fmt.Sprintf("CREATE TYPE %s AS RANGE (SUBTYPE = %s)", pq.QuoteIdentifier(rangeTypeName), baseType),
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s(%s, %s, '[]')",
				pq.QuoteIdentifier(u.TableName), pq.QuoteIdentifier(u.ColumnName),
				pq.QuoteIdentifier(rangeTypeName),
				pq.QuoteIdentifier(rangeTypeName),
				pq.QuoteIdentifier(u.ColumnName), pq.QuoteIdentifier(u.ColumnName)),
		}

		for _, stmt := range stmts {
			if err := l.applyStatementWithRetry(ctx, tx, sqlparse.Statement{Text: stmt}, nil); err != nil {
				return err
			}
		}

		return nil
	})
}

func (l *Lifecycle) refreshLibraries(ctx context.Context) error {
	if err := l.Catalog.RefreshTables(ctx, l.conn); err != nil {
		return fmt.Errorf("refreshing table columns: %w", err)
	}
	if err := l.Catalog.RefreshViews(ctx, l.conn); err != nil {
		return fmt.Errorf("refreshing view columns: %w", err)
	}

	types, err := catalog.LoadPgTypes(ctx, l.conn)
	if err != nil {
		return fmt.Errorf("loading pg_type: %w", err)
	}
	l.PgTypes = types

	return nil
}

// applyStrictDateTime mutates the shadow cluster's system catalogs per
// §4.4 step 7, applied only when the caller's config requests it and only
// on the shadow cluster.
func (l *Lifecycle) applyStrictDateTime(ctx context.Context) error {
	l.log.Infof("applying strict datetime catalog surgery")

	for _, op := range strictDateTimeMutations.Operators {
		stmt := fmt.Sprintf("DELETE FROM pg_operator WHERE oprname = %s AND oprleft = %s::regtype AND oprright = %s::regtype",
			pq.QuoteLiteral(op.Name), pq.QuoteLiteral(op.LeftType), pq.QuoteLiteral(op.RightType))
		if _, err := l.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("deleting operator %s(%s,%s): %w", op.Name, op.LeftType, op.RightType, err)
		}
	}

	for _, c := range strictDateTimeMutations.Casts {
		var stmt string
		if c.MakeExplicit {
			stmt = fmt.Sprintf("UPDATE pg_cast SET castcontext = 'e' WHERE castsource = %s::regtype AND casttarget = %s::regtype",
				pq.QuoteLiteral(c.SourceType), pq.QuoteLiteral(c.TargetType))
		} else {
			stmt = fmt.Sprintf("DELETE FROM pg_cast WHERE castsource = %s::regtype AND casttarget = %s::regtype",
				pq.QuoteLiteral(c.SourceType), pq.QuoteLiteral(c.TargetType))
		}
		if _, err := l.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mutating cast %s -> %s: %w", c.SourceType, c.TargetType, err)
		}
	}

	return nil
}

// ProcessViews resolves lib and applies the resulting SqlCreateViews to
// the shadow database in topological order, returning aggregated
// diagnostics (§4.3, §4.9 UPDATE_VIEWS).
func (l *Lifecycle) ProcessViews(ctx context.Context, lib viewresolve.Library) ([]diag.ErrorDiagnostic, []model.SqlCreateView) {
	views, diags := viewresolve.NewResolver(lib).Resolve()

	for _, v := range views {
		if star, found := sqlparse.FindSelectStar(v.CreateQuery); found {
			line, col, ok := remap(v.SourceMap, star.Offset)
			var span diag.Span
			if ok {
				span = diag.PointSpan(line, col)
			} else {
				span = diag.FileSpan()
			}
			diags = append(diags, diag.New(v.FileName, v.FileContents, span, "SELECT * not allowed in views"))
			continue
		}

		createStmt := fmt.Sprintf("CREATE VIEW %s AS %s", naming.EscapeIdentifier(v.ResolvedName), v.CreateQuery)
		if _, err := l.conn.ExecContext(ctx, createStmt); err != nil {
			diags = append(diags, diag.New(v.FileName, v.FileContents, diag.FileSpan(), fmt.Sprintf("creating view: %s", err)))
		}
	}

	return diags, views
}

func remap(sm model.SourceMap, offset int) (int, int, bool) {
	if sm == nil {
		return 0, 0, false
	}
	return sm.Remap(offset)
}
