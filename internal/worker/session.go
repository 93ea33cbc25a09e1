// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sqlcheck/sqlcheck/internal/analyzer"
	"github.com/sqlcheck/sqlcheck/internal/checkcache"
	"github.com/sqlcheck/sqlcheck/internal/config"
	"github.com/sqlcheck/sqlcheck/internal/diag"
	"github.com/sqlcheck/sqlcheck/internal/model"
	"github.com/sqlcheck/sqlcheck/internal/naming"
	"github.com/sqlcheck/sqlcheck/internal/pgconn"
	"github.com/sqlcheck/sqlcheck/internal/shadowdb"
	"github.com/sqlcheck/sqlcheck/internal/viewresolve"
	"github.com/sqlcheck/sqlcheck/internal/wlog"
)

// shadowPort is the fixed local port the embedded cluster listens on. The
// cluster is private to one project directory (§5 "Embedded cluster"), so a
// single fixed port is sufficient; nothing in this module runs two sessions
// against the same project directory concurrently.
const shadowPort = 28814

// Session is the single long-lived worker process described in §4.9: one
// goroutine drains its request channel and owns every mutable collaborator
// below, so nothing here needs a lock (§5 "Shared resources").
type Session struct {
	log wlog.Logger

	cluster   *shadowdb.Cluster
	lifecycle *shadowdb.Lifecycle
	admin     *sql.DB
	cache     *checkcache.Cache
	analyzer  *analyzer.Analyzer

	cfg         model.Config
	initialized bool

	rebuildCount int
}

// NewSession builds an un-initialized Session. The shadow cluster and
// analyzer are constructed lazily, by the first INITIALIZE request.
func NewSession(log wlog.Logger) *Session {
	return &Session{log: log, cache: checkcache.New()}
}

// Handle dispatches one request to the matching handler, per §4.9's request
// taxonomy.
func (s *Session) Handle(ctx context.Context, req Request) Response {
	switch req.Tag {
	case TagInitialize:
		if req.Initialize == nil {
			return runnerErrorResponse(fmt.Errorf("%s request missing payload", TagInitialize))
		}
		return s.handleInitialize(ctx, *req.Initialize)
	case TagUpdateViews:
		if req.UpdateViews == nil {
			return runnerErrorResponse(fmt.Errorf("%s request missing payload", TagUpdateViews))
		}
		return s.handleUpdateViews(ctx, *req.UpdateViews)
	case TagCheckQuery:
		if req.CheckQuery == nil {
			return runnerErrorResponse(fmt.Errorf("%s request missing payload", TagCheckQuery))
		}
		return s.handleCheckQuery(ctx, *req.CheckQuery)
	case TagCheckInsert:
		if req.CheckInsert == nil {
			return runnerErrorResponse(fmt.Errorf("%s request missing payload", TagCheckInsert))
		}
		return s.handleCheckInsert(ctx, *req.CheckInsert)
	case TagEnd:
		return s.handleEnd(ctx)
	case TagStats:
		return s.handleStats()
	default:
		return runnerErrorResponse(fmt.Errorf("unrecognized request tag %q", req.Tag))
	}
}

func (s *Session) handleInitialize(ctx context.Context, req InitializeRequest) Response {
	if s.initialized && !req.Force {
		return okResponse()
	}

	cfg, err := config.Load(req.ConfigFilePath)
	if err != nil {
		return runnerErrorResponse(fmt.Errorf("loading config: %w", err))
	}
	if len(req.UniqueTableColumnTypes) > 0 {
		uniques := make([]model.UniqueTableColumnType, len(req.UniqueTableColumnTypes))
		for i, u := range req.UniqueTableColumnTypes {
			uniques[i] = u.toModel()
		}
		cfg.UniqueTableColumnTypes = uniques
	}
	cfg.StrictDateTimeChecking = req.StrictDateTimeChecking

	s.cluster = shadowdb.New(req.ProjectDir, shadowPort, s.log)
	if err := s.cluster.EnsureStarted(ctx); err != nil {
		return runnerErrorResponse(fmt.Errorf("starting shadow cluster: %w", err))
	}

	admin, err := sql.Open("postgres", s.cluster.AdminURL())
	if err != nil {
		return runnerErrorResponse(fmt.Errorf("connecting to shadow cluster admin database: %w", err))
	}
	s.admin = admin

	var version string
	if err := admin.QueryRowContext(ctx, "SHOW server_version").Scan(&version); err != nil {
		return runnerErrorResponse(fmt.Errorf("reading shadow cluster server_version: %w", err))
	}
	if err := shadowdb.CheckSupportedVersion(version); err != nil {
		return runnerErrorResponse(err)
	}

	s.lifecycle = shadowdb.NewLifecycle(pgconn.New(admin), s.dialer(), s.cluster.DataDir(), s.log)

	diags, err := s.lifecycle.Reset(ctx, cfg, req.Force)
	if err != nil {
		return runnerErrorResponse(fmt.Errorf("resetting shadow database: %w", err))
	}
	s.rebuildCount++
	s.cache.Clear()
	s.cfg = cfg

	typeMapper := analyzer.NewTypeMapper(cfg)
	s.analyzer = analyzer.NewAnalyzer(s.lifecycle.Conn(), s.lifecycle.Catalog, typeMapper, cfg.ColTypesFormat)
	s.initialized = true

	if len(diags) > 0 {
		return invalidQueryResponse(diags)
	}

	viewDiags := s.resetViews(ctx, req.SqlViews)
	if len(viewDiags) > 0 {
		return invalidQueryResponse(viewDiags)
	}
	return okResponse()
}

// dialer returns a shadowdb.Dialer that opens a fresh connection to a named
// database on the embedded cluster (shadowdb.Dialer doc comment:
// "recreating the shadow database invalidates any existing connection to
// it").
func (s *Session) dialer() shadowdb.Dialer {
	return func(ctx context.Context, database string) (pgconn.Conn, error) {
		db, err := sql.Open("postgres", s.cluster.DatabaseURL(database))
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, err
		}
		return pgconn.New(db), nil
	}
}

func (s *Session) handleUpdateViews(ctx context.Context, req UpdateViewsRequest) Response {
	if !s.initialized {
		return runnerErrorResponse(errors.New("UPDATE_VIEWS received before a successful INITIALIZE"))
	}

	if req.StrictDateTimeChecking != s.cfg.StrictDateTimeChecking {
		s.cfg.StrictDateTimeChecking = req.StrictDateTimeChecking
		if _, err := s.lifecycle.Reset(ctx, s.cfg, true); err != nil {
			return runnerErrorResponse(fmt.Errorf("rebuilding shadow database for strictDateTimeChecking change: %w", err))
		}
		s.rebuildCount++
		s.cache.Clear()
	}

	diags := s.resetViews(ctx, req.SqlViews)
	if len(diags) > 0 {
		return invalidQueryResponse(diags)
	}
	return okResponse()
}

// resetViews drops every previously-cached view not named in wireViews,
// resolves the new library, applies it to the shadow database, and
// replaces the cache's view answers wholesale (§4.8, §4.9 UPDATE_VIEWS
// "the previous set is replaced wholesale, never merged").
func (s *Session) resetViews(ctx context.Context, wireViews []WireSqlView) []diag.ErrorDiagnostic {
	lib := make(viewresolve.Library, len(wireViews))
	wanted := make(map[model.QualifiedSqlViewName]bool, len(wireViews))
	for _, v := range wireViews {
		def := v.toModel()
		lib[def.QualifiedName] = def
		wanted[def.QualifiedName] = true
	}

	for _, prev := range s.cache.ViewNames() {
		if wanted[prev] {
			continue
		}
		if answer, ok := s.cache.ViewAnswer(prev); ok && answer.ViewName != "" {
			stmt := fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE", naming.EscapeIdentifier(answer.ViewName))
			if _, err := s.lifecycle.Conn().ExecContext(ctx, stmt); err != nil {
				s.log.Warnf("dropping retired view %s: %s", prev, err)
			}
		}
	}

	diags, created := s.lifecycle.ProcessViews(ctx, lib)

	answers := make(map[model.QualifiedSqlViewName]analyzer.ViewAnswer, len(created))
	for _, v := range created {
		answers[v.QualifiedName] = analyzer.ViewAnswer{Kind: analyzer.ViewNoErrors, ViewName: v.ResolvedName}
	}
	s.cache.SetViews(answers)

	return diags
}

func (s *Session) handleCheckQuery(ctx context.Context, req CheckQueryRequest) Response {
	if !s.initialized {
		return runnerErrorResponse(errors.New("CHECK_QUERY received before a successful INITIALIZE"))
	}

	resolved := req.Select.toModel()
	key := checkcache.QueryKey(resolved)

	answer, ok := s.cache.Query(key)
	if !ok {
		var err error
		answer, err = s.analyzer.CheckQuery(ctx, resolved)
		if err != nil {
			return runnerErrorResponse(fmt.Errorf("checking query: %w", err))
		}
		s.cache.StoreQuery(key, answer)
	}

	diags := answer.ToDiagnostics(resolved)
	if len(diags) > 0 {
		return invalidQueryResponse(diags)
	}
	return okResponse()
}

func (s *Session) handleCheckInsert(ctx context.Context, req CheckInsertRequest) Response {
	if !s.initialized {
		return runnerErrorResponse(errors.New("CHECK_INSERT received before a successful INITIALIZE"))
	}

	resolved := req.Insert.toModel()
	key := checkcache.InsertKey(resolved)

	answer, ok := s.cache.Insert(key)
	if !ok {
		var err error
		answer, err = s.analyzer.CheckInsert(ctx, resolved)
		if err != nil {
			return runnerErrorResponse(fmt.Errorf("checking insert: %w", err))
		}
		s.cache.StoreInsert(key, answer)
	}

	diags := answer.ToDiagnostics(resolved)
	if len(diags) > 0 {
		return invalidQueryResponse(diags)
	}
	return okResponse()
}

// handleEnd releases the session's PostgreSQL client and stops the
// postmaster if this session's Cluster started it; an adopted postmaster
// keeps running (§4.9 END, §5 "process-exit hook").
func (s *Session) handleEnd(ctx context.Context) Response {
	if !s.initialized {
		return okResponse()
	}

	if err := s.lifecycle.Close(); err != nil {
		s.log.Warnf("closing shadow database connection: %s", err)
	}
	if err := s.admin.Close(); err != nil {
		s.log.Warnf("closing shadow cluster admin connection: %s", err)
	}
	if err := s.cluster.Stop(ctx); err != nil {
		s.log.Warnf("stopping shadow cluster: %s", err)
	}

	s.initialized = false
	return okResponse()
}

// handleStats never errors (§4.9 STATS).
func (s *Session) handleStats() Response {
	stats := s.cache.Stats()
	return Response{
		Tag: TagOk,
		Stats: &StatsResult{
			QueryCacheHits:    stats.QueryHits,
			QueryCacheMisses:  stats.QueryMisses,
			InsertCacheHits:   stats.InsertHits,
			InsertCacheMisses: stats.InsertMisses,
			RebuildCount:      s.rebuildCount,
		},
	}
}
