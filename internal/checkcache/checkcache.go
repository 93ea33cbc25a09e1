// SPDX-License-Identifier: Apache-2.0

// Package checkcache implements C8: content-keyed caches for query, insert,
// and view answers, so a frontend that calls CHECK_QUERY/CHECK_INSERT
// repeatedly for an unchanged call site pays the shadow-database round-trip
// only once (§4.8).
package checkcache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sqlcheck/sqlcheck/internal/analyzer"
	"github.com/sqlcheck/sqlcheck/internal/model"
)

// Stats are the cache hit/miss counters the worker's STATS request reports
// (§4.9, §2.3).
type Stats struct {
	QueryHits    int
	QueryMisses  int
	InsertHits   int
	InsertMisses int
}

// Cache holds C8's three content-keyed maps. It is single-owner,
// single-writer (§5 "Shared resources"): the worker session is the only
// caller, processing one request at a time.
type Cache struct {
	queries  map[string]analyzer.SelectAnswer
	inserts  map[string]analyzer.InsertAnswer
	views    map[model.QualifiedSqlViewName]analyzer.ViewAnswer
	viewList []model.QualifiedSqlViewName

	stats Stats
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		queries: make(map[string]analyzer.SelectAnswer),
		inserts: make(map[string]analyzer.InsertAnswer),
		views:   make(map[model.QualifiedSqlViewName]analyzer.ViewAnswer),
	}
}

// Stats returns a snapshot of the cache's hit/miss counters.
func (c *Cache) Stats() Stats { return c.stats }

// Clear discards every cached answer: called whenever the shadow database
// is fully rebuilt or strictDateTimeChecking toggles (§4.8), since either
// event can change what a previously-cached answer should have been.
func (c *Cache) Clear() {
	c.queries = make(map[string]analyzer.SelectAnswer)
	c.inserts = make(map[string]analyzer.InsertAnswer)
	c.views = make(map[model.QualifiedSqlViewName]analyzer.ViewAnswer)
	c.viewList = nil
}

// QueryKey builds a SELECT's content key: its text plus the canonicalized
// form of its declared ColTypes (§4.8).
func QueryKey(req model.ResolvedSelect) string {
	return req.Text + "|" + canonicalizeColTypes(req.ColTypes)
}

// InsertKey builds an INSERT's content key: its query key plus the target
// table name and the canonicalized form of its supplied InsertColumns
// (§4.8).
func InsertKey(req model.ResolvedInsert) string {
	return QueryKey(req.ResolvedSelect) + "|" + req.TableName + "|" + canonicalizeInsertColumns(req.InsertColumns)
}

// Query looks up a cached SelectAnswer by key, updating hit/miss stats.
func (c *Cache) Query(key string) (analyzer.SelectAnswer, bool) {
	answer, ok := c.queries[key]
	if ok {
		c.stats.QueryHits++
	} else {
		c.stats.QueryMisses++
	}
	return answer, ok
}

// StoreQuery records answer under key.
func (c *Cache) StoreQuery(key string, answer analyzer.SelectAnswer) {
	c.queries[key] = answer
}

// Insert looks up a cached InsertAnswer by key, updating hit/miss stats.
func (c *Cache) Insert(key string) (analyzer.InsertAnswer, bool) {
	answer, ok := c.inserts[key]
	if ok {
		c.stats.InsertHits++
	} else {
		c.stats.InsertMisses++
	}
	return answer, ok
}

// StoreInsert records answer under key.
func (c *Cache) StoreInsert(key string, answer analyzer.InsertAnswer) {
	c.inserts[key] = answer
}

// ViewAnswer returns the previously recorded ViewAnswer for name, if any.
func (c *Cache) ViewAnswer(name model.QualifiedSqlViewName) (analyzer.ViewAnswer, bool) {
	answer, ok := c.views[name]
	return answer, ok
}

// ViewNames returns the view names currently known to the cache, sorted by
// module and then local name, as SetViews stores them.
func (c *Cache) ViewNames() []model.QualifiedSqlViewName {
	return append([]model.QualifiedSqlViewName(nil), c.viewList...)
}

// SetViews replaces the cache's view answers wholesale: UPDATE_VIEWS
// resolves the full view set on every call, so the cache mirrors that
// rather than merging (§4.8's "viewNames list preserving prior
// ViewAnswers").
func (c *Cache) SetViews(answers map[model.QualifiedSqlViewName]analyzer.ViewAnswer) {
	c.views = answers
	names := make([]model.QualifiedSqlViewName, 0, len(answers))
	for name := range answers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i].Module != names[j].Module {
			return names[i].Module < names[j].Module
		}
		return names[i].LocalName < names[j].LocalName
	})
	c.viewList = names
}

// canonicalizeColTypes renders colTypes as a key-sorted, JSON-ish
// serialization carrying each entry's nullability and type, so two
// semantically identical declarations that differ only in field order
// produce the same cache key (§4.8).
func canonicalizeColTypes(colTypes map[string]model.ColType) string {
	names := make([]string, 0, len(colTypes))
	for name := range colTypes {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		ct := colTypes[name]
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:{%q:%q,%q:%q}", name, "nullability", ct.Nullability.String(), "type", string(ct.Type))
	}
	b.WriteByte('}')
	return b.String()
}

// canonicalizeInsertColumns renders insertColumns the same way
// canonicalizeColTypes renders declared ColTypes.
func canonicalizeInsertColumns(cols map[string]model.InsertColumn) string {
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteByte('{')
	for i, name := range names {
		col := cols[name]
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:{%q:%q,%q:%v}", name, "suppliedType", string(col.SuppliedType), "notNull", col.NotNull)
	}
	b.WriteByte('}')
	return b.String()
}
