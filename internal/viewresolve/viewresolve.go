// SPDX-License-Identifier: Apache-2.0

// Package viewresolve implements C4: resolving a library of SqlViewDefinitions
// into fully-substituted SqlCreateViews in dependency order, detecting
// cycles and missing dependencies along the way (§4.3).
package viewresolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sqlcheck/sqlcheck/internal/diag"
	"github.com/sqlcheck/sqlcheck/internal/model"
	"github.com/sqlcheck/sqlcheck/internal/naming"
)

// SelfDependencyError reports a view whose fragments reference itself.
type SelfDependencyError struct {
	Name model.QualifiedSqlViewName
}

func (e SelfDependencyError) Error() string {
	return fmt.Sprintf("view %s depends on itself", e.Name)
}

// CycleError reports a dependency cycle discovered while resolving a view.
type CycleError struct {
	Cycle []model.QualifiedSqlViewName
}

func (e CycleError) Error() string {
	names := make([]string, len(e.Cycle))
	for i, n := range e.Cycle {
		names[i] = n.String()
	}
	return fmt.Sprintf("view dependency cycle: %s", strings.Join(names, " -> "))
}

// MissingDependencyError reports a view fragment referencing a view the
// library does not contain.
type MissingDependencyError struct {
	From model.QualifiedSqlViewName
	To   model.QualifiedSqlViewName
}

func (e MissingDependencyError) Error() string {
	return fmt.Sprintf("view %s depends on %s, which was not found", e.From, e.To)
}

// Library is the mutable input to a resolution run: a single-owner map from
// qualified view name to its definition (§9 "Cyclic graphs").
type Library map[model.QualifiedSqlViewName]*model.SqlViewDefinition

// Resolver resolves a Library into an ordered list of SqlCreateViews plus
// any diagnostics encountered. A Resolver instance is single-use: its
// visited-state tracks one resolution pass over one Library.
type Resolver struct {
	lib Library

	resolving map[model.QualifiedSqlViewName]bool
	resolved  map[model.QualifiedSqlViewName]bool
	ordered   []model.QualifiedSqlViewName

	diagnostics []diag.ErrorDiagnostic
}

// NewResolver builds a Resolver over lib.
func NewResolver(lib Library) *Resolver {
	return &Resolver{
		lib:       lib,
		resolving: make(map[model.QualifiedSqlViewName]bool),
		resolved:  make(map[model.QualifiedSqlViewName]bool),
	}
}

// Resolve resolves every view in the library, returning the topologically
// ordered SqlCreateView list (a view never precedes a dependency, §4.3 step
// 3) and any diagnostics collected along the way. Views that could not be
// resolved (self-dependency, cycle, missing dependency) are omitted from
// the result but contribute a diagnostic.
func (r *Resolver) Resolve() ([]model.SqlCreateView, []diag.ErrorDiagnostic) {
	// Iterate in a stable order (sorted by qualified name string) so two
	// runs over the same library produce byte-identical output order
	// (§8 "two resolution runs ... produce identical createQuery bytes").
	names := make([]model.QualifiedSqlViewName, 0, len(r.lib))
	for name := range r.lib {
		names = append(names, name)
	}
	sortNames(names)

	for _, name := range names {
		r.resolveOne(name, nil)
	}

	views := make([]model.SqlCreateView, 0, len(r.ordered))
	for _, name := range r.ordered {
		def := r.lib[name]
		dbName, ok := def.ResolvedDBName()
		if !ok {
			continue
		}
		views = append(views, model.SqlCreateView{
			QualifiedName: name,
			ResolvedName:  dbName,
			CreateQuery:   fragmentsToBody(def.CurrentFragments),
			FileName:      def.FileName,
			FileContents:  def.FileContents,
			SourceMap:     def.SourceMap,
		})
	}

	return views, r.diagnostics
}

func (r *Resolver) resolveOne(name model.QualifiedSqlViewName, path []model.QualifiedSqlViewName) bool {
	if r.resolved[name] {
		return true
	}

	def, ok := r.lib[name]
	if !ok {
		// The caller is responsible for reporting MissingDependencyError;
		// a top-level Resolve() call never reaches this branch for a name
		// not in the library.
		return false
	}

	if r.resolving[name] {
		cycle := append(append([]model.QualifiedSqlViewName{}, path...), name)
		r.diagnostics = append(r.diagnostics, cycleDiagnostic(def, CycleError{Cycle: cycle}))
		return false
	}

	r.resolving[name] = true
	defer delete(r.resolving, name)

	ok = true
	for i, frag := range def.CurrentFragments {
		if !frag.IsRef {
			continue
		}

		if frag.Ref == name {
			r.diagnostics = append(r.diagnostics, cycleDiagnostic(def, SelfDependencyError{Name: name}))
			ok = false
			continue
		}

		depDef, exists := r.lib[frag.Ref]
		if !exists {
			r.diagnostics = append(r.diagnostics, cycleDiagnostic(def, MissingDependencyError{From: name, To: frag.Ref}))
			ok = false
			continue
		}

		if !r.resolveOne(frag.Ref, append(path, name)) {
			ok = false
			continue
		}

		resolvedName, _ := depDef.ResolvedDBName()
		def.CurrentFragments[i] = model.StringFragment(naming.EscapeIdentifier(resolvedName))
	}

	if !ok {
		return false
	}

	body := fragmentsToBody(def.CurrentFragments)
	def.SetResolvedDBName(naming.ViewDBName(def.VarName, body))

	r.ordered = append(r.ordered, name)
	r.resolved[name] = true
	return true
}

func fragmentsToBody(fragments []model.ViewFragment) string {
	var b strings.Builder
	for _, f := range fragments {
		b.WriteString(f.Text)
	}
	return b.String()
}

func cycleDiagnostic(def *model.SqlViewDefinition, cause error) diag.ErrorDiagnostic {
	return diag.New(def.FileName, def.FileContents, diag.FileSpan(), cause.Error())
}

func sortNames(names []model.QualifiedSqlViewName) {
	sort.Slice(names, func(i, j int) bool {
		return names[i].String() < names[j].String()
	})
}

// ResetTransitiveDependents walks lib and calls ResetToInitialFragments on
// every view that transitively depends on any name in changed, so a
// re-resolution run recomputes their bodies from scratch rather than reusing
// a stale substitution (§4.3 invariant ii).
func ResetTransitiveDependents(lib Library, changed []model.QualifiedSqlViewName) {
	dependents := make(map[model.QualifiedSqlViewName][]model.QualifiedSqlViewName)
	for name, def := range lib {
		for _, frag := range def.InitialFragments {
			if frag.IsRef {
				dependents[frag.Ref] = append(dependents[frag.Ref], name)
			}
		}
	}

	seen := make(map[model.QualifiedSqlViewName]bool)
	var visit func(model.QualifiedSqlViewName)
	visit = func(name model.QualifiedSqlViewName) {
		for _, dep := range dependents[name] {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if def, ok := lib[dep]; ok {
				def.ResetToInitialFragments()
			}
			visit(dep)
		}
	}

	for _, name := range changed {
		visit(name)
	}
}
