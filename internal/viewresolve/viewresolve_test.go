// SPDX-License-Identifier: Apache-2.0

package viewresolve_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlcheck/sqlcheck/internal/model"
	"github.com/sqlcheck/sqlcheck/internal/viewresolve"
)

func name(local string) model.QualifiedSqlViewName {
	return model.QualifiedSqlViewName{Module: "mod", LocalName: local}
}

func TestResolveOrdersDependenciesBeforeDependents(t *testing.T) {
	v1 := name("v1")
	v2 := name("v2")

	lib := viewresolve.Library{
		v1: model.NewSqlViewDefinition(v1, "v1", "f.ts", "", nil, []model.ViewFragment{
			model.StringFragment("SELECT fname AS employee_fname FROM employee WHERE salary > 10"),
		}),
		v2: model.NewSqlViewDefinition(v2, "v2", "f.ts", "", nil, []model.ViewFragment{
			model.StringFragment("SELECT employee_fname FROM "),
			model.RefFragment(v1),
		}),
	}

	views, diags := viewresolve.NewResolver(lib).Resolve()
	require.Empty(t, diags)
	require.Len(t, views, 2)

	assert.Equal(t, v1, views[0].QualifiedName)
	assert.Equal(t, v2, views[1].QualifiedName)
	assert.Contains(t, views[1].CreateQuery, views[0].ResolvedName)
}

func TestResolveIsDeterministic(t *testing.T) {
	build := func() viewresolve.Library {
		v1 := name("v1")
		v2 := name("v2")
		return viewresolve.Library{
			v1: model.NewSqlViewDefinition(v1, "v1", "f.ts", "", nil, []model.ViewFragment{
				model.StringFragment("SELECT 1"),
			}),
			v2: model.NewSqlViewDefinition(v2, "v2", "f.ts", "", nil, []model.ViewFragment{
				model.StringFragment("SELECT * FROM "),
				model.RefFragment(v1),
			}),
		}
	}

	views1, _ := viewresolve.NewResolver(build()).Resolve()
	views2, _ := viewresolve.NewResolver(build()).Resolve()

	require.Len(t, views1, 2)
	require.Len(t, views2, 2)
	assert.Equal(t, views1[0].ResolvedName, views2[0].ResolvedName)
	assert.Equal(t, views1[0].CreateQuery, views2[0].CreateQuery)
	assert.Equal(t, views1[1].ResolvedName, views2[1].ResolvedName)
}

func TestResolveDetectsSelfDependency(t *testing.T) {
	v1 := name("v1")
	lib := viewresolve.Library{
		v1: model.NewSqlViewDefinition(v1, "v1", "f.ts", "", nil, []model.ViewFragment{
			model.StringFragment("SELECT * FROM "),
			model.RefFragment(v1),
		}),
	}

	views, diags := viewresolve.NewResolver(lib).Resolve()
	assert.Empty(t, views)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Messages[0], "depends on itself")
}

func TestResolveDetectsCycle(t *testing.T) {
	v1 := name("v1")
	v2 := name("v2")
	lib := viewresolve.Library{
		v1: model.NewSqlViewDefinition(v1, "v1", "f.ts", "", nil, []model.ViewFragment{
			model.RefFragment(v2),
		}),
		v2: model.NewSqlViewDefinition(v2, "v2", "f.ts", "", nil, []model.ViewFragment{
			model.RefFragment(v1),
		}),
	}

	views, diags := viewresolve.NewResolver(lib).Resolve()
	assert.Empty(t, views)
	assert.NotEmpty(t, diags)
}

func TestResolveDetectsMissingDependency(t *testing.T) {
	v1 := name("v1")
	missing := name("missing")
	lib := viewresolve.Library{
		v1: model.NewSqlViewDefinition(v1, "v1", "f.ts", "", nil, []model.ViewFragment{
			model.RefFragment(missing),
		}),
	}

	views, diags := viewresolve.NewResolver(lib).Resolve()
	assert.Empty(t, views)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Messages[0], "not found")
}

func TestResetTransitiveDependentsPropagates(t *testing.T) {
	v1 := name("v1")
	v2 := name("v2")

	def1 := model.NewSqlViewDefinition(v1, "v1", "f.ts", "", nil, []model.ViewFragment{
		model.StringFragment("SELECT fname AS employee_fname FROM employee"),
	})
	def2 := model.NewSqlViewDefinition(v2, "v2", "f.ts", "", nil, []model.ViewFragment{
		model.StringFragment("SELECT employee_fname FROM "),
		model.RefFragment(v1),
	})

	lib := viewresolve.Library{v1: def1, v2: def2}

	_, diags := viewresolve.NewResolver(lib).Resolve()
	require.Empty(t, diags)
	require.True(t, def2.IsFullyResolved())

	// simulate v1's body changing and being reset
	def1.ResetToInitialFragments()
	viewresolve.ResetTransitiveDependents(lib, []model.QualifiedSqlViewName{v1})

	assert.False(t, def2.IsFullyResolved(), "v2 must be re-resolved after its dependency v1 changed")
}
