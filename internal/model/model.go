// SPDX-License-Identifier: Apache-2.0

// Package model holds the data types shared across the validation engine:
// the entities described in the specification's data model (source modules,
// qualified view names, view fragments and definitions, resolved check
// requests, and the worker's configuration). None of these types carry
// behavior that belongs to a single component; they are the nouns the rest
// of this module's packages operate on.
package model

import "fmt"

// ModuleId opaquely identifies a source module: the frontend's relative
// path to a file, without extension. Two ModuleIds are equal iff they name
// the same module.
type ModuleId string

// QualifiedSqlViewName uniquely names a declared view by the module it was
// declared in plus its local variable name. Equality is structural.
type QualifiedSqlViewName struct {
	Module    ModuleId
	LocalName string
}

func (n QualifiedSqlViewName) String() string {
	return fmt.Sprintf("%s.%s", n.Module, n.LocalName)
}

// SQLType is the PostgreSQL-side name of a column or expression's type
// (e.g. "int4", "_text", "timestamp"). It is kept distinct from TargetType
// so a raw oid-derived name can never silently flow into a comparison
// against a programmer-declared type.
type SQLType string

// TargetType is a programmer-facing declared type name (e.g. "number",
// "string", a custom branded type name). Distinct from SQLType for the same
// reason.
type TargetType string

// Nullability is whether a declared or inferred column may be NULL.
type Nullability int

const (
	// Required means the column's declared or inferred type excludes NULL.
	Required Nullability = iota
	// Optional means NULL is a legal value for the column.
	Optional
)

func (n Nullability) String() string {
	if n == Required {
		return "REQ"
	}
	return "OPT"
}

// ColType is a single declared or inferred (nullability, type) pair, keyed
// by result-column name in the ColTypes maps below.
type ColType struct {
	Nullability Nullability
	Type        TargetType
}

// UniqueTableColumnType names a synthetic SQL type (a RANGE over the
// column's original type, §5 "Unique column type" in the glossary) that
// distinguishes one table's column values from another's at the type
// level, e.g. so an EmployeeId cannot be passed where a CustomerId is
// expected.
type UniqueTableColumnType struct {
	TypeScriptTypeName TargetType
	TableName          string
	ColumnName         string
}

// RangeTypeName is the SQL identifier of the RANGE type this
// UniqueTableColumnType drives C5 to create: tableName(columnName).
func (u UniqueTableColumnType) RangeTypeName() string {
	return fmt.Sprintf("%s(%s)", u.TableName, u.ColumnName)
}

// CustomSQLTypeMapping overrides the hardcoded SQLType -> TargetType table
// in §4.6 step 4(c), checked before it.
type CustomSQLTypeMapping struct {
	TypeScriptTypeName TargetType
	SQLTypeName        SQLType
}

// ColTypesDelimiter is the separator the frontend places between fields of
// a declared or rendered row-type literal.
type ColTypesDelimiter string

const (
	DelimiterComma     ColTypesDelimiter = ","
	DelimiterSemicolon ColTypesDelimiter = ";"
)

// ColTypesFormat controls how C7 renders a WrongColumnTypes quick-fix.
type ColTypesFormat struct {
	IncludeRegionMarker bool
	Delimiter           ColTypesDelimiter
}

// Config is the worker's validated configuration, built from the JSON file
// described in §6 plus any environment overrides.
type Config struct {
	MigrationsDir          string
	PostgresVersion        string
	ColTypesFormat         ColTypesFormat
	StrictDateTimeChecking bool
	CustomSqlTypeMappings  []CustomSQLTypeMapping
	UniqueTableColumnTypes []UniqueTableColumnType
}

// SourceSpan locates a byte range in a source file for diagnostics.
type SourceSpan struct {
	StartOffset int
	EndOffset   int
}

// SourceMap maps byte offsets in a derived query/view string back to
// locations in the original source file the frontend parsed it from. It is
// treated as an opaque collaborator: the frontend builds it, and this
// module only ever asks it to remap a single offset.
type SourceMap interface {
	// Remap translates a byte offset within the generated SQL text to a
	// (line, column) location in the original source file.
	Remap(offset int) (line, col int, ok bool)
}

// ViewFragment is one piece of a view body: either literal SQL text or a
// reference to another view that must be substituted with that view's
// resolved, escaped identifier before the body is valid SQL.
type ViewFragment struct {
	// Text holds the fragment's literal content when Ref is the zero value.
	Text string
	// Ref names another view this fragment refers to. When Ref is non-zero,
	// Text is ignored; it is populated only after C4 substitutes the
	// reference with the resolved, escaped identifier (at which point the
	// fragment becomes, in effect, a Text fragment -- see
	// viewresolve.Resolver.resolveOne).
	Ref QualifiedSqlViewName
	// IsRef distinguishes a zero-value Ref (a real reference to module ""
	// local name "", which cannot occur from a frontend) from "no ref".
	IsRef bool
}

// StringFragment builds a literal-text view fragment.
func StringFragment(text string) ViewFragment {
	return ViewFragment{Text: text}
}

// RefFragment builds a view-reference fragment.
func RefFragment(name QualifiedSqlViewName) ViewFragment {
	return ViewFragment{Ref: name, IsRef: true}
}

// FragmentsEqual reports whether two fragment sequences are structurally
// identical. Used by C4 to detect whether a view's body actually changed
// between two scans (§4.3 invariant i).
func FragmentsEqual(a, b []ViewFragment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SqlViewDefinition is a declared view as the frontend resolved it from
// source, before C4 has resolved its dependencies into concrete SQL.
//
// Invariant: InitialFragments never changes after construction.
// CurrentFragments starts equal to InitialFragments and is mutated only by
// (a) ResetToInitialFragments, or (b) C4 replacing a ViewRef fragment with
// a literal-text fragment holding the escaped resolved identifier.
type SqlViewDefinition struct {
	QualifiedName QualifiedSqlViewName

	FileName     string
	FileContents string
	SourceMap    SourceMap

	// VarName is the frontend-supplied name of the variable the view was
	// assigned to, used only to make the generated DB-relation name more
	// readable (§4.1); empty is legal and falls back to a pure content hash.
	VarName string

	InitialFragments []ViewFragment
	CurrentFragments []ViewFragment

	// resolvedDBName caches C2's computed name once CurrentFragments has no
	// remaining ViewRef fragments (i.e. the definition is "fully resolved").
	resolvedDBName string
	resolved       bool
}

// NewSqlViewDefinition builds a view definition with CurrentFragments equal
// to InitialFragments, per the invariant above.
func NewSqlViewDefinition(name QualifiedSqlViewName, varName, fileName, fileContents string, sm SourceMap, fragments []ViewFragment) *SqlViewDefinition {
	initial := make([]ViewFragment, len(fragments))
	copy(initial, fragments)
	current := make([]ViewFragment, len(fragments))
	copy(current, fragments)

	return &SqlViewDefinition{
		QualifiedName:    name,
		VarName:          varName,
		FileName:         fileName,
		FileContents:     fileContents,
		SourceMap:        sm,
		InitialFragments: initial,
		CurrentFragments: current,
	}
}

// IsFullyResolved reports whether no ViewRef fragment remains in
// CurrentFragments.
func (d *SqlViewDefinition) IsFullyResolved() bool {
	for _, f := range d.CurrentFragments {
		if f.IsRef {
			return false
		}
	}
	return true
}

// ResetToInitialFragments discards any substitutions made by C4, restoring
// CurrentFragments to InitialFragments. Used when a transitive dependency
// changes and this view must be re-resolved from scratch (§4.3 invariant
// ii).
func (d *SqlViewDefinition) ResetToInitialFragments() {
	d.CurrentFragments = make([]ViewFragment, len(d.InitialFragments))
	copy(d.CurrentFragments, d.InitialFragments)
	d.resolvedDBName = ""
	d.resolved = false
}

// SetResolvedDBName records the DB-name C2 computed once the view became
// fully resolved.
func (d *SqlViewDefinition) SetResolvedDBName(name string) {
	d.resolvedDBName = name
	d.resolved = true
}

// ResolvedDBName returns the cached resolved DB-name and whether it has
// been set.
func (d *SqlViewDefinition) ResolvedDBName() (string, bool) {
	return d.resolvedDBName, d.resolved
}

// SqlCreateView is a fully-resolved view, ready to be issued to the shadow
// database: every ViewRef fragment has been substituted by C4 with the
// resolved, escaped identifier of its dependency.
type SqlCreateView struct {
	QualifiedName QualifiedSqlViewName
	ResolvedName  string
	CreateQuery   string

	FileName     string
	FileContents string
	SourceMap    SourceMap
}

// ResolvedSelect is a check request for a SELECT query: the frontend has
// already located the call site, extracted the SQL text, and parsed the
// programmer-declared row type.
type ResolvedSelect struct {
	Text     string
	ColTypes map[string]ColType

	FileName        string
	FileContents    string
	SourceMap       SourceMap
	ColTypeSpan     SourceSpan
	QueryMethodName string
	IndentLevel     int
}

// ResolvedInsert is a check request for an INSERT statement; it carries
// everything ResolvedSelect does (describing the RETURNING/epilogue shape)
// plus the target table and the columns the statement supplies values for.
type ResolvedInsert struct {
	ResolvedSelect

	TableName         string
	TableNameExprSpan SourceSpan
	InsertExprSpan    SourceSpan
	InsertColumns     map[string]InsertColumn
}

// InsertColumn is one column supplied by an INSERT statement.
type InsertColumn struct {
	SuppliedType TargetType
	NotNull      bool
}
