// SPDX-License-Identifier: Apache-2.0

package analyzer

import (
	"strings"

	"github.com/sqlcheck/sqlcheck/internal/model"
)

// hardcodedMappings is the fallback SQLType -> TargetType table of §4.6
// step 4(c), consulted once array-prefix stripping and any
// programmer-supplied custom mapping have both been tried.
var hardcodedMappings = map[model.SQLType]model.TargetType{
	"int2":    "number",
	"int4":    "number",
	"int8":    "number",
	"numeric": "number",
	"float4":  "number",
	"float8":  "number",

	"text":    "string",
	"varchar": "string",
	"bpchar":  "string",

	"bool": "boolean",

	"jsonb": "DbJson",
	"json":  "DbJson",

	"timestamp":   "LocalDateTime",
	"timestamptz": "Instant",
	"date":        "LocalDate",
	"time":        "LocalTime",
	"timetz":      "LocalTime",

	"uuid": "UUID",
}

// tableColumn identifies a column by its declared table and column name,
// the key UniqueTableColumnTypes are addressed by.
type tableColumn struct {
	table  string
	column string
}

// TypeMapper translates a PostgreSQL SQLType into the programmer-facing
// TargetType a resolved check request's declared ColTypes are compared
// against, per §4.6 step 4's five-way chain.
type TypeMapper struct {
	custom map[model.SQLType]model.TargetType
	unique map[tableColumn]model.TargetType
}

// NewTypeMapper builds a TypeMapper from cfg's custom and unique-column-type
// mappings.
func NewTypeMapper(cfg model.Config) *TypeMapper {
	custom := make(map[model.SQLType]model.TargetType, len(cfg.CustomSqlTypeMappings))
	for _, m := range cfg.CustomSqlTypeMappings {
		custom[m.SQLTypeName] = m.TypeScriptTypeName
	}

	unique := make(map[tableColumn]model.TargetType, len(cfg.UniqueTableColumnTypes))
	for _, u := range cfg.UniqueTableColumnTypes {
		unique[tableColumn{table: u.TableName, column: u.ColumnName}] = u.TypeScriptTypeName
	}

	return &TypeMapper{custom: custom, unique: unique}
}

// Map translates sqlType to a TargetType. table and column name the field's
// provenance when known (FieldDescriptor.FromTable); an empty table means
// the field could not be traced to a single base relation, so the unique
// column type override in step (d) never applies to it.
//
// The override in step 4(d) is applied last, after the base type has been
// computed via steps (a)-(c)/(e): applying it in the literal listed order
// would make it unreachable, since any SQL type already covered by the
// hardcoded table in (c) -- which is every realistic unique-column base
// type (int4, int8, uuid, ...) -- would resolve before (d) is ever
// consulted.
func (m *TypeMapper) Map(sqlType model.SQLType, table, column string) model.TargetType {
	base := m.mapBase(sqlType)

	if table != "" {
		if override, ok := m.unique[tableColumn{table: table, column: column}]; ok {
			return override
		}
	}

	return base
}

func (m *TypeMapper) mapBase(sqlType model.SQLType) model.TargetType {
	if strings.HasPrefix(string(sqlType), "_") {
		elem := model.SQLType(strings.TrimPrefix(string(sqlType), "_"))
		return model.TargetType("(" + string(m.mapBase(elem)) + " | null)[]")
	}

	if target, ok := m.custom[sqlType]; ok {
		return target
	}

	if target, ok := hardcodedMappings[sqlType]; ok {
		return target
	}

	return "unknown"
}
