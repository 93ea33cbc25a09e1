// SPDX-License-Identifier: Apache-2.0

package analyzer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlcheck/sqlcheck/internal/analyzer"
	"github.com/sqlcheck/sqlcheck/internal/model"
)

func TestTypeMapperHardcodedMappings(t *testing.T) {
	m := analyzer.NewTypeMapper(model.Config{})

	tests := []struct {
		sqlType model.SQLType
		want    model.TargetType
	}{
		{"int4", "number"},
		{"int8", "number"},
		{"numeric", "number"},
		{"text", "string"},
		{"bool", "boolean"},
		{"jsonb", "DbJson"},
		{"timestamp", "LocalDateTime"},
		{"timestamptz", "Instant"},
		{"date", "LocalDate"},
		{"uuid", "UUID"},
	}

	for _, tt := range tests {
		t.Run(string(tt.sqlType), func(t *testing.T) {
			assert.Equal(t, tt.want, m.Map(tt.sqlType, "", ""))
		})
	}
}

func TestTypeMapperUnknownTypeFallsBackToUnknown(t *testing.T) {
	m := analyzer.NewTypeMapper(model.Config{})
	assert.Equal(t, model.TargetType("unknown"), m.Map("box", "", ""))
}

func TestTypeMapperArrayPrefixRecurses(t *testing.T) {
	m := analyzer.NewTypeMapper(model.Config{})
	assert.Equal(t, model.TargetType("(number | null)[]"), m.Map("_int4", "", ""))
}

func TestTypeMapperCustomMappingTakesPrecedenceOverHardcoded(t *testing.T) {
	cfg := model.Config{
		CustomSqlTypeMappings: []model.CustomSQLTypeMapping{
			{SQLTypeName: "int4", TypeScriptTypeName: "CustomInt"},
		},
	}
	m := analyzer.NewTypeMapper(cfg)
	assert.Equal(t, model.TargetType("CustomInt"), m.Map("int4", "", ""))
}

func TestTypeMapperUniqueColumnOverridesBaseType(t *testing.T) {
	cfg := model.Config{
		UniqueTableColumnTypes: []model.UniqueTableColumnType{
			{TypeScriptTypeName: "EmployeeId", TableName: "employee", ColumnName: "id"},
		},
	}
	m := analyzer.NewTypeMapper(cfg)

	assert.Equal(t, model.TargetType("EmployeeId"), m.Map("int4", "employee", "id"))
	assert.Equal(t, model.TargetType("number"), m.Map("int4", "employee", "other_col"))
	assert.Equal(t, model.TargetType("number"), m.Map("int4", "customer", "id"))
}

func TestTypeMapperUniqueColumnIgnoredWithoutTableProvenance(t *testing.T) {
	cfg := model.Config{
		UniqueTableColumnTypes: []model.UniqueTableColumnType{
			{TypeScriptTypeName: "EmployeeId", TableName: "employee", ColumnName: "id"},
		},
	}
	m := analyzer.NewTypeMapper(cfg)

	assert.Equal(t, model.TargetType("number"), m.Map("int4", "", "id"))
}
