// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlcheck/sqlcheck/internal/config"
	"github.com/sqlcheck/sqlcheck/internal/model"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sqlcheck.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDefaultsMigrationsDir(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "migrations", cfg.MigrationsDir)
	assert.Equal(t, model.DelimiterComma, cfg.ColTypesFormat.Delimiter)
}

func TestLoadParsesAllFields(t *testing.T) {
	path := writeConfig(t, `{
		"migrationsDir": "db/migrations",
		"postgresVersion": "15",
		"colTypesFormat": {"includeRegionMarker": true, "delimiter": ";"},
		"strictDateTimeChecking": true,
		"customSqlTypeMappings": [{"typeScriptTypeName": "UUID", "sqlTypeName": "uuid"}],
		"uniqueTableColumnTypes": [{"typeScriptTypeName": "EmployeeId", "tableName": "employee", "columnName": "id"}]
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db/migrations", cfg.MigrationsDir)
	assert.Equal(t, "15", cfg.PostgresVersion)
	assert.True(t, cfg.ColTypesFormat.IncludeRegionMarker)
	assert.Equal(t, model.DelimiterSemicolon, cfg.ColTypesFormat.Delimiter)
	assert.True(t, cfg.StrictDateTimeChecking)
	require.Len(t, cfg.CustomSqlTypeMappings, 1)
	assert.Equal(t, model.SQLType("uuid"), cfg.CustomSqlTypeMappings[0].SQLTypeName)
	require.Len(t, cfg.UniqueTableColumnTypes, 1)
	assert.Equal(t, "employee(id)", cfg.UniqueTableColumnTypes[0].RangeTypeName())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `{"notAKnownField": true}`)

	_, err := config.Load(path)
	require.Error(t, err)

	var verr *config.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestLoadRejectsInvalidDelimiter(t *testing.T) {
	path := writeConfig(t, `{"colTypesFormat": {"delimiter": "|"}}`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Error(t, err)
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	path := writeConfig(t, `{"strictDateTimeChecking": false}`)
	t.Setenv("SQLCHECK_STRICT_DATE_TIME_CHECKING", "true")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.StrictDateTimeChecking)
}
