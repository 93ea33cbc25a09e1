// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the worker's JSON configuration file
// (§6), rejecting unknown keys via JSON Schema, then applies
// environment-variable overrides the way the teacher binds viper keys to
// cobra flags.
package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/spf13/viper"

	"github.com/sqlcheck/sqlcheck/internal/model"
)

//go:embed schema.json
var schemaFS embed.FS

const schemaResourceURL = "sqlcheck://config-schema.json"

// ValidationError wraps a config file's schema-validation failure.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config file %q failed schema validation: %s", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// rawColTypesFormat and rawConfig mirror the JSON shape described in §6;
// they exist separately from model.Config because the wire format's field
// names and nesting differ from the Go-idiomatic model the rest of this
// module operates on.
type rawConfig struct {
	MigrationsDir          string            `json:"migrationsDir"`
	PostgresVersion        string            `json:"postgresVersion"`
	ColTypesFormat         rawColTypesFormat `json:"colTypesFormat"`
	StrictDateTimeChecking bool              `json:"strictDateTimeChecking"`
	CustomSqlTypeMappings  []rawTypeMapping  `json:"customSqlTypeMappings"`
	UniqueTableColumnTypes []rawUniqueColumn `json:"uniqueTableColumnTypes"`
}

type rawColTypesFormat struct {
	IncludeRegionMarker bool   `json:"includeRegionMarker"`
	Delimiter           string `json:"delimiter"`
}

type rawTypeMapping struct {
	TypeScriptTypeName string `json:"typeScriptTypeName"`
	SQLTypeName        string `json:"sqlTypeName"`
}

type rawUniqueColumn struct {
	TypeScriptTypeName string `json:"typeScriptTypeName"`
	TableName          string `json:"tableName"`
	ColumnName         string `json:"columnName"`
}

// Load reads, schema-validates, and parses the JSON config file at path,
// applying environment overrides for the fields the worker allows to be
// overridden out-of-band (strictDateTimeChecking, via
// SQLCHECK_STRICT_DATE_TIME_CHECKING, and migrationsDir, via
// SQLCHECK_MIGRATIONS_DIR).
func Load(path string) (model.Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file %q: %w", path, err)
	}

	if err := validate(path, raw); err != nil {
		return model.Config{}, err
	}

	var rc rawConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		return model.Config{}, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	cfg := toModel(rc)
	applyEnvOverrides(&cfg)

	return cfg, nil
}

func validate(path string, raw []byte) error {
	schemaBytes, err := schemaFS.ReadFile("schema.json")
	if err != nil {
		return fmt.Errorf("reading embedded schema: %w", err)
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return fmt.Errorf("parsing embedded schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaResourceURL, schemaDoc); err != nil {
		return fmt.Errorf("loading embedded schema: %w", err)
	}

	sch, err := c.Compile(schemaResourceURL)
	if err != nil {
		return fmt.Errorf("compiling embedded schema: %w", err)
	}

	instDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ValidationError{Path: path, Err: err}
	}

	if err := sch.Validate(instDoc); err != nil {
		return &ValidationError{Path: path, Err: err}
	}

	return nil
}

func toModel(rc rawConfig) model.Config {
	migrationsDir := rc.MigrationsDir
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	delimiter := model.DelimiterComma
	if rc.ColTypesFormat.Delimiter == string(model.DelimiterSemicolon) {
		delimiter = model.DelimiterSemicolon
	}

	mappings := make([]model.CustomSQLTypeMapping, len(rc.CustomSqlTypeMappings))
	for i, m := range rc.CustomSqlTypeMappings {
		mappings[i] = model.CustomSQLTypeMapping{
			TypeScriptTypeName: model.TargetType(m.TypeScriptTypeName),
			SQLTypeName:        model.SQLType(m.SQLTypeName),
		}
	}

	uniques := make([]model.UniqueTableColumnType, len(rc.UniqueTableColumnTypes))
	for i, u := range rc.UniqueTableColumnTypes {
		uniques[i] = model.UniqueTableColumnType{
			TypeScriptTypeName: model.TargetType(u.TypeScriptTypeName),
			TableName:          u.TableName,
			ColumnName:         u.ColumnName,
		}
	}

	return model.Config{
		MigrationsDir:   migrationsDir,
		PostgresVersion: rc.PostgresVersion,
		ColTypesFormat: model.ColTypesFormat{
			IncludeRegionMarker: rc.ColTypesFormat.IncludeRegionMarker,
			Delimiter:           delimiter,
		},
		StrictDateTimeChecking: rc.StrictDateTimeChecking,
		CustomSqlTypeMappings:  mappings,
		UniqueTableColumnTypes: uniques,
	}
}

func applyEnvOverrides(cfg *model.Config) {
	v := viper.New()
	v.SetEnvPrefix("SQLCHECK")
	v.AutomaticEnv()
	v.BindEnv("STRICT_DATE_TIME_CHECKING")
	v.BindEnv("MIGRATIONS_DIR")

	if v.IsSet("STRICT_DATE_TIME_CHECKING") {
		cfg.StrictDateTimeChecking = v.GetBool("STRICT_DATE_TIME_CHECKING")
	}
	if dir := v.GetString("MIGRATIONS_DIR"); dir != "" {
		cfg.MigrationsDir = dir
	}
}
