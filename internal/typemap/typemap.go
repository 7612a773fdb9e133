// Package typemap centralizes the source-type -> destination-type
// mapping tables every destination adapter's MapTypes implementation
// consults. Grounded on the per-adapter map_types dictionaries of
// original_source/universal_migration_service/adapters/destinations/
// (postgresql_dest.py, mysql_dest.py, clickhouse_dest.py), merged into
// one table per dialect instead of duplicated per adapter.
package typemap

import (
	"strings"

	"github.com/stanstork/migratum/internal/pipeline"
)

// Dialect identifies a destination's SQL type vocabulary.
type Dialect string

const (
	Postgres   Dialect = "postgres"
	MySQL      Dialect = "mysql"
	ClickHouse Dialect = "clickhouse"
)

var tables = map[Dialect]map[string]string{
	Postgres: {
		"smallint": "SMALLINT", "integer": "INTEGER", "int": "INTEGER", "bigint": "BIGINT",
		"serial": "SERIAL", "real": "REAL", "float": "REAL", "double": "DOUBLE PRECISION",
		"double precision": "DOUBLE PRECISION", "numeric": "NUMERIC", "decimal": "NUMERIC",
		"boolean": "BOOLEAN", "bool": "BOOLEAN", "varchar": "VARCHAR", "character varying": "VARCHAR",
		"text": "TEXT", "char": "CHAR", "timestamp": "TIMESTAMP", "datetime": "TIMESTAMP",
		"date": "DATE", "time": "TIME", "json": "JSONB", "jsonb": "JSONB",
		"array": "JSONB", "uuid": "UUID", "string": "TEXT",
	},
	MySQL: {
		"smallint": "SMALLINT", "integer": "INT", "int": "INT", "bigint": "BIGINT",
		"serial": "BIGINT AUTO_INCREMENT", "real": "FLOAT", "float": "FLOAT", "double": "DOUBLE",
		"double precision": "DOUBLE", "numeric": "DECIMAL(38,10)", "decimal": "DECIMAL(38,10)",
		"boolean": "TINYINT(1)", "bool": "TINYINT(1)", "varchar": "VARCHAR(255)",
		"character varying": "VARCHAR(255)", "text": "TEXT", "char": "CHAR",
		"timestamp": "DATETIME", "datetime": "DATETIME", "date": "DATE", "time": "TIME",
		"json": "JSON", "jsonb": "JSON", "array": "JSON", "uuid": "CHAR(36)", "string": "TEXT",
	},
	ClickHouse: {
		"smallint": "Int16", "integer": "Int32", "int": "Int32", "bigint": "Int64",
		"serial": "Int64", "real": "Float32", "float": "Float32", "double": "Float64",
		"double precision": "Float64", "numeric": "Decimal(38,10)", "decimal": "Decimal(38,10)",
		"boolean": "UInt8", "bool": "UInt8", "varchar": "String", "character varying": "String",
		"text": "String", "char": "String", "timestamp": "DateTime64(3)", "datetime": "DateTime64(3)",
		"date": "Date", "time": "String", "json": "String", "jsonb": "String",
		"array": "String", "uuid": "UUID", "string": "String",
	},
}

// widestString is the fallback type used both for unrecognized source
// types and for nullable columns the Schema Evolver adds mid-operation,
// per spec §4.4.
var widestString = map[Dialect]string{
	Postgres:   "TEXT",
	MySQL:      "LONGTEXT",
	ClickHouse: "String",
}

// Map translates a source-native TableDescriptor's columns into
// dialect-native DestColumns. It never fails: any type it does not
// recognize degrades to the dialect's widest string type rather than
// aborting the table, matching the Python adapters' `.get(type, 'TEXT')`
// fallback behavior.
func Map(columns []pipeline.Column, dialect Dialect) []pipeline.DestColumn {
	table := tables[dialect]
	out := make([]pipeline.DestColumn, 0, len(columns))
	for _, col := range columns {
		out = append(out, pipeline.DestColumn{
			Name:     col.Name,
			DestType: resolve(col.SourceType, table, dialect),
			Nullable: col.Nullable,
		})
	}
	return out
}

func resolve(sourceType string, table map[string]string, dialect Dialect) string {
	key := normalize(sourceType)
	if destType, ok := table[key]; ok {
		return destType
	}
	return WidestString(dialect)
}

// WidestString returns the fallback type the Schema Evolver uses for a
// newly discovered column, and that Map uses for any unrecognized
// source type.
func WidestString(dialect Dialect) string {
	if t, ok := widestString[dialect]; ok {
		return t
	}
	return "TEXT"
}

// normalize strips length/precision modifiers ("varchar(255)" ->
// "varchar") and array suffixes, mirroring the Python adapters'
// `.lower().split('(')[0].strip()`.
func normalize(sourceType string) string {
	t := strings.ToLower(strings.TrimSpace(sourceType))
	if idx := strings.IndexByte(t, '('); idx >= 0 {
		t = t[:idx]
	}
	t = strings.TrimSpace(t)
	if strings.HasSuffix(t, "[]") {
		return "array"
	}
	return t
}
