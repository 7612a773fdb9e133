// Package postgres implements the PostgreSQL source adapter, grounded on
// original_source/universal_migration_service/adapters/sources/postgresql_source.py:
// information_schema-driven schema introspection, quoted-identifier
// batch reads, and a best-effort timestamp column for incremental
// reads.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/stanstork/migratum/internal/pipeline"
)

const SourceKey = "postgresql"

type Adapter struct {
	db *sql.DB
}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) SourceKey() string { return SourceKey }

func (a *Adapter) Connect(ctx context.Context, config map[string]any) error {
	dsn, err := buildDSN(config)
	if err != nil {
		return &pipeline.ConnectionError{Adapter: SourceKey, Cause: err}
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return &pipeline.ConnectionError{Adapter: SourceKey, Cause: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &pipeline.ConnectionError{Adapter: SourceKey, Cause: err}
	}
	a.db = db
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func buildDSN(config map[string]any) (string, error) {
	host, _ := config["host"].(string)
	database, _ := config["database"].(string)
	user, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if host == "" || database == "" || user == "" {
		return "", fmt.Errorf("postgresql source requires host, database, and username")
	}
	port := 5432
	switch p := config["port"].(type) {
	case int:
		port = p
	case float64:
		port = int(p)
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, database, user, password), nil
}

func splitSchemaTable(table string) (string, string) {
	if idx := strings.IndexByte(table, '.'); idx >= 0 {
		return table[:idx], table[idx+1:]
	}
	return "public", table
}

func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		AND table_schema NOT IN ('information_schema', 'pg_catalog', 'pg_toast')
		ORDER BY table_schema, table_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var schema, table string
		if err := rows.Scan(&schema, &table); err != nil {
			return nil, err
		}
		if schema == "public" {
			tables = append(tables, table)
		} else {
			tables = append(tables, schema+"."+table)
		}
	}
	return tables, rows.Err()
}

func (a *Adapter) GetSchema(ctx context.Context, table string) (pipeline.TableDescriptor, error) {
	schema, tbl := splitSchemaTable(table)
	rows, err := a.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_default,
		       character_maximum_length, numeric_precision, numeric_scale
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, schema, tbl)
	if err != nil {
		return pipeline.TableDescriptor{}, err
	}
	defer rows.Close()

	desc := pipeline.TableDescriptor{Name: table}
	for rows.Next() {
		var name, dataType, isNullable string
		var colDefault sql.NullString
		var charMaxLen, numPrecision, numScale sql.NullInt64
		if err := rows.Scan(&name, &dataType, &isNullable, &colDefault, &charMaxLen, &numPrecision, &numScale); err != nil {
			return pipeline.TableDescriptor{}, err
		}
		fullType := dataType
		switch {
		case charMaxLen.Valid:
			fullType = fmt.Sprintf("%s(%d)", dataType, charMaxLen.Int64)
		case numPrecision.Valid && numScale.Valid:
			fullType = fmt.Sprintf("%s(%d,%d)", dataType, numPrecision.Int64, numScale.Int64)
		}
		var def *string
		if colDefault.Valid {
			def = &colDefault.String
		}
		desc.Columns = append(desc.Columns, pipeline.Column{
			Name:       name,
			SourceType: fullType,
			Nullable:   isNullable == "YES",
			Default:    def,
		})
	}
	return desc, rows.Err()
}

func (a *Adapter) GetPrimaryKey(ctx context.Context, table string) ([]string, error) {
	schema, tbl := splitSchemaTable(table)
	rows, err := a.db.QueryContext(ctx, `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE c.relname = $1 AND n.nspname = $2 AND i.indisprimary
	`, tbl, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (a *Adapter) GetForeignKeys(ctx context.Context, table string) ([]pipeline.ForeignKey, error) {
	schema, tbl := splitSchemaTable(table)
	rows, err := a.db.QueryContext(ctx, `
		SELECT tc.constraint_name, kcu.column_name, ccu.table_schema, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_name = $1 AND tc.table_schema = $2
	`, tbl, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string]*pipeline.ForeignKey{}
	var order []string
	for rows.Next() {
		var constraintName, column, refSchema, refTable, refColumn string
		if err := rows.Scan(&constraintName, &column, &refSchema, &refTable, &refColumn); err != nil {
			return nil, err
		}
		fk, ok := byName[constraintName]
		if !ok {
			refName := refTable
			if refSchema != "public" {
				refName = refSchema + "." + refTable
			}
			fk = &pipeline.ForeignKey{Name: constraintName, ReferencedTable: refName}
			byName[constraintName] = fk
			order = append(order, constraintName)
		}
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
	}
	out := make([]pipeline.ForeignKey, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, rows.Err()
}

func (a *Adapter) GetUniqueConstraints(ctx context.Context, table string) ([][]string, error) {
	schema, tbl := splitSchemaTable(table)
	rows, err := a.db.QueryContext(ctx, `
		SELECT tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'UNIQUE' AND tc.table_name = $1 AND tc.table_schema = $2
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`, tbl, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string][]string{}
	var order []string
	for rows.Next() {
		var name, col string
		if err := rows.Scan(&name, &col); err != nil {
			return nil, err
		}
		if _, ok := byName[name]; !ok {
			order = append(order, name)
		}
		byName[name] = append(byName[name], col)
	}
	out := make([][]string, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, rows.Err()
}

func (a *Adapter) GetIndexes(ctx context.Context, table string) ([]pipeline.Index, error) {
	schema, tbl := splitSchemaTable(table)
	rows, err := a.db.QueryContext(ctx, `
		SELECT i.relname, a.attname, ix.indisunique
		FROM pg_class t
		JOIN pg_namespace n ON t.relnamespace = n.oid
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE t.relkind = 'r' AND t.relname = $1 AND n.nspname = $2 AND NOT ix.indisprimary
		ORDER BY i.relname
	`, tbl, schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string]*pipeline.Index{}
	var order []string
	for rows.Next() {
		var name, col string
		var unique bool
		if err := rows.Scan(&name, &col, &unique); err != nil {
			return nil, err
		}
		idx, ok := byName[name]
		if !ok {
			idx = &pipeline.Index{Name: name, Unique: unique}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, col)
	}
	out := make([]pipeline.Index, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, rows.Err()
}

func (a *Adapter) ReadData(ctx context.Context, table string, batchSize int) (pipeline.RowStream, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s`, quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	return newRowStream(rows, batchSize)
}

// ReadIncremental picks the first column whose type name contains
// "time" or "date" and filters on it, falling back to a full read when
// no such column exists, matching the Python adapter's heuristic.
func (a *Adapter) ReadIncremental(ctx context.Context, table string, since time.Time, batchSize int) (pipeline.RowStream, error) {
	desc, err := a.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	var timestampCol string
	for _, col := range desc.Columns {
		lower := strings.ToLower(col.SourceType)
		if strings.Contains(lower, "time") || strings.Contains(lower, "date") {
			timestampCol = col.Name
			break
		}
	}
	if timestampCol == "" {
		return a.ReadData(ctx, table, batchSize)
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE %s > $1`, quoteIdent(table), quoteIdent(timestampCol)), since)
	if err != nil {
		return nil, err
	}
	return newRowStream(rows, batchSize)
}

func quoteIdent(name string) string {
	parts := strings.SplitN(name, ".", 2)
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

// rowStream adapts a *sql.Rows cursor to pipeline.RowStream, batching
// rows in memory up to batchSize before yielding, mirroring the Python
// generator's accumulate-then-yield loop.
type rowStream struct {
	rows      *sql.Rows
	cols      []string
	batchSize int
	done      bool
}

func newRowStream(rows *sql.Rows, batchSize int) (*rowStream, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &rowStream{rows: rows, cols: cols, batchSize: batchSize}, nil
}

func (s *rowStream) Next(ctx context.Context) (pipeline.Batch, bool, error) {
	if s.done {
		return nil, false, nil
	}
	batch := make(pipeline.Batch, 0, s.batchSize)
	for len(batch) < s.batchSize {
		if !s.rows.Next() {
			s.done = true
			s.rows.Close()
			break
		}
		values := make([]any, len(s.cols))
		ptrs := make([]any, len(s.cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := s.rows.Scan(ptrs...); err != nil {
			s.rows.Close()
			return nil, false, err
		}
		row := make(pipeline.Row, len(s.cols))
		for i, c := range s.cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		batch = append(batch, row)
	}
	if err := s.rows.Err(); err != nil {
		return nil, false, err
	}
	if len(batch) == 0 {
		return nil, false, nil
	}
	return batch, true, nil
}
