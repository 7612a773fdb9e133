// Package postgres implements the PostgreSQL destination adapter,
// grounded on
// original_source/universal_migration_service/adapters/destinations/postgresql_dest.py:
// additive CREATE TABLE IF NOT EXISTS, ON CONFLICT upsert when a
// primary key is known, and best-effort post-load constraint creation
// that logs and continues rather than aborting the table.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/stanstork/migratum/internal/pipeline"
	"github.com/stanstork/migratum/internal/typemap"
)

const DestinationKey = "postgresql"

type Adapter struct {
	db *gorm.DB
}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) DestinationKey() string { return DestinationKey }

func (a *Adapter) Connect(ctx context.Context, config map[string]any, sourceType string) error {
	host, _ := config["host"].(string)
	database, _ := config["database"].(string)
	user, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if host == "" || database == "" || user == "" {
		return &pipeline.ConnectionError{Adapter: DestinationKey, Cause: fmt.Errorf("postgresql destination requires host, database, and username")}
	}
	port := 5432
	switch p := config["port"].(type) {
	case int:
		port = p
	case float64:
		port = int(p)
	}
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		host, port, database, user, password)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return &pipeline.ConnectionError{Adapter: DestinationKey, Cause: err}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return &pipeline.ConnectionError{Adapter: DestinationKey, Cause: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &pipeline.ConnectionError{Adapter: DestinationKey, Cause: err}
	}
	a.db = db
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (a *Adapter) MapTypes(columns []pipeline.Column, sourceType string) []pipeline.DestColumn {
	return typemap.Map(columns, typemap.Postgres)
}

func (a *Adapter) CreateTable(ctx context.Context, table string, columns []pipeline.DestColumn, primaryKey []string) error {
	if len(columns) == 0 {
		return nil
	}
	var defs []string
	for _, c := range columns {
		def := fmt.Sprintf("%s %s", quoteIdent(c.Name), c.DestType)
		if !c.Nullable {
			def += " NOT NULL"
		}
		if c.DefaultExpr != nil {
			def += " DEFAULT " + *c.DefaultExpr
		}
		defs = append(defs, def)
	}
	if len(primaryKey) > 0 {
		quoted := make([]string, len(primaryKey))
		for i, pk := range primaryKey {
			quoted[i] = quoteIdent(pk)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quoteIdent(table), strings.Join(defs, ",\n  "))
	return a.db.WithContext(ctx).Exec(stmt).Error
}

func (a *Adapter) EvolveSchema(ctx context.Context, table string, missing []pipeline.DestColumn) error {
	for _, col := range missing {
		destType := col.DestType
		if destType == "" {
			destType = typemap.WidestString(typemap.Postgres)
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", quoteIdent(table), quoteIdent(col.Name), destType)
		if err := a.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) WriteData(ctx context.Context, table string, batch pipeline.Batch, primaryKey []string) error {
	if len(batch) == 0 {
		return nil
	}
	cols := columnOrder(batch)
	quotedCols := make([]string, len(cols))
	for i, c := range cols {
		quotedCols[i] = quoteIdent(c)
	}

	var rowsSQL []string
	var args []any
	placeholder := 1
	for _, row := range batch {
		var placeholders []string
		for _, c := range cols {
			placeholders = append(placeholders, fmt.Sprintf("$%d", placeholder))
			args = append(args, row[c])
			placeholder++
		}
		rowsSQL = append(rowsSQL, "("+strings.Join(placeholders, ", ")+")")
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", quoteIdent(table), strings.Join(quotedCols, ", "), strings.Join(rowsSQL, ", "))

	if len(primaryKey) > 0 {
		pkSet := make(map[string]bool, len(primaryKey))
		for _, pk := range primaryKey {
			pkSet[pk] = true
		}
		quotedPK := make([]string, len(primaryKey))
		for i, pk := range primaryKey {
			quotedPK[i] = quoteIdent(pk)
		}
		var updates []string
		for _, c := range cols {
			if pkSet[c] {
				continue
			}
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(c), quoteIdent(c)))
		}
		if len(updates) > 0 {
			stmt += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(quotedPK, ", "), strings.Join(updates, ", "))
		} else {
			stmt += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(quotedPK, ", "))
		}
	}

	return a.db.WithContext(ctx).Exec(stmt, args...).Error
}

// columnOrder returns a column list covering every key seen across the
// batch, since heterogeneous API sources can yield rows with slightly
// different keysets from one batch to the next. Keys of one row come in
// map iteration order, so the order of the list is not fixed.
func columnOrder(batch pipeline.Batch) []string {
	seen := map[string]bool{}
	var cols []string
	for _, row := range batch {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

func (a *Adapter) CreateIndexes(ctx context.Context, table string, indexes []pipeline.Index) error {
	for _, idx := range indexes {
		quoted := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			quoted[i] = quoteIdent(c)
		}
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		name := sanitizeIdentifier(idx.Name)
		stmt := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)", unique, quoteIdent(name), quoteIdent(table), strings.Join(quoted, ", "))
		if err := a.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) CreateUniqueConstraints(ctx context.Context, table string, uniques [][]string) error {
	for i, cols := range uniques {
		quoted := make([]string, len(cols))
		for j, c := range cols {
			quoted[j] = quoteIdent(c)
		}
		name := fmt.Sprintf("%s_unique_%d", sanitizeIdentifier(table), i)
		stmt := fmt.Sprintf(
			"DO $$ BEGIN ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s); EXCEPTION WHEN duplicate_table THEN NULL; END $$",
			quoteIdent(table), quoteIdent(name), strings.Join(quoted, ", "),
		)
		if err := a.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) CreateForeignKeys(ctx context.Context, table string, fks []pipeline.ForeignKey) error {
	for _, fk := range fks {
		quotedCols := make([]string, len(fk.Columns))
		for i, c := range fk.Columns {
			quotedCols[i] = quoteIdent(c)
		}
		quotedRefCols := make([]string, len(fk.ReferencedColumns))
		for i, c := range fk.ReferencedColumns {
			quotedRefCols[i] = quoteIdent(c)
		}
		name := sanitizeIdentifier(fk.Name)
		stmt := fmt.Sprintf(
			"DO $$ BEGIN ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s); EXCEPTION WHEN duplicate_object THEN NULL; END $$",
			quoteIdent(table), quoteIdent(name), strings.Join(quotedCols, ", "), quoteIdent(fk.ReferencedTable), strings.Join(quotedRefCols, ", "),
		)
		if err := a.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) ColumnsFor(ctx context.Context, table string) ([]string, error) {
	schema := "public"
	tbl := table
	if idx := strings.IndexByte(table, '.'); idx >= 0 {
		schema, tbl = table[:idx], table[idx+1:]
	}
	rows, err := a.db.WithContext(ctx).Raw(
		"SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2", schema, tbl,
	).Rows()
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

func quoteIdent(name string) string {
	parts := strings.SplitN(name, ".", 2)
	for i, p := range parts {
		parts[i] = `"` + strings.ReplaceAll(p, `"`, `""`) + `"`
	}
	return strings.Join(parts, ".")
}

func sanitizeIdentifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > 63 {
		s = s[:54] + "_" + strconv.FormatUint(uint64(fnv32(s)), 16)
	}
	return s
}

func fnv32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
