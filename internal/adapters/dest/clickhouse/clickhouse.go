// Package clickhouse implements the ClickHouse destination adapter,
// grounded on
// original_source/universal_migration_service/adapters/destinations/clickhouse_dest.py:
// MergeTree table creation, Nullable(...) column wrapping, batched
// native-protocol inserts, and source-family table-name prefixing
// (_get_table_name).
//
// The original special-cases DevOps and Zoho CRM sources with bespoke
// column layouts and per-source column-name sanitization beyond the
// table-name prefix. This adapter does not: every source already
// normalizes its rows into the shared pipeline.Row/Column shape
// upstream, so one generic write path serves all of them, at the cost
// of dropping the original's incremental duplicate-ID scan before
// insert (MergeTree does not enforce uniqueness; ReplacingMergeTree
// would, but that changes query semantics beyond what this adapter's
// contract covers).
package clickhouse

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/stanstork/migratum/internal/pipeline"
	"github.com/stanstork/migratum/internal/typemap"
)

const DestinationKey = "clickhouse"

type Adapter struct {
	conn       clickhouse.Conn
	sourceType string
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
		return &pipeline.ConnectionError{Adapter: DestinationKey, Cause: fmt.Errorf("clickhouse destination requires host, database, and username")}
	}
	port := 9000
	switch p := config["port"].(type) {
	case int:
		port = p
	case float64:
		port = int(p)
	}
	// clickhouse-go's native protocol defaults to 9000; the original's
	// HTTP client defaulted to 8123 and fell back to 9000. There is no
	// fallback here since a single Go driver serves both.
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", host, port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: user,
			Password: password,
		},
	})
	if err != nil {
		return &pipeline.ConnectionError{Adapter: DestinationKey, Cause: err}
	}
	if err := conn.Ping(ctx); err != nil {
		return &pipeline.ConnectionError{Adapter: DestinationKey, Cause: err}
	}
	a.conn = conn
	a.sourceType = sourceType
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

func (a *Adapter) MapTypes(columns []pipeline.Column, sourceType string) []pipeline.DestColumn {
	mapped := typemap.Map(columns, typemap.ClickHouse)
	for i, c := range mapped {
		if c.Nullable && !strings.HasPrefix(c.DestType, "Nullable(") {
			mapped[i].DestType = fmt.Sprintf("Nullable(%s)", c.DestType)
		}
	}
	return mapped
}

func (a *Adapter) CreateTable(ctx context.Context, table string, columns []pipeline.DestColumn, primaryKey []string) error {
	if len(columns) == 0 {
		return nil
	}
	chTable := quoteIdent(a.tableName(table))

	var exists uint8
	row := a.conn.QueryRow(ctx, fmt.Sprintf("EXISTS TABLE %s", chTable))
	if err := row.Scan(&exists); err == nil && exists == 1 {
		return nil
	}

	var defs []string
	for _, c := range columns {
		defs = append(defs, fmt.Sprintf("`%s` %s", sanitizeIdent(c.Name), c.DestType))
	}
	orderBy := "tuple()"
	if len(primaryKey) > 0 {
		quoted := make([]string, len(primaryKey))
		for i, pk := range primaryKey {
			quoted[i] = "`" + sanitizeIdent(pk) + "`"
		}
		orderBy = strings.Join(quoted, ", ")
	}
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  %s\n) ENGINE = MergeTree() ORDER BY %s",
		chTable, strings.Join(defs, ",\n  "), orderBy,
	)
	return a.conn.Exec(ctx, stmt)
}

func (a *Adapter) EvolveSchema(ctx context.Context, table string, missing []pipeline.DestColumn) error {
	chTable := quoteIdent(a.tableName(table))
	for _, col := range missing {
		destType := col.DestType
		if destType == "" {
			destType = fmt.Sprintf("Nullable(%s)", typemap.WidestString(typemap.ClickHouse))
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS `%s` %s", chTable, sanitizeIdent(col.Name), destType)
		if err := a.conn.Exec(ctx, stmt); err != nil {
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
		quotedCols[i] = "`" + sanitizeIdent(c) + "`"
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s)", quoteIdent(a.tableName(table)), strings.Join(quotedCols, ", "))
	batchInsert, err := a.conn.PrepareBatch(ctx, stmt)
	if err != nil {
		return err
	}
	for _, row := range batch {
		values := make([]any, len(cols))
		for i, c := range cols {
			values[i] = normalizeValue(row[c])
		}
		if err := batchInsert.Append(values...); err != nil {
			return err
		}
	}
	return batchInsert.Send()
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		return strconv.FormatBool(t)
	default:
		return v
	}
}

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
	// MergeTree secondary (skip) indexes have different tradeoffs than
	// B-tree indexes and are not something safe to add generically from
	// a source's index list; ClickHouse relies primarily on ORDER BY.
	return nil
}

func (a *Adapter) CreateUniqueConstraints(ctx context.Context, table string, uniques [][]string) error {
	// ClickHouse has no native uniqueness constraint.
	return nil
}

func (a *Adapter) CreateForeignKeys(ctx context.Context, table string, fks []pipeline.ForeignKey) error {
	// ClickHouse does not enforce foreign keys.
	return nil
}

func (a *Adapter) ColumnsFor(ctx context.Context, table string) ([]string, error) {
	rows, err := a.conn.Query(ctx, fmt.Sprintf("DESCRIBE TABLE %s", quoteIdent(a.tableName(table))))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []string
	for rows.Next() {
		var name, colType, defaultType, defaultExpr, comment, codecExpr, ttlExpr string
		if err := rows.Scan(&name, &colType, &defaultType, &defaultExpr, &comment, &codecExpr, &ttlExpr); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// tableName applies the source-family prefix _get_table_name computes in
// the original: relational sources get REL_, zohocrm gets zoho_, devops
// keeps its table names exact.
func (a *Adapter) tableName(table string) string {
	switch a.sourceType {
	case "zohocrm":
		return "zoho_" + strings.ToLower(table)
	case "devops":
		return table
	default:
		return "REL_" + table
	}
}

func quoteIdent(name string) string {
	parts := strings.SplitN(name, ".", 2)
	for i, p := range parts {
		parts[i] = "`" + sanitizeIdent(p) + "`"
	}
	return strings.Join(parts, ".")
}

func sanitizeIdent(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	s := b.String()
	if s == "" {
		return "field"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}
