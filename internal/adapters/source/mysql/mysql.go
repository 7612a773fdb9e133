// Package mysql implements the MySQL source adapter, grounded on
// original_source/universal_migration_service/adapters/sources/mysql_source.py:
// SHOW TABLES/DESCRIBE-driven introspection and backtick-quoted batch
// reads.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/stanstork/migratum/internal/pipeline"
)

const SourceKey = "mysql"

type Adapter struct {
	db       *sql.DB
	database string
}

func New() *Adapter {
	return &Adapter{}
}

func (a *Adapter) SourceKey() string { return SourceKey }

func (a *Adapter) Connect(ctx context.Context, config map[string]any) error {
	host, _ := config["host"].(string)
	database, _ := config["database"].(string)
	user, _ := config["username"].(string)
	password, _ := config["password"].(string)
	if host == "" || database == "" || user == "" {
		return &pipeline.ConnectionError{Adapter: SourceKey, Cause: fmt.Errorf("mysql source requires host, database, and username")}
	}
	port := 3306
	switch p := config["port"].(type) {
	case int:
		port = p
	case float64:
		port = int(p)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", user, password, host, port, database)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return &pipeline.ConnectionError{Adapter: SourceKey, Cause: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return &pipeline.ConnectionError{Adapter: SourceKey, Cause: err}
	}
	a.db = db
	a.database = database
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

func (a *Adapter) ListTables(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (a *Adapter) GetSchema(ctx context.Context, table string) (pipeline.TableDescriptor, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("DESCRIBE `%s`", table))
	if err != nil {
		return pipeline.TableDescriptor{}, err
	}
	defer rows.Close()

	desc := pipeline.TableDescriptor{Name: table}
	for rows.Next() {
		var field, colType, null, key string
		var def sql.NullString
		var extra string
		if err := rows.Scan(&field, &colType, &null, &key, &def, &extra); err != nil {
			return pipeline.TableDescriptor{}, err
		}
		var defPtr *string
		if def.Valid {
			defPtr = &def.String
		}
		desc.Columns = append(desc.Columns, pipeline.Column{
			Name:       field,
			SourceType: colType,
			Nullable:   null == "YES",
			Default:    defPtr,
		})
		if key == "PRI" {
			desc.PrimaryKey = append(desc.PrimaryKey, field)
		}
	}
	return desc, rows.Err()
}

func (a *Adapter) GetPrimaryKey(ctx context.Context, table string) ([]string, error) {
	desc, err := a.GetSchema(ctx, table)
	if err != nil {
		return nil, err
	}
	return desc.PrimaryKey, nil
}

func (a *Adapter) GetForeignKeys(ctx context.Context, table string) ([]pipeline.ForeignKey, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT constraint_name, column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = ? AND table_name = ? AND referenced_table_name IS NOT NULL
	`, a.database, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := map[string]*pipeline.ForeignKey{}
	var order []string
	for rows.Next() {
		var name, col, refTable, refCol string
		if err := rows.Scan(&name, &col, &refTable, &refCol); err != nil {
			return nil, err
		}
		fk, ok := byName[name]
		if !ok {
			fk = &pipeline.ForeignKey{Name: name, ReferencedTable: refTable}
			byName[name] = fk
			order = append(order, name)
		}
		fk.Columns = append(fk.Columns, col)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refCol)
	}
	out := make([]pipeline.ForeignKey, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, rows.Err()
}

func (a *Adapter) GetUniqueConstraints(ctx context.Context, table string) ([][]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT tc.constraint_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'UNIQUE' AND tc.table_schema = ? AND tc.table_name = ?
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`, a.database, table)
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
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("SHOW INDEX FROM `%s`", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	byName := map[string]*pipeline.Index{}
	var order []string
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rowMap := map[string]any{}
		for i, c := range cols {
			rowMap[c] = values[i]
		}
		keyName := asString(rowMap["Key_name"])
		if keyName == "PRIMARY" {
			continue
		}
		colName := asString(rowMap["Column_name"])
		nonUnique := asString(rowMap["Non_unique"])
		idx, ok := byName[keyName]
		if !ok {
			idx = &pipeline.Index{Name: keyName, Unique: nonUnique == "0"}
			byName[keyName] = idx
			order = append(order, keyName)
		}
		idx.Columns = append(idx.Columns, colName)
	}
	out := make([]pipeline.Index, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, rows.Err()
}

func asString(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

func (a *Adapter) ReadData(ctx context.Context, table string, batchSize int) (pipeline.RowStream, error) {
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM `%s`", table))
	if err != nil {
		return nil, err
	}
	return newRowStream(rows, batchSize)
}

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

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM `%s` WHERE `%s` > ?", table, timestampCol), since)
	if err != nil {
		return nil, err
	}
	return newRowStream(rows, batchSize)
}

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
