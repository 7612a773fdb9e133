// Package mysql implements the MySQL destination adapter, grounded on
// original_source/universal_migration_service/adapters/destinations/mysql_dest.py:
// two-phase connect (create the database if missing, then reconnect
// into it), InnoDB/utf8mb4 table creation, and ON DUPLICATE KEY UPDATE
// upserts when a primary key is known.
package mysql

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	mysqldriver "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/stanstork/migratum/internal/pipeline"
	"github.com/stanstork/migratum/internal/typemap"
)

const DestinationKey = "mysql"

// maxIdentifierLength is MySQL's limit on constraint/index identifiers.
const maxIdentifierLength = 64

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
		return &pipeline.ConnectionError{Adapter: DestinationKey, Cause: fmt.Errorf("mysql destination requires host, database, and username")}
	}
	port := 3306
	switch p := config["port"].(type) {
	case int:
		port = p
	case float64:
		port = int(p)
	}

	bootstrapDSN := fmt.Sprintf("%s:%s@tcp(%s:%d)/?parseTime=true", user, password, host, port)
	bootstrap, err := gorm.Open(mysqldriver.Open(bootstrapDSN), &gorm.Config{})
	if err != nil {
		return &pipeline.ConnectionError{Adapter: DestinationKey, Cause: err}
	}
	createStmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", database)
	if err := bootstrap.WithContext(ctx).Exec(createStmt).Error; err != nil {
		return &pipeline.ConnectionError{Adapter: DestinationKey, Cause: err}
	}
	if sqlDB, err := bootstrap.DB(); err == nil {
		sqlDB.Close()
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4", user, password, host, port, database)
	db, err := gorm.Open(mysqldriver.Open(dsn), &gorm.Config{})
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
	return typemap.Map(columns, typemap.MySQL)
}

func (a *Adapter) CreateTable(ctx context.Context, table string, columns []pipeline.DestColumn, primaryKey []string) error {
	if len(columns) == 0 {
		return nil
	}
	var exists int64
	if err := a.db.WithContext(ctx).Raw(
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?", sanitizeColumn(table),
	).Scan(&exists).Error; err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}

	var defs []string
	for _, c := range columns {
		colName := sanitizeColumn(c.Name)
		def := fmt.Sprintf("`%s` %s", colName, c.DestType)
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
			quoted[i] = "`" + sanitizeColumn(pk) + "`"
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}
	stmt := fmt.Sprintf(
		"CREATE TABLE `%s` (\n  %s\n) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci",
		sanitizeColumn(table), strings.Join(defs, ",\n  "),
	)
	return a.db.WithContext(ctx).Exec(stmt).Error
}

func (a *Adapter) EvolveSchema(ctx context.Context, table string, missing []pipeline.DestColumn) error {
	for _, col := range missing {
		destType := col.DestType
		if destType == "" {
			destType = typemap.WidestString(typemap.MySQL)
		}
		stmt := fmt.Sprintf("ALTER TABLE `%s` ADD COLUMN `%s` %s", sanitizeColumn(table), sanitizeColumn(col.Name), destType)
		if err := a.db.WithContext(ctx).Exec(stmt).Error; err != nil && !isDuplicateColumn(err) {
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
		quotedCols[i] = "`" + sanitizeColumn(c) + "`"
	}

	var rowsSQL []string
	var args []any
	for _, row := range batch {
		var placeholders []string
		for _, c := range cols {
			placeholders = append(placeholders, "?")
			args = append(args, row[c])
		}
		rowsSQL = append(rowsSQL, "("+strings.Join(placeholders, ", ")+")")
	}

	pkSet := make(map[string]bool, len(primaryKey))
	for _, pk := range primaryKey {
		pkSet[pk] = true
	}

	verb := "INSERT"
	if len(primaryKey) > 0 && allPrimaryKey(cols, pkSet) {
		verb = "INSERT IGNORE"
	}
	stmt := fmt.Sprintf("%s INTO `%s` (%s) VALUES %s", verb, sanitizeColumn(table), strings.Join(quotedCols, ", "), strings.Join(rowsSQL, ", "))

	if len(primaryKey) > 0 && !allPrimaryKey(cols, pkSet) {
		var updates []string
		for _, c := range cols {
			if pkSet[c] {
				continue
			}
			quoted := "`" + sanitizeColumn(c) + "`"
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", quoted, quoted))
		}
		stmt += " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
	}

	return a.db.WithContext(ctx).Exec(stmt, args...).Error
}

func allPrimaryKey(cols []string, pkSet map[string]bool) bool {
	for _, c := range cols {
		if !pkSet[c] {
			return false
		}
	}
	return true
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
	for _, idx := range indexes {
		quoted := make([]string, len(idx.Columns))
		for i, c := range idx.Columns {
			quoted[i] = "`" + sanitizeColumn(c) + "`"
		}
		unique := ""
		if idx.Unique {
			unique = "UNIQUE "
		}
		name := convertConstraintName(idx.Name)
		stmt := fmt.Sprintf("CREATE %sINDEX `%s` ON `%s` (%s)", unique, name, sanitizeColumn(table), strings.Join(quoted, ", "))
		if err := a.db.WithContext(ctx).Exec(stmt).Error; err != nil && !isDuplicateIndex(err) {
			return err
		}
	}
	return nil
}

func (a *Adapter) CreateUniqueConstraints(ctx context.Context, table string, uniques [][]string) error {
	for i, cols := range uniques {
		quoted := make([]string, len(cols))
		for j, c := range cols {
			quoted[j] = "`" + sanitizeColumn(c) + "`"
		}
		name := convertConstraintName(fmt.Sprintf("%s_unique_%d", table, i))
		stmt := fmt.Sprintf("ALTER TABLE `%s` ADD CONSTRAINT `%s` UNIQUE (%s)", sanitizeColumn(table), name, strings.Join(quoted, ", "))
		if err := a.db.WithContext(ctx).Exec(stmt).Error; err != nil && !isDuplicateEntry(err) {
			return err
		}
	}
	return nil
}

func (a *Adapter) CreateForeignKeys(ctx context.Context, table string, fks []pipeline.ForeignKey) error {
	for _, fk := range fks {
		quotedCols := make([]string, len(fk.Columns))
		for i, c := range fk.Columns {
			quotedCols[i] = "`" + sanitizeColumn(c) + "`"
		}
		quotedRefCols := make([]string, len(fk.ReferencedColumns))
		for i, c := range fk.ReferencedColumns {
			quotedRefCols[i] = "`" + sanitizeColumn(c) + "`"
		}
		name := convertConstraintName(fk.Name)
		// MySQL has no NO ACTION referential action; PostgreSQL's default
		// downgrades to RESTRICT.
		stmt := fmt.Sprintf(
			"ALTER TABLE `%s` ADD CONSTRAINT `%s` FOREIGN KEY (%s) REFERENCES `%s` (%s) ON DELETE RESTRICT ON UPDATE RESTRICT",
			sanitizeColumn(table), name, strings.Join(quotedCols, ", "), sanitizeColumn(fk.ReferencedTable), strings.Join(quotedRefCols, ", "),
		)
		if err := a.db.WithContext(ctx).Exec(stmt).Error; err != nil && !isDuplicateKeyName(err) {
			return err
		}
	}
	return nil
}

func (a *Adapter) ColumnsFor(ctx context.Context, table string) ([]string, error) {
	rows, err := a.db.WithContext(ctx).Raw(
		"SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?", sanitizeColumn(table),
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

// sanitizeColumn mirrors the original's alnum-or-underscore filter for
// identifiers pulled from source metadata, escaping a leading digit
// since MySQL identifiers cannot start with one unquoted.
func sanitizeColumn(name string) string {
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
		return "_"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

// convertConstraintName truncates an identifier to MySQL's 64-character
// limit, appending an md5 suffix to keep truncated names collision-free.
func convertConstraintName(name string) string {
	name = sanitizeColumn(name)
	if len(name) <= maxIdentifierLength {
		return name
	}
	sum := md5.Sum([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:8]
	return name[:maxIdentifierLength-9] + "_" + suffix
}

func isDuplicateColumn(err error) bool {
	return strings.Contains(err.Error(), "Duplicate column")
}

func isDuplicateIndex(err error) bool {
	return strings.Contains(err.Error(), "Duplicate key name") || strings.Contains(err.Error(), "1061")
}

func isDuplicateEntry(err error) bool {
	return strings.Contains(err.Error(), "Duplicate entry") || strings.Contains(err.Error(), "1062")
}

func isDuplicateKeyName(err error) bool {
	return strings.Contains(err.Error(), "Duplicate key name") || strings.Contains(err.Error(), "1022") ||
		strings.Contains(err.Error(), "Duplicate foreign key") || strings.Contains(err.Error(), "1826")
}
