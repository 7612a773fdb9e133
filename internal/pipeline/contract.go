// Package pipeline implements the Universal Migration Pipeline: the
// adapter contracts, the batch-streaming extract/translate/load engine,
// and the schema evolver. Grounded on the Python
// universal_migration_service package (pipeline_engine.py,
// adapters/{sources,destinations}/base_*.py).
package pipeline

import (
	"context"
	"time"
)

// Column describes one field of a TableDescriptor in source-native terms.
type Column struct {
	Name       string
	SourceType string
	Nullable   bool
	Default    *string
}

// ForeignKey describes a source-side foreign key constraint.
type ForeignKey struct {
	Name              string
	Columns           []string
	ReferencedTable   string
	ReferencedColumns []string
}

// Index describes a source-side index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// TableDescriptor is the schema of one source table/module (spec §3).
// Column order here must match the column order of records inside
// batches yielded for the same table.
type TableDescriptor struct {
	Name              string
	Columns           []Column
	PrimaryKey        []string
	ForeignKeys       []ForeignKey
	UniqueConstraints [][]string
	Indexes           []Index
}

// Row is one record keyed by source column name.
type Row map[string]any

// Batch is one finite chunk of a RowBatch stream.
type Batch []Row

// RowStream is the finite, non-restartable lazy sequence a source
// adapter's readData/readIncremental yields. Consumers must fully drain
// or explicitly stop it; a stream failure aborts only its table.
type RowStream interface {
	// Next returns the next batch, or (nil, false, nil) at end of
	// stream. An error aborts the stream immediately.
	Next(ctx context.Context) (Batch, bool, error)
}

// DestColumn is a destination-native column definition produced by
// mapTypes.
type DestColumn struct {
	Name        string
	DestType    string
	Nullable    bool
	DefaultExpr *string
}

// SourceAdapter is the capability set every source implementation
// exposes (spec §4.1).
type SourceAdapter interface {
	Connect(ctx context.Context, config map[string]any) error
	Disconnect(ctx context.Context) error

	ListTables(ctx context.Context) ([]string, error)
	GetSchema(ctx context.Context, table string) (TableDescriptor, error)

	GetPrimaryKey(ctx context.Context, table string) ([]string, error)
	GetForeignKeys(ctx context.Context, table string) ([]ForeignKey, error)
	GetUniqueConstraints(ctx context.Context, table string) ([][]string, error)
	GetIndexes(ctx context.Context, table string) ([]Index, error)

	ReadData(ctx context.Context, table string, batchSize int) (RowStream, error)
	ReadIncremental(ctx context.Context, table string, since time.Time, batchSize int) (RowStream, error)

	SourceKey() string
}

// DestinationAdapter is the capability set every destination
// implementation exposes (spec §4.1).
type DestinationAdapter interface {
	Connect(ctx context.Context, config map[string]any, sourceType string) error
	Disconnect(ctx context.Context) error

	MapTypes(columns []Column, sourceType string) []DestColumn
	CreateTable(ctx context.Context, table string, columns []DestColumn, primaryKey []string) error
	EvolveSchema(ctx context.Context, table string, missing []DestColumn) error
	WriteData(ctx context.Context, table string, batch Batch, primaryKey []string) error

	CreateIndexes(ctx context.Context, table string, indexes []Index) error
	CreateUniqueConstraints(ctx context.Context, table string, uniques [][]string) error
	CreateForeignKeys(ctx context.Context, table string, fks []ForeignKey) error

	// ColumnsFor lists the columns the destination table currently has,
	// used by the Schema Evolver to diff against a batch's keyspace.
	ColumnsFor(ctx context.Context, table string) ([]string, error)

	DestinationKey() string
}
