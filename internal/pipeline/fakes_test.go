package pipeline

import (
	"context"
	"errors"
	"time"
)

// fakeDestAdapter is a minimal in-memory DestinationAdapter used to
// exercise the schema evolver and engine without a real database.
type fakeDestAdapter struct {
	columns map[string][]string // table -> live columns

	failCreateTable   error
	failEvolveSchema  error
	failWriteData     error
	failColumnsFor    error
	writtenBatches    []Batch
	evolveCalls       int
	createTableCalls  int
}

func newFakeDestAdapter() *fakeDestAdapter {
	return &fakeDestAdapter{columns: make(map[string][]string)}
}

func (f *fakeDestAdapter) Connect(ctx context.Context, config map[string]any, sourceType string) error {
	return nil
}
func (f *fakeDestAdapter) Disconnect(ctx context.Context) error { return nil }

func (f *fakeDestAdapter) MapTypes(columns []Column, sourceType string) []DestColumn {
	out := make([]DestColumn, len(columns))
	for i, c := range columns {
		out[i] = DestColumn{Name: c.Name, DestType: "TEXT", Nullable: c.Nullable}
	}
	return out
}

func (f *fakeDestAdapter) CreateTable(ctx context.Context, table string, columns []DestColumn, primaryKey []string) error {
	f.createTableCalls++
	if f.failCreateTable != nil {
		return f.failCreateTable
	}
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = c.Name
	}
	f.columns[table] = cols
	return nil
}

func (f *fakeDestAdapter) EvolveSchema(ctx context.Context, table string, missing []DestColumn) error {
	f.evolveCalls++
	if f.failEvolveSchema != nil {
		return f.failEvolveSchema
	}
	for _, m := range missing {
		f.columns[table] = append(f.columns[table], m.Name)
	}
	return nil
}

func (f *fakeDestAdapter) WriteData(ctx context.Context, table string, batch Batch, primaryKey []string) error {
	if f.failWriteData != nil {
		return f.failWriteData
	}
	f.writtenBatches = append(f.writtenBatches, batch)
	return nil
}

func (f *fakeDestAdapter) CreateIndexes(ctx context.Context, table string, indexes []Index) error { return nil }
func (f *fakeDestAdapter) CreateUniqueConstraints(ctx context.Context, table string, uniques [][]string) error {
	return nil
}
func (f *fakeDestAdapter) CreateForeignKeys(ctx context.Context, table string, fks []ForeignKey) error {
	return nil
}

func (f *fakeDestAdapter) ColumnsFor(ctx context.Context, table string) ([]string, error) {
	if f.failColumnsFor != nil {
		return nil, f.failColumnsFor
	}
	return f.columns[table], nil
}

func (f *fakeDestAdapter) DestinationKey() string { return "fake" }

// fakeRowStream replays a fixed slice of batches, one per Next() call,
// then signals end of stream.
type fakeRowStream struct {
	batches []Batch
	idx     int
	failAt  int // -1 disables
	failErr error
}

func newFakeRowStream(batches ...Batch) *fakeRowStream {
	return &fakeRowStream{batches: batches, failAt: -1}
}

func (s *fakeRowStream) Next(ctx context.Context) (Batch, bool, error) {
	if s.failAt >= 0 && s.idx == s.failAt {
		return nil, false, s.failErr
	}
	if s.idx >= len(s.batches) {
		return nil, false, nil
	}
	b := s.batches[s.idx]
	s.idx++
	return b, true, nil
}

// fakeSourceAdapter is a minimal in-memory SourceAdapter.
type fakeSourceAdapter struct {
	tables  []string
	schemas map[string]TableDescriptor
	streams map[string]func() RowStream

	failConnect    error
	failListTables error
	failGetSchema  map[string]error
	failRead       map[string]error
}

func newFakeSourceAdapter() *fakeSourceAdapter {
	return &fakeSourceAdapter{
		schemas: make(map[string]TableDescriptor),
		streams: make(map[string]func() RowStream),
		failGetSchema: make(map[string]error),
		failRead:      make(map[string]error),
	}
}

func (f *fakeSourceAdapter) Connect(ctx context.Context, config map[string]any) error {
	return f.failConnect
}
func (f *fakeSourceAdapter) Disconnect(ctx context.Context) error { return nil }

func (f *fakeSourceAdapter) ListTables(ctx context.Context) ([]string, error) {
	if f.failListTables != nil {
		return nil, f.failListTables
	}
	return f.tables, nil
}

func (f *fakeSourceAdapter) GetSchema(ctx context.Context, table string) (TableDescriptor, error) {
	if err, ok := f.failGetSchema[table]; ok {
		return TableDescriptor{}, err
	}
	return f.schemas[table], nil
}

func (f *fakeSourceAdapter) GetPrimaryKey(ctx context.Context, table string) ([]string, error) {
	return f.schemas[table].PrimaryKey, nil
}
func (f *fakeSourceAdapter) GetForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	return nil, nil
}
func (f *fakeSourceAdapter) GetUniqueConstraints(ctx context.Context, table string) ([][]string, error) {
	return nil, nil
}
func (f *fakeSourceAdapter) GetIndexes(ctx context.Context, table string) ([]Index, error) {
	return nil, nil
}

func (f *fakeSourceAdapter) ReadData(ctx context.Context, table string, batchSize int) (RowStream, error) {
	if err, ok := f.failRead[table]; ok {
		return nil, err
	}
	if mk, ok := f.streams[table]; ok {
		return mk(), nil
	}
	return newFakeRowStream(), nil
}

func (f *fakeSourceAdapter) ReadIncremental(ctx context.Context, table string, since time.Time, batchSize int) (RowStream, error) {
	return f.ReadData(ctx, table, batchSize)
}

func (f *fakeSourceAdapter) SourceKey() string { return "fake" }

var errFake = errors.New("fake failure")
