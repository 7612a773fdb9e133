package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/stanstork/migratum/internal/pipeline"
)

// fakeSource and fakeDest are minimal pipeline.SourceAdapter/
// DestinationAdapter implementations for exercising the HTTP handlers
// without real database drivers.
type fakeSource struct {
	key        string
	connectErr error
	tables     []string
}

func (f *fakeSource) Connect(ctx context.Context, config map[string]any) error { return f.connectErr }
func (f *fakeSource) Disconnect(ctx context.Context) error                     { return nil }
func (f *fakeSource) ListTables(ctx context.Context) ([]string, error)         { return f.tables, nil }
func (f *fakeSource) GetSchema(ctx context.Context, table string) (pipeline.TableDescriptor, error) {
	return pipeline.TableDescriptor{Name: table}, nil
}
func (f *fakeSource) GetPrimaryKey(ctx context.Context, table string) ([]string, error) {
	return []string{"id"}, nil
}
func (f *fakeSource) GetForeignKeys(ctx context.Context, table string) ([]pipeline.ForeignKey, error) {
	return nil, nil
}
func (f *fakeSource) GetUniqueConstraints(ctx context.Context, table string) ([][]string, error) {
	return nil, nil
}
func (f *fakeSource) GetIndexes(ctx context.Context, table string) ([]pipeline.Index, error) {
	return nil, nil
}
func (f *fakeSource) ReadData(ctx context.Context, table string, batchSize int) (pipeline.RowStream, error) {
	return &fakeRowStream{}, nil
}
func (f *fakeSource) ReadIncremental(ctx context.Context, table string, since time.Time, batchSize int) (pipeline.RowStream, error) {
	return &fakeRowStream{}, nil
}
func (f *fakeSource) SourceKey() string { return f.key }

type fakeRowStream struct{ done bool }

func (s *fakeRowStream) Next(ctx context.Context) (pipeline.Batch, bool, error) {
	if s.done {
		return nil, false, nil
	}
	s.done = true
	return pipeline.Batch{{"id": 1}}, true, nil
}

type fakeDest struct {
	key        string
	connectErr error
	writeErr   error
}

func (f *fakeDest) Connect(ctx context.Context, config map[string]any, sourceType string) error {
	return f.connectErr
}
func (f *fakeDest) Disconnect(ctx context.Context) error { return nil }
func (f *fakeDest) MapTypes(columns []pipeline.Column, sourceType string) []pipeline.DestColumn {
	return nil
}
func (f *fakeDest) CreateTable(ctx context.Context, table string, columns []pipeline.DestColumn, primaryKey []string) error {
	return nil
}
func (f *fakeDest) EvolveSchema(ctx context.Context, table string, missing []pipeline.DestColumn) error {
	return nil
}
func (f *fakeDest) WriteData(ctx context.Context, table string, batch pipeline.Batch, primaryKey []string) error {
	return f.writeErr
}
func (f *fakeDest) CreateIndexes(ctx context.Context, table string, indexes []pipeline.Index) error {
	return nil
}
func (f *fakeDest) CreateUniqueConstraints(ctx context.Context, table string, uniques [][]string) error {
	return nil
}
func (f *fakeDest) CreateForeignKeys(ctx context.Context, table string, fks []pipeline.ForeignKey) error {
	return nil
}
func (f *fakeDest) ColumnsFor(ctx context.Context, table string) ([]string, error) {
	return nil, nil
}
func (f *fakeDest) DestinationKey() string { return f.key }

var errConnectRefused = errors.New("connection refused")
