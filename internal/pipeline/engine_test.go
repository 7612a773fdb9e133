package pipeline

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(reg *Registry) *Engine {
	return NewEngine(reg, zerolog.Nop())
}

func TestEngine_Run_RejectsSameSourceAndDest(t *testing.T) {
	reg := NewRegistry()
	e := newTestEngine(reg)

	_, err := e.Run(context.Background(), Spec{SourceKey: "postgres", DestKey: "postgres"})
	require.Error(t, err)
	var uce *UnsupportedCombinationError
	assert.ErrorAs(t, err, &uce)
}

func TestEngine_Run_UnknownAdapterKey(t *testing.T) {
	reg := NewRegistry()
	e := newTestEngine(reg)

	_, err := e.Run(context.Background(), Spec{SourceKey: "postgres", DestKey: "clickhouse"})
	require.Error(t, err)
}

func TestEngine_Run_HappyPathMigratesAllTables(t *testing.T) {
	src := newFakeSourceAdapter()
	src.tables = []string{"customers", "orders"}
	src.schemas["customers"] = TableDescriptor{Name: "customers", Columns: []Column{{Name: "id", SourceType: "integer"}}, PrimaryKey: []string{"id"}}
	src.schemas["orders"] = TableDescriptor{Name: "orders", Columns: []Column{{Name: "id", SourceType: "integer"}}, PrimaryKey: []string{"id"}}
	src.streams["customers"] = func() RowStream { return newFakeRowStream(Batch{{"id": 1}}, Batch{{"id": 2}}) }
	src.streams["orders"] = func() RowStream { return newFakeRowStream(Batch{{"id": 1}}) }

	dest := newFakeDestAdapter()

	reg := NewRegistry()
	reg.RegisterSource("postgres", func() SourceAdapter { return src })
	reg.RegisterDestination("mysql", func() DestinationAdapter { return dest })

	e := newTestEngine(reg)
	result, err := e.Run(context.Background(), Spec{SourceKey: "postgres", DestKey: "mysql", OperationType: "full"})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.TotalTables)
	assert.Equal(t, int64(3), result.TotalRecords)
	assert.Len(t, result.TablesFailed, 0)
	assert.Len(t, result.TablesMigrated, 2)
}

func TestEngine_Run_TableFailsAfterExhaustingRetries(t *testing.T) {
	src := newFakeSourceAdapter()
	src.tables = []string{"broken"}
	src.schemas["broken"] = TableDescriptor{Name: "broken", Columns: []Column{{Name: "id", SourceType: "integer"}}}
	src.failRead["broken"] = errFake

	dest := newFakeDestAdapter()

	reg := NewRegistry()
	reg.RegisterSource("postgres", func() SourceAdapter { return src })
	reg.RegisterDestination("mysql", func() DestinationAdapter { return dest })

	e := &Engine{registry: reg, logger: zerolog.Nop()}
	result, err := e.Run(context.Background(), Spec{SourceKey: "postgres", DestKey: "mysql", OperationType: "full"})

	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.TablesFailed, 1)
	assert.Equal(t, "broken", result.TablesFailed[0].Table)
	assert.Len(t, result.TablesMigrated, 0)
}

func TestEngine_Run_IncrementalWithoutSinceFails(t *testing.T) {
	src := newFakeSourceAdapter()
	src.tables = []string{"orders"}
	src.schemas["orders"] = TableDescriptor{Name: "orders", Columns: []Column{{Name: "id", SourceType: "integer"}}}

	dest := newFakeDestAdapter()

	reg := NewRegistry()
	reg.RegisterSource("postgres", func() SourceAdapter { return src })
	reg.RegisterDestination("mysql", func() DestinationAdapter { return dest })

	e := newTestEngine(reg)
	result, err := e.Run(context.Background(), Spec{SourceKey: "postgres", DestKey: "mysql", OperationType: "incremental"})

	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.TablesFailed, 1)
}

func TestEngine_Run_NoTablesReportsError(t *testing.T) {
	src := newFakeSourceAdapter()
	dest := newFakeDestAdapter()

	reg := NewRegistry()
	reg.RegisterSource("postgres", func() SourceAdapter { return src })
	reg.RegisterDestination("mysql", func() DestinationAdapter { return dest })

	e := newTestEngine(reg)
	result, err := e.Run(context.Background(), Spec{SourceKey: "postgres", DestKey: "mysql"})

	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalTables)
	assert.NotEmpty(t, result.Errors)
}
