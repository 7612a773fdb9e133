package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Spec is the input to one Engine.Run invocation — the fully resolved
// (source, destination, operation type) triple the worker's /migrate
// handler decodes off the wire.
type Spec struct {
	SourceKey    string
	SourceConfig map[string]any
	DestKey      string
	DestConfig   map[string]any

	OperationType string // "full" | "incremental"
	Since         *time.Time
}

// Engine is the per-request Pipeline Engine (spec §4.2). One Engine.Run
// call executes exactly one migration end to end and returns a
// MigrationResult; it holds no state across calls.
type Engine struct {
	registry *Registry
	logger   zerolog.Logger
}

func NewEngine(registry *Registry, logger zerolog.Logger) *Engine {
	return &Engine{registry: registry, logger: logger}
}

// Run executes the six-step algorithm of spec §4.2, grounded on
// pipeline_engine.py's migrate().
func (e *Engine) Run(ctx context.Context, spec Spec) (*MigrationResult, error) {
	result := newResult()

	// Step 1: pre-flight.
	if spec.SourceKey == spec.DestKey {
		return nil, &UnsupportedCombinationError{
			SourceType: spec.SourceKey, DestType: spec.DestKey,
			Reason: "source and destination adapters must differ",
		}
	}
	source, err := e.registry.NewSource(spec.SourceKey)
	if err != nil {
		return nil, &UnsupportedCombinationError{SourceType: spec.SourceKey, DestType: spec.DestKey, Reason: err.Error()}
	}
	dest, err := e.registry.NewDestination(spec.DestKey)
	if err != nil {
		return nil, &UnsupportedCombinationError{SourceType: spec.SourceKey, DestType: spec.DestKey, Reason: err.Error()}
	}

	if err := source.Connect(ctx, spec.SourceConfig); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}
	defer source.Disconnect(ctx)

	if err := dest.Connect(ctx, spec.DestConfig, spec.SourceKey); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}
	defer dest.Disconnect(ctx)

	// Step 2: enumerate tables.
	tables, err := source.ListTables(ctx)
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}
	result.TotalTables = len(tables)
	if len(tables) == 0 {
		result.Errors = append(result.Errors, "no tables/modules found in source")
		return result, nil
	}

	evolver := newSchemaEvolver()

	// Step 3: per-table loop with step-4 retry.
	for _, table := range tables {
		e.migrateTableWithRetry(ctx, spec, source, dest, evolver, table, result)
	}

	// Step 5: aggregate.
	result.finalize()
	return result, nil
}

func (e *Engine) migrateTableWithRetry(
	ctx context.Context,
	spec Spec,
	source SourceAdapter,
	dest DestinationAdapter,
	evolver *schemaEvolver,
	table string,
	result *MigrationResult,
) {
	var lastErr error
	for attempt := 0; attempt <= maxRetriesPerTable; attempt++ {
		if attempt > 0 {
			e.logger.Warn().Str("table", table).Int("attempt", attempt+1).Msg("retrying table migration")
			time.Sleep(2 * time.Second)
		}
		records, err := e.migrateTable(ctx, spec, source, dest, evolver, table, result)
		if err == nil {
			result.recordSuccess(table, records)
			return
		}
		lastErr = err
		e.logger.Error().Err(err).Str("table", table).Int("attempt", attempt+1).Msg("table migration error")
	}
	result.recordFailure(table, lastErr)
}

func (e *Engine) migrateTable(
	ctx context.Context,
	spec Spec,
	source SourceAdapter,
	dest DestinationAdapter,
	evolver *schemaEvolver,
	table string,
	result *MigrationResult,
) (int64, error) {
	// State: Untouched -> SchemaResolved
	desc, err := source.GetSchema(ctx, table)
	if err != nil {
		return 0, &SchemaError{Table: table, Cause: err}
	}
	if pk, err := source.GetPrimaryKey(ctx, table); err == nil && len(pk) > 0 {
		desc.PrimaryKey = pk
	}
	if fks, err := source.GetForeignKeys(ctx, table); err == nil {
		desc.ForeignKeys = fks
	}
	if uniques, err := source.GetUniqueConstraints(ctx, table); err == nil {
		desc.UniqueConstraints = uniques
	}
	if idxs, err := source.GetIndexes(ctx, table); err == nil {
		desc.Indexes = idxs
	}

	mapped := dest.MapTypes(desc.Columns, spec.SourceKey)

	// State: SchemaResolved -> TableReady
	if err := dest.CreateTable(ctx, table, mapped, desc.PrimaryKey); err != nil {
		return 0, &SchemaError{Table: table, Cause: err}
	}

	batchSize := batchSizeFor(spec.SourceKey)
	progressEvery := progressLogInterval(spec.SourceKey)

	var stream RowStream
	if spec.OperationType == "incremental" {
		if spec.Since == nil {
			return 0, &SchemaError{Table: table, Cause: errIncrementalRequiresSince}
		}
		stream, err = source.ReadIncremental(ctx, table, *spec.Since, batchSize)
	} else {
		stream, err = source.ReadData(ctx, table, batchSize)
	}
	if err != nil {
		return 0, &ReadError{Table: table, Cause: err}
	}

	// State: TableReady -> Streaming
	var records int64
	var batchCount int
	for {
		batch, ok, err := stream.Next(ctx)
		if err != nil {
			return records, &ReadError{Table: table, Cause: err}
		}
		if !ok {
			break
		}
		if len(batch) == 0 {
			continue
		}
		batchCount++

		if err := evolver.ensure(ctx, dest, table, batch); err != nil {
			e.logger.Warn().Err(err).Str("table", table).Msg("schema evolution failed, continuing write")
		}

		if err := dest.WriteData(ctx, table, batch, desc.PrimaryKey); err != nil {
			return records, &WriteError{Table: table, Cause: err}
		}
		records += int64(len(batch))

		if batchCount%progressEvery == 0 {
			e.logger.Info().Str("table", table).Int("batch", batchCount).Int64("records", records).Msg("migration progress")
		}
	}

	// State: Streaming -> Loaded -> {ConstraintsCreated | ConstraintsPartial}
	e.createPostLoadConstraints(ctx, dest, table, desc, result)

	return records, nil
}

// createPostLoadConstraints runs indexes -> unique -> foreign keys after
// data load, per spec §4.2.3.h. Failures here are non-fatal to the
// table: it stays counted as migrated, but each failure is logged and
// aggregated into MigrationResult.Errors via multierr.
func (e *Engine) createPostLoadConstraints(ctx context.Context, dest DestinationAdapter, table string, desc TableDescriptor, result *MigrationResult) {
	var errs error
	if len(desc.Indexes) > 0 {
		if err := dest.CreateIndexes(ctx, table, desc.Indexes); err != nil {
			errs = multierr.Append(errs, &ConstraintError{Table: table, Kind: "index", Cause: err})
		}
	}
	if len(desc.UniqueConstraints) > 0 {
		if err := dest.CreateUniqueConstraints(ctx, table, desc.UniqueConstraints); err != nil {
			errs = multierr.Append(errs, &ConstraintError{Table: table, Kind: "unique", Cause: err})
		}
	}
	if len(desc.ForeignKeys) > 0 {
		if err := dest.CreateForeignKeys(ctx, table, desc.ForeignKeys); err != nil {
			errs = multierr.Append(errs, &ConstraintError{Table: table, Kind: "foreign_key", Cause: err})
		}
	}
	if errs != nil {
		e.logger.Warn().Err(errs).Str("table", table).Msg("post-load constraint creation partially failed")
		for _, err := range multierr.Errors(errs) {
			result.Errors = append(result.Errors, err.Error())
		}
	}
}
