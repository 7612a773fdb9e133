package pipeline

import (
	"context"
	"sync"
)

// schemaEvolver caches the live column set of each (table) the current
// operation has touched so the O(columns) diff against a batch's
// keyspace only re-queries the destination on the first encounter of a
// table, per spec §4.4.
type schemaEvolver struct {
	mu      sync.Mutex
	columns map[string]map[string]bool // table -> known column set
}

func newSchemaEvolver() *schemaEvolver {
	return &schemaEvolver{columns: make(map[string]map[string]bool)}
}

// ensure diffs the batch's keyspace against the cached (or freshly
// queried) live columns and asks the destination to add anything
// missing as a nullable, widest-string-type column before the batch is
// written.
func (e *schemaEvolver) ensure(ctx context.Context, dest DestinationAdapter, table string, batch Batch) error {
	e.mu.Lock()
	known, cached := e.columns[table]
	e.mu.Unlock()

	if !cached {
		cols, err := dest.ColumnsFor(ctx, table)
		if err != nil {
			return err
		}
		known = make(map[string]bool, len(cols))
		for _, c := range cols {
			known[c] = true
		}
		e.mu.Lock()
		e.columns[table] = known
		e.mu.Unlock()
	}

	var missing []DestColumn
	seen := make(map[string]bool)
	for _, row := range batch {
		for col := range row {
			if known[col] || seen[col] {
				continue
			}
			seen[col] = true
			missing = append(missing, DestColumn{Name: col, DestType: "", Nullable: true})
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if err := dest.EvolveSchema(ctx, table, missing); err != nil {
		return err
	}

	e.mu.Lock()
	for _, m := range missing {
		known[m.Name] = true
	}
	e.mu.Unlock()
	return nil
}
