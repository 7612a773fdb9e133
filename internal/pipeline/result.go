package pipeline

// MigrationResult is the aggregated outcome of one Engine.Run call,
// the Go mirror of the Python service's migrate() return dict.
type MigrationResult struct {
	Success        bool                `json:"success"`
	TablesMigrated []TableRecordCount  `json:"tables_migrated"`
	TablesFailed   []TableFailureEntry `json:"tables_failed"`
	TotalTables    int                 `json:"total_tables"`
	TotalRecords   int64               `json:"total_records"`
	Errors         []string            `json:"errors"`
}

type TableRecordCount struct {
	Table   string `json:"table"`
	Records int64  `json:"records"`
}

type TableFailureEntry struct {
	Table        string `json:"table"`
	ErrorMessage string `json:"error"`
}

func newResult() *MigrationResult {
	return &MigrationResult{
		Success:        true,
		TablesMigrated: []TableRecordCount{},
		TablesFailed:   []TableFailureEntry{},
		Errors:         []string{},
	}
}

func (r *MigrationResult) recordSuccess(table string, records int64) {
	r.TablesMigrated = append(r.TablesMigrated, TableRecordCount{Table: table, Records: records})
	r.TotalRecords += records
}

func (r *MigrationResult) recordFailure(table string, err error) {
	r.TablesFailed = append(r.TablesFailed, TableFailureEntry{Table: table, ErrorMessage: err.Error()})
	r.Errors = append(r.Errors, table+": "+err.Error())
}

func (r *MigrationResult) finalize() {
	r.Success = len(r.TablesFailed) == 0
}
