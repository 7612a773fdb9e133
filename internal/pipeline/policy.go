package pipeline

// apiSourceBatchSizes gives the small, API-appropriate batch size for
// each known SaaS/API source key, grounded on pipeline_engine.py's
// per-source batch_size branches (devops=50, zoho=200). Any source key
// not listed here is treated as a relational source and gets the large
// default batch size — the engine never falls back to one constant for
// every source, per spec §4.2.d. zohocrm is capped at 100 here rather
// than the original's 200: API source batches must stay <=100 (§8, P7).
var apiSourceBatchSizes = map[string]int{
	"zohocrm": 100,
	"devops":  50,
}

const (
	defaultRelationalBatchSize = 1000
	maxRetriesPerTable         = 2
	apiProgressLogEveryBatch   = 1
	sqlProgressLogEveryBatches = 10
)

// batchSizeFor returns the batch size the engine should request from
// ReadData/ReadIncremental for the given source key.
func batchSizeFor(sourceKey string) int {
	if size, ok := apiSourceBatchSizes[sourceKey]; ok {
		return size
	}
	return defaultRelationalBatchSize
}

// isAPISource reports whether sourceKey identifies a paginated SaaS/API
// adapter, which drives both batch sizing and progress-log cadence.
func isAPISource(sourceKey string) bool {
	_, ok := apiSourceBatchSizes[sourceKey]
	return ok
}

// progressLogInterval returns how many batches should elapse between
// progress log lines for the given source family (spec §4.2.g).
func progressLogInterval(sourceKey string) int {
	if isAPISource(sourceKey) {
		return apiProgressLogEveryBatch
	}
	return sqlProgressLogEveryBatches
}
