// Package temporal carries the Temporal SDK plumbing for the
// orchestrator's operation-execution workflow: the task queue naming,
// activity input/output types, and the zerolog log adapter, adapted
// from stanstork-stratum-api's internal/temporal package (config.go,
// logging.go) with TaskQueueName/ExecutionParams renamed onto the
// operation domain instead of tenant/job-execution.
package temporal

import "time"

// TaskQueueName is the Temporal task queue every orchestrator worker
// process polls and every workflow start targets.
const TaskQueueName = "MIGRATUM_OPERATIONS"

// WorkflowIDPrefix namespaces operation workflow IDs so they're
// recognizable in the Temporal UI.
const WorkflowIDPrefix = "migratum-operation-"

// DefaultActivityTimeout bounds the short, in-process activities
// (claim, persist-result). EnsureWorker and CallMigrate override this
// per spec with their own longer timeouts.
const DefaultActivityTimeout = 5 * time.Minute

// EnsureWorkerTimeout bounds the Supervisor's health-probe/launch/poll
// sequence.
const EnsureWorkerTimeout = 45 * time.Second

// ExecutionParams is the input to ExecuteWorkflow. It carries only the
// operation ID and the worker-call timeout: everything else the
// workflow needs is loaded from the OperationRepository by
// ClaimOperationActivity, so retries and workflow replay never need to
// re-serialize a stale copy of the operation into workflow history.
type ExecutionParams struct {
	OperationID   string
	MigrateTimeout time.Duration
}
