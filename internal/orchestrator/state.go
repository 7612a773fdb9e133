// Package orchestrator owns the Operation lifecycle: creating
// operations, dispatching them to Temporal for execution, retrying
// failed or completed ones, and deleting them. Grounded on
// stanstork-stratum-api's handlers.JobHandler for the surface shape
// (CreateJob/RunJob/GetJobStatus become Create/Execute/Status here),
// but with the state machine and Temporal dispatch stanstork-stratum-api
// leaves implicit made explicit via opmodel.RequireTransition.
package orchestrator

import (
	"time"

	"github.com/stanstork/migratum/internal/opmodel"
)

// CanExecute reports whether an operation in the given status may be
// dispatched via Execute (a pending operation not yet claimed by the
// scheduler).
func CanExecute(status opmodel.Status) bool {
	return status == opmodel.StatusPending
}

// IsDue reports whether a pending operation's scheduled_at has passed,
// or force is set to run it early (§4.3 Execute: "reject if status =
// pending and scheduled_at > now and not force").
func IsDue(scheduledAt time.Time, now time.Time, force bool) bool {
	return force || !scheduledAt.After(now)
}

// CanRetry reports whether an operation in the given status may be
// re-run via Retry (§4.3's failed/completed -> running transitions).
func CanRetry(status opmodel.Status) bool {
	return opmodel.CanTransition(status, opmodel.StatusRunning) && status != opmodel.StatusPending
}

