package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/stanstork/migratum/internal/opmodel"
	"github.com/stanstork/migratum/internal/orchestrator/temporal"
	"github.com/stanstork/migratum/internal/orchestrator/temporal/activities"
	"github.com/stanstork/migratum/internal/pipeline"
)

// ExecuteWorkflow drives one operation through claim -> ensure-worker ->
// call-migrate -> persist-result, the operation-domain rewrite of
// stanstork-stratum-api's ExecutionWorkflow (create -> prepare -> run ->
// handle-completion).
func ExecuteWorkflow(ctx workflow.Context, params temporal.ExecutionParams) error {
	ao := workflow.ActivityOptions{StartToCloseTimeout: temporal.DefaultActivityTimeout}
	ctx = workflow.WithActivityOptions(ctx, ao)

	logger := workflow.GetLogger(ctx)
	logger.Info("starting operation execution workflow", "OperationID", params.OperationID)

	// The actual implementation lives on the worker process registered
	// against the task queue; this is just a typed proxy for
	// ExecuteActivity to resolve method names against.
	var a *activities.Activities

	var op opmodel.Operation
	if err := workflow.ExecuteActivity(ctx, a.ClaimOperationActivity, params.OperationID).Get(ctx, &op); err != nil {
		logger.Error("failed to claim operation", "error", err)
		return err
	}

	ensureCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: temporal.EnsureWorkerTimeout,
	})
	if err := workflow.ExecuteActivity(ensureCtx, a.EnsureWorkerActivity).Get(ensureCtx, nil); err != nil {
		msg := fmt.Sprintf("worker did not become healthy: %v", err)
		workflow.ExecuteActivity(ctx, a.MarkOperationFailedActivity, params.OperationID, msg).Get(ctx, nil)
		logger.Error("ensure-worker failed", "error", err)
		return err
	}

	migrateTimeout := params.MigrateTimeout
	if migrateTimeout <= 0 {
		migrateTimeout = time.Hour
	}
	migrateCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{StartToCloseTimeout: migrateTimeout})

	var result pipeline.MigrationResult
	if err := workflow.ExecuteActivity(migrateCtx, a.CallMigrateActivity, op).Get(migrateCtx, &result); err != nil {
		msg := fmt.Sprintf("migrate call failed: %v", err)
		workflow.ExecuteActivity(ctx, a.MarkOperationFailedActivity, params.OperationID, msg).Get(ctx, nil)
		logger.Error("call-migrate failed", "error", err)
		return err
	}

	if err := workflow.ExecuteActivity(ctx, a.PersistResultActivity, params.OperationID, result).Get(ctx, nil); err != nil {
		logger.Error("failed to persist result", "error", err)
		return err
	}

	logger.Info("operation execution workflow completed", "OperationID", params.OperationID)
	return nil
}
