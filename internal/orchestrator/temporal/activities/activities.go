// Package activities implements the Temporal activities behind
// ExecuteWorkflow, adapted from stanstork-stratum-api's
// internal/temporal/activities/exec_activities.go: the prepare/run/
// complete container-lifecycle shape becomes claim/ensure-worker/
// call-migrate/persist-result against a long-lived worker HTTP
// endpoint instead of a per-job Docker container, plus
// mark-operation-failed for the workflow's failure branches.
package activities

import (
	"context"
	"encoding/json"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/stanstork/migratum/internal/opmodel"
	"github.com/stanstork/migratum/internal/pipeline"
	"github.com/stanstork/migratum/internal/repository"
)

// WorkerSupervisor is the one *supervisor.Supervisor method
// EnsureWorkerActivity needs. Depending on this instead of the concrete
// type keeps Activities unit-testable without a Docker daemon.
type WorkerSupervisor interface {
	EnsureWorker(ctx context.Context) error
}

// WorkerCaller is the subset of *workerclient.Client CallMigrateActivity
// needs.
type WorkerCaller interface {
	Migrate(ctx context.Context, spec pipeline.Spec) (*pipeline.MigrationResult, error)
}

type Activities struct {
	Repo       repository.OperationRepository
	Supervisor WorkerSupervisor
	Worker     WorkerCaller
}

// ClaimOperationActivity performs the compare-and-set pending->running
// transition for one operation (or failed/completed->running on
// retry). It is idempotent: if the operation is already running —
// because the scheduler's ClaimNextDue already claimed it before
// starting this workflow — it just loads and returns the current
// record instead of erroring, so both the scheduler's pre-claimed
// dispatch and the manual Execute API's un-claimed dispatch can share
// one workflow.
func (a *Activities) ClaimOperationActivity(ctx context.Context, operationID string) (opmodel.Operation, error) {
	logger := activity.GetLogger(ctx)

	op, err := a.Repo.Get(operationID)
	if err != nil {
		return opmodel.Operation{}, fmt.Errorf("fetch operation %s: %w", operationID, err)
	}

	if op.Status == opmodel.StatusRunning {
		logger.Info("operation already claimed", "operationID", operationID)
		return op, nil
	}

	if err := opmodel.RequireTransition(op.Status, opmodel.StatusRunning); err != nil {
		return opmodel.Operation{}, err
	}
	if err := a.Repo.MarkStarted(operationID); err != nil {
		return opmodel.Operation{}, fmt.Errorf("claim operation %s: %w", operationID, err)
	}

	logger.Info("claimed operation", "operationID", operationID)
	op.Status = opmodel.StatusRunning
	return op, nil
}

// EnsureWorkerActivity makes sure the managed worker container is
// running and healthy before CallMigrateActivity dispatches to it.
func (a *Activities) EnsureWorkerActivity(ctx context.Context) error {
	logger := activity.GetLogger(ctx)
	activity.RecordHeartbeat(ctx, "probing-worker")
	if err := a.Supervisor.EnsureWorker(ctx); err != nil {
		logger.Error("worker did not become healthy", "error", err)
		return err
	}
	return nil
}

// CallMigrateActivity issues the signed HTTP call to the worker's
// /migrate endpoint and returns its MigrationResult verbatim.
func (a *Activities) CallMigrateActivity(ctx context.Context, op opmodel.Operation) (pipeline.MigrationResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("calling worker migrate", "operationID", op.ID, "source", op.Config.SourceType, "dest", op.Config.DestType)

	spec, err := specFromOperation(op)
	if err != nil {
		return pipeline.MigrationResult{}, err
	}

	result, err := a.Worker.Migrate(ctx, spec)
	if err != nil {
		logger.Error("worker migrate call failed", "operationID", op.ID, "error", err)
		return pipeline.MigrationResult{}, err
	}
	return *result, nil
}

// PersistResultActivity writes the terminal status and result payload
// atomically, per spec §4.3.
func (a *Activities) PersistResultActivity(ctx context.Context, operationID string, result pipeline.MigrationResult) error {
	logger := activity.GetLogger(ctx)
	summary := opmodel.MigrationSummary{
		Success:      result.Success,
		TotalTables:  result.TotalTables,
		TotalRecords: result.TotalRecords,
		Errors:       result.Errors,
	}
	for _, t := range result.TablesMigrated {
		summary.TablesMigrated = append(summary.TablesMigrated, opmodel.TableRecordCount{Table: t.Table, Records: t.Records})
	}
	for _, f := range result.TablesFailed {
		summary.TablesFailed = append(summary.TablesFailed, opmodel.TableFailure{Table: f.Table, ErrorMessage: f.ErrorMessage})
	}

	if err := a.Repo.MarkCompleted(operationID, summary); err != nil {
		logger.Error("failed to persist migration result", "operationID", operationID, "error", err)
		return err
	}
	logger.Info("persisted migration result", "operationID", operationID, "success", summary.Success)
	return nil
}

// MarkOperationFailedActivity records a terminal failure that happened
// outside the migration itself (worker never became healthy, the HTTP
// call errored before returning a result), matching
// UpdateJobStatusActivity's use on the teacher's failure branches.
func (a *Activities) MarkOperationFailedActivity(ctx context.Context, operationID, message string) error {
	logger := activity.GetLogger(ctx)
	if err := a.Repo.MarkFailed(operationID, message); err != nil {
		logger.Error("failed to mark operation failed", "operationID", operationID, "error", err)
		return err
	}
	return nil
}

func decodeConfig(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var config map[string]any
	if err := json.Unmarshal(raw, &config); err != nil {
		return nil, err
	}
	return config, nil
}

func specFromOperation(op opmodel.Operation) (pipeline.Spec, error) {
	sourceConfig, err := decodeConfig(op.Config.Source)
	if err != nil {
		return pipeline.Spec{}, fmt.Errorf("decode source config: %w", err)
	}
	destConfig, err := decodeConfig(op.Config.Destination)
	if err != nil {
		return pipeline.Spec{}, fmt.Errorf("decode destination config: %w", err)
	}

	return pipeline.Spec{
		SourceKey:     op.Config.SourceType,
		SourceConfig:  sourceConfig,
		DestKey:       op.Config.DestType,
		DestConfig:    destConfig,
		OperationType: string(op.OperationType),
		Since:         op.LastSyncTime,
	}, nil
}
