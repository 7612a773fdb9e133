package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	tc "go.temporal.io/sdk/client"

	"github.com/stanstork/migratum/internal/opmodel"
	orchtemporal "github.com/stanstork/migratum/internal/orchestrator/temporal"
	"github.com/stanstork/migratum/internal/orchestrator/temporal/workflows"
	"github.com/stanstork/migratum/internal/repository"
)

var (
	ErrOperationNotExecutable = fmt.Errorf("operation is not in a pending state")
	ErrOperationNotRetryable  = fmt.Errorf("operation is not in a retryable state")
	ErrOperationNotDue        = fmt.Errorf("operation is not yet due; pass force=true to run it early")
)

// WorkflowStarter is the one tc.Client method Service needs. Depending
// on this narrow interface instead of the full Temporal client keeps
// Service unit-testable without a Temporal test environment.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options tc.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tc.WorkflowRun, error)
}

// Service is the orchestrator's Operation lifecycle API: Create
// persists a new operation, Execute/Retry dispatch it to Temporal, and
// Delete removes one, soft-cancelling it first if it is running. It
// never talks to the worker
// directly — that happens inside the Temporal activities — so this
// type stays a thin, testable layer over OperationRepository and a
// Temporal client.
type Service struct {
	repo           repository.OperationRepository
	temporal       WorkflowStarter
	taskQueue      string
	migrateTimeout time.Duration
	logger         zerolog.Logger
}

func NewService(repo repository.OperationRepository, temporalClient WorkflowStarter, taskQueue string, migrateTimeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:           repo,
		temporal:       temporalClient,
		taskQueue:      taskQueue,
		migrateTimeout: migrateTimeout,
		logger:         logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Create validates and persists a new pending operation (I4: source and
// dest adapter types must both be set and differ).
func (s *Service) Create(op opmodel.Operation) (opmodel.Operation, error) {
	if err := op.Config.Validate(); err != nil {
		return opmodel.Operation{}, err
	}
	return s.repo.Create(op)
}

func (s *Service) Get(id string) (opmodel.Operation, error) {
	return s.repo.Get(id)
}

func (s *Service) List(ownerID string, limit, offset int) ([]opmodel.Operation, error) {
	return s.repo.List(ownerID, limit, offset)
}

// OperationsSummary is the per-owner aggregate view backing GET
// /operations/summary: counts by status and type, plus the most
// recently created operations.
type OperationsSummary struct {
	ByStatus map[opmodel.Status]int        `json:"by_status"`
	ByType   map[opmodel.OperationType]int `json:"by_type"`
	Recent   []opmodel.Operation           `json:"recent"`
}

// Summary aggregates an owner's operations by status and type and
// attaches the recentLimit most recently created ones.
func (s *Service) Summary(ownerID string, recentLimit int) (OperationsSummary, error) {
	byStatus, byType, err := s.repo.CountsByStatusAndType(ownerID)
	if err != nil {
		return OperationsSummary{}, err
	}
	recent, err := s.repo.List(ownerID, recentLimit, 0)
	if err != nil {
		return OperationsSummary{}, err
	}
	return OperationsSummary{ByStatus: byStatus, ByType: byType, Recent: recent}, nil
}

// Delete removes an operation, soft-cancelling it first if it's
// currently running: the running->cancelled transition is persisted
// (completed_at set) before the row itself is removed, so a delete of
// an in-flight operation never leaves an orphaned "running" record
// behind and always leaves a terminal state in its wake.
func (s *Service) Delete(id string) error {
	op, err := s.repo.Get(id)
	if err != nil {
		return err
	}
	if op.Status == opmodel.StatusRunning {
		if err := s.repo.MarkCancelled(id); err != nil {
			return fmt.Errorf("cancel running operation %s before delete: %w", id, err)
		}
	}
	return s.repo.Delete(id)
}

// Execute starts the Temporal workflow for a pending operation. The
// actual pending->running transition happens inside the workflow's
// ClaimOperationActivity, so a caller racing the scheduler never
// double-claims: whichever side wins the DB compare-and-set proceeds,
// the other observes StatusRunning and continues without error.
//
// A pending operation whose scheduled_at hasn't passed yet is rejected
// unless force is set (§4.3 Execute).
func (s *Service) Execute(ctx context.Context, id string, force bool) error {
	op, err := s.repo.Get(id)
	if err != nil {
		return err
	}
	if !CanExecute(op.Status) {
		return ErrOperationNotExecutable
	}
	if !IsDue(op.ScheduledAt, time.Now(), force) {
		return ErrOperationNotDue
	}
	return s.startWorkflow(ctx, id)
}

// Retry re-dispatches a failed or completed operation (§4.3's explicit
// retry transitions).
func (s *Service) Retry(ctx context.Context, id string) error {
	op, err := s.repo.Get(id)
	if err != nil {
		return err
	}
	if !CanRetry(op.Status) {
		return ErrOperationNotRetryable
	}
	return s.startWorkflow(ctx, id)
}

// Dispatch starts the workflow for an operation the scheduler has
// already claimed (status already transitioned to running by
// ClaimNextDue). It's exported for internal/scheduler to call without
// duplicating the workflow-start plumbing.
func (s *Service) Dispatch(ctx context.Context, op opmodel.Operation) error {
	return s.startWorkflow(ctx, op.ID)
}

func (s *Service) startWorkflow(ctx context.Context, operationID string) error {
	options := tc.StartWorkflowOptions{
		ID:        orchtemporal.WorkflowIDPrefix + operationID,
		TaskQueue: s.taskQueue,
	}
	params := orchtemporal.ExecutionParams{OperationID: operationID, MigrateTimeout: s.migrateTimeout}
	run, err := s.temporal.ExecuteWorkflow(ctx, options, workflows.ExecuteWorkflow, params)
	if err != nil {
		return fmt.Errorf("start execution workflow for %s: %w", operationID, err)
	}
	s.logger.Info().Str("operationID", operationID).Str("workflowID", run.GetID()).Str("runID", run.GetRunID()).Msg("dispatched operation")
	return nil
}
