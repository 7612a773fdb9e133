package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "go.temporal.io/sdk/client"

	"github.com/stanstork/migratum/internal/opmodel"
	"github.com/stanstork/migratum/internal/repository"
)

// fakeRepo is an in-memory repository.OperationRepository for exercising
// Service without a database.
type fakeRepo struct {
	ops map[string]opmodel.Operation
}

func newFakeRepo() *fakeRepo { return &fakeRepo{ops: make(map[string]opmodel.Operation)} }

func (f *fakeRepo) Create(op opmodel.Operation) (opmodel.Operation, error) {
	if op.ID == "" {
		op.ID = "op-" + op.OwnerID
	}
	op.Status = opmodel.StatusPending
	f.ops[op.ID] = op
	return op, nil
}

func (f *fakeRepo) Get(id string) (opmodel.Operation, error) {
	op, ok := f.ops[id]
	if !ok {
		return opmodel.Operation{}, repository.ErrOperationNotFound
	}
	return op, nil
}

func (f *fakeRepo) ClaimNextDue(now time.Time) (*opmodel.Operation, error) { return nil, nil }

func (f *fakeRepo) UpdateStatus(id string, from, to opmodel.Status) error {
	op := f.ops[id]
	if err := opmodel.RequireTransition(from, to); err != nil {
		return err
	}
	op.Status = to
	f.ops[id] = op
	return nil
}

func (f *fakeRepo) MarkStarted(id string) error {
	op := f.ops[id]
	op.Status = opmodel.StatusRunning
	f.ops[id] = op
	return nil
}

func (f *fakeRepo) MarkCompleted(id string, result opmodel.MigrationSummary) error {
	op := f.ops[id]
	op.Status = opmodel.StatusCompleted
	op.Result = &result
	f.ops[id] = op
	return nil
}

func (f *fakeRepo) MarkFailed(id string, errMsg string) error {
	op := f.ops[id]
	op.Status = opmodel.StatusFailed
	op.ErrorMessage = &errMsg
	f.ops[id] = op
	return nil
}

func (f *fakeRepo) MarkCancelled(id string) error {
	op, ok := f.ops[id]
	if !ok {
		return repository.ErrOperationNotFound
	}
	if err := opmodel.RequireTransition(op.Status, opmodel.StatusCancelled); err != nil {
		return err
	}
	op.Status = opmodel.StatusCancelled
	f.ops[id] = op
	return nil
}

func (f *fakeRepo) CountsByStatusAndType(ownerID string) (map[opmodel.Status]int, map[opmodel.OperationType]int, error) {
	byStatus := make(map[opmodel.Status]int)
	byType := make(map[opmodel.OperationType]int)
	for _, op := range f.ops {
		if op.OwnerID != ownerID {
			continue
		}
		byStatus[op.Status]++
		byType[op.OperationType]++
	}
	return byStatus, byType, nil
}

func (f *fakeRepo) List(ownerID string, limit, offset int) ([]opmodel.Operation, error) {
	var out []opmodel.Operation
	for _, op := range f.ops {
		if op.OwnerID == ownerID {
			out = append(out, op)
		}
	}
	return out, nil
}

func (f *fakeRepo) Delete(id string) error {
	if _, ok := f.ops[id]; !ok {
		return repository.ErrOperationNotFound
	}
	delete(f.ops, id)
	return nil
}

// fakeWorkflowRun and fakeStarter let Service.startWorkflow be exercised
// without a real Temporal server.
type fakeWorkflowRun struct{}

func (fakeWorkflowRun) GetID() string    { return "wf-1" }
func (fakeWorkflowRun) GetRunID() string { return "run-1" }
func (fakeWorkflowRun) Get(ctx context.Context, valuePtr interface{}) error { return nil }
func (fakeWorkflowRun) GetWithOptions(ctx context.Context, valuePtr interface{}, options tc.WorkflowRunGetOptions) error {
	return nil
}

type fakeStarter struct {
	calls   int
	lastID  string
	failErr error
}

func (f *fakeStarter) ExecuteWorkflow(ctx context.Context, options tc.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tc.WorkflowRun, error) {
	f.calls++
	f.lastID = options.ID
	if f.failErr != nil {
		return nil, f.failErr
	}
	return fakeWorkflowRun{}, nil
}

func newTestService(repo *fakeRepo, starter *fakeStarter) *Service {
	return NewService(repo, starter, "test-queue", time.Hour, zerolog.Nop())
}

func TestService_Create_RejectsMismatchedConfig(t *testing.T) {
	svc := newTestService(newFakeRepo(), &fakeStarter{})
	_, err := svc.Create(opmodel.Operation{
		OwnerID: "acme",
		Config:  opmodel.OperationConfig{SourceType: "postgresql", DestType: "postgresql"},
	})
	assert.ErrorIs(t, err, opmodel.ErrSameSourceAndDest)
}

func TestService_Execute_StartsWorkflowForPendingOperation(t *testing.T) {
	repo := newFakeRepo()
	op, err := repo.Create(opmodel.Operation{OwnerID: "acme", Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"}})
	require.NoError(t, err)

	starter := &fakeStarter{}
	svc := newTestService(repo, starter)

	require.NoError(t, svc.Execute(context.Background(), op.ID, false))
	assert.Equal(t, 1, starter.calls)
	assert.Contains(t, starter.lastID, op.ID)
}

func TestService_Execute_RejectsNonPendingOperation(t *testing.T) {
	repo := newFakeRepo()
	op, _ := repo.Create(opmodel.Operation{OwnerID: "acme", Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"}})
	require.NoError(t, repo.MarkStarted(op.ID))

	svc := newTestService(repo, &fakeStarter{})
	err := svc.Execute(context.Background(), op.ID, false)
	assert.ErrorIs(t, err, ErrOperationNotExecutable)
}

func TestService_Execute_RejectsNotYetDueWithoutForce(t *testing.T) {
	repo := newFakeRepo()
	op, err := repo.Create(opmodel.Operation{
		OwnerID:     "acme",
		ScheduledAt: time.Now().Add(time.Hour),
		Config:      opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"},
	})
	require.NoError(t, err)

	svc := newTestService(repo, &fakeStarter{})
	err = svc.Execute(context.Background(), op.ID, false)
	assert.ErrorIs(t, err, ErrOperationNotDue)
}

func TestService_Execute_ForceBypassesScheduledTimeGate(t *testing.T) {
	repo := newFakeRepo()
	op, err := repo.Create(opmodel.Operation{
		OwnerID:     "acme",
		ScheduledAt: time.Now().Add(time.Hour),
		Config:      opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"},
	})
	require.NoError(t, err)

	starter := &fakeStarter{}
	svc := newTestService(repo, starter)
	require.NoError(t, svc.Execute(context.Background(), op.ID, true))
	assert.Equal(t, 1, starter.calls)
}

func TestService_Retry_AllowsFailedOperation(t *testing.T) {
	repo := newFakeRepo()
	op, _ := repo.Create(opmodel.Operation{OwnerID: "acme", Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"}})
	require.NoError(t, repo.MarkFailed(op.ID, "boom"))

	starter := &fakeStarter{}
	svc := newTestService(repo, starter)
	require.NoError(t, svc.Retry(context.Background(), op.ID))
	assert.Equal(t, 1, starter.calls)
}

func TestService_Delete_SoftCancelsRunningOperation(t *testing.T) {
	repo := newFakeRepo()
	op, _ := repo.Create(opmodel.Operation{OwnerID: "acme", Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"}})
	require.NoError(t, repo.MarkStarted(op.ID))

	svc := newTestService(repo, &fakeStarter{})
	require.NoError(t, svc.Delete(op.ID))

	_, err := repo.Get(op.ID)
	assert.ErrorIs(t, err, repository.ErrOperationNotFound)
}
