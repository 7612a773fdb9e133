package activities

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/stanstork/migratum/internal/opmodel"
	"github.com/stanstork/migratum/internal/pipeline"
	"github.com/stanstork/migratum/internal/repository"
)

type fakeRepo struct {
	ops        map[string]opmodel.Operation
	markFailed string
}

func newFakeRepo(ops ...opmodel.Operation) *fakeRepo {
	f := &fakeRepo{ops: make(map[string]opmodel.Operation)}
	for _, op := range ops {
		f.ops[op.ID] = op
	}
	return f
}

func (f *fakeRepo) Create(op opmodel.Operation) (opmodel.Operation, error) { panic("unused") }
func (f *fakeRepo) Get(id string) (opmodel.Operation, error) {
	op, ok := f.ops[id]
	if !ok {
		return opmodel.Operation{}, repository.ErrOperationNotFound
	}
	return op, nil
}
func (f *fakeRepo) ClaimNextDue(now time.Time) (*opmodel.Operation, error) { panic("unused") }
func (f *fakeRepo) UpdateStatus(id string, from, to opmodel.Status) error  { panic("unused") }
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
	f.markFailed = id
	op := f.ops[id]
	op.Status = opmodel.StatusFailed
	op.ErrorMessage = &errMsg
	f.ops[id] = op
	return nil
}
func (f *fakeRepo) MarkCancelled(id string) error {
	op := f.ops[id]
	op.Status = opmodel.StatusCancelled
	f.ops[id] = op
	return nil
}
func (f *fakeRepo) List(ownerID string, limit, offset int) ([]opmodel.Operation, error) {
	panic("unused")
}
func (f *fakeRepo) CountsByStatusAndType(ownerID string) (map[opmodel.Status]int, map[opmodel.OperationType]int, error) {
	panic("unused")
}
func (f *fakeRepo) Delete(id string) error { panic("unused") }

var _ repository.OperationRepository = (*fakeRepo)(nil)

type fakeSupervisor struct{ err error }

func (f *fakeSupervisor) EnsureWorker(ctx context.Context) error { return f.err }

type fakeWorker struct {
	result *pipeline.MigrationResult
	err    error
}

func (f *fakeWorker) Migrate(ctx context.Context, spec pipeline.Spec) (*pipeline.MigrationResult, error) {
	return f.result, f.err
}

// runActivity registers a's activities in a Temporal test environment
// and executes fn inside it, so activity.GetLogger/RecordHeartbeat don't
// panic outside a real worker.
func runActivity(t *testing.T, a *Activities, fn func(env *testsuite.TestActivityEnvironment)) {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(a)
	fn(env)
}

func TestClaimOperationActivity_ClaimsPendingOperation(t *testing.T) {
	repo := newFakeRepo(opmodel.Operation{ID: "op-1", Status: opmodel.StatusPending})
	a := &Activities{Repo: repo}

	runActivity(t, a, func(env *testsuite.TestActivityEnvironment) {
		val, err := env.ExecuteActivity(a.ClaimOperationActivity, "op-1")
		require.NoError(t, err)
		var op opmodel.Operation
		require.NoError(t, val.Get(&op))
		assert.Equal(t, opmodel.StatusRunning, op.Status)
		assert.Equal(t, opmodel.StatusRunning, repo.ops["op-1"].Status)
	})
}

func TestClaimOperationActivity_IdempotentWhenAlreadyRunning(t *testing.T) {
	repo := newFakeRepo(opmodel.Operation{ID: "op-2", Status: opmodel.StatusRunning})
	a := &Activities{Repo: repo}

	runActivity(t, a, func(env *testsuite.TestActivityEnvironment) {
		val, err := env.ExecuteActivity(a.ClaimOperationActivity, "op-2")
		require.NoError(t, err)
		var op opmodel.Operation
		require.NoError(t, val.Get(&op))
		assert.Equal(t, opmodel.StatusRunning, op.Status)
	})
}

func TestClaimOperationActivity_RejectsIllegalTransition(t *testing.T) {
	repo := newFakeRepo(opmodel.Operation{ID: "op-3", Status: opmodel.StatusCancelled})
	a := &Activities{Repo: repo}

	runActivity(t, a, func(env *testsuite.TestActivityEnvironment) {
		_, err := env.ExecuteActivity(a.ClaimOperationActivity, "op-3")
		assert.Error(t, err)
	})
}

func TestEnsureWorkerActivity_PropagatesSupervisorError(t *testing.T) {
	a := &Activities{Supervisor: &fakeSupervisor{err: errors.New("container unhealthy")}}

	runActivity(t, a, func(env *testsuite.TestActivityEnvironment) {
		_, err := env.ExecuteActivity(a.EnsureWorkerActivity)
		assert.Error(t, err)
	})
}

func TestCallMigrateActivity_ReturnsWorkerResult(t *testing.T) {
	a := &Activities{Worker: &fakeWorker{result: &pipeline.MigrationResult{Success: true, TotalTables: 3}}}
	op := opmodel.Operation{
		ID:     "op-4",
		Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"},
	}

	runActivity(t, a, func(env *testsuite.TestActivityEnvironment) {
		val, err := env.ExecuteActivity(a.CallMigrateActivity, op)
		require.NoError(t, err)
		var result pipeline.MigrationResult
		require.NoError(t, val.Get(&result))
		assert.True(t, result.Success)
		assert.Equal(t, 3, result.TotalTables)
	})
}

func TestPersistResultActivity_MapsFieldsIntoSummary(t *testing.T) {
	repo := newFakeRepo(opmodel.Operation{ID: "op-5", Status: opmodel.StatusRunning})
	a := &Activities{Repo: repo}

	result := pipeline.MigrationResult{
		Success:        true,
		TotalTables:    1,
		TotalRecords:   10,
		TablesMigrated: []pipeline.TableRecordCount{{Table: "users", Records: 10}},
	}

	runActivity(t, a, func(env *testsuite.TestActivityEnvironment) {
		_, err := env.ExecuteActivity(a.PersistResultActivity, "op-5", result)
		require.NoError(t, err)
	})

	stored := repo.ops["op-5"]
	require.NotNil(t, stored.Result)
	assert.Equal(t, opmodel.StatusCompleted, stored.Status)
	assert.Len(t, stored.Result.TablesMigrated, 1)
	assert.Equal(t, "users", stored.Result.TablesMigrated[0].Table)
}

func TestMarkOperationFailedActivity_RecordsFailure(t *testing.T) {
	repo := newFakeRepo(opmodel.Operation{ID: "op-6", Status: opmodel.StatusRunning})
	a := &Activities{Repo: repo}

	runActivity(t, a, func(env *testsuite.TestActivityEnvironment) {
		_, err := env.ExecuteActivity(a.MarkOperationFailedActivity, "op-6", "worker unreachable")
		require.NoError(t, err)
	})

	assert.Equal(t, "op-6", repo.markFailed)
	assert.Equal(t, opmodel.StatusFailed, repo.ops["op-6"].Status)
}
