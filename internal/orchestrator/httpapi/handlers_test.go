package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "go.temporal.io/sdk/client"

	"github.com/stanstork/migratum/internal/opmodel"
	"github.com/stanstork/migratum/internal/orchestrator"
	"github.com/stanstork/migratum/internal/repository"
)

// fakeRepo is an in-memory repository.OperationRepository, local to this
// package so handler tests don't need a database.
type fakeRepo struct {
	ops map[string]opmodel.Operation
}

func newFakeRepo() *fakeRepo { return &fakeRepo{ops: make(map[string]opmodel.Operation)} }

func (f *fakeRepo) Create(op opmodel.Operation) (opmodel.Operation, error) {
	if op.ID == "" {
		op.ID = fmt.Sprintf("op-%d", len(f.ops)+1)
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

type fakeWorkflowRun struct{}

func (fakeWorkflowRun) GetID() string    { return "wf-1" }
func (fakeWorkflowRun) GetRunID() string { return "run-1" }
func (fakeWorkflowRun) Get(ctx context.Context, valuePtr interface{}) error { return nil }
func (fakeWorkflowRun) GetWithOptions(ctx context.Context, valuePtr interface{}, options tc.WorkflowRunGetOptions) error {
	return nil
}

type fakeStarter struct{}

func (f *fakeStarter) ExecuteWorkflow(ctx context.Context, options tc.StartWorkflowOptions, workflow interface{}, args ...interface{}) (tc.WorkflowRun, error) {
	return fakeWorkflowRun{}, nil
}

func newTestServer() (*httptest.Server, *fakeRepo) {
	repo := newFakeRepo()
	service := orchestrator.NewService(repo, &fakeStarter{}, "test-queue", time.Hour, zerolog.Nop())
	handlers := NewHandlers(service, zerolog.Nop())
	return httptest.NewServer(NewRouter(handlers)), repo
}

func TestCreateOperation_Success(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	payload, _ := json.Marshal(createOperationRequest{
		OwnerID: "acme",
		Config:  opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"},
	})
	resp, err := http.Post(srv.URL+"/api/operations", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var op opmodel.Operation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&op))
	assert.Equal(t, opmodel.StatusPending, op.Status)
}

func TestCreateOperation_RejectsInvalidConfig(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	payload, _ := json.Marshal(createOperationRequest{
		OwnerID: "acme",
		Config:  opmodel.OperationConfig{SourceType: "postgresql", DestType: "postgresql"},
	})
	resp, err := http.Post(srv.URL+"/api/operations", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOperation_NotFound(t *testing.T) {
	srv, _ := newTestServer()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/operations/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteOperation_AcceptsPendingOperation(t *testing.T) {
	srv, repo := newTestServer()
	defer srv.Close()

	op, err := repo.Create(opmodel.Operation{OwnerID: "acme", Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"}})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/operations/"+op.ID+"/execute", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestExecuteOperation_ConflictWhenAlreadyRunning(t *testing.T) {
	srv, repo := newTestServer()
	defer srv.Close()

	op, _ := repo.Create(opmodel.Operation{OwnerID: "acme", Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"}})
	require.NoError(t, repo.MarkStarted(op.ID))

	resp, err := http.Post(srv.URL+"/api/operations/"+op.ID+"/execute", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteOperation_SoftCancelsRunningOperation(t *testing.T) {
	srv, repo := newTestServer()
	defer srv.Close()

	op, _ := repo.Create(opmodel.Operation{OwnerID: "acme", Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"}})
	require.NoError(t, repo.MarkStarted(op.ID))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/operations/"+op.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = repo.Get(op.ID)
	assert.ErrorIs(t, err, repository.ErrOperationNotFound)
}

func TestExecuteOperation_RejectsNotYetDueUnlessForced(t *testing.T) {
	srv, repo := newTestServer()
	defer srv.Close()

	op, _ := repo.Create(opmodel.Operation{
		OwnerID:     "acme",
		ScheduledAt: time.Now().Add(time.Hour),
		Config:      opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"},
	})

	resp, err := http.Post(srv.URL+"/api/operations/"+op.ID+"/execute", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp2, err := http.Post(srv.URL+"/api/operations/"+op.ID+"/execute?force=true", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp2.StatusCode)
}

func TestGetOperationsSummary_AggregatesByStatusAndType(t *testing.T) {
	srv, repo := newTestServer()
	defer srv.Close()

	op1, _ := repo.Create(opmodel.Operation{OwnerID: "acme", OperationType: opmodel.OperationFull, Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"}})
	_, _ = repo.Create(opmodel.Operation{OwnerID: "acme", OperationType: opmodel.OperationIncremental, Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"}})
	require.NoError(t, repo.MarkStarted(op1.ID))

	resp, err := http.Get(srv.URL + "/api/operations/summary?owner_id=acme")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var summary struct {
		ByStatus map[string]int `json:"by_status"`
		ByType   map[string]int `json:"by_type"`
		Recent   []opmodel.Operation `json:"recent"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, 1, summary.ByStatus["running"])
	assert.Equal(t, 1, summary.ByStatus["pending"])
	assert.Len(t, summary.Recent, 2)
}

func TestGetOperationSummary_ConflictWhenNoResultYet(t *testing.T) {
	srv, repo := newTestServer()
	defer srv.Close()

	op, _ := repo.Create(opmodel.Operation{OwnerID: "acme", Config: opmodel.OperationConfig{SourceType: "postgresql", DestType: "mysql"}})

	resp, err := http.Get(srv.URL + "/api/operations/" + op.ID + "/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
