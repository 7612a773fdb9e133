package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanstork/migratum/internal/opmodel"
	"github.com/stanstork/migratum/internal/repository"
)

// fakeRepo only implements the pieces of repository.OperationRepository
// the scheduler actually calls; everything else panics if reached.
type fakeRepo struct {
	claimOp  *opmodel.Operation
	claimErr error
	claimed  int
}

func (f *fakeRepo) Create(op opmodel.Operation) (opmodel.Operation, error) { panic("unused") }
func (f *fakeRepo) Get(id string) (opmodel.Operation, error)               { panic("unused") }
func (f *fakeRepo) ClaimNextDue(now time.Time) (*opmodel.Operation, error) {
	f.claimed++
	return f.claimOp, f.claimErr
}
func (f *fakeRepo) UpdateStatus(id string, from, to opmodel.Status) error { panic("unused") }
func (f *fakeRepo) MarkStarted(id string) error                          { panic("unused") }
func (f *fakeRepo) MarkCompleted(id string, result opmodel.MigrationSummary) error {
	panic("unused")
}
func (f *fakeRepo) MarkFailed(id string, errMsg string) error                    { panic("unused") }
func (f *fakeRepo) MarkCancelled(id string) error                                { panic("unused") }
func (f *fakeRepo) List(ownerID string, limit, offset int) ([]opmodel.Operation, error) {
	panic("unused")
}
func (f *fakeRepo) CountsByStatusAndType(ownerID string) (map[opmodel.Status]int, map[opmodel.OperationType]int, error) {
	panic("unused")
}
func (f *fakeRepo) Delete(id string) error { panic("unused") }

var _ repository.OperationRepository = (*fakeRepo)(nil)

type fakeDispatcher struct {
	dispatched []opmodel.Operation
	err        error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, op opmodel.Operation) error {
	f.dispatched = append(f.dispatched, op)
	return f.err
}

func TestScheduler_Tick_NoOpWhenNothingDue(t *testing.T) {
	repo := &fakeRepo{claimOp: nil}
	dispatcher := &fakeDispatcher{}
	s := New(repo, dispatcher, time.Second, zerolog.Nop())

	s.tick(context.Background())

	assert.Equal(t, 1, repo.claimed)
	assert.Empty(t, dispatcher.dispatched)
}

func TestScheduler_Tick_DispatchesClaimedOperation(t *testing.T) {
	op := &opmodel.Operation{ID: "op-1", OwnerID: "acme"}
	repo := &fakeRepo{claimOp: op}
	dispatcher := &fakeDispatcher{}
	s := New(repo, dispatcher, time.Second, zerolog.Nop())

	s.tick(context.Background())

	require.Len(t, dispatcher.dispatched, 1)
	assert.Equal(t, "op-1", dispatcher.dispatched[0].ID)
}

func TestScheduler_Tick_ClaimErrorDoesNotPanic(t *testing.T) {
	repo := &fakeRepo{claimErr: errors.New("db down")}
	dispatcher := &fakeDispatcher{}
	s := New(repo, dispatcher, time.Second, zerolog.Nop())

	assert.NotPanics(t, func() { s.tick(context.Background()) })
	assert.Empty(t, dispatcher.dispatched)
}

func TestScheduler_Tick_DispatchErrorDoesNotPanic(t *testing.T) {
	op := &opmodel.Operation{ID: "op-2"}
	repo := &fakeRepo{claimOp: op}
	dispatcher := &fakeDispatcher{err: errors.New("temporal unavailable")}
	s := New(repo, dispatcher, time.Second, zerolog.Nop())

	assert.NotPanics(t, func() { s.tick(context.Background()) })
	assert.Len(t, dispatcher.dispatched, 1)
}

func TestScheduler_Run_StopsOnContextCancel(t *testing.T) {
	repo := &fakeRepo{claimOp: nil}
	dispatcher := &fakeDispatcher{}
	s := New(repo, dispatcher, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after context cancel")
	}
}

func TestNew_DefaultsIntervalWhenNonPositive(t *testing.T) {
	s := New(&fakeRepo{}, &fakeDispatcher{}, 0, zerolog.Nop())
	assert.Equal(t, 5*time.Second, s.interval)
}
