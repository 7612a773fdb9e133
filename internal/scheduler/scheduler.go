// Package scheduler is a single time.Ticker loop that claims due
// operations and dispatches them, per spec §4.3's note that this is
// deliberately not a cron parser: it only decides *when* to look for
// work, Temporal owns the durability of the work once dispatched.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanstork/migratum/internal/opmodel"
	"github.com/stanstork/migratum/internal/repository"
)

// Dispatcher starts execution for an already-claimed operation. In
// production this is *orchestrator.Service; tests supply a fake.
type Dispatcher interface {
	Dispatch(ctx context.Context, op opmodel.Operation) error
}

type Scheduler struct {
	repo       repository.OperationRepository
	dispatcher Dispatcher
	interval   time.Duration
	logger     zerolog.Logger
}

func New(repo repository.OperationRepository, dispatcher Dispatcher, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		repo:       repo,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run ticks until ctx is cancelled, claiming and dispatching at most one
// due operation per tick. A busy queue drains at one operation per
// interval; this mirrors the teacher's preference for a simple ticker
// over a worker pool, since claim throughput is bounded by how fast
// Temporal can pick up new workflow executions anyway.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	op, err := s.repo.ClaimNextDue(time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to claim next due operation")
		return
	}
	if op == nil {
		return
	}

	s.logger.Info().Str("operationID", op.ID).Msg("claimed due operation")
	if err := s.dispatcher.Dispatch(ctx, *op); err != nil {
		s.logger.Error().Err(err).Str("operationID", op.ID).Msg("failed to dispatch claimed operation")
	}
}
