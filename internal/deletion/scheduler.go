package deletion

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zhenzou/executors"

	"privacy/api/internal/logging"
)

// DefaultPurgeCron runs the sweep daily at 02:00.
const DefaultPurgeCron = "0 2 * * *"

// Scheduler runs the purge sweep on a cron rule. At most one sweep runs at a
// time.
type Scheduler struct {
	executor executors.ScheduledExecutor
	purger   *Purger
	expr     string
	logger   zerolog.Logger
	cancel   context.CancelFunc
}

func NewScheduler(purger *Purger, expr string, logger zerolog.Logger) *Scheduler {
	if expr == "" {
		expr = DefaultPurgeCron
	}
	return &Scheduler{
		executor: executors.NewPoolScheduleExecutor(executors.WithMaxConcurrent(1)),
		purger:   purger,
		expr:     expr,
		logger:   logging.Component(logger, "purge_scheduler"),
	}
}

func (s *Scheduler) Start() error {
	cancel, err := s.executor.ScheduleFuncAtCronRate(s.runOnce, executors.CRONRule{Expr: s.expr})
	if err != nil {
		return fmt.Errorf("schedule purge %q: %w", s.expr, err)
	}
	s.cancel = cancel
	s.logger.Info().Str("cron", s.expr).Msg("purge sweep scheduled")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.executor.Shutdown(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) {
	report := s.purger.Run(ctx)
	if err := report.Err(); err != nil {
		s.logger.Warn().Err(err).Str("event", "dsr.purge.partial").Msg("purge sweep finished with errors")
	}
}
