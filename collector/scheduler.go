package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
	"go.uber.org/zap"

	"github.com/fabfab/recollect/logging"
)

// Job is one scheduled unit of work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler runs its jobs once at start and then on every tick of a cron
// expression. Jobs run one after another; a failing job does not stop the
// others.
type Scheduler struct {
	expr   *cronexpr.Expression
	jobs   []Job
	now    func() time.Time
	logger *zap.Logger
}

func NewScheduler(spec string, logger *zap.Logger, jobs ...Job) (*Scheduler, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Scheduler{
		expr:   expr,
		jobs:   jobs,
		now:    time.Now,
		logger: logging.OrNop(logger).Named("scheduler"),
	}, nil
}

// Next is the first tick strictly after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.expr.Next(from)
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runAll(ctx)
	for {
		next := s.Next(s.now())
		if next.IsZero() {
			s.logger.Warn("schedule has no further runs")
			<-ctx.Done()
			return nil
		}
		s.logger.Debug("next collector run", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.runAll(ctx)
		}
	}
}

func (s *Scheduler) runAll(ctx context.Context) {
	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		if err := job.Run(ctx); err != nil {
			s.logger.Warn("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
			continue
		}
		s.logger.Debug("scheduled job finished", zap.String("job", job.Name))
	}
}
