package sched

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler runs named recurring tasks on fixed intervals. Tasks start with
// the fx application and stop, after finishing their current pass, when it
// shuts down.
type Scheduler struct {
	logger *zap.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

type SchedulerParams struct {
	fx.In

	Lc     fx.Lifecycle
	Logger *zap.Logger
}

func NewScheduler(p SchedulerParams) *Scheduler {
	schedCtx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		logger: p.Logger,
		ctx:    schedCtx,
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			cancel()
			s.wg.Wait()
			return nil
		},
	})
	return s
}

// Every registers a recurring task. The first run happens one full interval
// after registration; overlapping runs of the same task cannot happen.
func (s *Scheduler) Every(name string, interval time.Duration, task func()) {
	s.logger.Debug("recurring task registered",
		zap.String("task", name),
		zap.Duration("interval", interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				s.logger.Debug("recurring task stopped", zap.String("task", name))
				return
			case <-ticker.C:
				task()
			}
		}
	}()
}
