package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/logging"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
)

// job is one periodic background task
type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context, ec entity.ExecutionContext) error
}

// RunScheduler runs the periodic health, alert and backup expiry jobs until
// ctx is cancelled. A failing job is logged and retried on its next tick.
func (g *Guard) RunScheduler(ctx context.Context) error {
	schedule := g.Config.Schedule
	jobs := []job{
		{name: "health", interval: schedule.HealthInterval, run: func(ctx context.Context, ec entity.ExecutionContext) error {
			_, err := g.Health.Run(ctx, ec)
			return err
		}},
		{name: "alerts", interval: schedule.AlertInterval, run: func(ctx context.Context, ec entity.ExecutionContext) error {
			_, err := g.Bus.GenerateAlerts(ctx)
			return err
		}},
		{name: "backup_cleanup", interval: schedule.CleanupInterval, run: func(ctx context.Context, ec entity.ExecutionContext) error {
			_, err := g.Backups.CleanupExpired(ctx, ec)
			return err
		}},
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		if j.interval <= 0 {
			g.logger.Info("Scheduled job disabled", zap.String("job", j.name))
			continue
		}
		j := j
		eg.Go(func() error {
			g.loop(ctx, j)
			return nil
		})
	}
	return eg.Wait()
}

func (g *Guard) loop(ctx context.Context, j job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ec := entity.SystemContext().WithCorrelationID(logging.NewCorrelationID())
			if err := j.run(logging.WithCorrelationID(ctx, ec.CorrelationID), ec); err != nil && ctx.Err() == nil {
				g.logger.Error("Scheduled job failed", zap.String("job", j.name), zap.Error(err))
			}

		case <-ctx.Done():
			return
		}
	}
}
