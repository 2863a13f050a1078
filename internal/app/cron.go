package app

import (
	"context"
	"time"

	"github.com/mailblog/core/internal/modules/subscription"
	pkgcron "github.com/mailblog/core/internal/pkg/cron"
	"github.com/mailblog/core/internal/pkg/dispatch"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	stalePendingAge = 7 * 24 * time.Hour
	doneDispatchAge = 24 * time.Hour
	cleanupInterval = time.Hour
)

func registerCronJobs(sched *pkgcron.Scheduler, db *gorm.DB, queue *dispatch.Queue, logger *zap.Logger) {
	log := logger.Named("CronService")
	store := subscription.NewGormStore(db)

	sched.Register(pkgcron.Job{
		Name:        "cleanup_stale_pending",
		Description: "Remove pending subscriptions whose verify link was never used",
		Interval:    cleanupInterval,
		Fn: func(ctx context.Context) error {
			n, err := store.PurgeStalePending(ctx, stalePendingAge)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("purged stale pending subscriptions", zap.Int64("count", n))
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "cleanup_dispatch_tasks",
		Description: "Remove sent and failed dispatch tasks past their retention window",
		Interval:    cleanupInterval,
		Fn: func(ctx context.Context) error {
			n, err := queue.Purge(ctx, doneDispatchAge)
			if err != nil {
				return err
			}
			if n > 0 {
				log.Info("purged finished dispatch tasks", zap.Int64("count", n))
			}
			return nil
		},
	})
}
