package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AsynqRunner schedules the purge through asynq so that only one replica
// runs it per interval.
type AsynqRunner struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	mux       *asynq.ServeMux
	interval  time.Duration
	logger    *zap.Logger
}

// NewAsynqRunner builds the scheduler and worker from a redis URL.
func NewAsynqRunner(redisURL string, purger *TokenPurger, interval time.Duration, logger *zap.Logger) (*AsynqRunner, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePurgeSendTokens, func(ctx context.Context, _ *asynq.Task) error {
		_, err := purger.Purge(ctx)
		return err
	})

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{"maintenance": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn("asynq task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})

	return &AsynqRunner{scheduler: scheduler, server: server, mux: mux, interval: interval, logger: logger}, nil
}

// Run registers the periodic task and blocks until ctx is canceled.
func (r *AsynqRunner) Run(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", r.interval)
	task := asynq.NewTask(TypePurgeSendTokens, nil)
	if _, err := r.scheduler.Register(spec, task, asynq.Queue("maintenance"), asynq.Unique(r.interval), asynq.MaxRetry(1)); err != nil {
		return fmt.Errorf("asynq: register %s: %w", TypePurgeSendTokens, err)
	}
	if err := r.server.Start(r.mux); err != nil {
		return fmt.Errorf("asynq: start server: %w", err)
	}
	if err := r.scheduler.Start(); err != nil {
		r.server.Shutdown()
		return fmt.Errorf("asynq: start scheduler: %w", err)
	}
	r.logger.Info("token purge scheduled", zap.String("spec", spec))

	<-ctx.Done()
	r.scheduler.Shutdown()
	r.server.Shutdown()
	return nil
}
