package bootstrap

import (
	"context"
	"os"
	"sync"

	"mailsync_server/adapter/in/worker"
	"mailsync_server/adapter/out/messaging"
	"mailsync_server/config"
	"mailsync_server/pkg/logger"

	"github.com/rs/zerolog"
)

type Worker struct {
	pool      *worker.Pool
	consumer  *messaging.Consumer
	scheduler *worker.IncrementalSyncScheduler
	deps      *Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	zlog      zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	handler := worker.NewHandler(deps.SyncEngine)

	poolConfig := worker.DefaultPoolConfig()
	if cfg.WorkerMax > 0 {
		poolConfig.MaxWorkers = cfg.WorkerMax
	}
	if cfg.WorkerQueueSize > 0 {
		poolConfig.QueueSize = cfg.WorkerQueueSize
	}

	pool := worker.NewPool(handler, poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
		Group:                cfg.ConsumerGroup,
		Consumer:             cfg.WorkerID,
		Streams:              []string{messaging.StreamSyncRun},
		Handler:              worker.NewStreamHandler(pool),
		Logger:               zlog,
		PendingCheckInterval: cfg.ConsumerPendingCheck(),
		PendingIdleTime:      cfg.ConsumerPendingIdle(),
		MaxRetries:           cfg.ConsumerMaxRetries,
	})

	if cfg.SchedulerEnabled {
		w.scheduler = worker.NewIncrementalSyncScheduler(deps.AccountRepo, deps.SyncEngine)
		w.scheduler.SetCheckInterval(cfg.SchedulerInterval())
		w.scheduler.SetStaleAfter(cfg.SchedulerStaleAfter())
	}

	return w, cleanup, nil
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pool.Start()
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.zlog.Info().Msg("Starting Redis Stream Consumer...")
		if err := w.consumer.Run(w.ctx); err != nil && err != context.Canceled {
			w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
		}
	}()

	if w.scheduler != nil {
		w.scheduler.Start()
		w.zlog.Info().Msg("Started Incremental Sync Scheduler")
	}

	logger.Info("Worker started (id=%s, group=%s)", w.deps.Config.WorkerID, w.deps.Config.ConsumerGroup)

	// Block until context is cancelled
	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	w.pool.Stop()
	w.wg.Wait()
}

func (w *Worker) Submit(msg *worker.Message) bool {
	return w.pool.Submit(msg)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
