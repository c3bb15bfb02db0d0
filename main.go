package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailsync_server/config"
	"mailsync_server/internal/bootstrap"
	"mailsync_server/pkg/logger"

	"github.com/joho/godotenv"
)

// drainTimeout bounds how long shutdown waits for in-flight requests
// and running sync jobs.
const drainTimeout = 30 * time.Second

func main() {
	logger.Init(logger.Config{
		Level:   logger.LevelInfo,
		Service: "mailsync",
	})

	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	mode := flag.String("mode", "all", "api, worker or all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	// One signal context drives shutdown for both halves.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var exit int
	switch *mode {
	case "api":
		exit = runAPI(ctx, cfg)
	case "worker":
		exit = runWorker(ctx, cfg)
	case "all":
		workerExit := make(chan int, 1)
		go func() { workerExit <- runWorker(ctx, cfg) }()
		exit = runAPI(ctx, cfg)
		if code := <-workerExit; exit == 0 {
			exit = code
		}
	default:
		logger.Fatal("Unknown mode: %s", *mode)
	}
	os.Exit(exit)
}

func runAPI(ctx context.Context, cfg *config.Config) int {
	app, cleanup, err := bootstrap.NewAPI(cfg)
	if err != nil {
		logger.Error("Failed to initialize API: %v", err)
		return 1
	}
	defer cleanup()

	serveErr := make(chan error, 1)
	go func() { serveErr <- app.Listen(":" + cfg.Port) }()
	logger.Info("API server listening on :%s", cfg.Port)

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("API server: %v", err)
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	logger.Info("Draining API server (up to %v)", drainTimeout)
	if err := app.ShutdownWithTimeout(drainTimeout); err != nil {
		logger.Warn("API shutdown: %v", err)
		return 1
	}
	logger.Info("API server stopped")
	return 0
}

func runWorker(ctx context.Context, cfg *config.Config) int {
	w, cleanup, err := bootstrap.NewWorker(cfg)
	if err != nil {
		logger.Error("Failed to initialize worker: %v", err)
		return 1
	}
	defer cleanup()

	go func() {
		<-ctx.Done()
		logger.Info("Draining worker (up to %v)", drainTimeout)

		done := make(chan struct{})
		go func() {
			w.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			logger.Warn("Worker drain timed out, forcing exit")
			os.Exit(1)
		}
	}()

	logger.Info("Worker started")
	w.Start()
	logger.Info("Worker stopped")
	return 0
}
