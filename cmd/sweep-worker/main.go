package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/sweep"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "sweep-worker").Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("sweep worker starting up")

	if cfg.Storage != config.StoragePostgres {
		log.Fatal().Str("storage", cfg.Storage).Msg("sweep worker needs shared storage, set STORAGE=postgres")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("error closing redis")
			}
		}()
	}
	_, publisher := redisclient.Guards(rdb, cfg, log)

	repo := appointment.NewPgRepository(pgPool)
	emailSender, smsSender := notification.SendersFromConfig(cfg, log)
	engine := sweep.NewEngine(
		repo,
		notification.NewDispatcher(emailSender, smsSender, cfg.Location, log),
		appointment.NewEventRecorder(repo, publisher, log),
		cfg,
		log,
	)

	engine.Run(rootCtx, cfg.WorkerInterval, cfg.SweepTimeout)
	log.Info().Msg("shutdown signal received, sweep worker stopped")
}
