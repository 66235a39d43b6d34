package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notification"
	"github.com/hackgods/clinic-scheduling/internal/rating"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/seed"
	"github.com/hackgods/clinic-scheduling/internal/sweep"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "api-server").Logger()
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("storage", cfg.Storage).Msg("api-server starting up")

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET is required")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, pgPool, err := openStorage(rootCtx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("storage setup failed")
	}
	if pgPool != nil {
		defer pgPool.Close()
	}

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
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}
	locker, publisher := redisclient.Guards(rdb, cfg, log)

	emailSender, smsSender := notification.SendersFromConfig(cfg, log)
	dispatcher := notification.NewDispatcher(emailSender, smsSender, cfg.Location, log)
	events := appointment.NewEventRecorder(repo, publisher, log)

	bookings := appointment.NewService(repo, locker, dispatcher, events, cfg, log)
	ratings := rating.NewService(repo, events, cfg.RatingCacheTTL, log)
	engine := sweep.NewEngine(repo, dispatcher, events, cfg, log)

	if mem, ok := repo.(*appointment.MemoryRepository); ok {
		seedMemory(rootCtx, mem, bookings, cfg, log)
	}

	sweepCtx, cancelSweep := context.WithTimeout(rootCtx, cfg.SweepTimeout)
	summary, err := engine.RunStartupSweep(sweepCtx)
	cancelSweep()
	if err != nil {
		log.Error().Err(err).Msg("startup sweep finished with errors")
	}
	log.Info().
		Int64("completed", summary.Completed).
		Int("reminders", summary.Reminders.Sent).
		Int("feedback_requests", summary.Feedback.Sent).
		Int64("slots_cleaned", summary.SlotsCleaned).
		Msg("startup sweep done")

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Bookings:  bookings,
			Ratings:   ratings,
			Auth:      auth.NewParser(cfg.JWTSecret),
			Health:    api.NewHealthHandler(pgPool, rdb, cfg.Env, version),
			RateRPS:   cfg.RateLimitRPS,
			RateBurst: cfg.RateLimitBurst,
			Log:       log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down api-server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if rdb != nil {
		// Other replicas flush their rating caches when feedback lands or a
		// doctor is removed anywhere.
		g.Go(func() error {
			err := redisclient.Subscribe(gctx, rdb, redisclient.EventsChannel, func(payload []byte) {
				var ev appointment.Event
				if err := json.Unmarshal(payload, &ev); err != nil {
					return
				}
				switch ev.Type {
				case appointment.EventFeedbackSubmitted, appointment.EventDoctorRemoved:
					ratings.Invalidate()
				}
			})
			if err != nil {
				log.Warn().Err(err).Msg("event subscription stopped")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("api-server stopped with error")
		return
	}
	log.Info().Msg("api-server stopped")
}

func openStorage(ctx context.Context, cfg config.Config, log zerolog.Logger) (appointment.Repository, *pgxpool.Pool, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn().Msg("using in-memory storage, data is lost on exit")
		return appointment.NewMemoryRepository(), nil, nil
	}

	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(pgCtx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres connection: %w", err)
	}
	log.Info().Msg("connected to Postgres")
	return appointment.NewPgRepository(pool), pool, nil
}

// seedMemory fills a fresh in-memory store with demo data and logs one token
// per role so the API can be exercised right away.
func seedMemory(ctx context.Context, repo *appointment.MemoryRepository, bookings *appointment.Service, cfg config.Config, log zerolog.Logger) {
	ds := seed.Generate(uint64(time.Now().UnixNano()), 3, 10)
	ds.LoadMemory(repo)
	if _, err := seed.Schedule(ctx, bookings, ds.Doctors, 5, cfg.Location, log); err != nil {
		log.Warn().Err(err).Msg("demo schedule incomplete")
	}

	ids := []auth.Identity{
		{UserID: ds.Patients[0].ID, Role: auth.RolePatient, Email: ds.Patients[0].Email, Name: ds.Patients[0].Name},
		{UserID: ds.Doctors[0].ID, Role: auth.RoleDoctor, Email: ds.Doctors[0].Email, Name: ds.Doctors[0].Name},
		{UserID: uuid.New(), Role: auth.RoleAdmin, Name: "admin"},
	}
	for _, id := range ids {
		token, err := auth.Issue(cfg.JWTSecret, id, 24*time.Hour)
		if err != nil {
			log.Warn().Err(err).Msg("issue demo token")
			continue
		}
		log.Info().Str("role", string(id.Role)).Str("user_id", id.UserID.String()).Str("token", token).Msg("demo token")
	}
}
