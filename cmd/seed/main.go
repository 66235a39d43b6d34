package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/seed"
)

type options struct {
	doctors  int
	patients int
	days     int
	seed     uint64
	migrate  bool
}

func main() {
	opts := options{}

	root := &cobra.Command{
		Use:          "seed",
		Short:        "Fill the database with fake doctors, patients, services and schedules",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	root.Flags().IntVar(&opts.doctors, "doctors", 20, "number of doctors")
	root.Flags().IntVar(&opts.patients, "patients", 2000, "number of patients")
	root.Flags().IntVar(&opts.days, "days", 10, "weekdays of time blocks to create per doctor")
	root.Flags().Uint64Var(&opts.seed, "seed", uint64(time.Now().UnixNano()), "random seed for generated names")
	root.Flags().BoolVar(&opts.migrate, "migrate", true, "apply migrations before seeding")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "seed").Logger()

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer pool.Close()

	if opts.migrate {
		if _, err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	log.Info().Int("doctors", opts.doctors).Int("patients", opts.patients).Uint64("seed", opts.seed).Msg("seeding")
	ds := seed.Generate(opts.seed, opts.doctors, opts.patients)
	if err := ds.InsertPostgres(ctx, pool); err != nil {
		return fmt.Errorf("insert reference data: %w", err)
	}
	log.Info().Int("services", len(ds.Services)).Msg("reference data seeded")

	repo := appointment.NewPgRepository(pool)
	bookings := appointment.NewService(repo, nil, nil, nil, cfg, log)
	blocks, err := seed.Schedule(ctx, bookings, ds.Doctors, opts.days, cfg.Location, log)
	if err != nil {
		return err
	}

	log.Info().Int("time_blocks", blocks).Msg("seed complete")
	return nil
}
