// Command protoflow-tick is the scheduler's entry point: it wires config,
// a pgx connection pool, the Postgres store, and the Engine together and
// drives one or more scheduler ticks, the way the teacher's cmd/specgen
// wires a generator's dependencies together in main().
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/krew-solutions/protoflow/internal/clock"
	"github.com/krew-solutions/protoflow/internal/config"
	"github.com/krew-solutions/protoflow/internal/engine"
	"github.com/krew-solutions/protoflow/internal/scheduler"
	pgsession "github.com/krew-solutions/protoflow/internal/session/pgx"
	"github.com/krew-solutions/protoflow/internal/store/pg"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("protoflow-tick: exiting")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.ConnString())
	if err != nil {
		return err
	}
	defer pool.Close()

	sessionPool := pgsession.NewSessionPool(pool)
	pgStore := pg.New(sessionPool, ctx, pg.DefaultTables())

	if err := pgStore.Setup(); err != nil {
		return err
	}

	eng := engine.New(pgStore, clock.System{})
	sched := scheduler.New(pgStore, eng, cfg.Scheduler.BatchSize, cfg.Scheduler.PollInterval())

	log.Info().
		Int("batch_size", cfg.Scheduler.BatchSize).
		Dur("poll_interval", cfg.Scheduler.PollInterval()).
		Msg("protoflow-tick: starting")

	return sched.Run(ctx)
}
