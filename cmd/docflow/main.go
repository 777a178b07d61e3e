package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"docflow/internal/api"
	"docflow/internal/batch"
	"docflow/internal/config"
	"docflow/internal/dispatch"
	"docflow/internal/domain"
	"docflow/internal/jobs"
	"docflow/internal/processor"
	"docflow/internal/processors/cleanup"
	"docflow/internal/registry"
	"docflow/internal/scheduler"
	"docflow/internal/store"
	"docflow/internal/worker"
)

func main() {
	cfg := config.Load()

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	st := store.NewSQLite(db)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n, err := st.RecoverStale(ctx, time.Now().UTC()); err != nil {
		log.Error().Err(err).Msg("recover stale jobs")
	} else if n > 0 {
		log.Info().Int("recovered", n).Msg("requeued jobs left processing by previous run")
	}
	ensureDefaultQueue(ctx, st)

	reg := registry.New(st, cfg.QueueCacheTTL)

	procs := processor.NewRegistry()
	procs.Register("cleanup", cleanup.New(st).Handle)

	executor := worker.NewExecutor(st, procs, st, log.Logger)
	dispatcher := dispatch.New(st)
	manager := worker.NewManager(reg, dispatcher, executor, log.Logger,
		worker.WithPollInterval(cfg.PollInterval))

	// Restart loops for every tenant+queue pair that still has live jobs.
	pairs, err := st.ActivePairs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("list active tenant queues")
	}
	for _, p := range pairs {
		manager.StartWorker(p.TenantID, p.QueueName)
	}

	jobSvc := jobs.NewService(st, reg)
	batches := batch.New(st, log.Logger)

	sched := scheduler.NewService(st, jobSvc, cfg.SchedulerInterval, log.Logger)
	go sched.Start(ctx)

	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServer(jobSvc, reg, manager, batches, st)}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	sched.Stop()

	shutdownCtx, cancelTimeout := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelTimeout()
	manager.StopAll(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
}

// ensureDefaultQueue seeds the shared default queue so a fresh install can
// accept jobs before any configuration is applied.
func ensureDefaultQueue(ctx context.Context, st store.Store) {
	if _, err := st.GetQueue(ctx, domain.SystemTenant, "default"); err == nil {
		return
	}
	err := st.UpsertQueue(ctx, domain.Queue{
		TenantID:      domain.SystemTenant,
		Name:          "default",
		MaxConcurrent: 4,
		MaxRetries:    3,
		RetryDelaySec: 60,
		TimeoutSec:    300,
		PriorityMin:   1,
		PriorityMax:   10,
		Active:        true,
	})
	if err != nil {
		log.Error().Err(err).Msg("seed default queue")
	}
}
