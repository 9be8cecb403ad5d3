package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/geocoder89/eventops/internal/audit"
	"github.com/geocoder89/eventops/internal/auth"
	"github.com/geocoder89/eventops/internal/broadcast"
	"github.com/geocoder89/eventops/internal/checkpoint"
	"github.com/geocoder89/eventops/internal/config"
	"github.com/geocoder89/eventops/internal/domain/job"
	httpx "github.com/geocoder89/eventops/internal/http"
	"github.com/geocoder89/eventops/internal/http/handlers"
	"github.com/geocoder89/eventops/internal/jobs"
	"github.com/geocoder89/eventops/internal/notifications"
	"github.com/geocoder89/eventops/internal/observability"
	"github.com/geocoder89/eventops/internal/queue/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "eventops:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()

	if err != nil {
		return err
	}

	log, logCloser, err := observability.NewLogger(cfg.Env, cfg.LogFile)

	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// tracing is opt-in
	shutdownTracer := func(context.Context) error { return nil }
	if cfg.OTelEndpoint != "" {
		shutdownTracer, err = observability.InitTracer(ctx, "eventops-api", cfg.OTelEndpoint)
		if err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)
	metrics := observability.NewJobMetrics()

	st, err := openStores(ctx, cfg, prom, log)

	if err != nil {
		return err
	}
	defer st.close()

	sink := audit.NewSink(st.audit, log)
	pub := broadcast.New(log)

	w := worker.New(worker.Config{
		Intervals: map[job.Type]time.Duration{
			job.TypeBulkEmail:      worker.Pacing(cfg.Jobs.EmailPerMinute, cfg.Jobs.EmailMinGap),
			job.TypeBulkCheckpoint: worker.Pacing(cfg.Jobs.CheckpointPerMin, cfg.Jobs.CheckpointMinGap),
		},
		UnitTimeout: cfg.Jobs.UnitTimeout,
	}, st.jobs, pub, log).WithMetrics(prom, metrics)

	mailer := notifications.NewGuardedMailer(notifications.NewLogMailer(log), notifications.GuardConfig{
		SendTimeout: cfg.Notifications.MailerTimeout,
		Breaker:     notifications.BreakerConfig{Failures: 5, Cooldown: 30 * time.Second, Trials: 1},
	})

	var alerts notifications.Messenger = notifications.NewLogMessenger(log)
	if cfg.Notifications.TelegramToken != "" {
		tg, err := notifications.NewTelegramMessenger(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
		if err != nil {
			return err
		}
		alerts = tg
	}

	checkin := checkpoint.NewService(st.scans, st.attendees, log)

	svc := jobs.NewService(jobs.Deps{
		Store:       st.jobs,
		Worker:      w,
		Broadcaster: pub,
		Mailer:      mailer,
		Scanner:     checkin,
		Members:     st.attendees,
		Events:      st.events,
		Audit:       sink,
		Alerts:      alerts,
		Log:         log,
	})

	janitor, err := jobs.NewJanitor(cfg.Jobs.PruneSchedule, cfg.Jobs.TTL, cfg.MaxLimiterWindow(), st.jobs, st.sweeper, log)

	if err != nil {
		return err
	}
	janitor.Start()

	health := handlers.NewHealthHandler(st.checks)

	router := httpx.NewRouter(httpx.Deps{
		Env:          cfg.Env,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Verifier:     auth.NewManager(cfg.JWTSecret, 15*time.Minute),
		Limiter:      st.limiter,
		Limits:       cfg.Limits,
		Audit:        sink,
		Prom:         prom,
		Gatherer:     reg,
		JobMetrics:   metrics,
		Running:      svc.Running,
		Health:       health,
		Jobs:         svc,
		Checkpoints:  checkin,
	})

	// server set up
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "job_store", cfg.Jobs.Store)

		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down", "grace", cfg.ShutdownGrace)

		// readiness flips first so load balancers stop routing here
		health.Drain()

		sctx, cancel := config.WithTimeout(cfg.ShutdownGrace)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}

		if err := svc.Shutdown(sctx); err != nil {
			log.Warn("jobs did not drain before deadline", "err", err)
		}

		janitor.Stop(sctx)
		sink.Wait()

		if err := shutdownTracer(sctx); err != nil {
			log.Warn("tracer shutdown failed", "err", err)
		}

		return nil
	})

	err = g.Wait()
	log.Info("shutdown complete")

	return err
}
