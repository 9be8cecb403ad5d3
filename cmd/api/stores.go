package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/eventops/internal/audit"
	"github.com/geocoder89/eventops/internal/checkpoint"
	"github.com/geocoder89/eventops/internal/config"
	"github.com/geocoder89/eventops/internal/db"
	"github.com/geocoder89/eventops/internal/http/handlers"
	"github.com/geocoder89/eventops/internal/jobs"
	"github.com/geocoder89/eventops/internal/observability"
	"github.com/geocoder89/eventops/internal/queue/redisclient"
	"github.com/geocoder89/eventops/internal/ratelimit"
	"github.com/geocoder89/eventops/internal/repo/memory"
	"github.com/geocoder89/eventops/internal/repo/postgres"
	"github.com/geocoder89/eventops/internal/repo/redisrepo"
)

type attendeeStore interface {
	checkpoint.Attendees
	jobs.Members
}

type stores struct {
	jobs      jobs.Store
	scans     checkpoint.Repo
	attendees attendeeStore
	events    jobs.Events
	audit     audit.Writer
	limiter   ratelimit.Limiter
	sweeper   jobs.Sweeper
	checks    map[string]handlers.Check
	closers   []func(context.Context) error
}

func (s *stores) close() {
	ctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	// reverse open order
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			slog.Warn("store close failed", "err", err)
		}
	}
}

// openStores picks Postgres or in-memory entity stores by DB_URL, and the
// Redis job mirror and limiter by JOB_STORE.
func openStores(ctx context.Context, cfg config.Config, prom *observability.Prom, log *slog.Logger) (*stores, error) {
	st := &stores{checks: map[string]handlers.Check{}}

	if cfg.DBURL != "" {
		pool, err := db.NewPool(ctx, cfg.DBURL, cfg.DBMaxConns)

		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, func(context.Context) error { pool.Close(); return nil })

		if err := db.Migrate(ctx, pool, db.EntitySchema, db.Schema); err != nil {
			st.close()
			return nil, fmt.Errorf("migrate: %w", err)
		}

		st.scans = postgres.NewCheckpointsRepo(pool, prom)
		st.attendees = postgres.NewRegistrationsRepo(pool, prom)
		st.events = postgres.NewEventsRepo(pool, prom)
		st.audit = postgres.NewAuditRepo(pool, prom)
		st.checks["postgres"] = pool.Ping

		log.Info("entity store", "kind", "postgres")
	} else {
		regs := memory.NewRegistrationsRepo()
		events := memory.NewEventsRepo()

		st.scans = memory.NewCheckpointsRepo(regs)
		st.attendees = regs
		st.events = events
		st.audit = audit.NewLogWriter(log)

		if cfg.IsDev() {
			if err := seedDemo(ctx, events, regs, log); err != nil {
				return nil, err
			}
		}

		log.Info("entity store", "kind", "memory")
	}

	mem := ratelimit.NewMemoryLimiter()
	st.sweeper = mem

	if cfg.Jobs.Store == config.JobStoreRedis {
		rc := redisclient.New(redisclient.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if err := rc.Ping(ctx); err != nil {
			// limiter and mirror both degrade, so a cold Redis is not fatal
			log.Warn("redis unavailable at startup", "err", err)
		}

		store := redisrepo.NewJobsStore(rc.Raw(), redisrepo.Config{
			TTL:            cfg.Jobs.TTL,
			RemoteCacheTTL: cfg.Jobs.RemoteCacheTTL,
		}, log)

		st.jobs = store
		st.limiter = ratelimit.NewRedisLimiter(rc.Raw(), mem, log)
		st.checks["redis"] = rc.Ping
		st.closers = append(st.closers,
			func(context.Context) error { return rc.Close() },
			store.Close,
		)

		log.Info("job store", "kind", "redis", "addr", cfg.Redis.Addr)
	} else {
		st.jobs = memory.NewJobsStore()
		st.limiter = mem

		log.Info("job store", "kind", "memory")
	}

	return st, nil
}
