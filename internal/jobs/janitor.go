package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper drops idle rate-limiter keys.
type Sweeper interface {
	Sweep(maxWindow time.Duration) int
}

// Janitor periodically prunes finished jobs from the store's process cache
// and idle keys from the in-process rate limiter.
type Janitor struct {
	cron *cron.Cron
	log  *slog.Logger
}

func NewJanitor(schedule string, jobTTL, maxWindow time.Duration, store Store, limiter Sweeper, log *slog.Logger) (*Janitor, error) {
	if log == nil {
		log = slog.Default()
	}

	c := cron.New()

	_, err := c.AddFunc(schedule, func() {
		pruned := store.Prune(time.Now().Add(-jobTTL))

		swept := 0
		if limiter != nil {
			swept = limiter.Sweep(maxWindow)
		}

		log.Debug("janitor.run",
			"jobs_pruned", pruned,
			"ratelimit_keys_swept", swept,
		)
	})

	if err != nil {
		return nil, fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}

	return &Janitor{cron: c, log: log}, nil
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a run in progress.
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}
