package jobs

import (
	"context"
	"time"

	"github.com/geocoder89/eventops/internal/domain/job"
)

// Store is the job record store. Implementations: repo/memory.JobsStore
// (single instance) and repo/redisrepo.JobsStore (cache plus Redis mirror).
type Store interface {
	Get(ctx context.Context, id string) (job.Job, error)
	Put(ctx context.Context, j job.Job) error
	// RequestCancel raises the sticky cancel flag; terminal jobs are left
	// untouched.
	RequestCancel(ctx context.Context, id string, now time.Time) error
	CancelRequested(ctx context.Context, id string) bool
	Prune(cutoff time.Time) int
}
