// Package redisrepo mirrors job records into Redis so every instance can
// read any job. The in-process cache stays authoritative for jobs this
// process runs.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/geocoder89/eventops/internal/domain/job"
)

type Config struct {
	TTL            time.Duration
	RemoteCacheTTL time.Duration
	OpTimeout      time.Duration
}

type entry struct {
	job      job.Job
	remote   bool
	loadedAt time.Time
}

// JobsStore caches jobs in process and mirrors every write to Redis. Writes
// are coalesced per job and flushed by one goroutine, so the mirror only ever
// sees the latest snapshot of a job in order. Redis errors are logged and
// swallowed.
type JobsStore struct {
	rdb redis.UniversalClient
	cfg Config
	log *slog.Logger
	now func() time.Time

	mu      sync.RWMutex
	items   map[string]entry
	cancels map[string]struct{}

	loads singleflight.Group

	pendMu  sync.Mutex
	pending map[string]job.Job
	wake    chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	flushed   chan struct{}
}

func NewJobsStore(rdb redis.UniversalClient, cfg Config, log *slog.Logger) *JobsStore {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.RemoteCacheTTL <= 0 {
		cfg.RemoteCacheTTL = 2 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	s := &JobsStore{
		rdb:     rdb,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
		items:   make(map[string]entry),
		cancels: make(map[string]struct{}),
		pending: make(map[string]job.Job),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
	}

	go s.writer()

	return s
}

func jobKey(id string) string    { return "job:" + id }
func cancelKey(id string) string { return "job:" + id + ":cancel" }

func (s *JobsStore) Get(ctx context.Context, id string) (job.Job, error) {
	s.mu.RLock()
	e, ok := s.items[id]
	_, cancelled := s.cancels[id]
	s.mu.RUnlock()

	cached := func() job.Job {
		out := e.job.Clone()
		out.Cancelled = out.Cancelled || cancelled
		return out
	}

	if ok && (!e.remote || s.now().Sub(e.loadedAt) < s.cfg.RemoteCacheTTL) {
		return cached(), nil
	}

	v, err, _ := s.loads.Do(id, func() (any, error) {
		return s.load(context.WithoutCancel(ctx), id)
	})

	if err != nil {
		if ok {
			// stale beats nothing while Redis is unreachable
			return cached(), nil
		}
		return job.Job{}, err
	}

	return v.(job.Job).Clone(), nil
}

func (s *JobsStore) load(ctx context.Context, id string) (job.Job, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	pipe := s.rdb.Pipeline()
	body := pipe.Get(ctx, jobKey(id))
	flag := pipe.Exists(ctx, cancelKey(id))

	_, err := pipe.Exec(ctx)

	if err != nil && !errors.Is(err, redis.Nil) {
		s.log.WarnContext(ctx, "jobs.redis_load_failed",
			"job_id", id,
			"err", err,
		)
		return job.Job{}, job.ErrJobNotFound
	}

	raw, err := body.Bytes()

	if err != nil {
		return job.Job{}, job.ErrJobNotFound
	}

	var j job.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		s.log.WarnContext(ctx, "jobs.redis_decode_failed",
			"job_id", id,
			"err", err,
		)
		return job.Job{}, job.ErrJobNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// a job this process owns is never replaced by its mirror
	if cur, ok := s.items[id]; ok && !cur.remote {
		return cur.job.Clone(), nil
	}

	if flag.Val() > 0 {
		s.cancels[id] = struct{}{}
	}
	if _, c := s.cancels[id]; c {
		j.Cancelled = true
	}

	s.items[id] = entry{job: j, remote: true, loadedAt: s.now()}

	return j.Clone(), nil
}

// Put records j as owned by this process and queues it for the mirror.
func (s *JobsStore) Put(_ context.Context, j job.Job) error {
	if j.ID == "" {
		return job.ErrJobNotFound
	}

	stored := j.Clone()

	s.mu.Lock()
	if j.Cancelled {
		s.cancels[j.ID] = struct{}{}
	}
	if _, c := s.cancels[j.ID]; c {
		stored.Cancelled = true
	}
	s.items[j.ID] = entry{job: stored, loadedAt: s.now()}
	s.mu.Unlock()

	s.enqueue(stored)
	return nil
}

func (s *JobsStore) enqueue(j job.Job) {
	s.pendMu.Lock()
	s.pending[j.ID] = j
	s.pendMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// RequestCancel raises the sticky cancel flag locally and in Redis, where the
// owning instance's worker picks it up.
func (s *JobsStore) RequestCancel(ctx context.Context, id string, now time.Time) error {
	j, err := s.Get(ctx, id)

	if err != nil {
		return err
	}

	if j.Status.IsTerminal() {
		return nil
	}

	s.mu.Lock()
	s.cancels[id] = struct{}{}
	e, ok := s.items[id]
	owned := ok && !e.remote
	if ok {
		e.job.Cancelled = true
		e.job.Touch(now)
		s.items[id] = e
	}
	s.mu.Unlock()

	if owned {
		s.enqueue(e.job.Clone())
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.OpTimeout)
	defer cancel()

	err = s.rdb.Set(wctx, cancelKey(id), "1", s.cfg.TTL).Err()

	if err != nil {
		s.log.WarnContext(ctx, "jobs.redis_cancel_failed",
			"job_id", id,
			"err", err,
		)
	}

	return nil
}

func (s *JobsStore) CancelRequested(ctx context.Context, id string) bool {
	s.mu.RLock()
	_, ok := s.cancels[id]
	s.mu.RUnlock()

	if ok {
		return true
	}

	rctx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()

	n, err := s.rdb.Exists(rctx, cancelKey(id)).Result()

	if err != nil {
		s.log.WarnContext(ctx, "jobs.redis_cancel_check_failed",
			"job_id", id,
			"err", err,
		)
		return false
	}

	if n == 0 {
		return false
	}

	s.mu.Lock()
	s.cancels[id] = struct{}{}
	s.mu.Unlock()

	return true
}

// Prune drops terminal jobs that finished before cutoff and remote entries
// loaded before it. Redis expires its own copies.
func (s *JobsStore) Prune(cutoff time.Time) int {
	ms := cutoff.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.items {
		stale := e.remote && e.loadedAt.Before(cutoff)
		finished := e.job.Status.IsTerminal() && e.job.FinishedAt != nil && *e.job.FinishedAt < ms

		if !stale && !finished {
			continue
		}

		delete(s.items, id)
		delete(s.cancels, id)
		removed++
	}

	return removed
}

func (s *JobsStore) writer() {
	defer close(s.flushed)

	for {
		select {
		case <-s.wake:
			s.flush()
		case <-s.done:
			s.flush()
			return
		}
	}
}

func (s *JobsStore) flush() {
	s.pendMu.Lock()
	batch := s.pending
	s.pending = make(map[string]job.Job, len(batch))
	s.pendMu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()

	pipe := s.rdb.Pipeline()

	for id, j := range batch {
		raw, err := json.Marshal(j)

		if err != nil {
			s.log.Warn("jobs.redis_encode_failed", "job_id", id, "err", err)
			continue
		}

		pipe.Set(ctx, jobKey(id), raw, s.cfg.TTL)
	}

	_, err := pipe.Exec(ctx)

	if err != nil {
		s.log.Warn("jobs.redis_mirror_failed",
			"jobs", len(batch),
			"err", err,
		)
	}
}

// Close flushes queued writes and stops the writer.
func (s *JobsStore) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })

	select {
	case <-s.flushed:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush job mirror: %w", ctx.Err())
	}
}
