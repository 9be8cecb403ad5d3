// Package jobs admits bulk operations, runs each on its own goroutine and
// exposes their records for polling, cancellation and retry.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/eventops/internal/audit"
	"github.com/geocoder89/eventops/internal/broadcast"
	"github.com/geocoder89/eventops/internal/domain/checkpoint"
	"github.com/geocoder89/eventops/internal/domain/event"
	"github.com/geocoder89/eventops/internal/domain/job"
	"github.com/geocoder89/eventops/internal/notifications"
	"github.com/geocoder89/eventops/internal/queue/worker"
)

var (
	ErrNoEligibleTargets = errors.New("no eligible targets")
	ErrShuttingDown      = errors.New("job service is shutting down")
)

// Scanner is the checkpoint state machine as bulk jobs use it.
type Scanner interface {
	Scan(ctx context.Context, req checkpoint.ScanRequest) (checkpoint.ScanResult, error)
	Unscan(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) (bool, error)
}

// Members filters rsvp ids down to those registered for an event.
type Members interface {
	FilterEventMembers(ctx context.Context, eventID string, ids []string) ([]string, error)
}

type Events interface {
	GetByID(ctx context.Context, id string) (event.Event, error)
}

type Deps struct {
	Store       Store
	Worker      *worker.Worker
	Broadcaster *broadcast.Broadcaster
	Mailer      notifications.Mailer
	Scanner     Scanner
	Members     Members
	Events      Events // optional
	Audit       *audit.Sink
	Alerts      notifications.Messenger // optional
	Log         *slog.Logger
}

type Service struct {
	store   Store
	worker  *worker.Worker
	pub     *broadcast.Broadcaster
	mailer  notifications.Mailer
	scanner Scanner
	members Members
	events  Events
	audit   *audit.Sink
	alerts  notifications.Messenger
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	closed  bool
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewService(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		store:   d.Store,
		worker:  d.Worker,
		pub:     d.Broadcaster,
		mailer:  d.Mailer,
		scanner: d.Scanner,
		members: d.Members,
		events:  d.Events,
		audit:   d.Audit,
		alerts:  d.Alerts,
		log:     log,
		now:     time.Now,
		running: make(map[string]context.CancelFunc),
	}
}

// Create allocates a queued job and persists it. It does not start it.
func (s *Service) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	j, err := job.New(req, s.now())

	if err != nil {
		return job.Job{}, err
	}

	err = s.store.Put(ctx, j)

	if err != nil {
		return job.Job{}, fmt.Errorf("persist job: %w", err)
	}

	return j, nil
}

func (s *Service) Get(ctx context.Context, id string) (job.Job, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Put(ctx context.Context, j job.Job) error {
	return s.store.Put(ctx, j)
}

func (s *Service) Subscribe(jobID string, fn func(broadcast.Event)) func() {
	return s.pub.Subscribe(jobID, fn)
}

// CreateBulkEmailJob validates and de-duplicates the recipients, queues the
// job and starts it. It returns as soon as the job is queued.
func (s *Service) CreateBulkEmailJob(ctx context.Context, actorID string, p BulkEmailPayload) (job.Job, error) {
	p.Recipients = DedupeRecipients(p.Recipients)
	p.CreatedBy = actorID

	err := ValidatePayload(job.TypeBulkEmail, p)

	if err != nil {
		return job.Job{}, err
	}

	return s.enqueue(ctx, actorID, job.TypeBulkEmail, p, len(p.Recipients))
}

// CreateBulkCheckpointJob admits only rsvp ids registered for the event. The
// ids it dropped are returned alongside the job.
func (s *Service) CreateBulkCheckpointJob(ctx context.Context, actorID string, p BulkCheckpointPayload) (job.Job, []string, error) {
	p.RSVPIDs = DedupeIDs(p.RSVPIDs)
	p.CreatedBy = actorID

	err := ValidatePayload(job.TypeBulkCheckpoint, p)

	if err != nil {
		return job.Job{}, nil, err
	}

	if s.events != nil {
		if _, err := s.events.GetByID(ctx, p.EventID); err != nil {
			return job.Job{}, nil, err
		}
	}

	members, err := s.members.FilterEventMembers(ctx, p.EventID, p.RSVPIDs)

	if err != nil {
		return job.Job{}, nil, fmt.Errorf("filter event members: %w", err)
	}

	keep := make(map[string]struct{}, len(members))
	for _, id := range members {
		keep[id] = struct{}{}
	}

	rejected := []string{}
	for _, id := range p.RSVPIDs {
		if _, ok := keep[id]; !ok {
			rejected = append(rejected, id)
		}
	}

	p = p.Subset(keep)

	if len(p.RSVPIDs) == 0 {
		return job.Job{}, rejected, ErrNoEligibleTargets
	}

	j, err := s.enqueue(ctx, actorID, job.TypeBulkCheckpoint, p, len(p.RSVPIDs))

	return j, rejected, err
}

func (s *Service) enqueue(ctx context.Context, actorID string, t job.Type, payload any, total int) (job.Job, error) {
	if s.isClosed() {
		return job.Job{}, ErrShuttingDown
	}

	meta, err := EncodePayload(t, payload)

	if err != nil {
		return job.Job{}, err
	}

	j, err := s.Create(ctx, job.CreateRequest{Type: t, Total: total, Meta: meta})

	if err != nil {
		return job.Job{}, err
	}

	err = s.start(ctx, j)

	if err != nil {
		return job.Job{}, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   audit.ActionJobCreate,
		TargetID: j.ID,
		After:    audit.Summary(map[string]any{"type": j.Type, "total": j.Total}),
	})

	s.log.InfoContext(ctx, "job.queued",
		"job_id", j.ID,
		"job_type", j.Type,
		"total", j.Total,
		"actor_id", actorID,
	)

	return j, nil
}

// start spawns the worker for j. The job's context keeps the request's
// values but not its cancellation.
func (s *Service) start(ctx context.Context, j job.Job) error {
	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrShuttingDown
	}
	s.running[j.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.forget(j.ID)

		final, err := s.worker.Run(jctx, j.ID, s.plan)

		if err != nil {
			s.log.ErrorContext(jctx, "job.run_error",
				"job_id", j.ID,
				"err", err,
			)
			return
		}

		s.afterRun(jctx, final)
	}()

	return nil
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
	s.mu.Unlock()
}

func (s *Service) afterRun(ctx context.Context, j job.Job) {
	if j.Type == job.TypeBulkCheckpoint {
		var createdBy string
		if p, err := DecodePayload(j); err == nil {
			createdBy = p.(BulkCheckpointPayload).CreatedBy
		}

		s.audit.Record(ctx, audit.Entry{
			ActorID:  createdBy,
			Action:   audit.ActionCheckpointFinished,
			TargetID: j.ID,
			After: audit.Summary(map[string]any{
				"status":    j.Status,
				"succeeded": j.Succeeded,
				"failed":    len(j.Failed),
				"skipped":   j.Skipped,
			}),
		})
	}

	if j.Status != job.StatusFailed || s.alerts == nil {
		return
	}

	msg := fmt.Sprintf("bulk job %s (%s) failed after %d/%d targets", j.ID, j.Type, j.Progress, j.Total)
	if j.Error != nil {
		msg += ": " + *j.Error
	}

	actx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.alerts.Notify(actx, msg); err != nil {
		s.log.WarnContext(ctx, "job.alert_failed",
			"job_id", j.ID,
			"err", err,
		)
	}
}

// Cancel requests cooperative cancellation. It reports false for an unknown
// job and true, without touching the record, for a terminal one.
func (s *Service) Cancel(ctx context.Context, actorID, id string) (bool, error) {
	j, err := s.store.Get(ctx, id)

	if errors.Is(err, job.ErrJobNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	if j.Status.IsTerminal() {
		return true, nil
	}

	err = s.store.RequestCancel(ctx, id, s.now())

	if errors.Is(err, job.ErrJobNotFound) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	// interrupts a pacing sleep if the job runs here
	s.mu.Lock()
	if cancel, ok := s.running[id]; ok {
		cancel()
	}
	s.mu.Unlock()

	s.audit.Record(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   audit.ActionJobCancel,
		TargetID: id,
		Before:   audit.Summary(map[string]any{"status": j.Status, "progress": j.Progress, "total": j.Total}),
	})

	return true, nil
}

// RetryFailed queues a new job over exactly the failed targets of the
// original, in their original order.
func (s *Service) RetryFailed(ctx context.Context, actorID, id string) (job.Job, error) {
	orig, err := s.store.Get(ctx, id)

	if err != nil {
		return job.Job{}, err
	}

	if !orig.Status.IsTerminal() {
		return job.Job{}, job.ErrJobActive
	}

	if len(orig.Failed) == 0 {
		return job.Job{}, job.ErrNothingToRetry
	}

	keep := make(map[string]struct{}, len(orig.Failed))
	for _, k := range orig.Failed {
		keep[k] = struct{}{}
	}

	decoded, err := DecodePayload(orig)

	if err != nil {
		return job.Job{}, err
	}

	var (
		payload any
		total   int
	)

	switch p := decoded.(type) {
	case BulkEmailPayload:
		p = p.Subset(keep)
		p.RetryOf, p.CreatedBy = orig.ID, actorID
		payload, total = p, len(p.Recipients)
	case BulkCheckpointPayload:
		p = p.Subset(keep)
		p.RetryOf, p.CreatedBy = orig.ID, actorID
		payload, total = p, len(p.RSVPIDs)
	default:
		return job.Job{}, job.ErrPayloadTypeMismatch
	}

	if total == 0 {
		return job.Job{}, job.ErrNothingToRetry
	}

	j, err := s.enqueue(ctx, actorID, orig.Type, payload, total)

	if err != nil {
		return job.Job{}, err
	}

	s.audit.Record(ctx, audit.Entry{
		ActorID:  actorID,
		Action:   audit.ActionJobRetry,
		TargetID: j.ID,
		Before:   audit.Summary(map[string]any{"retryOf": orig.ID, "failed": len(orig.Failed)}),
	})

	return j, nil
}

func (s *Service) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Running reports how many jobs this process is executing.
func (s *Service) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown stops admitting jobs and waits for running ones. When ctx ends
// first, running jobs are cancelled at their next target boundary and
// Shutdown waits for them to record it.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	n := len(s.running)
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()

	s.log.WarnContext(ctx, "jobs.shutdown_cancelled", "running", n)

	<-done
	return fmt.Errorf("jobs shutdown: %w", ctx.Err())
}
