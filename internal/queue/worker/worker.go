// Package worker runs bulk jobs: one paced unit of work per target, with
// progress persisted and published after every target.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/geocoder89/eventops/internal/broadcast"
	"github.com/geocoder89/eventops/internal/domain/job"
	"github.com/geocoder89/eventops/internal/observability"
)

type JobsStore interface {
	Get(ctx context.Context, id string) (job.Job, error)
	Put(ctx context.Context, j job.Job) error
	CancelRequested(ctx context.Context, id string) bool
}

type Publisher interface {
	Publish(ev broadcast.Event)
}

type Config struct {
	// Intervals is the pacing between targets per job type.
	Intervals   map[job.Type]time.Duration
	UnitTimeout time.Duration
}

type Worker struct {
	cfg     Config
	store   JobsStore
	pub     Publisher
	log     *slog.Logger
	prom    *observability.Prom
	metrics *observability.JobMetrics
	tracer  trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, store JobsStore, pub Publisher, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg:    cfg,
		store:  store,
		pub:    pub,
		log:    log,
		tracer: otel.Tracer("eventops/worker"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// WithMetrics attaches Prometheus and in-process counters. Either may be nil.
func (w *Worker) WithMetrics(prom *observability.Prom, metrics *observability.JobMetrics) *Worker {
	w.prom = prom
	w.metrics = metrics
	return w
}

// Run executes the queued job jobID to a terminal status and returns its final
// record. ctx is the job's cancellation token: when it is done the loop stops
// at the next iteration boundary, exactly like a stored cancel request.
// Persistence and the in-flight unit are detached from ctx.
func (w *Worker) Run(ctx context.Context, jobID string, plan Planner) (job.Job, error) {
	ctx, span := w.tracer.Start(ctx, "job.run", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	bg := context.WithoutCancel(ctx)

	j, err := w.store.Get(bg, jobID)

	if err != nil {
		return job.Job{}, fmt.Errorf("load job %s: %w", jobID, err)
	}

	span.SetAttributes(attribute.String("job.type", string(j.Type)), attribute.Int("job.total", j.Total))

	err = j.Transition(job.StatusRunning, w.now())

	if err != nil {
		return j, fmt.Errorf("start job %s from %s: %w", jobID, j.Status, err)
	}

	w.persist(bg, j)
	w.publish(broadcast.EventFromJob(broadcast.EventStarted, j))

	start := w.now()
	w.prom.JobStarted()
	if w.metrics != nil {
		w.metrics.IncStarted()
	}

	w.log.InfoContext(ctx, "job.started",
		"job_id", j.ID,
		"job_type", j.Type,
		"total", j.Total,
	)

	err = w.loop(ctx, &j, plan)

	switch {
	case errors.Is(err, errCancelled):
		j.Cancelled = true
		w.finish(ctx, &j, job.StatusCancelled, nil)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.finish(ctx, &j, job.StatusFailed, err)
	default:
		w.finish(ctx, &j, job.StatusCompleted, nil)
	}

	d := w.now().Sub(start)
	w.prom.JobStopped()
	w.prom.ObserveJob(string(j.Type), string(j.Status), d)
	if w.metrics != nil {
		w.metrics.IncFinished(string(j.Status))
		w.metrics.ObserveDuration(d)
	}

	return j, nil
}

var errCancelled = errors.New("job cancelled")

// loop returns errCancelled when a cancel is observed, nil when every target
// ran, or the loop-fatal error. Panics outside a unit are loop-fatal too.
func (w *Worker) loop(ctx context.Context, j *job.Job, plan Planner) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.ErrorContext(ctx, "job.loop_panic",
				"job_id", j.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("dispatcher panic: %v", r)
		}
	}()

	units, err := plan(ctx, *j)

	if err != nil {
		return fmt.Errorf("build targets: %w", err)
	}

	if len(units) != j.Total {
		return fmt.Errorf("build targets: got %d targets, job total is %d", len(units), j.Total)
	}

	bg := context.WithoutCancel(ctx)
	interval := w.cfg.Intervals[j.Type]

	for i, u := range units {
		if w.cancelled(ctx, j.ID) {
			return errCancelled
		}

		outcome, reason := w.runUnit(ctx, *j, u)

		switch outcome {
		case OutcomeOK:
			j.RecordSuccess()
		case OutcomeSkipped:
			j.RecordSkip(u.Key, reason)
		default:
			j.RecordFailure(u.Key, reason)
		}
		j.Touch(w.now())

		w.prom.ObserveTarget(string(j.Type), string(outcome))
		if w.metrics != nil {
			w.metrics.IncTarget(string(outcome))
		}

		w.persist(bg, *j)

		ev := broadcast.EventFromJob(broadcast.EventProgress, *j)
		ev.Key = u.Key
		ev.Outcome = string(outcome)
		w.publish(ev)

		if i < len(units)-1 && interval > 0 {
			// an interrupted sleep surfaces as a cancel at the next iteration
			_ = w.sleep(ctx, interval)
		}
	}

	return nil
}

func (w *Worker) cancelled(ctx context.Context, id string) bool {
	if ctx.Err() != nil {
		return true
	}

	return w.store.CancelRequested(context.WithoutCancel(ctx), id)
}

// runUnit executes one target on a context detached from the job's cancel
// token but bounded by the unit timeout. Errors and panics become per-target
// outcomes.
func (w *Worker) runUnit(ctx context.Context, j job.Job, u Unit) (outcome Outcome, reason string) {
	uctx := context.WithoutCancel(ctx)

	if w.cfg.UnitTimeout > 0 {
		var cancel context.CancelFunc
		uctx, cancel = context.WithTimeout(uctx, w.cfg.UnitTimeout)
		defer cancel()
	}

	uctx, span := w.tracer.Start(uctx, "job.unit", trace.WithAttributes(
		attribute.String("job.id", j.ID),
		attribute.String("target.key", u.Key),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			outcome, reason = OutcomeFailed, fmt.Sprintf("panic: %v", r)
			span.SetStatus(codes.Error, reason)
		}
	}()

	err := u.Do(uctx)

	outcome, reason = classify(err)

	if outcome == OutcomeFailed {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)

		w.log.DebugContext(uctx, "job.target_failed",
			"job_id", j.ID,
			"key", u.Key,
			"err", reason,
		)
	}

	return outcome, reason
}

func (w *Worker) finish(ctx context.Context, j *job.Job, to job.Status, cause error) {
	bg := context.WithoutCancel(ctx)

	if cause != nil {
		msg := cause.Error()
		j.Error = &msg
	}

	err := j.Transition(to, w.now())

	if err != nil {
		w.log.ErrorContext(ctx, "job.finish_transition",
			"job_id", j.ID,
			"from", j.Status,
			"to", to,
			"err", err,
		)
		return
	}

	w.persist(bg, *j)

	kind := broadcast.EventCompleted
	switch to {
	case job.StatusFailed:
		kind = broadcast.EventFailed
	case job.StatusCancelled:
		kind = broadcast.EventCancelled
	}
	w.publish(broadcast.EventFromJob(kind, *j))

	attrs := []any{
		"job_id", j.ID,
		"job_type", j.Type,
		"status", j.Status,
		"progress", j.Progress,
		"total", j.Total,
		"succeeded", j.Succeeded,
		"failed", len(j.Failed),
		"skipped", j.Skipped,
	}

	switch {
	case to == job.StatusFailed:
		w.log.ErrorContext(ctx, "job.failed", append(attrs, "err", cause)...)
	case len(j.Failed) > 0:
		w.log.WarnContext(ctx, "job.finished_with_failures", attrs...)
	default:
		w.log.InfoContext(ctx, "job.finished", attrs...)
	}
}

// persist writes through the store. A store error never changes the job's
// own outcome.
func (w *Worker) persist(ctx context.Context, j job.Job) {
	err := w.store.Put(ctx, j.Clone())

	if err != nil {
		w.log.WarnContext(ctx, "job.persist_failed",
			"job_id", j.ID,
			"err", err,
		)
	}
}

func (w *Worker) publish(ev broadcast.Event) {
	if w.pub != nil {
		w.pub.Publish(ev)
	}
}
