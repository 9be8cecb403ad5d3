package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventops/internal/broadcast"
	"github.com/geocoder89/eventops/internal/domain/checkpoint"
	"github.com/geocoder89/eventops/internal/domain/event"
	"github.com/geocoder89/eventops/internal/domain/job"
	"github.com/geocoder89/eventops/internal/http/middlewares"
	"github.com/geocoder89/eventops/internal/jobs"
)

type JobsService interface {
	CreateBulkEmailJob(ctx context.Context, actorID string, p jobs.BulkEmailPayload) (job.Job, error)
	CreateBulkCheckpointJob(ctx context.Context, actorID string, p jobs.BulkCheckpointPayload) (job.Job, []string, error)
	Get(ctx context.Context, id string) (job.Job, error)
	Cancel(ctx context.Context, actorID, id string) (bool, error)
	RetryFailed(ctx context.Context, actorID, id string) (job.Job, error)
	Subscribe(jobID string, fn func(broadcast.Event)) func()
}

type JobsHandler struct {
	jobs JobsService
}

func NewJobsHandler(svc JobsService) *JobsHandler {
	return &JobsHandler{jobs: svc}
}

func queuedResponse(j job.Job) gin.H {
	return gin.H{
		"jobId":  j.ID,
		"status": j.Status,
		"type":   j.Type,
		"total":  j.Total,
	}
}

// respondAdmissionError maps the synchronous errors a job creation can hit.
func respondAdmissionError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, checkpoint.ErrInvalidCheckpoint):
		RespondBadRequest(ctx, "Invalid checkpoint type", nil)
	case errors.Is(err, job.ErrInvalidJobPayload), errors.Is(err, job.ErrPayloadTypeMismatch):
		RespondBadRequest(ctx, "Invalid job payload", nil)
	case errors.Is(err, event.ErrNotFound):
		RespondNotFound(ctx, "Event not found")
	case errors.Is(err, jobs.ErrShuttingDown):
		RespondUnavailable(ctx, "Service is shutting down")
	default:
		slog.Default().ErrorContext(ctx.Request.Context(), "job.admission_failed",
			"request_id", requestIDFrom(ctx),
			"err", err,
		)
		RespondInternal(ctx, "Could not create job")
	}
}

// POST /admin/jobs/bulk-email
func (h *JobsHandler) CreateBulkEmail(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}

	var req jobs.BulkEmailPayload
	if !BindJSON(ctx, &req) {
		return
	}
	req.RetryOf = ""

	j, err := h.jobs.CreateBulkEmailJob(ctx.Request.Context(), actor, req)

	if err != nil {
		respondAdmissionError(ctx, err)
		return
	}

	ctx.Set(middlewares.CtxJobID, j.ID)
	ctx.JSON(http.StatusAccepted, queuedResponse(j))
}

// POST /admin/events/:id/checkpoints/bulk
func (h *JobsHandler) CreateBulkCheckpoint(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}

	var req jobs.BulkCheckpointPayload
	if !BindJSON(ctx, &req) {
		return
	}
	req.EventID = ctx.Param("id")
	req.RetryOf = ""

	j, rejected, err := h.jobs.CreateBulkCheckpointJob(ctx.Request.Context(), actor, req)

	if errors.Is(err, jobs.ErrNoEligibleTargets) {
		RespondUnprocessable(ctx, "no_eligible_targets", "None of the rsvp ids belong to this event",
			gin.H{"rejected": rejected})
		return
	}

	if err != nil {
		respondAdmissionError(ctx, err)
		return
	}

	resp := queuedResponse(j)
	resp["rejected"] = rejected

	ctx.Set(middlewares.CtxJobID, j.ID)
	ctx.JSON(http.StatusAccepted, resp)
}

// GET /admin/jobs/:id
func (h *JobsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	j, err := h.jobs.Get(ctx.Request.Context(), id)

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			RespondNotFound(ctx, "Job not found")
			return
		}

		RespondInternal(ctx, "Could not fetch job")
		return
	}

	RespondJobWithETag(ctx, j)
}

// POST /admin/jobs/:id/cancel
func (h *JobsHandler) Cancel(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}

	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	found, err := h.jobs.Cancel(ctx.Request.Context(), actor, id)

	if err != nil {
		RespondInternal(ctx, "Could not cancel job")
		return
	}

	if !found {
		RespondNotFound(ctx, "Job not found")
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"jobId":           id,
		"cancelRequested": true,
	})
}

// POST /admin/jobs/:id/retry
func (h *JobsHandler) Retry(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}

	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	j, err := h.jobs.RetryFailed(ctx.Request.Context(), actor, id)

	if err != nil {
		switch {
		case errors.Is(err, job.ErrJobNotFound):
			RespondNotFound(ctx, "Job not found")
		case errors.Is(err, job.ErrJobActive):
			RespondConflict(ctx, "job_active", "Only finished jobs can be retried")
		case errors.Is(err, job.ErrNothingToRetry):
			RespondConflict(ctx, "nothing_to_retry", "Job has no failed targets")
		case errors.Is(err, jobs.ErrShuttingDown):
			RespondUnavailable(ctx, "Service is shutting down")
		default:
			RespondInternal(ctx, "Could not retry job")
		}
		return
	}

	resp := queuedResponse(j)
	resp["retryOf"] = id

	ctx.JSON(http.StatusAccepted, resp)
}
