package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventops/internal/audit"
	cpsvc "github.com/geocoder89/eventops/internal/checkpoint"
	"github.com/geocoder89/eventops/internal/domain/checkpoint"
	"github.com/geocoder89/eventops/internal/domain/registration"
)

type CheckpointService interface {
	ResolveAttendee(ctx context.Context, eventID string, id cpsvc.Identifier) (registration.Registration, error)
	Scan(ctx context.Context, req checkpoint.ScanRequest) (checkpoint.ScanResult, error)
	Unscan(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) (bool, error)
	Status(ctx context.Context, rsvpID, eventID string) (checkpoint.Status, error)
	CheckOrder(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) error
	Stats(ctx context.Context, eventID string) (checkpoint.Stats, error)
}

type CheckpointsHandler struct {
	svc   CheckpointService
	audit *audit.Sink
}

func NewCheckpointsHandler(svc CheckpointService, sink *audit.Sink) *CheckpointsHandler {
	return &CheckpointsHandler{svc: svc, audit: sink}
}

type scanRequest struct {
	RSVPID         string            `json:"rsvpId"`
	Identifier     cpsvc.Identifier  `json:"identifier"`
	CheckpointType checkpoint.Type   `json:"checkpointType" binding:"required,oneof=entry refreshment swag"`
	Method         checkpoint.Method `json:"method" binding:"omitempty,oneof=qr ticket email manual"`
	Notes          string            `json:"notes" binding:"omitempty,max=500"`
}

func (h *CheckpointsHandler) respondResolveError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, checkpoint.ErrNoIdentifier):
		RespondBadRequest(ctx, "Supply an id, email, ticket number or QR payload", nil)
	case errors.Is(err, checkpoint.ErrAttendeeNotFound):
		RespondNotFound(ctx, "Attendee not found for this event")
	default:
		RespondInternal(ctx, "Could not resolve attendee")
	}
}

// POST /admin/events/:id/checkpoints/resolve
func (h *CheckpointsHandler) Resolve(ctx *gin.Context) {
	var req cpsvc.Identifier
	if !BindJSON(ctx, &req) {
		return
	}

	reg, err := h.svc.ResolveAttendee(ctx.Request.Context(), ctx.Param("id"), req)

	if err != nil {
		h.respondResolveError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, reg)
}

// POST /admin/events/:id/checkpoints/scan
func (h *CheckpointsHandler) Scan(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}

	var req scanRequest
	if !BindJSON(ctx, &req) {
		return
	}

	eventID := ctx.Param("id")
	rctx := ctx.Request.Context()

	ident := req.Identifier
	if req.RSVPID != "" {
		ident.ID = req.RSVPID
	}

	reg, err := h.svc.ResolveAttendee(rctx, eventID, ident)

	if err != nil {
		h.respondResolveError(ctx, err)
		return
	}

	err = h.svc.CheckOrder(rctx, reg.ID, eventID, req.CheckpointType)

	if errors.Is(err, checkpoint.ErrEntryRequired) {
		RespondConflict(ctx, "entry_required", "Attendee must be scanned at entry first")
		return
	}

	if err != nil {
		RespondInternal(ctx, "Could not check attendee status")
		return
	}

	res, err := h.svc.Scan(rctx, checkpoint.ScanRequest{
		RSVPID:    reg.ID,
		EventID:   eventID,
		Type:      req.CheckpointType,
		ScannedBy: actor,
		Method:    req.Method,
		Notes:     req.Notes,
	})

	if err != nil {
		RespondInternal(ctx, "Could not record scan")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated

		h.audit.Record(rctx, audit.Entry{
			ActorID:  actor,
			Action:   audit.ActionScan,
			TargetID: reg.ID,
			After:    audit.Summary(gin.H{"eventId": eventID, "checkpointType": req.CheckpointType, "method": req.Method}),
		})
	}

	ctx.JSON(status, gin.H{
		"created":        res.Created,
		"alreadyScanned": res.AlreadyScanned,
		"scan":           res.Scan,
		"attendee":       reg,
	})
}

// DELETE /admin/events/:id/checkpoints/:rsvpId/:type
func (h *CheckpointsHandler) Unscan(ctx *gin.Context) {
	actor, ok := actorFrom(ctx)
	if !ok {
		return
	}

	eventID, rsvpID := ctx.Param("id"), ctx.Param("rsvpId")
	t := checkpoint.Type(ctx.Param("type"))

	if !t.IsValid() {
		RespondBadRequest(ctx, "Invalid checkpoint type", gin.H{"type": t})
		return
	}

	removed, err := h.svc.Unscan(ctx.Request.Context(), rsvpID, eventID, t)

	if err != nil {
		RespondInternal(ctx, "Could not remove scan")
		return
	}

	if removed {
		h.audit.Record(ctx.Request.Context(), audit.Entry{
			ActorID:  actor,
			Action:   audit.ActionUnscan,
			TargetID: rsvpID,
			Before:   audit.Summary(gin.H{"eventId": eventID, "checkpointType": t}),
		})
	}

	ctx.JSON(http.StatusOK, gin.H{"removed": removed})
}

// GET /admin/events/:id/checkpoints/:rsvpId
func (h *CheckpointsHandler) Status(ctx *gin.Context) {
	st, err := h.svc.Status(ctx.Request.Context(), ctx.Param("rsvpId"), ctx.Param("id"))

	if err != nil {
		RespondInternal(ctx, "Could not load checkpoint status")
		return
	}

	ctx.JSON(http.StatusOK, st)
}

// GET /admin/events/:id/checkpoints/stats
func (h *CheckpointsHandler) Stats(ctx *gin.Context) {
	st, err := h.svc.Stats(ctx.Request.Context(), ctx.Param("id"))

	if err != nil {
		RespondInternal(ctx, "Could not load checkpoint stats")
		return
	}

	ctx.JSON(http.StatusOK, st)
}
