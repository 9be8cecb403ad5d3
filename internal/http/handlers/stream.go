package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/geocoder89/eventops/internal/broadcast"
	"github.com/geocoder89/eventops/internal/domain/job"
	"github.com/geocoder89/eventops/internal/http/middlewares"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 30 * time.Second
	streamBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type streamSnapshot struct {
	Kind string  `json:"type"`
	Job  job.Job `json:"job"`
}

func isFinal(k broadcast.EventKind) bool {
	return k == broadcast.EventCompleted || k == broadcast.EventFailed || k == broadcast.EventCancelled
}

// GET /admin/jobs/:id/stream
//
// Sends a snapshot of the job, then every lifecycle and progress event until
// the job finishes or the client goes away. A slow client drops events
// rather than stalling the job; after a drop it gets a fresh snapshot, and
// the stream still closes once the job is terminal.
func (h *JobsHandler) Stream(ctx *gin.Context) {
	id := ctx.Param("id")
	ctx.Set(middlewares.CtxJobID, id)

	if streamUnsupported(ctx) {
		return
	}

	events := make(chan broadcast.Event, streamBuffer)
	lagged := make(chan struct{}, 1)

	// subscribe before reading the snapshot so nothing falls in between
	unsubscribe := h.jobs.Subscribe(id, func(ev broadcast.Event) {
		select {
		case events <- ev:
		default:
			select {
			case lagged <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	j, err := h.jobs.Get(ctx.Request.Context(), id)

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			RespondNotFound(ctx, "Job not found")
			return
		}
		RespondInternal(ctx, "Could not fetch job")
		return
	}

	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)

	if err != nil {
		// Upgrade already wrote the HTTP error
		return
	}
	defer conn.Close()

	log := slog.Default().With("job_id", id, "request_id", requestIDFrom(ctx))

	closed := make(chan struct{})
	go func() {
		defer close(closed)

		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(v)
	}

	if err := write(streamSnapshot{Kind: "snapshot", Job: j}); err != nil {
		return
	}

	if j.Status.IsTerminal() {
		closeStream(conn, "job finished")
		return
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev := <-events:
			if err := write(ev); err != nil {
				log.Debug("job.stream_write_failed", "err", err)
				return
			}
			if isFinal(ev.Kind) {
				closeStream(conn, "job finished")
				return
			}

		case <-lagged:
			cur, err := h.jobs.Get(ctx.Request.Context(), id)

			if err != nil {
				log.Warn("job.stream_resync_failed", "err", err)
				return
			}

			if err := write(streamSnapshot{Kind: "snapshot", Job: cur}); err != nil {
				return
			}
			if cur.Status.IsTerminal() {
				closeStream(conn, "job finished")
				return
			}

		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closed:
			return

		case <-ctx.Request.Context().Done():
			return
		}
	}
}

func closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}

// streamUnsupported answers plain GETs on the stream route.
func streamUnsupported(ctx *gin.Context) bool {
	if websocket.IsWebSocketUpgrade(ctx.Request) {
		return false
	}

	RespondError(ctx, http.StatusUpgradeRequired, "upgrade_required", "Use a WebSocket client", nil)
	return true
}
