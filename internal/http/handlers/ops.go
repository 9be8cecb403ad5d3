package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/eventops/internal/observability"
)

type OpsHandler struct {
	metrics *observability.JobMetrics
	running func() int
}

// NewOpsHandler reports process-local job counters. running is the number
// of jobs executing in this process.
func NewOpsHandler(m *observability.JobMetrics, running func() int) *OpsHandler {
	return &OpsHandler{metrics: m, running: running}
}

// GET /admin/ops/jobs
func (h *OpsHandler) Jobs(ctx *gin.Context) {
	snap := h.metrics.Snapshot()

	inProcess := 0
	if h.running != nil {
		inProcess = h.running()
	}

	ctx.JSON(http.StatusOK, gin.H{
		"metrics":   snap,
		"inProcess": inProcess,
	})
}
