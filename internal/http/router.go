package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/geocoder89/eventops/internal/audit"
	"github.com/geocoder89/eventops/internal/config"
	"github.com/geocoder89/eventops/internal/http/handlers"
	"github.com/geocoder89/eventops/internal/http/middlewares"
	"github.com/geocoder89/eventops/internal/observability"
	"github.com/geocoder89/eventops/internal/ratelimit"
)

const serviceName = "eventops-api"

type Deps struct {
	Env          string
	MaxBodyBytes int64

	Verifier    middlewares.TokenVerifier
	Limiter     ratelimit.Limiter
	Limits      config.LimitsConfig
	Audit       *audit.Sink
	Prom        *observability.Prom
	Gatherer    prometheus.Gatherer
	JobMetrics  *observability.JobMetrics
	Running     func() int
	Health      *handlers.HealthHandler
	Jobs        handlers.JobsService
	Checkpoints handlers.CheckpointService
}

func NewRouter(d Deps) *gin.Engine {
	if d.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger())
	r.Use(middlewares.SecurityHeaders())
	r.Use(otelgin.Middleware(serviceName))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.MaxBodyBytes(d.MaxBodyBytes))

	// health
	r.GET("/healthz", d.Health.Healthz)
	r.GET("/readyz", d.Health.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	am := middlewares.NewAuthMiddleware(d.Verifier)

	admin := r.Group("/admin", am.RequireAuth(), middlewares.RequireJSON())
	adminOnly := admin.Group("", am.RequireRole(middlewares.RoleAdmin))
	floor := admin.Group("", am.RequireRole(middlewares.RoleAdmin, middlewares.RoleStaff))

	jobs := handlers.NewJobsHandler(d.Jobs)

	bulkEmail := middlewares.AdminRateLimit(d.Limiter, middlewares.AdminLimit{
		Action: "bulk-email", Max: d.Limits.BulkEmail, Window: d.Limits.BulkEmailWindow,
	}, d.Audit, d.Prom)
	bulkCheckpoint := middlewares.AdminRateLimit(d.Limiter, middlewares.AdminLimit{
		Action: "bulk-checkpoint", Max: d.Limits.BulkCheckpoint, Window: d.Limits.BulkCheckpointWindow,
	}, d.Audit, d.Prom)

	adminOnly.POST("/jobs/bulk-email", bulkEmail, jobs.CreateBulkEmail)
	adminOnly.POST("/events/:id/checkpoints/bulk", bulkCheckpoint, jobs.CreateBulkCheckpoint)
	adminOnly.GET("/jobs/:id", jobs.GetByID)
	adminOnly.POST("/jobs/:id/cancel", jobs.Cancel)
	adminOnly.POST("/jobs/:id/retry", jobs.Retry)
	adminOnly.GET("/jobs/:id/stream", jobs.Stream)

	ops := handlers.NewOpsHandler(d.JobMetrics, d.Running)
	adminOnly.GET("/ops/jobs", ops.Jobs)

	// door scanning
	cp := handlers.NewCheckpointsHandler(d.Checkpoints, d.Audit)
	throttle := middlewares.NewThrottle(d.Limits.ScanPerSecond, d.Limits.ScanBurst).Middleware()

	checkpoints := floor.Group("/events/:id/checkpoints")
	checkpoints.POST("/resolve", throttle, cp.Resolve)
	checkpoints.POST("/scan", throttle, cp.Scan)
	checkpoints.GET("/stats", cp.Stats)
	checkpoints.GET("/:rsvpId", cp.Status)
	checkpoints.DELETE("/:rsvpId/:type", cp.Unscan)

	return r
}
