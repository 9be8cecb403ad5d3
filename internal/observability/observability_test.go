package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocoder89/eventops/internal/actorctx"
)

func TestJobMetrics_Snapshot(t *testing.T) {
	m := NewJobMetrics()

	m.IncStarted()
	m.IncStarted()
	m.IncFinished("completed")
	m.IncTarget("ok")
	m.IncTarget("skipped")
	m.IncTarget("bogus")
	m.ObserveDuration(2 * time.Second)
	m.ObserveDuration(4 * time.Second)

	s := m.Snapshot()

	assert.Equal(t, uint64(2), s.Started)
	assert.Equal(t, uint64(1), s.Running)
	assert.Equal(t, uint64(1), s.TargetsOK)
	assert.Equal(t, uint64(1), s.TargetsSkipped)
	assert.Equal(t, 3*time.Second, s.AverageDuration)
	assert.Equal(t, 4*time.Second, s.MaxDuration)
}

func TestProm_NilReceiverIsNoop(t *testing.T) {
	var p *Prom

	called := false
	err := p.ObserveDB("op", func() error { called = true; return nil })

	require.NoError(t, err)
	assert.True(t, called)

	p.ObserveJob("bulkEmail", "completed", time.Second)
	p.ObserveTarget("bulkEmail", "ok")
	p.JobStarted()
	p.JobStopped()
	p.RateLimited("bulk-email")
}

func TestProm_CountsRejectionsAndDBErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.RateLimited("bulk-email")
	p.RateLimited("bulk-email")

	dup := &pgconn.PgError{Code: pgerrcode.UniqueViolation}
	err := p.ObserveDB("checkpoints.insert", func() error { return dup })
	assert.ErrorIs(t, err, dup)

	assert.Equal(t, 2.0, counterValue(t, reg, "eventops_ratelimit_rejections_total", "bulk-email"))
	assert.Equal(t, 1.0, counterValue(t, reg, "eventops_db_errors_total", "unique_violation"))
}

// counterValue sums the samples of family name that carry labelValue.
func counterValue(t *testing.T, g prometheus.Gatherer, name, labelValue string) float64 {
	t.Helper()

	families, err := g.Gather()
	require.NoError(t, err)

	var sum float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetValue() == labelValue {
					sum += m.GetCounter().GetValue()
				}
			}
		}
	}
	return sum
}

func TestClassifyDBErr(t *testing.T) {
	assert.Equal(t, "deadlock", classifyDBErr(&pgconn.PgError{Code: pgerrcode.DeadlockDetected}))
	assert.Equal(t, "timeout", classifyDBErr(context.DeadlineExceeded))
	assert.Equal(t, "connection", classifyDBErr(errors.New("connection refused")))
	assert.Equal(t, "unknown", classifyDBErr(errors.New("boom")))
}

func TestTraceHandler_StampsActor(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil))).With("component", "test")

	ctx := actorctx.With(context.Background(), actorctx.Actor{UserID: "u1", Role: "admin"})
	log.InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))

	assert.Equal(t, "u1", rec["actor_id"])
	assert.Equal(t, "test", rec["component"])
	assert.NotContains(t, rec, "trace_id", "no active span")
}
