package observability

import (
	"sync/atomic"
	"time"
)

// JobMetrics are in-process counters for bulk jobs, served on the ops
// endpoint without a Prometheus scrape.
type JobMetrics struct {
	started   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64

	targetsOK      atomic.Uint64
	targetsFailed  atomic.Uint64
	targetsSkipped atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewJobMetrics() *JobMetrics {
	return &JobMetrics{}
}

func (m *JobMetrics) IncStarted() {
	m.started.Add(1)
}

func (m *JobMetrics) IncFinished(status string) {
	switch status {
	case "completed":
		m.completed.Add(1)
	case "failed":
		m.failed.Add(1)
	case "cancelled":
		m.cancelled.Add(1)
	}
}

func (m *JobMetrics) IncTarget(outcome string) {
	switch outcome {
	case "ok":
		m.targetsOK.Add(1)
	case "failed":
		m.targetsFailed.Add(1)
	case "skipped":
		m.targetsSkipped.Add(1)
	}
}

func (m *JobMetrics) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	// max update

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type JobMetricsSnapshot struct {
	Started         uint64        `json:"started"`
	Completed       uint64        `json:"completed"`
	Failed          uint64        `json:"failed"`
	Cancelled       uint64        `json:"cancelled"`
	Running         uint64        `json:"running"`
	TargetsOK       uint64        `json:"targetsOk"`
	TargetsFailed   uint64        `json:"targetsFailed"`
	TargetsSkipped  uint64        `json:"targetsSkipped"`
	DurationCount   uint64        `json:"durationCount"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
}

func (m *JobMetrics) Snapshot() JobMetricsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()
	max := m.durationMax.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	started := m.started.Load()
	done := m.completed.Load() + m.failed.Load() + m.cancelled.Load()

	var running uint64
	if started > done {
		running = started - done
	}

	return JobMetricsSnapshot{
		Started:         started,
		Completed:       m.completed.Load(),
		Failed:          m.failed.Load(),
		Cancelled:       m.cancelled.Load(),
		Running:         running,
		TargetsOK:       m.targetsOK.Load(),
		TargetsFailed:   m.targetsFailed.Load(),
		TargetsSkipped:  m.targetsSkipped.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(max),
	}
}
