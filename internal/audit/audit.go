// Package audit records administrative actions. Recording never blocks or
// fails the action being audited.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	ActionJobCreate          = "job.create"
	ActionJobCancel          = "job.cancel"
	ActionJobRetry           = "job.retry"
	ActionCheckpointFinished = "job.checkpoint.finished"
	ActionScan               = "checkpoint.scan"
	ActionUnscan             = "checkpoint.unscan"
	ActionRateLimitReject    = "ratelimit.reject"
)

type Entry struct {
	ID        string          `json:"id"`
	ActorID   string          `json:"actorId"`
	Action    string          `json:"action"`
	TargetID  string          `json:"targetId,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Summary marshals v for Before/After, dropping it if it cannot be encoded.
func Summary(v any) json.RawMessage {
	if v == nil {
		return nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Writer persists one entry synchronously.
type Writer interface {
	Write(ctx context.Context, e Entry) error
}

// Sink hands entries to a Writer on a background goroutine with a bounded
// timeout. Write errors are logged.
type Sink struct {
	w       Writer
	log     *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewSink(w Writer, log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}

	return &Sink{w: w, log: log, timeout: 3 * time.Second}
}

func (s *Sink) Record(ctx context.Context, e Entry) {
	if s == nil || s.w == nil {
		return
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		if err := s.w.Write(wctx, e); err != nil {
			s.log.WarnContext(wctx, "audit.write_failed",
				"action", e.Action,
				"actor_id", e.ActorID,
				"target_id", e.TargetID,
				"err", err,
			)
		}
	}()
}

// Wait blocks until queued entries are written. It must not run alongside
// Record: stop every producer first, then Wait.
func (s *Sink) Wait() {
	if s != nil {
		s.wg.Wait()
	}
}

// LogWriter writes entries to the structured log.
type LogWriter struct {
	log *slog.Logger
}

func NewLogWriter(log *slog.Logger) *LogWriter {
	if log == nil {
		log = slog.Default()
	}
	return &LogWriter{log: log}
}

func (w *LogWriter) Write(ctx context.Context, e Entry) error {
	w.log.InfoContext(ctx, "audit",
		"audit_id", e.ID,
		"action", e.Action,
		"actor_id", e.ActorID,
		"target_id", e.TargetID,
		"before", string(e.Before),
		"after", string(e.After),
	)
	return nil
}

// MemoryWriter keeps entries in process for tests.
type MemoryWriter struct {
	mu      sync.Mutex
	entries []Entry
}

func (w *MemoryWriter) Write(_ context.Context, e Entry) error {
	w.mu.Lock()
	w.entries = append(w.entries, e)
	w.mu.Unlock()
	return nil
}

func (w *MemoryWriter) Entries() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Entry(nil), w.entries...)
}
