// Package broadcast fans job lifecycle and progress events out to in-process
// observers. Delivery is best effort; the job store stays the source of truth.
package broadcast

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/geocoder89/eventops/internal/domain/job"
)

type EventKind string

const (
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Event is a snapshot of a job at the moment it was published.
type Event struct {
	Kind      EventKind  `json:"type"`
	JobID     string     `json:"jobId"`
	Status    job.Status `json:"status"`
	Progress  int        `json:"progress"`
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Skipped   int        `json:"skipped"`
	Key       string     `json:"key,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	UpdatedAt int64      `json:"updatedAt"`
}

func EventFromJob(kind EventKind, j job.Job) Event {
	return Event{
		Kind:      kind,
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Total:     j.Total,
		Succeeded: j.Succeeded,
		Failed:    len(j.Failed),
		Skipped:   j.Skipped,
		UpdatedAt: j.UpdatedAt,
	}
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// Broadcaster is a mutex-guarded multimap of job id to callbacks.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber
	log    *slog.Logger
}

func New(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}

	return &Broadcaster{
		subs: make(map[string][]subscriber),
		log:  log,
	}
}

// Subscribe registers fn for jobID. The returned function removes it and is
// safe to call more than once.
func (b *Broadcaster) Subscribe(jobID string, fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[jobID] = append(b.subs[jobID], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() { b.remove(jobID, id) })
	}
}

func (b *Broadcaster) remove(jobID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[jobID]
	for i, s := range list {
		if s.id == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}

	if len(list) == 0 {
		delete(b.subs, jobID)
		return
	}
	b.subs[jobID] = list
}

// Publish calls every subscriber of ev.JobID synchronously. Callbacks should
// not block; a panicking callback is logged and skipped.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	list := append([]subscriber(nil), b.subs[ev.JobID]...)
	b.mu.RUnlock()

	for _, s := range list {
		b.deliver(s, ev)
	}
}

func (b *Broadcaster) deliver(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Warn("broadcast subscriber panicked",
				slog.String("job_id", ev.JobID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	s.fn(ev)
}

// Subscribers reports how many callbacks are registered for jobID.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[jobID])
}
