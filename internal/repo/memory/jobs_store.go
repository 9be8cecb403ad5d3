package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/eventops/internal/domain/job"
)

// JobsStore keeps jobs in process. Cancel requests are held apart from the
// job body so a worker's progress write cannot erase them.
type JobsStore struct {
	mu      sync.RWMutex
	items   map[string]job.Job
	cancels map[string]struct{}
}

func NewJobsStore() *JobsStore {
	return &JobsStore{
		items:   make(map[string]job.Job),
		cancels: make(map[string]struct{}),
	}
}

func (s *JobsStore) Get(_ context.Context, id string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.items[id]
	if !ok {
		return job.Job{}, job.ErrJobNotFound
	}

	out := j.Clone()
	if _, c := s.cancels[id]; c {
		out.Cancelled = true
	}

	return out, nil
}

func (s *JobsStore) Put(_ context.Context, j job.Job) error {
	if j.ID == "" {
		return job.ErrJobNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := j.Clone()
	if j.Cancelled {
		s.cancels[j.ID] = struct{}{}
	}
	if _, c := s.cancels[j.ID]; c {
		stored.Cancelled = true
	}

	s.items[j.ID] = stored
	return nil
}

// RequestCancel raises the sticky cancel flag. A terminal job is left as is.
func (s *JobsStore) RequestCancel(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.items[id]
	if !ok {
		return job.ErrJobNotFound
	}

	if j.Status.IsTerminal() {
		return nil
	}

	s.cancels[id] = struct{}{}
	j.Cancelled = true
	j.Touch(now)
	s.items[id] = j

	return nil
}

func (s *JobsStore) CancelRequested(_ context.Context, id string) bool {
	s.mu.RLock()
	_, ok := s.cancels[id]
	s.mu.RUnlock()

	return ok
}

// Prune drops terminal jobs that finished before cutoff.
func (s *JobsStore) Prune(cutoff time.Time) int {
	ms := cutoff.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, j := range s.items {
		if !j.Status.IsTerminal() || j.FinishedAt == nil || *j.FinishedAt >= ms {
			continue
		}
		delete(s.items, id)
		delete(s.cancels, id)
		removed++
	}

	return removed
}

func (s *JobsStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
