package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/geocoder89/eventops/internal/domain/checkpoint"
)

type scanKey struct {
	rsvpID  string
	eventID string
	typ     checkpoint.Type
}

// CheckpointsRepo enforces the one-scan-per-key rule under its lock, the way
// a unique index would.
type CheckpointsRepo struct {
	mu    sync.RWMutex
	items map[scanKey]checkpoint.Scan
	regs  *RegistrationsRepo
}

func NewCheckpointsRepo(regs *RegistrationsRepo) *CheckpointsRepo {
	return &CheckpointsRepo{
		items: make(map[scanKey]checkpoint.Scan),
		regs:  regs,
	}
}

func (r *CheckpointsRepo) Insert(_ context.Context, s checkpoint.Scan) error {
	k := scanKey{s.RSVPID, s.EventID, s.Type}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[k]; ok {
		return checkpoint.ErrAlreadyScanned
	}

	r.items[k] = s
	return nil
}

func (r *CheckpointsRepo) Delete(_ context.Context, rsvpID, eventID string, t checkpoint.Type) (bool, error) {
	k := scanKey{rsvpID, eventID, t}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[k]; !ok {
		return false, nil
	}

	delete(r.items, k)
	return true, nil
}

func (r *CheckpointsRepo) ListByRSVP(_ context.Context, rsvpID, eventID string) ([]checkpoint.Scan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []checkpoint.Scan{}
	for k, s := range r.items {
		if k.rsvpID == rsvpID && k.eventID == eventID {
			out = append(out, s)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ScannedAt.Before(out[j].ScannedAt) })
	return out, nil
}

func (r *CheckpointsRepo) CountByType(_ context.Context, rsvpID string, t checkpoint.Type) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for k := range r.items {
		if k.rsvpID == rsvpID && k.typ == t {
			n++
		}
	}

	return n, nil
}

func (r *CheckpointsRepo) Stats(_ context.Context, eventID string) (int, map[checkpoint.Type]int, error) {
	members := r.regs.counted(eventID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[checkpoint.Type]int, len(checkpoint.Types))
	for k := range r.items {
		if k.eventID != eventID {
			continue
		}
		if _, ok := members[k.rsvpID]; ok {
			counts[k.typ]++
		}
	}

	return len(members), counts, nil
}

func (r *CheckpointsRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
