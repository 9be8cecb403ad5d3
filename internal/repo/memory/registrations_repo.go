package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/eventops/internal/domain/registration"
)

type RegistrationsRepo struct {
	mu    sync.RWMutex
	items map[string]registration.Registration
}

func NewRegistrationsRepo() *RegistrationsRepo {
	return &RegistrationsRepo{
		items: make(map[string]registration.Registration),
	}
}

func (r *RegistrationsRepo) Create(_ context.Context, req registration.CreateRegistrationRequest) (registration.Registration, error) {
	reg := registration.NewFromCreateRequest(req)

	r.mu.Lock()
	r.items[reg.ID] = reg
	r.mu.Unlock()

	return reg, nil
}

func (r *RegistrationsRepo) find(eventID string, match func(registration.Registration) bool) (registration.Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.items {
		if reg.EventID == eventID && match(reg) {
			return reg, nil
		}
	}

	return registration.Registration{}, registration.ErrNotFound
}

func (r *RegistrationsRepo) GetByID(_ context.Context, eventID, id string) (registration.Registration, error) {
	r.mu.RLock()
	reg, ok := r.items[id]
	r.mu.RUnlock()

	if !ok || reg.EventID != eventID {
		return registration.Registration{}, registration.ErrNotFound
	}

	return reg, nil
}

func (r *RegistrationsRepo) GetByEmail(_ context.Context, eventID, email string) (registration.Registration, error) {
	email = registration.NormalizeEmail(email)

	return r.find(eventID, func(reg registration.Registration) bool {
		return registration.NormalizeEmail(reg.Email) == email
	})
}

func (r *RegistrationsRepo) GetByTicket(_ context.Context, eventID, ticket string) (registration.Registration, error) {
	if ticket == "" {
		return registration.Registration{}, registration.ErrNotFound
	}

	return r.find(eventID, func(reg registration.Registration) bool {
		return reg.TicketNumber == ticket
	})
}

// SetCheckedIn stamps the legacy check-in time unless one is already set.
func (r *RegistrationsRepo) SetCheckedIn(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.items[id]
	if !ok {
		return registration.ErrNotFound
	}

	if reg.CheckedInAt == nil {
		t := at.UTC()
		reg.CheckedInAt = &t
		reg.UpdatedAt = time.Now().UTC()
		r.items[id] = reg
	}

	return nil
}

func (r *RegistrationsRepo) ClearCheckedIn(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.items[id]
	if !ok {
		return registration.ErrNotFound
	}

	reg.CheckedInAt = nil
	reg.UpdatedAt = time.Now().UTC()
	r.items[id] = reg

	return nil
}

// FilterEventMembers returns the ids, in input order, that are registrations
// of eventID.
func (r *RegistrationsRepo) FilterEventMembers(_ context.Context, eventID string, ids []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if reg, ok := r.items[id]; ok && reg.EventID == eventID {
			out = append(out, id)
		}
	}

	return out, nil
}

// counted returns the ids of the event's approved and invited attendees.
func (r *RegistrationsRepo) counted(eventID string) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct{})
	for id, reg := range r.items {
		if reg.EventID == eventID && reg.Status.Counted() {
			out[id] = struct{}{}
		}
	}

	return out
}
