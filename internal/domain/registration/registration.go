package registration

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusInvited  Status = "invited"
	StatusDeclined Status = "declined"
)

// Counted reports whether the attendee belongs to the population checkpoint
// stats are computed over.
func (s Status) Counted() bool {
	return s == StatusApproved || s == StatusInvited
}

// Registration is an attendee's RSVP for one event. CheckedInAt is the
// legacy mirror of the existence of an entry scan.
type Registration struct {
	ID           string     `json:"id"`
	EventID      string     `json:"eventId"`
	UserID       string     `json:"userId,omitempty"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Affiliation  string     `json:"affiliation,omitempty"`
	TicketNumber string     `json:"ticketNumber,omitempty"`
	Status       Status     `json:"status"`
	CheckedInAt  *time.Time `json:"checkedInAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

var ErrNotFound = errors.New("registration not found")

type CreateRegistrationRequest struct {
	EventID      string `json:"-"`
	UserID       string `json:"-"`
	Name         string `json:"name" binding:"required,min=2"`
	Email        string `json:"email" binding:"required,email"`
	Affiliation  string `json:"affiliation" binding:"omitempty,max=200"`
	TicketNumber string `json:"ticketNumber" binding:"omitempty,max=64"`
	Status       Status `json:"status" binding:"omitempty,oneof=pending approved invited declined"`
}

// A factory to build a Registration from the incoming DTO

func NewFromCreateRequest(req CreateRegistrationRequest) Registration {
	now := time.Now().UTC()

	status := req.Status
	if status == "" {
		status = StatusPending
	}

	return Registration{
		ID:           uuid.NewString(),
		EventID:      req.EventID,
		UserID:       req.UserID,
		Name:         req.Name,
		Email:        NormalizeEmail(req.Email),
		Affiliation:  req.Affiliation,
		TicketNumber: req.TicketNumber,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
