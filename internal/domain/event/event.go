package event

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	City      string    `json:"city,omitempty"`
	StartAt   time.Time `json:"startAt"`
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("event not found")

type CreateEventRequest struct {
	Title    string    `json:"title" binding:"required,min=3,max=120"`
	City     string    `json:"city" binding:"omitempty,min=2,max=80"`
	StartAt  time.Time `json:"startAt" binding:"required"`
	Capacity int       `json:"capacity" binding:"required,min=1,max=50000"`
}

func NewFromCreateRequest(req CreateEventRequest) Event {
	now := time.Now().UTC()

	return Event{
		ID:        uuid.NewString(),
		Title:     req.Title,
		City:      req.City,
		StartAt:   req.StartAt,
		Capacity:  req.Capacity,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
