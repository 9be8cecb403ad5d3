package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/eventops/internal/domain/event"
	"github.com/geocoder89/eventops/internal/domain/registration"
	"github.com/geocoder89/eventops/internal/repo/memory"
)

// seedDemo gives a dev instance without Postgres one event to scan against.
func seedDemo(ctx context.Context, events *memory.EventsRepo, regs *memory.RegistrationsRepo, log *slog.Logger) error {
	ev, err := events.Create(ctx, event.CreateEventRequest{
		Title:    "Demo Meetup",
		City:     "Lagos",
		StartAt:  time.Now().Add(24 * time.Hour).UTC(),
		Capacity: 50,
	})

	if err != nil {
		return fmt.Errorf("seed event: %w", err)
	}

	attendees := []registration.CreateRegistrationRequest{
		{Name: "Ada Obi", Email: "ada@example.com", TicketNumber: "DEMO-001", Status: registration.StatusApproved},
		{Name: "Tunde Bello", Email: "tunde@example.com", TicketNumber: "DEMO-002", Status: registration.StatusInvited},
		{Name: "Chi Eze", Email: "chi@example.com", TicketNumber: "DEMO-003", Status: registration.StatusPending},
	}

	for _, a := range attendees {
		a.EventID = ev.ID

		if _, err := regs.Create(ctx, a); err != nil {
			return fmt.Errorf("seed registration %s: %w", a.Email, err)
		}
	}

	log.Info("seeded demo event", "event_id", ev.ID, "attendees", len(attendees))

	return nil
}
