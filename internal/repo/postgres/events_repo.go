package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventops/internal/domain/event"
	"github.com/geocoder89/eventops/internal/observability"
)

// EventsRepo reads events owned by the event service. Create exists for
// seeding and tests.
type EventsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewEventsRepo(pool *pgxpool.Pool, prom *observability.Prom) *EventsRepo {
	return &EventsRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *EventsRepo) Create(ctx context.Context, req event.CreateEventRequest) (event.Event, error) {
	e := event.NewFromCreateRequest(req)

	err := r.prom.ObserveDB("events.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO events (id, title, city, start_at, capacity, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.ID, e.Title, e.City, e.StartAt, e.Capacity, e.CreatedAt, e.UpdatedAt)
		return err
	})

	if err != nil {
		return event.Event{}, err
	}

	return e, nil
}

func (r *EventsRepo) GetByID(ctx context.Context, id string) (event.Event, error) {
	if !validIDs(id) {
		return event.Event{}, event.ErrNotFound
	}

	var e event.Event

	err := r.prom.ObserveDB("events.get_by_id", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT id, title, COALESCE(city, ''), start_at, capacity, created_at, updated_at
			 FROM events
			 WHERE id = $1`,
			id,
		).Scan(&e.ID, &e.Title, &e.City, &e.StartAt, &e.Capacity, &e.CreatedAt, &e.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return event.Event{}, event.ErrNotFound
		}

		return event.Event{}, err
	}

	return e, nil
}
