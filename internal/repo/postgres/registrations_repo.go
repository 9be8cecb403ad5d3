package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventops/internal/domain/event"
	"github.com/geocoder89/eventops/internal/domain/registration"
	"github.com/geocoder89/eventops/internal/observability"
)

const registrationColumns = `
	id, event_id, COALESCE(user_id::text, ''), name, email,
	COALESCE(affiliation, ''), COALESCE(ticket_number, ''), status,
	checked_in_at, created_at, updated_at`

type RegistrationRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRegistrationsRepo(pool *pgxpool.Pool, prom *observability.Prom) *RegistrationRepo {
	return &RegistrationRepo{
		pool: pool,
		prom: prom,
	}
}

func scanRegistration(row pgx.Row) (registration.Registration, error) {
	var r registration.Registration

	err := row.Scan(
		&r.ID, &r.EventID, &r.UserID, &r.Name, &r.Email,
		&r.Affiliation, &r.TicketNumber, &r.Status,
		&r.CheckedInAt, &r.CreatedAt, &r.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return registration.Registration{}, registration.ErrNotFound
	}

	return r, err
}

// Create inserts an attendee. It is used for seeding and integration tests.
func (repo *RegistrationRepo) Create(ctx context.Context, req registration.CreateRegistrationRequest) (registration.Registration, error) {
	reg := registration.NewFromCreateRequest(req)

	err := repo.prom.ObserveDB("registrations.create", func() error {
		_, err := repo.pool.Exec(ctx, `
			INSERT INTO registrations
				(id, event_id, name, email, affiliation, ticket_number, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,$9)`,
			reg.ID, reg.EventID, reg.Name, reg.Email, reg.Affiliation, reg.TicketNumber,
			reg.Status, reg.CreatedAt, reg.UpdatedAt)
		return err
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "registrations_event_id_fkey" {
			return registration.Registration{}, event.ErrNotFound
		}
		return registration.Registration{}, err
	}

	return reg, nil
}

func (repo *RegistrationRepo) GetByID(ctx context.Context, eventID, id string) (reg registration.Registration, err error) {
	if !validIDs(eventID, id) {
		return registration.Registration{}, registration.ErrNotFound
	}

	err = repo.prom.ObserveDB("registrations.get_by_id", func() error {
		reg, err = scanRegistration(repo.pool.QueryRow(ctx,
			`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 AND event_id = $2`,
			id, eventID))
		return err
	})

	return
}

func (repo *RegistrationRepo) GetByEmail(ctx context.Context, eventID, email string) (reg registration.Registration, err error) {
	if !validIDs(eventID) {
		return registration.Registration{}, registration.ErrNotFound
	}

	err = repo.prom.ObserveDB("registrations.get_by_email", func() error {
		reg, err = scanRegistration(repo.pool.QueryRow(ctx,
			`SELECT `+registrationColumns+` FROM registrations WHERE event_id = $1 AND lower(email) = $2`,
			eventID, registration.NormalizeEmail(email)))
		return err
	})

	return
}

func (repo *RegistrationRepo) GetByTicket(ctx context.Context, eventID, ticket string) (reg registration.Registration, err error) {
	if ticket == "" || !validIDs(eventID) {
		return registration.Registration{}, registration.ErrNotFound
	}

	err = repo.prom.ObserveDB("registrations.get_by_ticket", func() error {
		reg, err = scanRegistration(repo.pool.QueryRow(ctx,
			`SELECT `+registrationColumns+` FROM registrations WHERE event_id = $1 AND ticket_number = $2`,
			eventID, ticket))
		return err
	})

	return
}

// SetCheckedIn stamps the legacy check-in time unless one is already set.
// It is a no-op once the attendee's entry scans are gone.
func (repo *RegistrationRepo) SetCheckedIn(ctx context.Context, id string, at time.Time) error {
	return repo.syncCheckedIn(ctx, "registrations.set_checked_in", id, `
		UPDATE registrations
		SET checked_in_at = COALESCE(checked_in_at, $2), updated_at = NOW()
		WHERE id = $1
		  AND EXISTS (SELECT 1 FROM checkpoint_scans WHERE rsvp_id = $1 AND checkpoint_type = 'entry')`,
		id, at.UTC())
}

// ClearCheckedIn drops the legacy check-in time. It is a no-op while any
// entry scan for the attendee remains.
func (repo *RegistrationRepo) ClearCheckedIn(ctx context.Context, id string) error {
	return repo.syncCheckedIn(ctx, "registrations.clear_checked_in", id, `
		UPDATE registrations
		SET checked_in_at = NULL, updated_at = NOW()
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM checkpoint_scans WHERE rsvp_id = $1 AND checkpoint_type = 'entry')`,
		id)
}

// syncCheckedIn runs a mirror update while holding the registration row
// lock. Mirror writers queue on that lock, so the last one to run reads the
// scan table after every earlier scan change has committed.
func (repo *RegistrationRepo) syncCheckedIn(ctx context.Context, op, id, q string, args ...any) error {
	if !validIDs(id) {
		return registration.ErrNotFound
	}

	missing := false

	err := repo.prom.ObserveDB(op, func() (err error) {
		tx, err := repo.pool.Begin(ctx)

		if err != nil {
			return err
		}
		defer func() {
			if rerr := tx.Rollback(ctx); rerr != nil && !errors.Is(rerr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rerr))
			}
		}()

		var one int
		err = tx.QueryRow(ctx, `SELECT 1 FROM registrations WHERE id = $1 FOR UPDATE`, id).Scan(&one)

		if errors.Is(err, pgx.ErrNoRows) {
			missing = true
			return nil
		}

		if err != nil {
			return err
		}

		if _, err = tx.Exec(ctx, q, args...); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})

	if err != nil {
		return err
	}

	if missing {
		return registration.ErrNotFound
	}

	return nil
}

// FilterEventMembers returns the ids, in input order, that are registrations
// of eventID.
func (repo *RegistrationRepo) FilterEventMembers(ctx context.Context, eventID string, ids []string) ([]string, error) {
	if len(ids) == 0 || !validIDs(eventID) {
		return []string{}, nil
	}

	found := make(map[string]struct{}, len(ids))

	err := repo.prom.ObserveDB("registrations.filter_event_members", func() error {
		rows, err := repo.pool.Query(ctx,
			`SELECT id::text FROM registrations WHERE event_id = $1 AND id::text = ANY($2)`,
			eventID, ids)
		if err != nil {
			return err
		}

		ok, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}

		for _, id := range ok {
			found[id] = struct{}{}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(found))
	for _, id := range ids {
		if _, ok := found[id]; ok {
			out = append(out, id)
		}
	}

	return out, nil
}
