package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventops/internal/domain/checkpoint"
	"github.com/geocoder89/eventops/internal/observability"
)

// CheckpointsRepo relies on the unique index over
// (rsvp_id, event_id, checkpoint_type) to make concurrent scans race safe.
type CheckpointsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewCheckpointsRepo(pool *pgxpool.Pool, prom *observability.Prom) *CheckpointsRepo {
	return &CheckpointsRepo{
		pool: pool,
		prom: prom,
	}
}

func (r *CheckpointsRepo) Insert(ctx context.Context, s checkpoint.Scan) error {
	err := r.prom.ObserveDB("checkpoints.insert", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO checkpoint_scans
				(id, rsvp_id, event_id, checkpoint_type, scanned_at, scanned_by, scan_method, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			s.ID, s.RSVPID, s.EventID, s.Type, s.ScannedAt, s.ScannedBy, s.ScanMethod, s.Notes)
		return err
	})

	if IsUniqueViolation(err) {
		return checkpoint.ErrAlreadyScanned
	}

	return err
}

func (r *CheckpointsRepo) Delete(ctx context.Context, rsvpID, eventID string, t checkpoint.Type) (bool, error) {
	if !validIDs(rsvpID, eventID) {
		return false, nil
	}

	var tag pgconn.CommandTag

	err := r.prom.ObserveDB("checkpoints.delete", func() error {
		var err error
		tag, err = r.pool.Exec(ctx, `
			DELETE FROM checkpoint_scans
			WHERE rsvp_id = $1 AND event_id = $2 AND checkpoint_type = $3`,
			rsvpID, eventID, t)
		return err
	})

	if err != nil {
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

func (r *CheckpointsRepo) ListByRSVP(ctx context.Context, rsvpID, eventID string) ([]checkpoint.Scan, error) {
	if !validIDs(rsvpID, eventID) {
		return []checkpoint.Scan{}, nil
	}

	var out []checkpoint.Scan

	err := r.prom.ObserveDB("checkpoints.list_by_rsvp", func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT id, rsvp_id, event_id, checkpoint_type, scanned_at, scanned_by, scan_method, notes
			FROM checkpoint_scans
			WHERE rsvp_id = $1 AND event_id = $2
			ORDER BY scanned_at ASC`,
			rsvpID, eventID)
		if err != nil {
			return err
		}

		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (checkpoint.Scan, error) {
			var s checkpoint.Scan
			err := row.Scan(&s.ID, &s.RSVPID, &s.EventID, &s.Type, &s.ScannedAt, &s.ScannedBy, &s.ScanMethod, &s.Notes)
			return s, err
		})
		return err
	})

	if err != nil {
		return nil, err
	}

	if out == nil {
		out = []checkpoint.Scan{}
	}

	return out, nil
}

func (r *CheckpointsRepo) CountByType(ctx context.Context, rsvpID string, t checkpoint.Type) (int, error) {
	if !validIDs(rsvpID) {
		return 0, nil
	}

	var n int

	err := r.prom.ObserveDB("checkpoints.count_by_type", func() error {
		return r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM checkpoint_scans WHERE rsvp_id = $1 AND checkpoint_type = $2`,
			rsvpID, t).Scan(&n)
	})

	return n, err
}

// Stats counts scans over the event's approved and invited attendees only.
func (r *CheckpointsRepo) Stats(ctx context.Context, eventID string) (int, map[checkpoint.Type]int, error) {
	var total int
	counts := make(map[checkpoint.Type]int, len(checkpoint.Types))

	if !validIDs(eventID) {
		return 0, counts, nil
	}

	err := r.prom.ObserveDB("checkpoints.stats", func() error {
		err := r.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM registrations
			WHERE event_id = $1 AND status IN ('approved', 'invited')`,
			eventID).Scan(&total)
		if err != nil {
			return err
		}

		rows, err := r.pool.Query(ctx, `
			SELECT s.checkpoint_type, COUNT(*)
			FROM checkpoint_scans s
			JOIN registrations g ON g.id = s.rsvp_id
			WHERE s.event_id = $1 AND g.status IN ('approved', 'invited')
			GROUP BY s.checkpoint_type`,
			eventID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t checkpoint.Type
				c int
			)
			if err := rows.Scan(&t, &c); err != nil {
				return err
			}
			counts[t] = c
		}

		return rows.Err()
	})

	if err != nil {
		return 0, nil, err
	}

	return total, counts, nil
}
