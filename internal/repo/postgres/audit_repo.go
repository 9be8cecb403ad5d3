package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventops/internal/audit"
	"github.com/geocoder89/eventops/internal/observability"
)

// AuditRepo is the durable audit.Writer.
type AuditRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewAuditRepo(pool *pgxpool.Pool, prom *observability.Prom) *AuditRepo {
	return &AuditRepo{pool: pool, prom: prom}
}

func (r *AuditRepo) Write(ctx context.Context, e audit.Entry) error {
	return r.prom.ObserveDB("audit.write", func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO audit_log (id, actor_id, action, target_id, before, after, created_at)
			VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7)`,
			e.ID, e.ActorID, e.Action, e.TargetID, nullJSON(e.Before), nullJSON(e.After), e.CreatedAt)
		return err
	})
}

// nullJSON maps an empty raw message to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
