// Package ratelimit implements per-key admission control for expensive admin
// operations, e.g. one bulk-email request per admin per minute.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call. ResetAt is when the next call for
// the key can succeed; it never lies beyond now + window.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (Decision, error)
}

// Key builds the conventional admin-scoped key, e.g. admin:42:bulk-email.
func Key(actorID, action string) string {
	return "admin:" + actorID + ":" + action
}
