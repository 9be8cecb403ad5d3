package notifications

import (
	"context"
	"errors"
	"time"
)

type GuardConfig struct {
	SendTimeout time.Duration // hard timeout per send
	Breaker     BreakerConfig
}

// GuardedMailer bounds every send and stops calling a provider that keeps
// failing. While the breaker is open, sends fail fast with ErrCircuitOpen and
// the bulk job records them as per-recipient failures.
type GuardedMailer struct {
	inner   Mailer
	timeout time.Duration
	cb      *breaker
}

func NewGuardedMailer(inner Mailer, cfg GuardConfig) *GuardedMailer {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	return &GuardedMailer{
		inner:   inner,
		timeout: cfg.SendTimeout,
		cb:      newBreaker(cfg.Breaker),
	}
}

func (m *GuardedMailer) Send(ctx context.Context, to, subject, html string) error {
	t, err := m.cb.admit()

	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err = m.inner.Send(sendCtx, to, subject, html)

	m.cb.done(t, classify(ctx, err))

	return err
}

// State names the breaker state, e.g. "half_open".
func (m *GuardedMailer) State() string {
	return m.cb.State()
}

func classify(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return outcomeOK
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return outcomeAbandoned
	default:
		return outcomeFailed
	}
}
