package notifications

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type BreakerConfig struct {
	Failures int           // consecutive failures that trip the breaker
	Cooldown time.Duration // time spent tripped before trial sends
	Trials   int           // concurrent trial sends while recovering
}

type circuit int

const (
	circuitClosed circuit = iota
	circuitOpen
	circuitHalfOpen
)

func (c circuit) String() string {
	switch c {
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeFailed
	// the caller gave up; says nothing about the provider
	outcomeAbandoned
)

// ticket ties a result to the breaker generation that admitted the call.
// Results from an older generation are ignored.
type ticket struct {
	gen   uint64
	trial bool
}

type breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    circuit
	gen      uint64
	since    time.Time
	failures int
	trials   int
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.Failures <= 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Trials <= 0 {
		cfg.Trials = 1
	}

	return &breaker{cfg: cfg, now: time.Now}
}

// transition enters a new state and starts a new generation. Callers hold mu.
func (b *breaker) transition(to circuit) {
	b.state = to
	b.gen++
	b.since = b.now()
	b.failures = 0
	b.trials = 0
}

// current moves an open breaker to half_open once the cooldown is over.
// Callers hold mu.
func (b *breaker) current() circuit {
	if b.state == circuitOpen && b.now().Sub(b.since) >= b.cfg.Cooldown {
		b.transition(circuitHalfOpen)
	}
	return b.state
}

func (b *breaker) admit() (ticket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.current() {
	case circuitOpen:
		return ticket{}, ErrCircuitOpen
	case circuitHalfOpen:
		if b.trials >= b.cfg.Trials {
			return ticket{}, ErrCircuitOpen
		}
		b.trials++
		return ticket{gen: b.gen, trial: true}, nil
	default:
		return ticket{gen: b.gen}, nil
	}
}

func (b *breaker) done(t ticket, o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t.gen != b.gen {
		return
	}

	if t.trial {
		switch o {
		case outcomeOK:
			b.transition(circuitClosed)
		case outcomeFailed:
			b.transition(circuitOpen)
		default:
			b.trials--
		}
		return
	}

	switch o {
	case outcomeOK:
		b.failures = 0
	case outcomeFailed:
		b.failures++
		if b.failures >= b.cfg.Failures {
			b.transition(circuitOpen)
		}
	}
}

func (b *breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current().String()
}
