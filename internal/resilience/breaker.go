// Package resilience guards calls to remote answer sources with circuit
// breakers and bounded retries.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned while a breaker is rejecting calls.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit rejects calls before letting a
	// single probe through.
	Cooldown time.Duration
	// ShouldTrip decides whether an error counts as a failure. Nil counts
	// every non-nil error.
	ShouldTrip func(err error) bool
	// OnStateChange observes transitions.
	OnStateChange func(name string, from, to State)
}

// DefaultBreakerConfig opens after 5 consecutive failures for 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker. In half-open state
// exactly one probe is admitted at a time.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the guarded service name.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. A nil return obliges the
// caller to Record the outcome.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// Record feeds a call outcome back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed := err != nil
	if failed && b.cfg.ShouldTrip != nil {
		failed = b.cfg.ShouldTrip(err)
	}

	if b.state == StateHalfOpen {
		b.probing = false
		if failed {
			b.openedAt = b.now()
			b.transition(StateOpen)
			return
		}
		b.failures = 0
		b.transition(StateClosed)
		return
	}

	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.state == StateClosed && b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// Abandon releases an admitted call that never reached the service, such
// as one cancelled by its caller. It leaves counters untouched.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current state, reporting half-open once the cooldown
// has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the circuit.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from == to {
		return
	}
	zap.L().Info("resilience: circuit state change",
		zap.String("service", b.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}

// Guard runs fn through b.
func Guard[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	v, err := fn(ctx)
	b.Record(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

// Breakers is a registry of named breakers sharing one config.
type Breakers struct {
	cfg BreakerConfig

	mu  sync.RWMutex
	set map[string]*Breaker
}

// NewBreakers returns an empty registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, set: make(map[string]*Breaker)}
}

// For returns the breaker for name, creating it on first use.
func (r *Breakers) For(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.set[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.set[name]; ok {
		return b
	}
	b = NewBreaker(name, r.cfg)
	r.set[name] = b
	return b
}

// States snapshots every known breaker.
func (r *Breakers) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.set))
	for name, b := range r.set {
		out[name] = b.State()
	}
	return out
}
