// Package resilience guards calls to remote dependencies.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"cad-copilot/backend/pkg/logger"
)

// ErrCircuitOpen is returned without calling through while the breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// State of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config configures a CircuitBreaker.
type Config struct {
	Name string
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenProbes successful probes close the breaker again.
	HalfOpenProbes int
	// CallTimeout bounds each call when positive.
	CallTimeout time.Duration
	// IsFailure decides which errors count against the breaker. Errors it
	// rejects are returned to the caller but leave the state untouched.
	// Nil counts every error.
	IsFailure func(error) bool
}

// DefaultConfig suits slow remote APIs.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
		HalfOpenProbes:   2,
	}
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"consecutiveFailures"`
	Requests    uint64    `json:"requests"`
	Rejected    uint64    `json:"rejected"`
	Opened      uint64    `json:"opened"`
	LastFailure time.Time `json:"lastFailure,omitempty"`
}

// CircuitBreaker fails fast while a dependency keeps failing.
type CircuitBreaker struct {
	cfg Config
	log *logger.Logger
	now func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	probes      int // in flight or succeeded while half-open
	openedAt    time.Time
	lastFailure time.Time
	requests    uint64
	rejected    uint64
	opened      uint64

	transitions metric.Int64Counter
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg Config, log *logger.Logger) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	transitions, _ := otel.Meter("cad-copilot/resilience").Int64Counter("circuit_breaker.transitions",
		metric.WithDescription("Circuit breaker state changes"))

	return &CircuitBreaker{
		cfg:         cfg,
		log:         log,
		now:         time.Now,
		state:       StateClosed,
		transitions: transitions,
	}
}

// Execute calls fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !cb.admit() {
		cb.log.Debug("Circuit breaker rejected call", "name", cb.cfg.Name)
		return ErrCircuitOpen
	}

	if cb.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.cfg.CallTimeout)
		defer cancel()
	}

	err := fn(ctx)
	counts := err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err))
	// Caller cancellation says nothing about the dependency.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		counts = false
	}
	cb.record(ctx, counts)
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.setState(context.Background(), StateHalfOpen)
		cb.probes = 0
	}

	switch cb.state {
	case StateOpen:
		cb.rejected++
		return false
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenProbes {
			cb.rejected++
			return false
		}
		cb.probes++
	}
	cb.requests++
	return true
}

func (cb *CircuitBreaker) record(ctx context.Context, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.lastFailure = cb.now()
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
			cb.open(ctx)
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen && cb.probes >= cb.cfg.HalfOpenProbes {
		cb.setState(ctx, StateClosed)
	}
}

// open must be called with cb.mu held.
func (cb *CircuitBreaker) open(ctx context.Context) {
	cb.openedAt = cb.now()
	cb.opened++
	cb.setState(ctx, StateOpen)
	cb.log.Warn("Circuit breaker opened",
		"name", cb.cfg.Name,
		"failures", cb.failures,
		"retry_at", cb.openedAt.Add(cb.cfg.OpenTimeout).Format(time.RFC3339),
	)
}

// setState must be called with cb.mu held.
func (cb *CircuitBreaker) setState(ctx context.Context, to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
		cb.probes = 0
	}
	cb.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", cb.cfg.Name),
		attribute.String("to", string(to)),
	))
	cb.log.Info("Circuit breaker state changed", "name", cb.cfg.Name, "from", from, "to", to)
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns the current counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:        cb.cfg.Name,
		State:       cb.state,
		Failures:    cb.failures,
		Requests:    cb.requests,
		Rejected:    cb.rejected,
		Opened:      cb.opened,
		LastFailure: cb.lastFailure,
	}
}
