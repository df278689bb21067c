package health

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cad-copilot/backend/pkg/logger"
)

// Status represents the health status of a component
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Component is the last known state of one checked dependency.
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check probes one dependency.
type Check func(ctx context.Context) (Status, string, error)

type registration struct {
	check    Check
	critical bool
}

// Checker runs registered checks and keeps their latest results.
type Checker struct {
	mu         sync.RWMutex
	checks     map[string]registration
	components map[string]Component
	listeners  []func()

	period      time.Duration
	timeout     time.Duration
	parallelism int
	log         *logger.Logger
}

// NewChecker creates a checker that re-runs every period once started.
func NewChecker(log *logger.Logger, period time.Duration) *Checker {
	if log == nil {
		log = logger.Nop()
	}
	c := &Checker{
		checks:      make(map[string]registration),
		components:  make(map[string]Component),
		period:      period,
		timeout:     5 * time.Second,
		parallelism: 4,
		log:         log,
	}
	c.RegisterCheck("self", false, func(context.Context) (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})
	return c
}

// RegisterCheck adds a check. A critical component that is down makes the
// whole system unhealthy; anything else at worst degrades it.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.checks[name] = registration{check: check, critical: critical}
	c.components[name] = Component{
		Name:        name,
		Status:      StatusDown,
		Critical:    critical,
		Description: "Not checked yet",
	}
}

// OnUpdate registers fn to run after every completed round of checks.
func (c *Checker) OnUpdate(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// RunChecks runs every check concurrently, each under its own timeout.
func (c *Checker) RunChecks(ctx context.Context) {
	c.mu.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, reg := range c.checks {
		checks[name] = reg
	}
	c.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(c.parallelism)
	for name, reg := range checks {
		name, reg := name, reg
		g.Go(func() error {
			c.record(name, reg, c.probe(ctx, reg.check))
			return nil
		})
	}
	_ = g.Wait()

	c.mu.RLock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

type probeResult struct {
	status      Status
	description string
	err         error
}

func (c *Checker) probe(ctx context.Context, check Check) probeResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	status, description, err := check(ctx)
	return probeResult{status: status, description: description, err: err}
}

func (c *Checker) record(name string, reg registration, res probeResult) {
	c.mu.Lock()
	prev := c.components[name]
	next := Component{
		Name:        name,
		Status:      res.status,
		Critical:    reg.critical,
		Description: res.description,
		LastChecked: time.Now(),
	}
	if res.err != nil {
		next.Error = res.err.Error()
	}
	c.components[name] = next
	c.mu.Unlock()

	if prev.Status == next.Status && !prev.LastChecked.IsZero() {
		return
	}
	args := []any{"component", name, "status", string(next.Status), "previous", string(prev.Status)}
	if res.err != nil {
		c.log.Warn("Health status changed", append(args, "error", next.Error)...)
	} else {
		c.log.Info("Health status changed", args...)
	}
}

// Start runs the checks now and then every period until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunChecks(ctx)
			}
		}
	}()
}

// GetStatus returns a copy of the latest results keyed by component.
func (c *Checker) GetStatus() map[string]*Component {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for name, comp := range c.components {
		comp := comp
		result[name] = &comp
	}
	return result
}

// Overall folds the components into one status: down when a critical
// component is down, degraded when anything else is not up.
func (c *Checker) Overall() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusUp
	for _, comp := range c.components {
		switch {
		case comp.Status == StatusDown && comp.Critical:
			return StatusDown
		case comp.Status != StatusUp:
			overall = StatusDegraded
		}
	}
	return overall
}

// IsSystemHealthy reports whether every critical component is reachable.
func (c *Checker) IsSystemHealthy() bool {
	return c.Overall() != StatusDown
}

// RegisterDatabaseCheck registers the session store check.
func (c *Checker) RegisterDatabaseCheck(ping func(ctx context.Context) error) {
	c.RegisterCheck("database", true, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDown, "Database connection failed", err
		}
		return StatusUp, "Database connection is established", nil
	})
}

// RegisterRedisCheck registers the session lock store check. Without
// Redis, sessions are only guarded within one replica.
func (c *Checker) RegisterRedisCheck(ping func(ctx context.Context) error) {
	c.RegisterCheck("redis", false, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDegraded, "Redis is unreachable", err
		}
		return StatusUp, "Redis is reachable", nil
	})
}

// RegisterBreakerCheck reports degraded while any named breaker is open.
func (c *Checker) RegisterBreakerCheck(name string, open func() []string) {
	c.RegisterCheck(name, false, func(context.Context) (Status, string, error) {
		names := open()
		if len(names) == 0 {
			return StatusUp, "All circuits closed", nil
		}
		sort.Strings(names)
		return StatusDegraded, "Circuit open for " + strings.Join(names, ", "), nil
	})
}
