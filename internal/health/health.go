// Package health runs named dependency checks for the readiness endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout bounds each check when the registry has no timeout set.
const DefaultTimeout = 2 * time.Second

// Status represents the health of a single subsystem.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Pinger is satisfied by *sql.DB and by small adapters over redis clients.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingChecker adapts a Pinger into a Checker.
func PingChecker(name string, p Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := p.PingContext(ctx); err != nil {
			return Status{Name: name, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

type namedChecker struct {
	name     string
	check    Checker
	critical bool
}

// Registry holds named checkers. Only critical checkers affect the
// aggregate result; degraded optional dependencies are reported but do
// not fail readiness.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

// NewRegistry creates a registry with the default per-check timeout.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// SetTimeout changes the per-check timeout.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	if d > 0 {
		r.timeout = d
	}
	r.mu.Unlock()
}

// Register adds a critical checker.
func (r *Registry) Register(name string, check Checker) {
	r.add(namedChecker{name: name, check: check, critical: true})
}

// RegisterOptional adds a checker whose failure marks the service
// degraded but still ready.
func (r *Registry) RegisterOptional(name string, check Checker) {
	r.add(namedChecker{name: name, check: check})
}

func (r *Registry) add(nc namedChecker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, nc)
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently and returns the aggregate
// health plus per-subsystem results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			st := nc.check(cctx)
			if st.Name == "" {
				st.Name = nc.name
			}
			st.Critical = nc.critical
			statuses[i] = st
		}()
	}
	wg.Wait()

	healthy = true
	for _, st := range statuses {
		if st.Critical && !st.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}
