package observability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Readiness aggregates named dependency checks. It satisfies the shared
// observability.ReadinessChecker.
type Readiness struct {
	mu     sync.RWMutex
	checks map[string]func(context.Context) error
}

func NewReadiness() *Readiness {
	return &Readiness{checks: make(map[string]func(context.Context) error)}
}

// Add registers a check under name, replacing any previous one.
func (r *Readiness) Add(name string, check func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = check
}

// CheckReadiness runs every check in name order and joins the failures.
func (r *Readiness) CheckReadiness(ctx context.Context) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		r.mu.RLock()
		check := r.checks[name]
		r.mu.RUnlock()
		if err := check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
