package resilience

import (
	"sync"
	"time"
)

// Registry hands out one Breaker per collaborator endpoint, so a failing
// bridge quoter trips its own circuit without affecting swap or gas calls.
type Registry struct {
	mu          sync.Mutex
	maxFailures int
	timeout     time.Duration
	breakers    map[string]*Breaker
}

// NewRegistry creates a Registry whose breakers share the given settings.
func NewRegistry(maxFailures int, timeout time.Duration) *Registry {
	return &Registry{
		maxFailures: maxFailures,
		timeout:     timeout,
		breakers:    make(map[string]*Breaker),
	}
}

// For returns the breaker for the named endpoint, creating it on first use.
func (r *Registry) For(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(r.maxFailures, r.timeout)
		r.breakers[name] = b
	}
	return b
}
