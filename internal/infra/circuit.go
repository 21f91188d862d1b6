// Package infra guards calls to external endpoints the assistant
// depends on but doesn't control — the local and cloud LLM providers,
// and (by the same mechanism, keyed by server id) MCP servers — with a
// circuit breaker, so a provider that starts timing out stops eating
// every completion request's retry budget and instead fails fast until
// it recovers.
package infra

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Endpoint breaker states.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// ErrEndpointUnavailable is returned by Execute while the breaker for an
// endpoint is open.
var ErrEndpointUnavailable = errors.New("endpoint circuit is open")

// EndpointBreakerConfig configures one endpoint's breaker.
type EndpointBreakerConfig struct {
	// Name identifies the guarded endpoint (e.g. "llm:cloud", "mcp:fs").
	Name string

	// FailureThreshold is the number of failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open to close.
	SuccessThreshold int

	// Timeout is how long the circuit stays open before trying half-open.
	Timeout time.Duration

	// OnStateChange is called when the circuit state changes.
	OnStateChange func(from, to string)
}

// EndpointBreaker implements the circuit breaker pattern for one endpoint.
type EndpointBreaker struct {
	config EndpointBreakerConfig

	mu              sync.RWMutex
	state           string
	failures        int
	successes       int
	lastFailure     time.Time
	lastStateChange time.Time
}

// NewEndpointBreaker creates a breaker for one endpoint.
func NewEndpointBreaker(config EndpointBreakerConfig) *EndpointBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &EndpointBreaker{
		config:          config,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute calls fn with breaker protection: it's rejected outright while
// the breaker is open.
func (cb *EndpointBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.canExecute(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.recordResult(err)
	return err
}

// ExecuteWithResult is Execute for a call that also returns a value —
// the shape every LLM Gateway completion call uses.
func ExecuteWithResult[T any](cb *EndpointBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.canExecute(); err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	cb.recordResult(err)
	return result, err
}

// canExecute checks if execution is allowed and transitions state if needed.
func (cb *EndpointBreaker) canExecute() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastStateChange) >= cb.config.Timeout {
			cb.transitionTo(StateHalfOpen)
			return nil
		}
		return ErrEndpointUnavailable

	case StateHalfOpen:
		return nil

	default:
		return nil
	}
}

// recordResult records the result of a call against the endpoint.
func (cb *EndpointBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

// recordFailure records a failed call.
func (cb *EndpointBreaker) recordFailure() {
	cb.failures++
	cb.successes = 0
	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

// recordSuccess records a successful call.
func (cb *EndpointBreaker) recordSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0

	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}
	}
}

// transitionTo changes the breaker's state.
func (cb *EndpointBreaker) transitionTo(newState string) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.failures = 0
	cb.successes = 0

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(oldState, newState)
	}
}

// State returns the breaker's current state.
func (cb *EndpointBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats returns the breaker's current statistics.
func (cb *EndpointBreaker) Stats() EndpointBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return EndpointBreakerStats{
		Name:            cb.config.Name,
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		LastFailure:     cb.lastFailure,
		LastStateChange: cb.lastStateChange,
	}
}

// Reset manually forces the breaker back to closed.
func (cb *EndpointBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
	cb.lastStateChange = time.Now()
}

// EndpointBreakerStats is a snapshot of one endpoint's breaker.
type EndpointBreakerStats struct {
	Name            string
	State           string
	Failures        int
	Successes       int
	LastFailure     time.Time
	LastStateChange time.Time
}

// EndpointBreakerRegistry holds one breaker per endpoint name, created
// lazily on first use so a caller never has to pre-register every local,
// cloud, or MCP endpoint up front.
type EndpointBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*EndpointBreaker
	defaults EndpointBreakerConfig
}

// NewEndpointBreakerRegistry creates a registry whose lazily-created
// breakers fall back to defaults.
func NewEndpointBreakerRegistry(defaults EndpointBreakerConfig) *EndpointBreakerRegistry {
	if defaults.FailureThreshold <= 0 {
		defaults.FailureThreshold = 5
	}
	if defaults.SuccessThreshold <= 0 {
		defaults.SuccessThreshold = 2
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = 30 * time.Second
	}

	return &EndpointBreakerRegistry{
		breakers: make(map[string]*EndpointBreaker),
		defaults: defaults,
	}
}

// Get returns the named endpoint's breaker, creating it from the
// registry's defaults on first use.
func (r *EndpointBreakerRegistry) Get(name string) *EndpointBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()

	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.defaults
	config.Name = name
	cb = NewEndpointBreaker(config)
	r.breakers[name] = cb
	return cb
}

// GetWithConfig returns the named endpoint's breaker, creating it with a
// custom config (rather than the registry's defaults) on first use.
func (r *EndpointBreakerRegistry) GetWithConfig(name string, config EndpointBreakerConfig) *EndpointBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config.Name = name
	cb := NewEndpointBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Stats returns a snapshot of every endpoint's breaker.
func (r *EndpointBreakerRegistry) Stats() []EndpointBreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]EndpointBreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	return stats
}

// OpenCircuits returns the names of every endpoint whose breaker is open.
func (r *EndpointBreakerRegistry) OpenCircuits() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var open []string
	for name, cb := range r.breakers {
		if cb.State() == StateOpen {
			open = append(open, name)
		}
	}
	return open
}

// ResetAll forces every endpoint's breaker back to closed.
func (r *EndpointBreakerRegistry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// DefaultEndpointBreakerRegistry is a process-wide registry for callers
// that don't carry their own (the LLM Gateway builds its own instead, so
// each Gateway instance's endpoints are isolated from any other).
var DefaultEndpointBreakerRegistry = NewEndpointBreakerRegistry(EndpointBreakerConfig{})

// GetEndpointBreaker returns a breaker from the default registry.
func GetEndpointBreaker(name string) *EndpointBreaker {
	return DefaultEndpointBreakerRegistry.Get(name)
}
