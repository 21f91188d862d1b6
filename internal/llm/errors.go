package llm

import "errors"

// ErrCancelled is returned by Complete when the caller's context is
// cancelled while blocked on the rate budget.
var ErrCancelled = errors.New("llm: request cancelled")

// ErrCircuitOpen is returned when the selected endpoint's circuit breaker
// is open and the caller supplied no fallback text.
var ErrCircuitOpen = errors.New("llm: circuit open")

// ErrNoProvider is returned when opts.Model does not resolve to either the
// configured local or cloud endpoint.
var ErrNoProvider = errors.New("llm: no provider configured for model")
