// Package ratelimit throttles how many turns a user or channel can push
// through the request router per second. It sits in front of the LLM
// Gateway's own shared rate budget: without a per-key limit here, one
// chatty channel could burn that whole budget and starve every other
// conversation waiting on a completion.
package ratelimit

import (
	"sync"
	"time"
)

// BudgetConfig configures how many turns a key may spend per second.
type BudgetConfig struct {
	// RequestsPerSecond is the steady-state turn rate allowed per key.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// BurstSize is the number of turns a key may submit back-to-back
	// before it's throttled down to RequestsPerSecond.
	BurstSize int `yaml:"burst_size"`
	// Enabled controls whether the budget is enforced at all; when
	// false every key is always allowed.
	Enabled bool `yaml:"enabled"`
}

// DefaultBudgetConfig is a conservative per-key default: ten turns a
// second, bursting to twenty.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		RequestsPerSecond: 10.0,
		BurstSize:         20,
		Enabled:           true,
	}
}

// turnBucket is one key's token bucket: it holds up to maxTokens turns
// and refills at refillRate tokens per second.
type turnBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

// newTurnBucket creates a bucket seeded full, per cfg.
func newTurnBucket(cfg BudgetConfig) *turnBucket {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10.0
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = int(cfg.RequestsPerSecond * 2)
	}

	return &turnBucket{
		tokens:     float64(cfg.BurstSize),
		maxTokens:  float64(cfg.BurstSize),
		refillRate: cfg.RequestsPerSecond,
		lastRefill: time.Now(),
	}
}

// spend reports whether one turn may proceed, consuming a token if so.
func (b *turnBucket) spend() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// spendN reports whether n turns may proceed, consuming n tokens if so.
func (b *turnBucket) spendN(n int) bool {
	if n <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// refill tops the bucket up for time elapsed since the last call. Must
// be called with b.mu held.
func (b *turnBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.lastRefill = now

	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
}

// remaining returns the current token count after a refill.
func (b *turnBucket) remaining() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// cooldown returns how long until one more token is available.
func (b *turnBucket) cooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill()

	if b.tokens >= 1 {
		return 0
	}

	needed := 1 - b.tokens
	seconds := needed / b.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// TurnLimiter enforces a per-key turn budget for the router: one bucket
// per user or channel, created lazily the first time that key is seen.
type TurnLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*turnBucket
	cfg     BudgetConfig
	maxKeys int
}

// NewTurnLimiter builds a limiter that enforces cfg for every key.
func NewTurnLimiter(cfg BudgetConfig) *TurnLimiter {
	return &TurnLimiter{
		buckets: make(map[string]*turnBucket),
		cfg:     cfg,
		maxKeys: 10000,
	}
}

// Allow reports whether key may submit one more turn right now.
func (l *TurnLimiter) Allow(key string) bool {
	if !l.cfg.Enabled {
		return true
	}

	return l.bucketFor(key).spend()
}

// AllowN reports whether key may submit n turns right now (e.g. a
// slash command that fans out to several tool calls in one go).
func (l *TurnLimiter) AllowN(key string, n int) bool {
	if !l.cfg.Enabled {
		return true
	}

	return l.bucketFor(key).spendN(n)
}

// bucketFor returns key's bucket, creating it from l.cfg on first use.
func (l *TurnLimiter) bucketFor(key string) *turnBucket {
	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()

	if exists {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if bucket, exists = l.buckets[key]; exists {
		return bucket
	}

	if len(l.buckets) >= l.maxKeys {
		l.evictIdle()
	}

	bucket = newTurnBucket(l.cfg)
	l.buckets[key] = bucket
	return bucket
}

// evictIdle drops buckets sitting near full — keys that haven't spent
// a token in a while — to bound memory when maxKeys is reached.
func (l *TurnLimiter) evictIdle() {
	for key, bucket := range l.buckets {
		if bucket.remaining() >= bucket.maxTokens*0.9 {
			delete(l.buckets, key)
		}
	}
}

// Cooldown returns how long key must wait before its next turn is
// allowed; zero if it could proceed right now.
func (l *TurnLimiter) Cooldown(key string) time.Duration {
	if !l.cfg.Enabled {
		return 0
	}

	return l.bucketFor(key).cooldown()
}

// Reset drops key's bucket, clearing any accumulated throttling.
func (l *TurnLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// TurnStatus is a point-in-time read of one key's budget, suitable for
// a status command or a debug endpoint.
type TurnStatus struct {
	Key             string        `json:"key"`
	AllowedNow      bool          `json:"allowed_now"`
	TokensRemaining float64       `json:"tokens_remaining"`
	Cooldown        time.Duration `json:"cooldown"`
}

// Status reports key's current budget without spending a token.
func (l *TurnLimiter) Status(key string) TurnStatus {
	if !l.cfg.Enabled {
		return TurnStatus{
			Key:             key,
			AllowedNow:      true,
			TokensRemaining: l.cfg.RequestsPerSecond,
		}
	}

	bucket := l.bucketFor(key)
	tokens := bucket.remaining()

	return TurnStatus{
		Key:             key,
		AllowedNow:      tokens >= 1,
		TokensRemaining: tokens,
		Cooldown:        bucket.cooldown(),
	}
}

// CompositeKey joins parts (e.g. channel and user id) into one budget
// key, so a limiter can be scoped to "channel:user" rather than either
// alone.
func CompositeKey(parts ...string) string {
	key := ""
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}

// CompositeLimiter requires every wrapped limiter to allow a turn — a
// per-user limit stacked with a per-channel limit, for instance.
type CompositeLimiter struct {
	limiters []*TurnLimiter
}

// NewCompositeLimiter wraps limiters so all must agree to allow a turn.
func NewCompositeLimiter(limiters ...*TurnLimiter) *CompositeLimiter {
	return &CompositeLimiter{limiters: limiters}
}

// Allow reports whether every wrapped limiter allows key's turn.
func (m *CompositeLimiter) Allow(key string) bool {
	for _, l := range m.limiters {
		if !l.Allow(key) {
			return false
		}
	}
	return true
}

// Cooldown returns the longest cooldown among the wrapped limiters.
func (m *CompositeLimiter) Cooldown(key string) time.Duration {
	var longest time.Duration
	for _, l := range m.limiters {
		if c := l.Cooldown(key); c > longest {
			longest = c
		}
	}
	return longest
}
