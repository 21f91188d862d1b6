package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestTurnBucket_Spend(t *testing.T) {
	bucket := newTurnBucket(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
		Enabled:           true,
	})

	for i := 0; i < 5; i++ {
		if !bucket.spend() {
			t.Errorf("turn %d should be allowed", i)
		}
	}

	if bucket.spend() {
		t.Error("turn after burst should be denied")
	}
}

func TestTurnBucket_Refill(t *testing.T) {
	bucket := newTurnBucket(BudgetConfig{
		RequestsPerSecond: 100,
		BurstSize:         2,
		Enabled:           true,
	})

	bucket.spend()
	bucket.spend()

	if bucket.spend() {
		t.Error("should be denied after exhausting tokens")
	}

	time.Sleep(50 * time.Millisecond)

	if !bucket.spend() {
		t.Error("should be allowed after refill")
	}
}

func TestTurnBucket_Remaining(t *testing.T) {
	bucket := newTurnBucket(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
		Enabled:           true,
	})

	initial := bucket.remaining()
	if initial != 5 {
		t.Errorf("initial tokens = %f, want 5", initial)
	}

	bucket.spend()
	after := bucket.remaining()
	if after >= initial {
		t.Error("tokens should decrease after spend()")
	}
}

func TestTurnBucket_Cooldown(t *testing.T) {
	bucket := newTurnBucket(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         1,
		Enabled:           true,
	})

	if bucket.cooldown() != 0 {
		t.Error("should not wait when tokens available")
	}

	bucket.spend()

	if bucket.cooldown() <= 0 {
		t.Error("should need to wait when no tokens")
	}
}

func TestTurnLimiter_Allow(t *testing.T) {
	limiter := NewTurnLimiter(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         3,
		Enabled:           true,
	})

	for i := 0; i < 3; i++ {
		if !limiter.Allow("user1") {
			t.Errorf("user1 turn %d should be allowed", i)
		}
	}

	if limiter.Allow("user1") {
		t.Error("user1 should be throttled")
	}

	if !limiter.Allow("user2") {
		t.Error("user2 should still be allowed")
	}
}

func TestTurnLimiter_Disabled(t *testing.T) {
	limiter := NewTurnLimiter(BudgetConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
		Enabled:           false,
	})

	for i := 0; i < 100; i++ {
		if !limiter.Allow("user1") {
			t.Error("disabled limiter should always allow")
		}
	}
}

func TestTurnLimiter_Reset(t *testing.T) {
	limiter := NewTurnLimiter(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         2,
		Enabled:           true,
	})

	limiter.Allow("user1")
	limiter.Allow("user1")

	if limiter.Allow("user1") {
		t.Error("should be throttled")
	}

	limiter.Reset("user1")

	if !limiter.Allow("user1") {
		t.Error("should be allowed after reset")
	}
}

func TestTurnLimiter_Status(t *testing.T) {
	limiter := NewTurnLimiter(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
		Enabled:           true,
	})

	status := limiter.Status("user1")
	if !status.AllowedNow {
		t.Error("should be allowed initially")
	}
	if status.TokensRemaining != 5 {
		t.Errorf("initial tokens = %f, want 5", status.TokensRemaining)
	}
}

func TestCompositeKey(t *testing.T) {
	key := CompositeKey("channel", "slack", "user", "12345")
	expected := "channel:slack:user:12345"
	if key != expected {
		t.Errorf("CompositeKey() = %q, want %q", key, expected)
	}
}

func TestCompositeLimiter_Allow(t *testing.T) {
	globalLimiter := NewTurnLimiter(BudgetConfig{
		RequestsPerSecond: 100,
		BurstSize:         10,
		Enabled:           true,
	})
	userLimiter := NewTurnLimiter(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         2,
		Enabled:           true,
	})

	composite := NewCompositeLimiter(globalLimiter, userLimiter)

	if !composite.Allow("user1") {
		t.Error("first turn should be allowed")
	}
	if !composite.Allow("user1") {
		t.Error("second turn should be allowed")
	}

	if composite.Allow("user1") {
		t.Error("user should be throttled by the per-user limiter")
	}
}

func TestCompositeLimiter_Cooldown(t *testing.T) {
	fast := NewTurnLimiter(BudgetConfig{
		RequestsPerSecond: 100,
		BurstSize:         1,
		Enabled:           true,
	})
	slow := NewTurnLimiter(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         1,
		Enabled:           true,
	})

	composite := NewCompositeLimiter(fast, slow)

	composite.Allow("user1")

	if composite.Cooldown("user1") <= 0 {
		t.Error("should need to wait")
	}
}

func TestTurnBucket_SpendN(t *testing.T) {
	bucket := newTurnBucket(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
		Enabled:           true,
	})

	if !bucket.spendN(3) {
		t.Error("should allow 3 turns")
	}

	if !bucket.spendN(2) {
		t.Error("should allow 2 more turns")
	}

	if bucket.spendN(1) {
		t.Error("should deny when no tokens left")
	}
}

func TestTurnLimiter_AllowN(t *testing.T) {
	limiter := NewTurnLimiter(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
		Enabled:           true,
	})

	if !limiter.AllowN("user1", 5) {
		t.Error("should allow 5 turns")
	}

	if limiter.AllowN("user1", 1) {
		t.Error("should deny when exhausted")
	}
}

func TestTurnBucket_ZeroConfig_UsesDefaults(t *testing.T) {
	bucket := newTurnBucket(BudgetConfig{
		RequestsPerSecond: 0,
		BurstSize:         0,
		Enabled:           true,
	})

	if !bucket.spend() {
		t.Error("spend() should succeed on a zero-config bucket with defaults applied")
	}

	tokens := bucket.remaining()
	if tokens <= 0 {
		t.Errorf("expected positive default tokens after one spend(), got %f", tokens)
	}

	if tokens < 15 || tokens > 20 {
		t.Errorf("expected tokens in range [15,20] with default burst of 20, got %f", tokens)
	}

	if !bucket.spendN(5) {
		t.Error("spendN(5) should succeed with default burst")
	}

	if bucket.cooldown() != 0 {
		t.Error("cooldown should be 0 while tokens remain")
	}
}

func TestTurnLimiter_ManyKeys_EvictsIdle(t *testing.T) {
	limiter := NewTurnLimiter(BudgetConfig{
		RequestsPerSecond: 10,
		BurstSize:         3,
		Enabled:           true,
	})

	// limiter.maxKeys is 10000 by default; push past it with exhausted
	// keys (low tokens, so evictIdle won't reclaim them) to force an
	// eviction cycle and confirm the limiter keeps working afterward.
	keyCount := 10001
	for i := 0; i < keyCount; i++ {
		key := fmt.Sprintf("key-%d", i)
		for j := 0; j < 3; j++ {
			limiter.Allow(key)
		}
	}

	if limiter.Allow("key-0") {
		// key-0 was exhausted; if it survived eviction it should
		// still be denied. Either way this must not panic.
	}

	if !limiter.Allow("brand-new-key") {
		t.Error("brand new key should be allowed after an eviction cycle")
	}

	status := limiter.Status("brand-new-key")
	if status.Key != "brand-new-key" {
		t.Errorf("expected key 'brand-new-key', got %q", status.Key)
	}

	_ = limiter.Cooldown("brand-new-key")

	limiter.Reset("brand-new-key")
}
