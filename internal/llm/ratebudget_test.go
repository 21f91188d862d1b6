package llm

import (
	"context"
	"testing"
	"time"
)

func TestRateBudgetAllowsUpToCap(t *testing.T) {
	b := NewRateBudget(3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := b.Wait(ctx); err != nil {
			t.Fatalf("Wait() #%d: %v", i, err)
		}
	}
	if b.InFlight() != 3 {
		t.Errorf("InFlight() = %d, want 3", b.InFlight())
	}
}

func TestRateBudgetEvictsOldEntries(t *testing.T) {
	b := NewRateBudget(1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.nowFn = func() time.Time { return now }

	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait(): %v", err)
	}

	now = now.Add(61 * time.Second)
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() after window elapsed: %v", err)
	}
}

func TestRateBudgetCancelledContextUnblocks(t *testing.T) {
	b := NewRateBudget(1)
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait(): %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := b.Wait(ctx); err == nil {
		t.Error("expected Wait to return an error once ctx is cancelled")
	}
}
