package limiter

import (
	"testing"

	"github.com/itstheanurag/executioner/internal/config"
)

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	rl := NewFromConfig(config.RateLimitConfig{Enabled: false, PerMinute: 1, PerHour: 1}, 1)
	for i := 0; i < 10; i++ {
		if !rl.Allow("client-a") {
			t.Fatal("disabled limiter should always allow")
		}
		rl.Done()
	}
}

func TestPerClientMinuteBudgetExhausts(t *testing.T) {
	rl := NewFromConfig(config.RateLimitConfig{Enabled: true, PerMinute: 1, PerHour: 1000}, 100)

	if !rl.Allow("client-a") {
		t.Fatal("expected first request to be allowed")
	}
	rl.Done()

	if rl.Allow("client-a") {
		t.Fatal("expected second immediate request to be rejected by the per-minute budget")
	}
}

func TestConcurrencyCapRejectsBeyondLimit(t *testing.T) {
	rl := NewFromConfig(config.RateLimitConfig{Enabled: true, PerMinute: 1000, PerHour: 1000}, 1)

	if !rl.Allow("client-a") {
		t.Fatal("expected first concurrent request to be allowed")
	}
	if rl.Allow("client-b") {
		t.Fatal("expected second concurrent request to be rejected by the concurrency cap")
	}
	rl.Done()
	if !rl.Allow("client-b") {
		t.Fatal("expected a concurrency slot to free up after Done")
	}
}

func TestDifferentClientsHaveIndependentBudgets(t *testing.T) {
	rl := NewFromConfig(config.RateLimitConfig{Enabled: true, PerMinute: 1, PerHour: 1000}, 100)

	if !rl.Allow("client-a") {
		t.Fatal("expected client-a's first request to be allowed")
	}
	rl.Done()
	if !rl.Allow("client-b") {
		t.Fatal("expected client-b to have its own independent budget")
	}
}
