package poller

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	now := time.Date(2024, 11, 26, 10, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker()
	b.now = func() time.Time { return now }

	id := uuid.New()

	b.RecordFailure(id)
	b.RecordFailure(id)
	if allowed, _ := b.Allow(id); !allowed {
		t.Fatal("breaker open below the failure threshold")
	}

	b.RecordFailure(id)
	allowed, retryIn := b.Allow(id)
	if allowed {
		t.Fatal("breaker still closed after three consecutive failures")
	}
	if retryIn != 60*time.Second {
		t.Fatalf("retry in %v, want 60s", retryIn)
	}
}

func TestCircuitBreaker_FailureCountSurvivesAllow(t *testing.T) {
	now := time.Date(2024, 11, 26, 10, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker()
	b.now = func() time.Time { return now }

	id := uuid.New()

	// The poller checks Allow before every fetch; that check must not wipe
	// the failure history of a still-closed circuit.
	for i := 0; i < 3; i++ {
		if allowed, _ := b.Allow(id); !allowed {
			t.Fatalf("breaker open before failure %d", i+1)
		}
		b.RecordFailure(id)
	}

	if allowed, _ := b.Allow(id); allowed {
		t.Fatal("breaker closed after three consecutive failed cycles")
	}
}

func TestCircuitBreaker_CooldownEscalates(t *testing.T) {
	now := time.Date(2024, 11, 26, 10, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker()
	b.now = func() time.Time { return now }

	id := uuid.New()
	for i := 0; i < 4; i++ {
		b.RecordFailure(id)
	}
	if _, retryIn := b.Allow(id); retryIn != 120*time.Second {
		t.Fatalf("retry in %v after 4 failures, want 120s", retryIn)
	}

	b.RecordFailure(id)
	if _, retryIn := b.Allow(id); retryIn != 180*time.Second {
		t.Fatalf("retry in %v after 5 failures, want 180s", retryIn)
	}

	// The multiplier caps at three base cooldowns.
	for i := 0; i < 10; i++ {
		b.RecordFailure(id)
	}
	if _, retryIn := b.Allow(id); retryIn != 180*time.Second {
		t.Fatalf("retry in %v after many failures, want capped 180s", retryIn)
	}
}

func TestCircuitBreaker_ClosesAfterCooldown(t *testing.T) {
	now := time.Date(2024, 11, 26, 10, 0, 0, 0, time.UTC)
	b := NewCircuitBreaker()
	b.now = func() time.Time { return now }

	id := uuid.New()
	for i := 0; i < 3; i++ {
		b.RecordFailure(id)
	}
	if allowed, _ := b.Allow(id); allowed {
		t.Fatal("breaker closed immediately after opening")
	}

	now = now.Add(61 * time.Second)
	if allowed, _ := b.Allow(id); !allowed {
		t.Fatal("breaker still open after the cooldown elapsed")
	}
}

func TestCircuitBreaker_ResetOnSuccess(t *testing.T) {
	b := NewCircuitBreaker()
	id := uuid.New()

	b.RecordFailure(id)
	b.RecordFailure(id)
	b.Reset(id)
	b.RecordFailure(id)
	b.RecordFailure(id)
	if allowed, _ := b.Allow(id); !allowed {
		t.Fatal("failure count survived a reset")
	}
}
