package executor

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(10, time.Minute)

	for i := 0; i < 9; i++ {
		b.Failure()
		if err := b.Allow(); err != nil {
			t.Fatalf("breaker opened after %d failures, threshold is 10", i+1)
		}
	}
	b.Failure()
	if err := b.Allow(); err == nil {
		t.Fatal("breaker should be open after 10 consecutive failures")
	}
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want %s", b.State(), BreakerOpen)
	}
}

func TestBreakerSuccessResetsRun(t *testing.T) {
	b := NewBreaker(10, time.Minute)
	for i := 0; i < 9; i++ {
		b.Failure()
	}
	b.Success()
	b.Failure()
	if err := b.Allow(); err != nil {
		t.Error("a success must reset the consecutive failure count")
	}
	if n := b.ConsecutiveFailures(); n != 1 {
		t.Errorf("failures = %d, want 1", n)
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	if err := b.Allow(); err == nil {
		t.Fatal("expected open breaker")
	}

	// Cooldown elapses: exactly one trial may pass.
	now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal("expected half-open trial to be allowed")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want %s", b.State(), BreakerHalfOpen)
	}
	if err := b.Allow(); err == nil {
		t.Fatal("second concurrent trial must be refused")
	}

	b.Success()
	if b.State() != BreakerClosed {
		t.Errorf("state after trial success = %s, want %s", b.State(), BreakerClosed)
	}
	if err := b.Allow(); err != nil {
		t.Error("closed breaker must allow work")
	}
}

func TestBreakerCancelReleasesHalfOpenTrial(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal("expected half-open trial")
	}
	if err := b.Allow(); err == nil {
		t.Fatal("trial slot must be exclusive while claimed")
	}

	// A discard that says nothing about chain health releases the slot
	// instead of consuming the trial.
	b.Cancel()
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want %s after cancel", b.State(), BreakerHalfOpen)
	}
	if err := b.Allow(); err != nil {
		t.Fatal("next attempt must get the released trial slot")
	}
	b.Success()
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want %s", b.State(), BreakerClosed)
	}
}

func TestBreakerCancelWhileClosedIsNoop(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.Failure()
	b.Cancel()
	if n := b.ConsecutiveFailures(); n != 1 {
		t.Errorf("failures = %d, want 1", n)
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want %s", b.State(), BreakerClosed)
	}
}

func TestBreakerTrialFailureReopens(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	now := time.Unix(1000, 0)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	now = now.Add(61 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal("expected half-open trial")
	}
	b.Failure()
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want %s after failed trial", b.State(), BreakerOpen)
	}
	// Fresh cooldown starts from the trial failure.
	now = now.Add(30 * time.Second)
	if err := b.Allow(); err == nil {
		t.Error("breaker must stay open until the new cooldown elapses")
	}
}
