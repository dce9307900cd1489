package connectivity

import (
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	cb := NewCircuitBreaker("a",
		WithBreakerThreshold(3),
		WithBreakerResetTimeout(100*time.Millisecond),
		WithBreakerClock(clock),
	)

	if cb.State() != BreakerClosed {
		t.Fatal("expected closed")
	}
	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if cb.IsOpen() {
		t.Fatal("should not open before threshold")
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("expected open after 3 failures")
	}
	if !cb.IsOpen() {
		t.Fatal("should block when open")
	}

	// Still blocked just before the reset timeout.
	now = now.Add(99 * time.Millisecond)
	if !cb.IsOpen() {
		t.Fatal("should block until reset timeout elapses")
	}
}

func TestCircuitBreaker_HalfOpenSingleTrial(t *testing.T) {
	// WHAT: After the reset timeout exactly one caller gets through.
	// WHY: Concurrent callers must not stampede a recovering source.
	now := time.Now()
	clock := func() time.Time { return now }

	cb := NewCircuitBreaker("a",
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(50*time.Millisecond),
		WithBreakerClock(clock),
	)
	cb.RecordFailure()

	now = now.Add(50 * time.Millisecond)
	if cb.IsOpen() {
		t.Fatal("first call after reset timeout should be the trial")
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half_open", cb.State())
	}
	if !cb.IsOpen() {
		t.Fatal("second call during trial should be blocked")
	}

	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatal("expected closed after successful trial")
	}
	if cb.IsOpen() {
		t.Fatal("closed breaker should allow")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	cb := NewCircuitBreaker("a",
		WithBreakerThreshold(2),
		WithBreakerResetTimeout(50*time.Millisecond),
		WithBreakerClock(clock),
	)
	cb.RecordFailure()
	cb.RecordFailure()

	now = now.Add(100 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected trial")
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("expected open after failed trial")
	}

	snap := cb.Snapshot()
	if want := now.Add(50 * time.Millisecond); !snap.NextAttempt.Equal(want) {
		t.Fatalf("next attempt = %v, want %v", snap.NextAttempt, want)
	}
	if !cb.IsOpen() {
		t.Fatal("reopened breaker should block")
	}
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	cb := NewCircuitBreaker("a", WithBreakerThreshold(3))
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Fatal("failures are consecutive; a success must reset the count")
	}
}

func TestBreakerSet_IsolatesSources(t *testing.T) {
	set := NewBreakerSet(WithBreakerThreshold(1))
	set.RecordFailure("a")

	if !set.IsOpen("a") {
		t.Fatal("a should be open")
	}
	if set.IsOpen("b") {
		t.Fatal("b must not be affected by a")
	}

	snap := set.Snapshot()
	if len(snap) != 2 || snap[0].Source != "a" || snap[0].State != "open" || snap[1].State != "closed" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestCircuitBreaker_CancelTrialFreesSlot(t *testing.T) {
	// WHAT: A half-open trial that never reached the source can be handed back.
	// WHY: An aborted trial must not leave the breaker half-open forever.
	now := time.Now()
	cb := NewCircuitBreaker("a",
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(time.Second),
		WithBreakerClock(func() time.Time { return now }),
	)
	cb.RecordFailure()
	now = now.Add(time.Second)

	ok, trial := cb.Admit()
	if !ok || !trial {
		t.Fatalf("Admit = %v, %v; want the trial", ok, trial)
	}
	if ok, _ := cb.Admit(); ok {
		t.Fatal("second caller admitted during trial")
	}
	cb.CancelTrial()
	if ok, trial := cb.Admit(); !ok || !trial {
		t.Fatal("trial not handed back")
	}
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("state = %v", cb.State())
	}

	closed := NewCircuitBreaker("b")
	if ok, trial := closed.Admit(); !ok || trial {
		t.Fatal("closed breaker should admit without a trial")
	}
}
