package circuitbreaker

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/config"
)

func testConfig(threshold int, recovery time.Duration) config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold: threshold,
		RecoveryTimeout:  config.Duration(recovery),
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New("a1", testConfig(3, time.Minute), nil, zap.NewNop())

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.State() != StateClosed {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatal("breaker should be open after reaching threshold")
	}
	if b.Allow() {
		t.Fatal("open breaker must deny requests")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("a1", testConfig(3, time.Minute), nil, zap.NewNop())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if got := b.Failures(); got != 0 {
		t.Fatalf("failures = %d after success, want 0", got)
	}
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatal("non-consecutive failures must not open the breaker")
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b := New("a1", testConfig(1, 10*time.Second), nil, zap.NewNop())
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatal("breaker should be open")
	}
	if b.Allow() {
		t.Fatal("breaker must deny before recovery timeout")
	}

	now = now.Add(11 * time.Second)
	if !b.Allow() {
		t.Fatal("first call after recovery timeout must get the probe")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", b.State())
	}
	if b.Allow() {
		t.Fatal("second call must be denied while the probe is outstanding")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatal("successful probe must close the breaker")
	}
	if !b.Allow() {
		t.Fatal("closed breaker must allow")
	}
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b := New("a1", testConfig(1, time.Second), nil, zap.NewNop())
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(2 * time.Second)
	if !b.Allow() {
		t.Fatal("probe expected")
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatal("failed probe must reopen the breaker")
	}
	if b.Allow() {
		t.Fatal("reopened breaker must deny until the timeout elapses again")
	}
	now = now.Add(2 * time.Second)
	if !b.Allow() {
		t.Fatal("probe expected after second recovery window")
	}
}

func TestBreaker_ReleaseReturnsProbe(t *testing.T) {
	b := New("a1", testConfig(1, time.Second), nil, zap.NewNop())
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(2 * time.Second)
	if !b.Allow() {
		t.Fatal("probe expected")
	}
	b.Release()
	if !b.Allow() {
		t.Fatal("released probe must be claimable again")
	}
}

func TestBreaker_EmitsStateChanges(t *testing.T) {
	var changes []StateChange
	b := New("a1", testConfig(1, time.Second), func(c StateChange) {
		changes = append(changes, c)
	}, zap.NewNop())
	now := time.Now()
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(2 * time.Second)
	b.Allow()
	b.RecordSuccess()

	want := []struct{ from, to State }{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d state changes, want %d", len(changes), len(want))
	}
	for i, w := range want {
		if changes[i].OldState != w.from || changes[i].NewState != w.to {
			t.Errorf("change %d = %v→%v, want %v→%v",
				i, changes[i].OldState, changes[i].NewState, w.from, w.to)
		}
	}
}
