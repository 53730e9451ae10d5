package backoff

import (
	"testing"
	"time"
)

func TestBlockedPauseSchedule(t *testing.T) {
	l := New()

	if got := l.BlockedPause(); got != 0 {
		t.Fatalf("pause before any signal = %v, want 0", got)
	}
	if got := l.RecordBlocked(); got != 30*time.Second {
		t.Fatalf("first pause = %v, want 30s", got)
	}
	if got := l.RecordBlocked(); got != 60*time.Second {
		t.Fatalf("second pause = %v, want 60s", got)
	}
	if got := l.RecordBlocked(); got != 120*time.Second {
		t.Fatalf("third pause = %v, want 120s", got)
	}
	if got := l.RecordBlocked(); got != 120*time.Second {
		t.Fatalf("fourth pause = %v, want capped 120s", got)
	}
}

func TestForceSwitchAfterFourth(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		l.RecordBlocked()
		if l.ForceSwitch() {
			t.Fatalf("force switch triggered too early after %d signals", i+1)
		}
	}
	l.RecordBlocked()
	if !l.ForceSwitch() {
		t.Fatal("force switch not triggered after fourth signal")
	}
}

func TestResetBlockedReturnsToBase(t *testing.T) {
	l := New()
	l.RecordBlocked()
	l.RecordBlocked()
	l.ResetBlocked()
	if got := l.RecordBlocked(); got != 30*time.Second {
		t.Fatalf("pause after reset = %v, want 30s", got)
	}
}

func TestBurstPauseRequiresThreeInWindow(t *testing.T) {
	l := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.RecordUnavailable(base)
	l.RecordUnavailable(base.Add(2 * time.Second))
	if got := l.BurstPause(base.Add(3 * time.Second)); got != 0 {
		t.Fatalf("pause with two events = %v, want 0", got)
	}

	l.RecordUnavailable(base.Add(4 * time.Second))
	if got := l.BurstPause(base.Add(5 * time.Second)); got != 300*time.Second {
		t.Fatalf("pause with three events = %v, want 300s", got)
	}

	// Window was cleared by the pause.
	if got := l.BurstPause(base.Add(6 * time.Second)); got != 0 {
		t.Fatalf("pause after clear = %v, want 0", got)
	}
}

func TestBurstPauseIgnoresOldEvents(t *testing.T) {
	l := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.RecordUnavailable(base)
	l.RecordUnavailable(base.Add(1 * time.Second))
	l.RecordUnavailable(base.Add(20 * time.Second))

	if got := l.BurstPause(base.Add(21 * time.Second)); got != 0 {
		t.Fatalf("stale events should not trigger pause, got %v", got)
	}
}
