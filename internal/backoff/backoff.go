// Package backoff decides pause durations from recent rate-limit signals. It
// performs no I/O and never sleeps; callers apply the returned durations.
package backoff

import "time"

const (
	firstBlockedPause  = 30 * time.Second
	secondBlockedPause = 60 * time.Second
	maxBlockedPause    = 120 * time.Second

	// A fourth blocked signal forces a client switch regardless of the
	// rotation controller's own failure counters.
	forceSwitchThreshold = 4

	burstWindow    = 10 * time.Second
	burstThreshold = 3
	burstPause     = 300 * time.Second
)

// Limiter tracks two independent signals: a running count of blocked
// (rate-limit category) events, and a sliding window of unavailable-item
// timestamps used for burst detection.
type Limiter struct {
	blockedCount int
	unavailable  []time.Time
}

func New() *Limiter {
	return &Limiter{}
}

// RecordBlocked registers one blocked event and returns the pause to apply
// before the failure is otherwise processed.
func (l *Limiter) RecordBlocked() time.Duration {
	l.blockedCount++
	return l.BlockedPause()
}

// BlockedPause returns the pause for the current blocked count: 30s, 60s,
// then 120s capped.
func (l *Limiter) BlockedPause() time.Duration {
	switch {
	case l.blockedCount == 0:
		return 0
	case l.blockedCount == 1:
		return firstBlockedPause
	case l.blockedCount == 2:
		return secondBlockedPause
	default:
		return maxBlockedPause
	}
}

// ForceSwitch reports whether enough blocked events accumulated that the
// current client identity must be abandoned.
func (l *Limiter) ForceSwitch() bool {
	return l.blockedCount >= forceSwitchThreshold
}

// BlockedCount exposes the running blocked counter for operator summaries.
func (l *Limiter) BlockedCount() int {
	return l.blockedCount
}

// ResetBlocked clears the blocked counter after an intervening success so the
// schedule returns to its base.
func (l *Limiter) ResetBlocked() {
	l.blockedCount = 0
}

// RecordUnavailable adds one unavailable-item timestamp to the sliding window.
func (l *Limiter) RecordUnavailable(now time.Time) {
	cutoff := now.Add(-burstWindow)
	kept := l.unavailable[:0]
	for _, ts := range l.unavailable {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.unavailable = append(kept, now)
}

// BurstPause returns 300s and clears the window when at least three
// unavailable events fall inside the trailing ten seconds, otherwise zero.
func (l *Limiter) BurstPause(now time.Time) time.Duration {
	cutoff := now.Add(-burstWindow)
	recent := 0
	for _, ts := range l.unavailable {
		if ts.After(cutoff) {
			recent++
		}
	}
	if recent < burstThreshold {
		return 0
	}
	l.unavailable = l.unavailable[:0]
	return burstPause
}
