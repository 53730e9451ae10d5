// Package rotation drives one source through the client-identity rotation
// state machine: attempt, classify what happened, then continue on the same
// identity, switch to the next one, or stop.
package rotation

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"yt-channel-fetcher/internal/backoff"
	"yt-channel-fetcher/internal/classify"
)

// Cancellation causes raised from inside a pass. The engine call is unwound
// via context and the cause is folded back into a normal pass result one
// layer up; none of these ever reach the caller as an error.
var (
	ErrFailureLimit = errors.New("failure limit reached")
	ErrForcedSwitch = errors.New("rate limiting forced a client switch")
	ErrMaxDownloads = errors.New("maximum download count reached")
)

// Categories whose failures are expected to succeed under a different client
// identity.
var retryableCategories = map[classify.Category]bool{
	classify.CategoryGeoRestricted:    true,
	classify.CategoryAgeRestricted:    true,
	classify.CategoryRateLimit:        true,
	classify.CategoryRetryableNetwork: true,
	classify.CategoryPOToken:          true,
	classify.CategoryAuthRequired:     true,
}

var videoIDPattern = regexp.MustCompile(`\[youtube\] ([0-9A-Za-z_-]{11}):`)

// PassStats is the aggregate outcome of one engine pass, consumed by the
// rotation decision.
type PassStats struct {
	Downloaded          int
	TotalFailures       int
	ConsecutiveFailures int
	UnavailableErrors   int
	OtherErrors         int
	RetryableIDs        []string
	DetectedIDs         []string

	FailureLimitReached     bool
	ConsecutiveLimitReached bool
	ForcedSwitch            bool
	MaxDownloadsReached     bool
}

// Tracker consumes the engine's output lines for one pass. It classifies
// failures, applies rate-limit pauses inline (before the triggering failure
// is counted), and raises the pass cancellation when a limit trips.
type Tracker struct {
	classifier *classify.Classifier
	limiter    *backoff.Limiter
	cancel     context.CancelCauseFunc
	sleep      func(time.Duration)
	now        func() time.Time

	failureLimit int
	maxDownloads int
	baseCount    int

	onFinished func(videoID string)

	stats        PassStats
	currentID    string
	lastFailure  string
	completed    map[string]struct{}
	retryableSet map[string]struct{}
	detectedSet  map[string]struct{}
}

// TrackerConfig wires one Tracker. Classifier and Limiter are shared across
// passes so counts and the blocked schedule survive client switches;
// BaseDownloadCount carries the run-wide downloaded total into the
// max-downloads check.
type TrackerConfig struct {
	Classifier        *classify.Classifier
	Limiter           *backoff.Limiter
	Cancel            context.CancelCauseFunc
	FailureLimit      int
	MaxDownloads      int
	BaseDownloadCount int
	OnFinished        func(videoID string)
	Sleep             func(time.Duration)
	Now               func() time.Time
}

func NewTracker(cfg TrackerConfig) *Tracker {
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		classifier:   cfg.Classifier,
		limiter:      cfg.Limiter,
		cancel:       cfg.Cancel,
		sleep:        sleep,
		now:          now,
		failureLimit: cfg.FailureLimit,
		maxDownloads: cfg.MaxDownloads,
		baseCount:    cfg.BaseDownloadCount,
		onFinished:   cfg.OnFinished,
		completed:    make(map[string]struct{}),
		retryableSet: make(map[string]struct{}),
		detectedSet:  make(map[string]struct{}),
	}
}

// HandleLine consumes one raw output line from the engine.
func (t *Tracker) HandleLine(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	if m := videoIDPattern.FindStringSubmatch(trimmed); m != nil {
		t.registerDetected(m[1])
		t.currentID = m[1]
	}

	switch {
	case strings.HasPrefix(trimmed, "ERROR:"):
		message := strings.TrimSpace(strings.TrimPrefix(trimmed, "ERROR:"))
		id := t.currentID
		if m := videoIDPattern.FindStringSubmatch(message); m != nil {
			id = m[1]
		}
		t.HandleFailure(id, message)
	case strings.Contains(trimmed, "has already been downloaded"):
		// Archived skip, neither a success nor a failure.
	case isFinishedLine(trimmed):
		t.handleFinished(t.currentID)
	}
}

// isFinishedLine recognizes the end-of-item markers in the engine's output.
func isFinishedLine(line string) bool {
	if strings.HasPrefix(line, "[download] 100% of") && !strings.Contains(line, "ETA") {
		return true
	}
	return strings.HasPrefix(line, "[Merger] Merging formats into")
}

func (t *Tracker) registerDetected(videoID string) {
	if _, ok := t.detectedSet[videoID]; ok {
		return
	}
	t.detectedSet[videoID] = struct{}{}
	t.stats.DetectedIDs = append(t.stats.DetectedIDs, videoID)
}

// handleFinished counts one completed video. A merged download emits several
// end-of-item markers (one per format plus the merge itself), so completion is
// deduplicated per video id.
func (t *Tracker) handleFinished(videoID string) {
	if videoID != "" {
		if _, done := t.completed[videoID]; done {
			return
		}
		t.completed[videoID] = struct{}{}
	}
	t.stats.Downloaded++
	t.stats.ConsecutiveFailures = 0
	t.limiter.ResetBlocked()
	if t.onFinished != nil && videoID != "" {
		t.onFinished(videoID)
	}

	if t.maxDownloads > 0 && t.baseCount+t.stats.Downloaded >= t.maxDownloads {
		t.stats.MaxDownloadsReached = true
		if t.cancel != nil {
			t.cancel(ErrMaxDownloads)
		}
	}
}

// HandleFailure classifies one failure message. Classification and the
// unavailable burst window record every occurrence; the failure-limit
// counters move only when the (id, message) pair differs from the
// immediately preceding one, so an engine stutter does not trip the limit.
func (t *Tracker) HandleFailure(videoID, message string) {
	category := t.classifier.Classify(videoID, message)
	if category == classify.CategoryIgnored {
		return
	}

	if category == classify.CategoryUnavailable {
		now := t.now()
		t.limiter.RecordUnavailable(now)
		if pause := t.limiter.BurstPause(now); pause > 0 {
			t.sleep(pause)
		}
		t.stats.UnavailableErrors++
	}

	key := videoID + "|" + strings.ToLower(message)
	if key == t.lastFailure {
		return
	}
	t.lastFailure = key

	switch category {
	case classify.CategoryRateLimit:
		// Pause first, then count: the wait is the response to the
		// signal, not part of the failure bookkeeping.
		t.sleep(t.limiter.RecordBlocked())
		if t.limiter.ForceSwitch() {
			t.stats.ForcedSwitch = true
			if t.cancel != nil {
				t.cancel(ErrForcedSwitch)
			}
		}
	case classify.CategoryOther:
		t.stats.OtherErrors++
	}

	if retryableCategories[category] && videoID != "" {
		if _, ok := t.retryableSet[videoID]; !ok {
			t.retryableSet[videoID] = struct{}{}
			t.stats.RetryableIDs = append(t.stats.RetryableIDs, videoID)
		}
	}

	t.stats.TotalFailures++
	t.stats.ConsecutiveFailures++
	if t.failureLimit > 0 {
		if t.stats.ConsecutiveFailures >= t.failureLimit {
			t.stats.FailureLimitReached = true
			t.stats.ConsecutiveLimitReached = true
		} else if t.stats.TotalFailures >= t.failureLimit {
			t.stats.FailureLimitReached = true
		}
		if t.stats.FailureLimitReached && t.cancel != nil {
			t.cancel(ErrFailureLimit)
		}
	}
}

// Stats returns the pass aggregate so far.
func (t *Tracker) Stats() PassStats {
	return t.stats
}
