package rotation

import (
	"context"
	"fmt"
	"os"
	"time"

	"yt-channel-fetcher/internal/archive"
	"yt-channel-fetcher/internal/backoff"
	"yt-channel-fetcher/internal/classify"
	"yt-channel-fetcher/internal/engine"
	"yt-channel-fetcher/internal/model"
)

// Action is the decision taken after one pass.
type Action int

const (
	ActionContinue Action = iota // retry the same client
	ActionSwitchClient
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionSwitchClient:
		return "switch_client"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Outcome is the per-pass decision. Allowlist narrows the next client's pass
// to specific video ids instead of re-walking the whole source.
type Outcome struct {
	Action    Action
	Allowlist []string
	Reason    string
}

// Attempt records one engine pass for reporting.
type Attempt struct {
	Client                  string   `json:"client"`
	UserAgent               string   `json:"-"`
	Pass                    int      `json:"pass"`
	Downloaded              int      `json:"downloaded"`
	TotalFailures           int      `json:"total_failures"`
	ConsecutiveFailures     int      `json:"consecutive_failures"`
	UnavailableErrors       int      `json:"unavailable_errors"`
	OtherErrors             int      `json:"other_errors"`
	RetryableIDs            []string `json:"retryable_ids,omitempty"`
	FailureLimitReached     bool     `json:"failure_limit_reached"`
	ConsecutiveLimitReached bool     `json:"consecutive_limit_reached"`
	ForcedSwitch            bool     `json:"forced_switch"`
	Decision                string   `json:"decision"`
}

// Result aggregates one source's run across all clients.
type Result struct {
	Source       model.Source `json:"source"`
	Downloaded   int          `json:"downloaded"`
	ClientsTried []string     `json:"clients_tried"`
	Attempts     []Attempt    `json:"attempts"`
	Completed    bool         `json:"completed"`
	StopReason   string       `json:"stop_reason"`
}

// Options configures one source run.
type Options struct {
	Clients              []string
	UserAgents           []string
	FailureLimit         int
	MaxAttemptsPerClient int
	MaxDownloads         int
	IncludeShorts        bool

	OutputDir    string
	ArchivePath  string
	ErrorLogPath string

	CookiesPath        string
	CookiesFromBrowser string
	ProxyURL           string
	Quality            string
	SleepInterval      int
	MaxSleepInterval   int
	SleepRequests      int

	// Cool-down between client switches.
	SwitchDelay time.Duration
}

func (o *Options) withDefaults() {
	if len(o.Clients) == 0 {
		o.Clients = model.DefaultClients
	}
	if len(o.UserAgents) == 0 {
		o.UserAgents = model.UserAgents
	}
	if o.FailureLimit <= 0 {
		o.FailureLimit = model.DefaultFailureLimit
	}
	if o.MaxAttemptsPerClient <= 0 {
		o.MaxAttemptsPerClient = model.MaxAttemptsPerClient
	}
}

// Controller runs sources through the rotation state machine.
type Controller struct {
	engine engine.Engine
	sleep  func(time.Duration)
	now    func() time.Time
	logf   func(format string, args ...any)
}

func NewController(eng engine.Engine) *Controller {
	return &Controller{
		engine: eng,
		sleep:  time.Sleep,
		now:    time.Now,
		logf:   func(format string, args ...any) { fmt.Printf(format+"\n", args...) },
	}
}

// SetSleep overrides the blocking sleep. Test hook.
func (c *Controller) SetSleep(sleep func(time.Duration)) { c.sleep = sleep }

// SetClock overrides the timestamp source. Test hook.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// SetLogf redirects operator-facing progress lines.
func (c *Controller) SetLogf(logf func(format string, args ...any)) { c.logf = logf }

// decide applies the transition rules to one pass outcome, in priority order.
func decide(stats PassStats, passOnClient, maxAttemptsPerClient int) Outcome {
	switch {
	case stats.MaxDownloadsReached:
		return Outcome{Action: ActionStop, Reason: "max_downloads_reached"}
	case stats.FailureLimitReached:
		return Outcome{Action: ActionSwitchClient, Reason: "failure_limit_reached"}
	case len(stats.RetryableIDs) > 0:
		return Outcome{Action: ActionSwitchClient, Allowlist: stats.RetryableIDs, Reason: "retryable_failures"}
	case stats.OtherErrors > 0:
		return Outcome{Action: ActionSwitchClient, Reason: "unclassified_errors"}
	case stats.UnavailableErrors > 0:
		return Outcome{Action: ActionSwitchClient, Reason: "unavailable_errors"}
	case stats.Downloaded == 0:
		if passOnClient >= maxAttemptsPerClient {
			// Liveness guarantee: abandon the client even without an
			// explicit failure signal.
			return Outcome{Action: ActionSwitchClient, Reason: "attempt_budget_exhausted"}
		}
		return Outcome{Action: ActionContinue, Reason: "nothing_downloaded"}
	default:
		return Outcome{Action: ActionStop, Reason: "completed"}
	}
}

// DownloadSource orchestrates one source end to end: expand its URLs, then
// run engine passes under successive client identities until a terminal
// decision. Cancellation raised inside a pass is folded into that pass's
// stats; only cancellation of the caller's ctx is returned as an error.
func (c *Controller) DownloadSource(ctx context.Context, source model.Source, opts Options) (*Result, error) {
	opts.withDefaults()

	urls, err := source.BuildDownloadURLs(opts.IncludeShorts)
	if err != nil {
		return nil, fmt.Errorf("expand source %s: %w", source.URL, err)
	}

	archived, err := archive.Load(opts.ArchivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		archived = make(map[string]struct{})
	}

	classifier := classify.New()
	classifier.SetClock(c.now)
	if opts.ErrorLogPath != "" {
		classifier.SetErrorLogPath(opts.ErrorLogPath)
	}
	limiter := backoff.New()

	result := &Result{Source: source}
	var allowlist []string

	for clientIdx := 0; clientIdx < len(opts.Clients); clientIdx++ {
		client := opts.Clients[clientIdx]
		userAgent := opts.UserAgents[clientIdx%len(opts.UserAgents)]
		result.ClientsTried = append(result.ClientsTried, client)

		if clientIdx > 0 && opts.SwitchDelay > 0 {
			c.sleep(opts.SwitchDelay)
		}

		outcome, downloaded := c.runClient(ctx, client, userAgent, urls, allowlist, archived, classifier, limiter, opts, result)
		result.Downloaded += downloaded
		if err := ctx.Err(); err != nil {
			result.StopReason = "cancelled"
			return result, err
		}

		switch outcome.Action {
		case ActionStop:
			result.Completed = outcome.Reason != "failure_limit_reached"
			result.StopReason = outcome.Reason
			c.finalizeArchive(opts.ArchivePath, archived, result.Downloaded)
			return result, nil
		case ActionSwitchClient:
			allowlist = outcome.Allowlist
			if len(allowlist) > 0 {
				c.logf("[rotation] switching to next client with %d retryable videos", len(allowlist))
			} else {
				c.logf("[rotation] switching to next client (%s)", outcome.Reason)
			}
		}
	}

	result.StopReason = "clients_exhausted"
	c.finalizeArchive(opts.ArchivePath, archived, result.Downloaded)
	return result, nil
}

// runClient exhausts one client identity: up to MaxAttemptsPerClient passes,
// stopping early on any non-Continue decision.
func (c *Controller) runClient(
	ctx context.Context,
	client, userAgent string,
	urls, allowlist []string,
	archived map[string]struct{},
	classifier *classify.Classifier,
	limiter *backoff.Limiter,
	opts Options,
	result *Result,
) (Outcome, int) {
	downloaded := 0
	for pass := 1; pass <= opts.MaxAttemptsPerClient; pass++ {
		stats := c.runPass(ctx, client, userAgent, urls, allowlist, archived, classifier, limiter, opts, result.Downloaded+downloaded)
		downloaded += stats.Downloaded

		outcome := decide(stats, pass, opts.MaxAttemptsPerClient)
		result.Attempts = append(result.Attempts, Attempt{
			Client:                  client,
			UserAgent:               userAgent,
			Pass:                    pass,
			Downloaded:              stats.Downloaded,
			TotalFailures:           stats.TotalFailures,
			ConsecutiveFailures:     stats.ConsecutiveFailures,
			UnavailableErrors:       stats.UnavailableErrors,
			OtherErrors:             stats.OtherErrors,
			RetryableIDs:            stats.RetryableIDs,
			FailureLimitReached:     stats.FailureLimitReached,
			ConsecutiveLimitReached: stats.ConsecutiveLimitReached,
			ForcedSwitch:            stats.ForcedSwitch,
			Decision:                outcome.Action.String(),
		})

		if stats.ForcedSwitch {
			return Outcome{Action: ActionSwitchClient, Reason: "forced_switch"}, downloaded
		}
		if outcome.Action != ActionContinue {
			return outcome, downloaded
		}
		if ctx.Err() != nil {
			return Outcome{Action: ActionStop, Reason: "cancelled"}, downloaded
		}
	}
	return Outcome{Action: ActionSwitchClient, Reason: "attempt_budget_exhausted"}, downloaded
}

// runPass performs one blocking engine call under a cancellable child
// context. An engine error is not propagated: the pass result already
// carries everything the decision needs, and a cancellation cause raised by
// the tracker is by definition already reflected in its stats.
func (c *Controller) runPass(
	ctx context.Context,
	client, userAgent string,
	urls, allowlist []string,
	archived map[string]struct{},
	classifier *classify.Classifier,
	limiter *backoff.Limiter,
	opts Options,
	baseDownloaded int,
) PassStats {
	passCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	tracker := NewTracker(TrackerConfig{
		Classifier:        classifier,
		Limiter:           limiter,
		Cancel:            cancel,
		FailureLimit:      opts.FailureLimit,
		MaxDownloads:      opts.MaxDownloads,
		BaseDownloadCount: baseDownloaded,
		Sleep:             c.sleep,
		Now:               c.now,
		OnFinished: func(videoID string) {
			if _, ok := archived[videoID]; ok {
				return
			}
			archived[videoID] = struct{}{}
			if err := archive.Append(opts.ArchivePath, videoID); err != nil {
				fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			}
		},
	})

	targets := urls
	if len(allowlist) > 0 {
		targets = make([]string, 0, len(allowlist))
		for _, id := range allowlist {
			targets = append(targets, model.WatchURL(id))
		}
	}

	c.logf("[rotation] client %s pass starting (%d targets)", client, len(targets))
	err := c.engine.Download(passCtx, targets, engine.Options{
		Client:             client,
		UserAgent:          userAgent,
		CookiesPath:        opts.CookiesPath,
		CookiesFromBrowser: opts.CookiesFromBrowser,
		ProxyURL:           opts.ProxyURL,
		OutputDir:          opts.OutputDir,
		ArchivePath:        opts.ArchivePath,
		Quality:            opts.Quality,
		SleepInterval:      opts.SleepInterval,
		MaxSleepInterval:   opts.MaxSleepInterval,
		SleepRequests:      opts.SleepRequests,
		LogLine:            tracker.HandleLine,
	})
	if err != nil && context.Cause(passCtx) == nil {
		// A hard engine failure with no classified lines still counts as
		// one failed unit so the attempt budget always shrinks.
		tracker.HandleFailure("", err.Error())
	}
	return tracker.Stats()
}

// finalizeArchive performs the end-of-source bulk rewrite when anything was
// downloaded, deduplicating entries left by interleaved appends.
func (c *Controller) finalizeArchive(path string, archived map[string]struct{}, downloaded int) {
	if downloaded == 0 || path == "" {
		return
	}
	if err := archive.Rewrite(path, archived); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}
