package rotation

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"yt-channel-fetcher/internal/archive"
	"yt-channel-fetcher/internal/engine"
	"yt-channel-fetcher/internal/model"
)

// fakeEngine replays scripted output lines, one script entry per Download
// call, and records what it was asked to fetch.
type fakeEngine struct {
	scripts [][]string
	calls   []engine.Options
	urls    [][]string
}

func (f *fakeEngine) ExtractMetadata(ctx context.Context, sourceURL string, opts engine.Options) (*engine.Node, error) {
	return nil, fmt.Errorf("not scripted")
}

func (f *fakeEngine) Download(ctx context.Context, urls []string, opts engine.Options) error {
	call := len(f.calls)
	f.calls = append(f.calls, opts)
	f.urls = append(f.urls, urls)

	if call >= len(f.scripts) {
		return nil
	}
	for _, line := range f.scripts[call] {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if opts.LogLine != nil {
			opts.LogLine(line)
		}
	}
	return nil
}

func newTestController(f *fakeEngine) *Controller {
	c := NewController(f)
	c.SetSleep(func(time.Duration) {})
	c.SetClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
	c.SetLogf(func(string, ...any) {})
	return c
}

func channelSource() model.Source {
	return model.Source{Kind: model.KindChannel, URL: "https://youtube.com/@somechannel"}
}

func finishedLines(videoID string) []string {
	return []string{
		fmt.Sprintf("[youtube] %s: Downloading webpage", videoID),
		"[download] 100% of 10.00MiB in 00:05",
	}
}

func TestFailureLimitSwitchesToNextClient(t *testing.T) {
	// Three retryable item failures in one pass trip failure_limit=3; the
	// next client gets a full retry, not an allow-list.
	f := &fakeEngine{scripts: [][]string{
		{
			"ERROR: [youtube] aaaaaaaaaa1: Login required to access this video",
			"ERROR: [youtube] aaaaaaaaaa2: Login required to access this video",
			"ERROR: [youtube] aaaaaaaaaa3: Login required to access this video",
		},
		finishedLines("aaaaaaaaaa1"),
	}}
	c := newTestController(f)

	result, err := c.DownloadSource(context.Background(), channelSource(), Options{
		Clients:      []string{"tv", "web_safari"},
		FailureLimit: 3,
		OutputDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	first := result.Attempts[0]
	if !first.FailureLimitReached || !first.ConsecutiveLimitReached {
		t.Fatalf("first attempt = %+v, want both limit flags set", first)
	}
	if len(f.calls) != 2 || f.calls[1].Client != "web_safari" {
		t.Fatalf("expected full retry on web_safari, calls = %d", len(f.calls))
	}
	if len(f.urls[1]) != 1 || f.urls[1][0] != "https://youtube.com/@somechannel/videos" {
		t.Fatalf("failure-limit switch must not narrow targets, got %v", f.urls[1])
	}
}

func TestRetryableIDsNarrowNextPass(t *testing.T) {
	f := &fakeEngine{scripts: [][]string{
		append(finishedLines("aaaaaaaaaa1"),
			"ERROR: [youtube] aaaaaaaaaa2: Sign in to confirm your age"),
		finishedLines("aaaaaaaaaa2"),
	}}
	c := newTestController(f)
	archivePath := filepath.Join(t.TempDir(), "archive.txt")

	result, err := c.DownloadSource(context.Background(), channelSource(), Options{
		Clients:     []string{"tv", "web_safari"},
		OutputDir:   t.TempDir(),
		ArchivePath: archivePath,
	})
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	if len(f.urls) != 2 {
		t.Fatalf("expected 2 passes, got %d", len(f.urls))
	}
	want := model.WatchURL("aaaaaaaaaa2")
	if len(f.urls[1]) != 1 || f.urls[1][0] != want {
		t.Fatalf("second pass targets = %v, want allow-list [%s]", f.urls[1], want)
	}
	if result.Downloaded != 2 || !result.Completed {
		t.Fatalf("result = %+v, want 2 downloads completed", result)
	}

	ids, err := archive.Load(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("archive = %v, want both finished ids", ids)
	}
}

func TestFourForbiddenErrorsForceSwitch(t *testing.T) {
	// Repeated 403s force a client switch through the backoff override,
	// independent of the failure limit.
	var errorLines []string
	for i := 1; i <= 4; i++ {
		errorLines = append(errorLines,
			fmt.Sprintf("ERROR: [youtube] aaaaaaaaa%02d: unable to download video data: HTTP Error 403: Forbidden", i))
	}
	f := &fakeEngine{scripts: [][]string{errorLines, finishedLines("aaaaaaaaa05")}}

	c := NewController(f)
	var slept []time.Duration
	c.SetSleep(func(d time.Duration) { slept = append(slept, d) })
	c.SetClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	c.SetLogf(func(string, ...any) {})

	result, err := c.DownloadSource(context.Background(), channelSource(), Options{
		Clients:      []string{"tv", "web_safari"},
		FailureLimit: 100,
		OutputDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	if !result.Attempts[0].ForcedSwitch {
		t.Fatalf("first attempt = %+v, want forced switch", result.Attempts[0])
	}
	if f.calls[1].Client != "web_safari" {
		t.Fatalf("second pass client = %q, want web_safari", f.calls[1].Client)
	}
	wantSleeps := []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second, 120 * time.Second}
	if len(slept) != len(wantSleeps) {
		t.Fatalf("slept %v, want %v", slept, wantSleeps)
	}
	for i := range wantSleeps {
		if slept[i] != wantSleeps[i] {
			t.Fatalf("sleep %d = %v, want %v", i, slept[i], wantSleeps[i])
		}
	}
}

func TestAttemptBudgetBoundsSameClientRetries(t *testing.T) {
	// Empty passes retry the same client, but never more than the
	// per-client budget while other clients remain untried.
	f := &fakeEngine{}
	c := newTestController(f)

	result, err := c.DownloadSource(context.Background(), channelSource(), Options{
		Clients:              []string{"tv", "web_safari"},
		MaxAttemptsPerClient: 2,
		OutputDir:            t.TempDir(),
	})
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}

	if len(f.calls) != 4 {
		t.Fatalf("expected 2 passes per client, got %d calls", len(f.calls))
	}
	consecutive := 0
	lastClient := ""
	for _, call := range f.calls {
		if call.Client == lastClient {
			consecutive++
		} else {
			consecutive = 1
			lastClient = call.Client
		}
		if consecutive > 2 {
			t.Fatalf("client %s attempted %d consecutive times, budget is 2", call.Client, consecutive)
		}
	}
	if result.StopReason != "clients_exhausted" {
		t.Fatalf("stop reason = %q, want clients_exhausted", result.StopReason)
	}
}

func TestSuccessfulPassStops(t *testing.T) {
	f := &fakeEngine{scripts: [][]string{finishedLines("aaaaaaaaaa1")}}
	c := newTestController(f)

	result, err := c.DownloadSource(context.Background(), channelSource(), Options{
		Clients:   []string{"tv", "web_safari"},
		OutputDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("clean pass must stop after one call, got %d", len(f.calls))
	}
	if !result.Completed || result.StopReason != "completed" {
		t.Fatalf("result = %+v, want completed", result)
	}
}

func TestMaxDownloadsStopsRun(t *testing.T) {
	f := &fakeEngine{scripts: [][]string{
		append(finishedLines("aaaaaaaaaa1"), finishedLines("aaaaaaaaaa2")...),
	}}
	c := newTestController(f)

	result, err := c.DownloadSource(context.Background(), channelSource(), Options{
		Clients:      []string{"tv"},
		MaxDownloads: 1,
		OutputDir:    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if result.StopReason != "max_downloads_reached" {
		t.Fatalf("stop reason = %q, want max_downloads_reached", result.StopReason)
	}
}

func TestDecideRuleOrder(t *testing.T) {
	cases := []struct {
		name  string
		stats PassStats
		want  Action
	}{
		{"max downloads wins", PassStats{MaxDownloadsReached: true, FailureLimitReached: true}, ActionStop},
		{"failure limit before retryables", PassStats{FailureLimitReached: true, RetryableIDs: []string{"a"}}, ActionSwitchClient},
		{"retryables before other", PassStats{RetryableIDs: []string{"a"}, OtherErrors: 1}, ActionSwitchClient},
		{"other errors switch", PassStats{OtherErrors: 1, Downloaded: 3}, ActionSwitchClient},
		{"unavailable only switches", PassStats{UnavailableErrors: 2}, ActionSwitchClient},
		{"empty pass continues", PassStats{}, ActionContinue},
		{"clean downloads stop", PassStats{Downloaded: 5}, ActionStop},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decide(tc.stats, 1, 5)
			if got.Action != tc.want {
				t.Fatalf("decide(%+v) = %v, want %v", tc.stats, got.Action, tc.want)
			}
		})
	}
}

func TestDecideAllowlistPropagates(t *testing.T) {
	got := decide(PassStats{RetryableIDs: []string{"aaaaaaaaaa1", "aaaaaaaaaa2"}}, 1, 5)
	if len(got.Allowlist) != 2 {
		t.Fatalf("allowlist = %v, want both ids carried forward", got.Allowlist)
	}
}
