package scan

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"yt-channel-fetcher/internal/engine"
	"yt-channel-fetcher/internal/model"
)

// extractFunc lets each test script the engine inline.
type extractFunc func(url string, opts engine.Options) (*engine.Node, error)

type fakeEngine struct {
	extract extractFunc
	calls   []engine.Options
}

func (f *fakeEngine) ExtractMetadata(ctx context.Context, url string, opts engine.Options) (*engine.Node, error) {
	f.calls = append(f.calls, opts)
	return f.extract(url, opts)
}

func (f *fakeEngine) Download(ctx context.Context, urls []string, opts engine.Options) error {
	return fmt.Errorf("not scripted")
}

func newTestScanner(f *fakeEngine) *Scanner {
	s := NewScanner(f)
	s.SetSleep(func(time.Duration) {})
	s.SetClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })
	return s
}

func listing(ids ...string) *engine.Node {
	node := &engine.Node{Type: "playlist"}
	for _, id := range ids {
		node.Entries = append(node.Entries, &engine.Node{ID: id, Title: "video " + id})
	}
	return node
}

func TestScanAllCollectsVideos(t *testing.T) {
	f := &fakeEngine{extract: func(url string, opts engine.Options) (*engine.Node, error) {
		return listing("vid1", "vid2"), nil
	}}
	s := newTestScanner(f)

	srcs := []model.Source{
		{Kind: model.KindChannel, URL: "https://youtube.com/@chanA"},
		{Kind: model.KindChannel, URL: "https://youtube.com/@chanB"},
	}
	cache, err := s.ScanAll(context.Background(), srcs, Options{})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if cache.TotalChannels != 2 || cache.TotalVideos != 4 {
		t.Fatalf("cache totals = %d channels / %d videos, want 2/4", cache.TotalChannels, cache.TotalVideos)
	}
	if cache.Channels[0].Videos[0].VideoID != "vid1" {
		t.Fatalf("first video = %+v", cache.Channels[0].Videos[0])
	}
}

func TestScanRotatesClientsOnFailure(t *testing.T) {
	f := &fakeEngine{}
	f.extract = func(url string, opts engine.Options) (*engine.Node, error) {
		if opts.Client == "tv" {
			return nil, fmt.Errorf("HTTP Error 403: Forbidden")
		}
		return listing("vid1"), nil
	}
	s := newTestScanner(f)

	cache, err := s.ScanAll(context.Background(),
		[]model.Source{{Kind: model.KindChannel, URL: "https://youtube.com/@chanA"}},
		Options{Clients: []string{"tv", "web_safari"}})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(f.calls) != 2 || f.calls[1].Client != "web_safari" {
		t.Fatalf("expected fallback to web_safari, calls = %+v", f.calls)
	}
	if cache.TotalVideos != 1 {
		t.Fatalf("total videos = %d, want 1", cache.TotalVideos)
	}
}

func TestScanCapturesErrorAndContinues(t *testing.T) {
	f := &fakeEngine{}
	f.extract = func(url string, opts engine.Options) (*engine.Node, error) {
		if url == "https://youtube.com/@broken/videos" {
			return nil, fmt.Errorf("channel does not exist")
		}
		return listing("vid1"), nil
	}
	s := newTestScanner(f)

	cache, err := s.ScanAll(context.Background(), []model.Source{
		{Kind: model.KindChannel, URL: "https://youtube.com/@broken"},
		{Kind: model.KindChannel, URL: "https://youtube.com/@healthy"},
	}, Options{Clients: []string{"tv"}})
	if err != nil {
		t.Fatalf("scan must survive per-source failures: %v", err)
	}

	if cache.Channels[0].Error == "" {
		t.Fatal("broken source should record its error")
	}
	if cache.Channels[1].TotalVideos != 1 {
		t.Fatalf("healthy source = %+v", cache.Channels[1])
	}
}

func TestScanPausesBetweenSourcesWithJitter(t *testing.T) {
	f := &fakeEngine{extract: func(url string, opts engine.Options) (*engine.Node, error) {
		return listing("vid1"), nil
	}}
	s := NewScanner(f)
	s.SetClock(func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) })

	var slept []time.Duration
	s.SetSleep(func(d time.Duration) { slept = append(slept, d) })

	base := 30 * time.Second
	_, err := s.ScanAll(context.Background(), []model.Source{
		{Kind: model.KindChannel, URL: "https://youtube.com/@chanA"},
		{Kind: model.KindChannel, URL: "https://youtube.com/@chanB"},
		{Kind: model.KindChannel, URL: "https://youtube.com/@chanC"},
	}, Options{Clients: []string{"tv"}, RequestInterval: base})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	// N sources pause N-1 times, each within the jitter band.
	if len(slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(slept))
	}
	lo := time.Duration(float64(base) * 0.8)
	hi := time.Duration(float64(base) * 1.2)
	for _, d := range slept {
		if d < lo || d > hi {
			t.Fatalf("pause %v outside jitter band [%v, %v]", d, lo, hi)
		}
	}
}

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	cache := &MetadataCache{
		ScanDate:      "2026-03-01T12:00:00Z",
		TotalChannels: 1,
		TotalVideos:   1,
		Channels: []ChannelMetadata{{
			URL:         "https://youtube.com/@chanA",
			Kind:        "channel",
			TotalVideos: 1,
			Videos:      []model.VideoMetadata{{VideoID: "vid1", Title: "First"}},
		}},
	}

	if err := SaveCache(path, cache); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	got, err := LoadCache(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.TotalVideos != 1 || got.Channels[0].Videos[0].VideoID != "vid1" {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestScanStopsOnCancellation(t *testing.T) {
	f := &fakeEngine{extract: func(url string, opts engine.Options) (*engine.Node, error) {
		return listing("vid1"), nil
	}}
	s := newTestScanner(f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cache, err := s.ScanAll(ctx, []model.Source{
		{Kind: model.KindChannel, URL: "https://youtube.com/@chanA"},
	}, Options{Clients: []string{"tv"}})
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if cache == nil {
		t.Fatal("partial cache must still be returned")
	}
}
