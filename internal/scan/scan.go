// Package scan implements the slow metadata pass: walk every source, ask the
// engine for its video listing, and persist the result as a cache file that
// the queue and download phases consume.
package scan

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"yt-channel-fetcher/internal/engine"
	"yt-channel-fetcher/internal/model"
	"yt-channel-fetcher/internal/runstore"
)

// ChannelMetadata is the scan result for one source. A failed source records
// its error in place; it never aborts the scan of the remaining sources.
type ChannelMetadata struct {
	URL           string                `json:"url"`
	Kind          string                `json:"kind"`
	ScanTimestamp string                `json:"scan_timestamp"`
	TotalVideos   int                   `json:"total_videos"`
	Videos        []model.VideoMetadata `json:"videos"`
	Error         string                `json:"error,omitempty"`
}

// MetadataCache is the persisted output of a full scan.
type MetadataCache struct {
	ScanDate      string            `json:"scan_date"`
	TotalChannels int               `json:"total_channels"`
	TotalVideos   int               `json:"total_videos"`
	Channels      []ChannelMetadata `json:"channels"`
}

// LoadCache reads a previously written metadata cache.
func LoadCache(path string) (*MetadataCache, error) {
	var cache MetadataCache
	if err := runstore.ReadJSON(path, &cache); err != nil {
		return nil, fmt.Errorf("load metadata cache %s: %w", path, err)
	}
	return &cache, nil
}

// SaveCache writes the cache atomically.
func SaveCache(path string, cache *MetadataCache) error {
	return runstore.WriteJSON(path, cache)
}

// Options tunes one scan run.
type Options struct {
	Clients       []string
	UserAgents    []string
	IncludeShorts bool

	// RequestInterval is the base pause between sources; the actual pause
	// is jittered by up to twenty percent in either direction.
	RequestInterval time.Duration

	CookiesPath        string
	CookiesFromBrowser string
	ProxyURL           string

	// ShowProgress renders a terminal progress bar over the source list.
	ShowProgress bool
}

func (o *Options) withDefaults() {
	if len(o.Clients) == 0 {
		o.Clients = model.DefaultClients
	}
	if len(o.UserAgents) == 0 {
		o.UserAgents = model.UserAgents
	}
	if o.RequestInterval <= 0 {
		o.RequestInterval = 30 * time.Second
	}
}

// Scanner runs metadata scans through an engine.
type Scanner struct {
	engine engine.Engine
	sleep  func(time.Duration)
	now    func() time.Time
	rand   *rand.Rand
}

func NewScanner(eng engine.Engine) *Scanner {
	return &Scanner{
		engine: eng,
		sleep:  time.Sleep,
		now:    time.Now,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSleep overrides the pacing sleep. Test hook.
func (s *Scanner) SetSleep(sleep func(time.Duration)) { s.sleep = sleep }

// SetClock overrides the timestamp source. Test hook.
func (s *Scanner) SetClock(now func() time.Time) { s.now = now }

// jitteredInterval spreads request pacing by ±20% so the scan does not emit
// requests on a fixed beat.
func (s *Scanner) jitteredInterval(base time.Duration) time.Duration {
	factor := 0.8 + 0.4*s.rand.Float64()
	return time.Duration(float64(base) * factor)
}

// ScanAll walks every source in order. Cancellation stops between sources;
// the partial cache built so far is still returned with the error so callers
// can persist it.
func (s *Scanner) ScanAll(ctx context.Context, srcs []model.Source, opts Options) (*MetadataCache, error) {
	opts.withDefaults()

	cache := &MetadataCache{ScanDate: s.now().Format(time.RFC3339)}

	var bar *progressbar.ProgressBar
	if opts.ShowProgress {
		bar = progressbar.NewOptions(len(srcs),
			progressbar.OptionSetDescription("scanning sources"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	for i, src := range srcs {
		if err := ctx.Err(); err != nil {
			return cache, err
		}

		meta := s.scanOne(ctx, src, opts)
		cache.Channels = append(cache.Channels, meta)
		cache.TotalChannels++
		cache.TotalVideos += meta.TotalVideos
		if bar != nil {
			_ = bar.Add(1)
		}

		if i < len(srcs)-1 {
			s.sleep(s.jitteredInterval(opts.RequestInterval))
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return cache, nil
}

// scanOne extracts one source's listing, rotating through client identities
// until one succeeds. Every failure is captured; nothing propagates.
func (s *Scanner) scanOne(ctx context.Context, src model.Source, opts Options) ChannelMetadata {
	meta := ChannelMetadata{
		URL:           src.URL,
		Kind:          string(src.Kind),
		ScanTimestamp: s.now().Format(time.RFC3339),
	}

	urls, err := src.BuildDownloadURLs(opts.IncludeShorts)
	if err != nil {
		meta.Error = err.Error()
		return meta
	}

	seen := make(map[string]struct{})
	var lastErr error
	for _, listingURL := range urls {
		videos, err := s.extractWithRotation(ctx, listingURL, opts)
		if err != nil {
			lastErr = err
			continue
		}
		for _, v := range videos {
			if _, dup := seen[v.VideoID]; dup {
				continue
			}
			seen[v.VideoID] = struct{}{}
			meta.Videos = append(meta.Videos, v)
		}
	}

	meta.TotalVideos = len(meta.Videos)
	if len(meta.Videos) == 0 && lastErr != nil {
		meta.Error = lastErr.Error()
	}
	return meta
}

func (s *Scanner) extractWithRotation(ctx context.Context, listingURL string, opts Options) ([]model.VideoMetadata, error) {
	var lastErr error
	for i, client := range opts.Clients {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node, err := s.engine.ExtractMetadata(ctx, listingURL, engine.Options{
			Client:             client,
			UserAgent:          opts.UserAgents[i%len(opts.UserAgents)],
			CookiesPath:        opts.CookiesPath,
			CookiesFromBrowser: opts.CookiesFromBrowser,
			ProxyURL:           opts.ProxyURL,
		})
		if err == nil {
			return node.Flatten(), nil
		}
		lastErr = err
		fmt.Fprintf(os.Stderr, "[scan] client %s failed for %s: %v\n", client, listingURL, err)
	}
	return nil, fmt.Errorf("all clients failed for %s: %w", listingURL, lastErr)
}
