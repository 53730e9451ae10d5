// Package sources resolves the operator-supplied list of things to fetch.
// Lists come from a local file or a remote URL; each line names a channel,
// playlist, or single video, with an optional explicit kind prefix.
package sources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"yt-channel-fetcher/internal/model"
)

// ErrRemoteSource marks a remote list fetch that failed after all retries.
// The run cannot proceed without its source list, so callers treat this as
// fatal.
var ErrRemoteSource = errors.New("remote source list unavailable")

var kindPrefixes = map[string]model.SourceKind{
	"channel":  model.KindChannel,
	"channels": model.KindChannel,
	"ch":       model.KindChannel,
	"playlist": model.KindPlaylist,
	"list":     model.KindPlaylist,
	"video":    model.KindVideo,
	"vid":      model.KindVideo,
}

// ParseLine interprets one list line. Blank lines and comment lines yield a
// nil source with no error. An explicit prefix wins over inference; a prefix
// with nothing after it is a malformed line.
func ParseLine(line string) (*model.Source, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}
	if i := strings.Index(line, " #"); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return nil, nil
	}

	if colon := strings.Index(line, ":"); colon > 0 {
		prefix := strings.ToLower(strings.TrimSpace(line[:colon]))
		if kind, ok := kindPrefixes[prefix]; ok {
			rest := strings.TrimSpace(line[colon+1:])
			if rest == "" {
				return nil, fmt.Errorf("malformed source line %q: prefix without a URL", line)
			}
			normalized, err := model.NormalizeURL(rest)
			if err != nil {
				return nil, fmt.Errorf("malformed source line %q: %w", line, err)
			}
			return &model.Source{Kind: kind, URL: normalized}, nil
		}
	}

	normalized, err := model.NormalizeURL(line)
	if err != nil {
		return nil, fmt.Errorf("malformed source line %q: %w", line, err)
	}
	return &model.Source{Kind: InferKind(normalized), URL: normalized}, nil
}

// InferKind classifies a URL when no explicit prefix was given. Anything
// unrecognized is treated as a channel, the common case for hand-written
// lists.
func InferKind(rawURL string) model.SourceKind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.KindChannel
	}

	host := strings.ToLower(u.Hostname())
	if host == "youtu.be" {
		return model.KindVideo
	}
	if u.Query().Get("list") != "" {
		return model.KindPlaylist
	}

	path := u.EscapedPath()
	switch {
	case strings.HasPrefix(path, "/watch"), strings.HasPrefix(path, "/shorts/"), strings.HasPrefix(path, "/live/"):
		return model.KindVideo
	case strings.HasPrefix(path, "/playlist"):
		return model.KindPlaylist
	default:
		return model.KindChannel
	}
}

func parseReader(r io.Reader, origin string) ([]model.Source, error) {
	var out []model.Source
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		src, err := ParseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", origin, lineNo, err)
		}
		if src != nil {
			out = append(out, *src)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", origin, err)
	}
	return out, nil
}

// LoadFromFile reads a local source list.
func LoadFromFile(path string) ([]model.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source list %s: %w", path, err)
	}
	defer f.Close()
	return parseReader(f, path)
}

const (
	fetchTimeout  = 30 * time.Second
	fetchAttempts = 4
)

// Loader fetches remote source lists. The HTTP client and sleep function are
// fields so tests can substitute both.
type Loader struct {
	Client *http.Client
	Sleep  func(time.Duration)
}

func NewLoader() *Loader {
	return &Loader{
		Client: &http.Client{Timeout: fetchTimeout},
		Sleep:  time.Sleep,
	}
}

// LoadFromURL fetches and parses a remote list, retrying transient failures
// with exponential backoff (2s, 4s, 8s). Exhausting the retries returns an
// error wrapping ErrRemoteSource.
func (l *Loader) LoadFromURL(ctx context.Context, listURL string) ([]model.Source, error) {
	client := l.Client
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	sleep := l.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			delay := time.Duration(1<<(attempt-1)) * time.Second
			fmt.Fprintf(os.Stderr, "retrying source list fetch in %s (attempt %d/%d)\n", delay, attempt, fetchAttempts)
			sleep(delay)
		}

		sources, err := l.fetchOnce(ctx, client, listURL)
		if err == nil {
			return sources, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrRemoteSource, listURL, fetchAttempts, lastErr)
}

func (l *Loader) fetchOnce(ctx context.Context, client *http.Client, listURL string) ([]model.Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return parseReader(resp.Body, listURL)
}

// Load dispatches on the argument shape: http(s) URLs go through the remote
// loader, everything else is a local path.
func (l *Loader) Load(ctx context.Context, pathOrURL string) ([]model.Source, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return l.LoadFromURL(ctx, pathOrURL)
	}
	return LoadFromFile(pathOrURL)
}
