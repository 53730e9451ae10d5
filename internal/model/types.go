package model

import (
	"fmt"
	"regexp"
	"strings"
)

type SourceKind string

const (
	KindChannel  SourceKind = "channel"
	KindPlaylist SourceKind = "playlist"
	KindVideo    SourceKind = "video"
)

// Source is one entry from a channels file: a channel, playlist, or single
// video URL. Immutable once parsed.
type Source struct {
	Kind SourceKind
	URL  string
}

// VideoMetadata identifies one downloadable video as reported by the engine.
type VideoMetadata struct {
	VideoID string `json:"video_id"`
	Title   string `json:"title,omitempty"`
}

const (
	// DefaultFailureLimit is the number of failed downloads tolerated per
	// client before the rotation controller moves on.
	DefaultFailureLimit = 10

	// MaxAttemptsPerClient bounds how often the same client identity is
	// retried before it is abandoned, even without an explicit failure
	// signal.
	MaxAttemptsPerClient = 5
)

// DefaultClients is the deterministic client-identity rotation order. Mobile
// and TV identities lead because they see less aggressive rate limiting.
var DefaultClients = []string{
	"tv",
	"web_safari",
	"web",
	"android",
	"ios",
	"mweb",
	"android_vr",
	"tv_embedded",
}

// UserAgents is the request-fingerprint rotation pool. Resolved once at
// startup and threaded through options, never read as a mutable global.
var UserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36 Edg/119.0.0.0",
}

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// NormalizeURL validates and canonicalizes a source URL: default https scheme,
// trailing slashes stripped.
func NormalizeURL(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" {
		return "", fmt.Errorf("missing URL")
	}
	if !schemePattern.MatchString(cleaned) {
		cleaned = "https://" + strings.TrimLeft(cleaned, "/")
	}
	return strings.TrimRight(cleaned, "/"), nil
}

var tabSuffixPattern = regexp.MustCompile(`/(videos|shorts|streams|live)$`)

// BuildDownloadURLs expands a source into the listing URLs the engine should
// fetch. Channels get their /videos tab plus (optionally) /shorts; a URL that
// already names a tab is kept as-is and never duplicated.
func (s Source) BuildDownloadURLs(includeShorts bool) ([]string, error) {
	normalized, err := NormalizeURL(s.URL)
	if err != nil {
		return nil, err
	}

	if s.Kind != KindChannel {
		return []string{normalized}, nil
	}

	var urls []string
	baseChannelURL := normalized
	if m := tabSuffixPattern.FindString(normalized); m != "" {
		urls = []string{normalized}
		baseChannelURL = normalized[:len(normalized)-len(m)]
	} else {
		urls = []string{normalized + "/videos"}
	}

	if includeShorts {
		shortsURL := baseChannelURL + "/shorts"
		duplicate := false
		for _, u := range urls {
			if u == shortsURL {
				duplicate = true
				break
			}
		}
		if !duplicate {
			urls = append(urls, shortsURL)
		}
	}
	return urls, nil
}

// WatchURL builds the canonical single-video URL for an id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
