package classify

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Category is the fixed failure taxonomy. Classification is ordered substring
// matching over the lower-cased message; the first matching rule wins.
type Category string

const (
	CategoryGeoRestricted    Category = "geo_restricted"
	CategoryAgeRestricted    Category = "age_restricted"
	CategoryMembersOnly      Category = "members_only"
	CategoryPrivateDeleted   Category = "private_deleted"
	CategoryUnavailable      Category = "video_unavailable"
	CategoryRateLimit        Category = "rate_limit"
	CategoryPOToken          Category = "po_token_required"
	CategoryAuthRequired     Category = "auth_required"
	CategoryRetryableNetwork Category = "retryable_transport"
	CategoryIgnored          Category = "ignored"
	CategoryOther            Category = "other"
)

type rule struct {
	category  Category
	fragments []string
}

// Rule order is significant: more specific restrictions match before the
// generic unavailable and transport buckets.
var rules = []rule{
	{CategoryGeoRestricted, []string{"not available in your country", "geo", "region"}},
	{CategoryAgeRestricted, []string{"age", "sign in to confirm"}},
	{CategoryMembersOnly, []string{"members only", "member", "subscription", "subscriber", "requires purchase"}},
	{CategoryPrivateDeleted, []string{"private", "deleted", "removed", "uploader has not made"}},
	{CategoryUnavailable, []string{
		"video unavailable", "video is unavailable",
		"content isn't available", "content is not available",
		"this content isn't available", "http error 410",
		"this video can only be played",
	}},
	{CategoryRateLimit, []string{"403", "forbidden", "too many requests", "rate limit", "429"}},
	{CategoryRetryableNetwork, []string{
		"timed out", "timeout", "connection reset",
		"temporarily unavailable", "service unavailable",
		"network is unreachable", "http error 5",
	}},
	{CategoryPOToken, []string{"po token", "po_token"}},
	{CategoryAuthRequired, []string{"login required", "authentication"}},
}

// Cosmetic engine notices unrelated to failure. Never counted or logged.
var ignoredFragments = []string{
	"does not have a shorts tab",
}

// Pattern aggregates occurrences of one category within a run.
type Pattern struct {
	Category  Category
	Count     int
	VideoIDs  []string
	Samples   []string
	FirstSeen time.Time
	LastSeen  time.Time
}

const maxSamples = 5

func (p *Pattern) record(videoID, message string, now time.Time) {
	p.Count++
	if p.FirstSeen.IsZero() {
		p.FirstSeen = now
	}
	p.LastSeen = now

	if videoID != "" {
		known := false
		for _, id := range p.VideoIDs {
			if id == videoID {
				known = true
				break
			}
		}
		if !known {
			p.VideoIDs = append(p.VideoIDs, videoID)
		}
	}

	if len(p.Samples) < maxSamples {
		for _, s := range p.Samples {
			if s == message {
				return
			}
		}
		p.Samples = append(p.Samples, message)
	}
}

// Classifier maps free-text engine failures onto the category taxonomy and
// keeps per-category aggregates for the end-of-run report.
type Classifier struct {
	patterns     map[Category]*Pattern
	totalErrors  int
	errorLogPath string
	now          func() time.Time
}

func New() *Classifier {
	return &Classifier{
		patterns: make(map[Category]*Pattern),
		now:      time.Now,
	}
}

// SetErrorLogPath enables the append-only durable error log. Writes are best
// effort: a failure is reported as a warning and never aborts the run.
func (c *Classifier) SetErrorLogPath(path string) {
	c.errorLogPath = path
}

// SetClock overrides the timestamp source. Test hook.
func (c *Classifier) SetClock(now func() time.Time) {
	c.now = now
}

// MatchCategory classifies a message without recording it.
func MatchCategory(message string) Category {
	lowered := strings.ToLower(message)
	for _, fragment := range ignoredFragments {
		if strings.Contains(lowered, fragment) {
			return CategoryIgnored
		}
	}
	for _, r := range rules {
		for _, fragment := range r.fragments {
			if strings.Contains(lowered, fragment) {
				return r.category
			}
		}
	}
	return CategoryOther
}

// Classify categorizes and records one failure message. Ignored messages are
// neither counted nor logged.
func (c *Classifier) Classify(videoID, message string) Category {
	category := MatchCategory(message)
	if category == CategoryIgnored {
		return category
	}

	c.totalErrors++
	now := c.now()

	pattern, ok := c.patterns[category]
	if !ok {
		pattern = &Pattern{Category: category}
		c.patterns[category] = pattern
	}
	pattern.record(videoID, message, now)

	if c.errorLogPath != "" {
		c.appendToErrorLog(videoID, category, message, now)
	}
	return category
}

func (c *Classifier) appendToErrorLog(videoID string, category Category, message string, now time.Time) {
	if videoID == "" {
		videoID = "unknown"
	}
	entry := fmt.Sprintf("[%s] [%s] %s: %s\n", now.Format(time.RFC3339), category, videoID, message)

	f, err := os.OpenFile(c.errorLogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to open error log %s: %v\n", c.errorLogPath, err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write error log %s: %v\n", c.errorLogPath, err)
	}
}

// TotalErrors reports how many non-ignored failures were recorded.
func (c *Classifier) TotalErrors() int {
	return c.totalErrors
}

// Pattern returns the aggregate for one category, or nil when the category
// never occurred.
func (c *Classifier) Pattern(category Category) *Pattern {
	return c.patterns[category]
}

func (c *Classifier) Count(category Category) int {
	if p := c.patterns[category]; p != nil {
		return p.Count
	}
	return 0
}

// recommendationOrder fixes the output ordering of Recommendations.
var recommendationOrder = []Category{
	CategoryGeoRestricted,
	CategoryAgeRestricted,
	CategoryMembersOnly,
	CategoryPrivateDeleted,
	CategoryUnavailable,
	CategoryRateLimit,
	CategoryRetryableNetwork,
	CategoryPOToken,
	CategoryAuthRequired,
	CategoryOther,
}

var remediation = map[Category]string{
	CategoryGeoRestricted:    "use a proxy or VPN exit in a different region (--proxy)",
	CategoryAgeRestricted:    "refresh browser cookies and retry with --cookies-from-browser",
	CategoryMembersOnly:      "these videos require channel membership; retry with member cookies via --cookies",
	CategoryPrivateDeleted:   "these videos are gone; this is expected for older channels",
	CategoryUnavailable:      "likely bot detection; raise the request interval, rotate proxies, or retry later",
	CategoryRateLimit:        "the service is throttling; raise --request-interval to 180-300s or change exit IP",
	CategoryRetryableNetwork: "transient network failures; retrying usually resolves these",
	CategoryPOToken:          "token provider appears unhealthy; check its endpoint or switch provider mode",
	CategoryAuthRequired:     "these videos require login; verify --cookies-from-browser works",
	CategoryOther:            "unrecognized failures; check the error log for details",
}

// Recommendations produces one remediation line per non-empty category, in a
// deterministic order.
func (c *Classifier) Recommendations() []string {
	if c.totalErrors == 0 {
		return []string{"no errors detected"}
	}

	var out []string
	for _, category := range recommendationOrder {
		p := c.patterns[category]
		if p == nil || p.Count == 0 {
			continue
		}
		out = append(out, fmt.Sprintf("%s (%d): %s", category, p.Count, remediation[category]))
	}
	return out
}

// Summary renders the per-category aggregates sorted by count, for the
// end-of-run report.
func (c *Classifier) Summary() []string {
	var patterns []*Pattern
	for _, p := range c.patterns {
		if p.Count > 0 {
			patterns = append(patterns, p)
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Category < patterns[j].Category
	})

	var out []string
	for _, p := range patterns {
		line := fmt.Sprintf("%s: %d occurrences, %d videos", p.Category, p.Count, len(p.VideoIDs))
		if len(p.Samples) > 0 {
			sample := p.Samples[0]
			if len(sample) > 80 {
				sample = sample[:80] + "..."
			}
			line += fmt.Sprintf(" (sample: %s)", sample)
		}
		out = append(out, line)
	}
	return out
}
