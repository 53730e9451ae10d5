// Package engine wraps the external yt-dlp binary. Everything above this
// package treats retrieval as two operations, metadata extraction and
// download, parameterized by a client identity; everything below is argv
// construction and stream plumbing.
package engine

import (
	"context"

	"yt-channel-fetcher/internal/model"
)

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// Options carries the per-invocation identity and tuning knobs. Client is the
// player-client string sent via extractor-args; UserAgent rides along so both
// halves of the identity rotate together.
type Options struct {
	Client             string
	UserAgent          string
	CookiesPath        string
	CookiesFromBrowser string
	ProxyURL           string

	OutputDir   string
	ArchivePath string

	// Inter-request pacing passed through to the retrieval tool.
	SleepInterval    int
	MaxSleepInterval int
	SleepRequests    int

	Quality string

	// LogLine receives every output line from the tool; Progress receives
	// the same lines tagged with their stream for UI consumption.
	LogLine  func(line string)
	Progress func(stream OutputStream, line string)
}

// Engine is the retrieval boundary. Implementations must honor ctx
// cancellation by terminating any in-flight process.
type Engine interface {
	ExtractMetadata(ctx context.Context, sourceURL string, opts Options) (*Node, error)
	Download(ctx context.Context, urls []string, opts Options) error
}

// Node is one entry of a flat-playlist extraction result. A channel resolves
// to a playlist node whose entries are either leaf videos or nested tab
// playlists, so consumers flatten recursively.
type Node struct {
	Type    string  `json:"_type"`
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Entries []*Node `json:"entries"`
}

// Flatten walks the node tree depth-first and returns every leaf video in
// traversal order, deduplicated by id. Nodes without an id are dropped.
func (n *Node) Flatten() []model.VideoMetadata {
	if n == nil {
		return nil
	}
	var out []model.VideoMetadata
	seen := make(map[string]struct{})
	n.flattenInto(&out, seen)
	return out
}

func (n *Node) flattenInto(out *[]model.VideoMetadata, seen map[string]struct{}) {
	if len(n.Entries) > 0 || n.Type == "playlist" {
		for _, child := range n.Entries {
			if child != nil {
				child.flattenInto(out, seen)
			}
		}
		return
	}
	if n.ID == "" {
		return
	}
	if _, dup := seen[n.ID]; dup {
		return
	}
	seen[n.ID] = struct{}{}
	*out = append(*out, model.VideoMetadata{VideoID: n.ID, Title: n.Title})
}
