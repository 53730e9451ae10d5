// Package queue implements the persistent retry queue used when metadata
// scanning and downloading run as separate phases. The queue file is
// rewritten after every state mutation so an interrupted process resumes
// without losing or duplicating work.
package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"yt-channel-fetcher/internal/model"
	"yt-channel-fetcher/internal/runstore"
)

const DefaultMaxAttempts = 5

// Item is one queued video. Attempts and last_error survive restarts; an
// item whose attempts reach max_attempts stays visible as failed and is never
// retried or deleted automatically.
type Item struct {
	VideoID         string `json:"video_id"`
	VideoURL        string `json:"video_url"`
	Title           string `json:"title"`
	ChannelURL      string `json:"channel_url"`
	Status          string `json:"status"`
	Attempts        int    `json:"attempts"`
	MaxAttempts     int    `json:"max_attempts"`
	LastError       string `json:"last_error"`
	LastAttemptTime string `json:"last_attempt_time"`
	AddedTime       string `json:"added_time"`
	CompletedTime   string `json:"completed_time"`
}

type queueFile struct {
	LastUpdated string `json:"last_updated"`
	TotalVideos int    `json:"total_videos"`
	Videos      []Item `json:"videos"`
}

// Stats summarizes queue composition for status output.
type Stats struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Downloading int `json:"downloading"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Retryable   int `json:"retryable"`
}

// Queue is the mutex-guarded in-memory view of the queue file. Today a
// single worker drains it; the lock keeps the structure safe should a
// multi-worker mode ever be enabled.
type Queue struct {
	mu    sync.Mutex
	path  string
	items []Item
	now   func() time.Time
}

// Open loads the queue from path. A corrupt file is reported as a warning
// and treated as empty rather than aborting.
func Open(path string) *Queue {
	q := &Queue{path: path, now: time.Now}
	if _, err := os.Stat(path); err != nil {
		return q
	}

	var data queueFile
	if err := runstore.ReadJSON(path, &data); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to load queue from %s: %v\n", path, err)
		fmt.Fprintln(os.Stderr, "starting with an empty queue")
		return q
	}
	for i := range data.Videos {
		if data.Videos[i].MaxAttempts <= 0 {
			data.Videos[i].MaxAttempts = DefaultMaxAttempts
		}
		if !model.IsKnownStatus(data.Videos[i].Status) {
			data.Videos[i].Status = model.StatusPending
		}
	}
	q.items = data.Videos
	return q
}

// SetClock overrides the timestamp source. Test hook.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// save persists the whole queue. Callers hold q.mu. A write failure is a
// warning: the run continues on in-memory state.
func (q *Queue) save() {
	data := queueFile{
		LastUpdated: q.now().Format(time.RFC3339),
		TotalVideos: len(q.items),
		Videos:      q.items,
	}
	if err := runstore.WriteJSON(q.path, data); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to save queue to %s: %v\n", q.path, err)
	}
}

func (q *Queue) indexOf(videoID string) int {
	for i := range q.items {
		if q.items[i].VideoID == videoID {
			return i
		}
	}
	return -1
}

// Add enqueues a video unless an item with the same id already exists.
// Returns true when the item was added.
func (q *Queue) Add(videoID, videoURL, title, channelURL string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexOf(videoID) >= 0 {
		return false
	}
	q.items = append(q.items, Item{
		VideoID:     videoID,
		VideoURL:    videoURL,
		Title:       title,
		ChannelURL:  channelURL,
		Status:      model.StatusPending,
		MaxAttempts: DefaultMaxAttempts,
		AddedTime:   q.now().Format(time.RFC3339),
	})
	q.save()
	return true
}

// AddBatch enqueues scanned videos for one channel, skipping ids in skip
// (typically the download archive) and ids already queued. Returns how many
// were added.
func (q *Queue) AddBatch(channelURL string, videos []model.VideoMetadata, skip map[string]struct{}) int {
	added := 0
	for _, v := range videos {
		if v.VideoID == "" {
			continue
		}
		if _, archived := skip[v.VideoID]; archived {
			continue
		}
		if q.Add(v.VideoID, model.WatchURL(v.VideoID), v.Title, channelURL) {
			added++
		}
	}
	return added
}

// Next returns the item to work on: pending items first in insertion order,
// then failed items with attempts remaining. ok is false when nothing is
// eligible.
func (q *Queue) Next() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.Status == model.StatusPending {
			return item, true
		}
	}
	for _, item := range q.items {
		if item.Status == model.StatusFailed && item.Attempts < item.MaxAttempts {
			return item, true
		}
	}
	return Item{}, false
}

func (q *Queue) MarkDownloading(videoID string) error {
	return q.transition(videoID, model.StatusDownloading, func(item *Item) {
		item.LastAttemptTime = q.now().Format(time.RFC3339)
	})
}

func (q *Queue) MarkCompleted(videoID string) error {
	return q.transition(videoID, model.StatusCompleted, func(item *Item) {
		item.LastError = ""
		item.CompletedTime = q.now().Format(time.RFC3339)
	})
}

func (q *Queue) MarkFailed(videoID, errMessage string) error {
	return q.transition(videoID, model.StatusFailed, func(item *Item) {
		item.Attempts++
		item.LastError = errMessage
	})
}

func (q *Queue) transition(videoID, to string, mutate func(*Item)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexOf(videoID)
	if i < 0 {
		return fmt.Errorf("video %s not found in queue", videoID)
	}
	if err := model.TransitionStatus(&q.items[i].Status, to); err != nil {
		return err
	}
	mutate(&q.items[i])
	q.save()
	return nil
}

// Requeue returns a failed item to pending with a fresh attempt budget.
// Operator action; the drain loop never does this on its own.
func (q *Queue) Requeue(videoID string) error {
	return q.transition(videoID, model.StatusPending, func(item *Item) {
		item.Attempts = 0
		item.LastError = ""
	})
}

// Get returns a copy of one item.
func (q *Queue) Get(videoID string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexOf(videoID)
	if i < 0 {
		return Item{}, false
	}
	return q.items[i], true
}

// Items returns a snapshot of the queue contents.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{Total: len(q.items)}
	for _, item := range q.items {
		switch item.Status {
		case model.StatusPending:
			s.Pending++
		case model.StatusDownloading:
			s.Downloading++
		case model.StatusCompleted:
			s.Completed++
		case model.StatusFailed:
			s.Failed++
			if item.Attempts < item.MaxAttempts {
				s.Retryable++
			}
		}
	}
	return s
}

// Clear removes every item. The only way queue entries are ever destroyed.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.save()
}

// ResetStale returns items stuck in downloading (a previous process died
// mid-item) to failed so they become retry-eligible again.
func (q *Queue) ResetStale() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	reset := 0
	for i := range q.items {
		if q.items[i].Status != model.StatusDownloading {
			continue
		}
		q.items[i].Status = model.StatusFailed
		if q.items[i].LastError == "" {
			q.items[i].LastError = "previous run interrupted while downloading"
		}
		reset++
	}
	if reset > 0 {
		q.save()
	}
	return reset
}

// RetryDelay computes the exponential backoff before retrying a failed item:
// min(60 * 2^attempts, 3600) seconds.
func RetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	seconds := 60 * (1 << attempts)
	if seconds > 3600 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}

// DrainOptions configures a drain loop. Workers is accepted for interface
// stability but only a single worker is implemented; values above one are
// reported and ignored.
type DrainOptions struct {
	Workers int
	Sleep   func(time.Duration)
}

// DownloadFunc performs the actual download of one queued item.
type DownloadFunc func(ctx context.Context, item Item) error

// DrainResult reports what one drain loop did.
type DrainResult struct {
	Completed int
	Failed    int
	Exhausted int
}

// Drain processes the queue until nothing is eligible or ctx is cancelled.
// Failed items wait out their backoff before the retry.
func (q *Queue) Drain(ctx context.Context, download DownloadFunc, opts DrainOptions) (DrainResult, error) {
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	if opts.Workers > 1 {
		fmt.Fprintln(os.Stderr, "note: multi-worker drain is not implemented; using a single worker")
	}

	var result DrainResult
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		item, ok := q.Next()
		if !ok {
			return result, nil
		}

		if item.Attempts > 0 {
			delay := RetryDelay(item.Attempts)
			fmt.Printf("[queue] retry %d/%d for %s after %s backoff\n",
				item.Attempts+1, item.MaxAttempts, item.VideoID, delay)
			sleep(delay)
		}

		if err := q.MarkDownloading(item.VideoID); err != nil {
			return result, err
		}

		if err := download(ctx, item); err != nil {
			if markErr := q.MarkFailed(item.VideoID, err.Error()); markErr != nil {
				return result, markErr
			}
			result.Failed++
			if updated, ok := q.Get(item.VideoID); ok && updated.Attempts >= updated.MaxAttempts {
				result.Exhausted++
				fmt.Fprintf(os.Stderr, "[queue] max attempts reached for %s, will not retry\n", item.VideoID)
			}
			continue
		}

		if err := q.MarkCompleted(item.VideoID); err != nil {
			return result, err
		}
		result.Completed++
	}
}
