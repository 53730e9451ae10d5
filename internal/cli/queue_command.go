package cli

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"yt-channel-fetcher/internal/archive"
	"yt-channel-fetcher/internal/engine"
	"yt-channel-fetcher/internal/model"
	"yt-channel-fetcher/internal/queue"
	"yt-channel-fetcher/internal/rotation"
	"yt-channel-fetcher/internal/runstore"
)

func runQueue(args []string) error {
	cfg := loadConfig(configPathFromArgs(args))
	cfg.applyEnvDefaults()

	fs := flag.NewFlagSet("queue", flag.ContinueOnError)
	_ = fs.String("config", "config.json", "path to JSON configuration file")
	queuePath := fs.String("queue-file", orDefault(cfg.QueueFile, "queue.json"), "queue state file")
	archivePath := fs.String("archive", orDefault(cfg.Archive, "downloaded.txt"), "download archive file")
	output := fs.String("output", orDefault(cfg.Output, "downloads"), "output directory")
	populate := fs.String("populate", "", "populate the queue from a metadata cache file")
	download := fs.Bool("download", false, "drain the queue, downloading each pending item")
	status := fs.Bool("status", false, "print queue statistics")
	clear := fs.Bool("clear", false, "remove every item from the queue")
	clients := fs.String("clients", cfg.Clients, "comma-separated client identity order (empty = built-in order)")
	failureLimit := fs.Int("failure-limit", orDefaultInt(cfg.FailureLimit, model.DefaultFailureLimit), "failures tolerated per client before rotating")
	errorLog := fs.String("error-log", cfg.ErrorLog, "append-only classified error log (empty = disabled)")
	workers := fs.Int("workers", orDefaultInt(cfg.Workers, 1), "worker count (accepted for compatibility; only 1 is implemented)")
	quality := fs.String("quality", orDefault(cfg.Quality, "best"), "quality preset: best|1080p|720p")
	cookies := fs.String("cookies", cfg.Cookies, "path to cookies.txt")
	browser := fs.String("cookies-from-browser", cfg.CookiesFromBrowser, "browser to read cookies from")
	proxy := fs.String("proxy", cfg.Proxy, "proxy URL")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	q := queue.Open(*queuePath)

	switch {
	case *populate != "":
		return queuePopulate(q, *populate, *archivePath, *jsonOut)
	case *download:
		return queueDownload(q, queueDownloadConfig{
			queuePath:    *queuePath,
			archivePath:  *archivePath,
			output:       *output,
			errorLog:     *errorLog,
			clients:      *clients,
			failureLimit: *failureLimit,
			quality:      *quality,
			cookies:      *cookies,
			browser:      *browser,
			proxy:        *proxy,
			sleepReq:     cfg.SleepRequests,
			sleepInt:     cfg.SleepInterval,
			maxSleepInt:  cfg.MaxSleepInterval,
			workers:      *workers,
		})
	case *clear:
		q.Clear()
		fmt.Println("queue cleared")
		return nil
	case *status:
		fallthrough
	default:
		return queueStatus(q, *jsonOut)
	}
}

func queuePopulate(q *queue.Queue, cachePath, archivePath string, jsonOut bool) error {
	cache, err := loadScanCache(cachePath)
	if err != nil {
		return err
	}
	archived, err := archive.Load(archivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		archived = map[string]struct{}{}
	}

	added := 0
	for _, channel := range cache.Channels {
		added += q.AddBatch(channel.URL, channel.Videos, archived)
	}

	if jsonOut {
		return printJSON(map[string]any{"added": added, "stats": q.Stats()})
	}
	fmt.Printf("added %d videos to the queue (archived and duplicate ids skipped)\n", added)
	return queueStatus(q, false)
}

type queueDownloadConfig struct {
	queuePath    string
	archivePath  string
	output       string
	errorLog     string
	clients      string
	failureLimit int
	quality      string
	cookies      string
	browser      string
	proxy        string
	sleepReq     int
	sleepInt     int
	maxSleepInt  int
	workers      int
}

func queueDownload(q *queue.Queue, cfg queueDownloadConfig) error {
	// One drain per queue file at a time.
	lock, err := runstore.AcquireStateLock(cfg.queuePath)
	if err != nil {
		return fmt.Errorf("queue is in use: %w", err)
	}
	defer lock.Release()

	if reset := q.ResetStale(); reset > 0 {
		fmt.Printf("reset %d items left downloading by an earlier run\n", reset)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Drained items go through the same rotation machinery as direct
	// downloads: client identities, classification, and backoff.
	controller := rotation.NewController(engine.NewYTDLP())
	opts := rotation.Options{
		Clients:            splitClients(cfg.clients),
		FailureLimit:       cfg.failureLimit,
		OutputDir:          cfg.output,
		ArchivePath:        cfg.archivePath,
		ErrorLogPath:       cfg.errorLog,
		CookiesPath:        cfg.cookies,
		CookiesFromBrowser: cfg.browser,
		ProxyURL:           cfg.proxy,
		Quality:            cfg.quality,
		SleepInterval:      cfg.sleepInt,
		MaxSleepInterval:   cfg.maxSleepInt,
		SleepRequests:      cfg.sleepReq,
		SwitchDelay:        5 * time.Second,
	}
	download := func(ctx context.Context, item queue.Item) error {
		slog.Info("downloading queued item", "video_id", item.VideoID, "attempt", item.Attempts+1)
		result, err := controller.DownloadSource(ctx, model.Source{
			Kind: model.KindVideo,
			URL:  item.VideoURL,
		}, opts)
		if err != nil {
			return err
		}
		if result.Downloaded == 0 {
			return fmt.Errorf("download did not complete: %s", result.StopReason)
		}
		return nil
	}

	result, err := q.Drain(ctx, download, queue.DrainOptions{Workers: cfg.workers})
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("\ninterrupted; queue state saved")
			return nil
		}
		return err
	}

	fmt.Printf("queue drained: %d completed, %d failed, %d gave up\n",
		result.Completed, result.Failed, result.Exhausted)
	return queueStatus(q, false)
}

func queueStatus(q *queue.Queue, jsonOut bool) error {
	stats := q.Stats()
	if jsonOut {
		return printJSON(stats)
	}
	fmt.Printf("queue: %d total | %d pending | %d downloading | %d completed | %d failed (%d retryable)\n",
		stats.Total, stats.Pending, stats.Downloading, stats.Completed, stats.Failed, stats.Retryable)

	for _, item := range q.Items() {
		if item.Status != model.StatusFailed {
			continue
		}
		fmt.Printf("  failed %s attempts=%d/%d last_error=%s\n",
			item.VideoID, item.Attempts, item.MaxAttempts, item.LastError)
	}
	return nil
}
