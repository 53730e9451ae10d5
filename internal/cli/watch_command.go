package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"yt-channel-fetcher/internal/engine"
	"yt-channel-fetcher/internal/rotation"
	"yt-channel-fetcher/internal/sources"
)

// runWatch polls a channels file and re-runs downloads whenever its content
// changes. Timestamp-only changes (touch, editors rewriting identical bytes)
// are skipped.
func runWatch(args []string) error {
	f, cfg := newDownloadFlags("watch", args)
	interval := f.fs.Float64("watch-interval", orDefaultFloat(cfg.WatchInterval, 300), "seconds between file checks")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	warnWorkerCount(*f.workers)

	path := strings.TrimSpace(*f.channelsFile)
	if path == "" {
		return fmt.Errorf("--channels-file is required for watch")
	}

	ctx, cancel := signalContext()
	defer cancel()

	controller := rotation.NewController(engine.NewYTDLP())
	opts := f.rotationOptions()
	pollInterval := secondsOrDefault(*interval, 300*time.Second)

	fmt.Printf("watching %s for updates (checking every %s)\n", path, pollInterval)

	var lastMtime time.Time
	var lastContent string
	for {
		if ctx.Err() != nil {
			fmt.Println("\nwatch stopped")
			return nil
		}

		info, err := os.Stat(path)
		if err != nil {
			fmt.Printf("channels file not found: %s, waiting for it to appear\n", path)
			sleepOrCancel(ctx, pollInterval)
			continue
		}

		if info.ModTime() != lastMtime {
			lastMtime = info.ModTime()

			data, err := os.ReadFile(path)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to read %s: %v\n", path, err)
				sleepOrCancel(ctx, pollInterval)
				continue
			}
			content := string(data)

			switch {
			case content == lastContent:
				fmt.Printf("%s timestamp changed but content is the same; skipping downloads\n", filepath.Base(path))
			default:
				if lastContent == "" {
					fmt.Println("initial channel list loaded, starting downloads")
				} else {
					fmt.Println("detected update to channel list, re-running downloads")
				}
				if err := watchDownloadAll(ctx, path, controller, opts); err != nil {
					fmt.Fprintf(os.Stderr, "warning: %v\n", err)
				} else {
					lastContent = content
				}
			}
		}

		sleepOrCancel(ctx, pollInterval)
	}
}

func watchDownloadAll(ctx context.Context, path string, controller *rotation.Controller, opts rotation.Options) error {
	srcs, err := sources.LoadFromFile(path)
	if err != nil {
		return err
	}
	if len(srcs) == 0 {
		fmt.Printf("no sources found in %s\n", path)
		return nil
	}

	for _, src := range srcs {
		slog.Info("downloading source", "url", src.URL)
		result, err := controller.DownloadSource(ctx, src, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "warning: skipping source %s: %v\n", src.URL, err)
			continue
		}
		printSourceSummary(result)
	}
	return nil
}

func sleepOrCancel(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
