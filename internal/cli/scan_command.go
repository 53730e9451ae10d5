package cli

import (
	"fmt"
	"log/slog"
	"time"

	"yt-channel-fetcher/internal/engine"
	"yt-channel-fetcher/internal/scan"
)

func runScan(args []string) error {
	f, cfg := newDownloadFlags("scan", args)
	cachePath := f.fs.String("cache", orDefault(cfg.MetadataCache, "metadata.json"), "output metadata cache file")
	interval := f.fs.Float64("request-interval", orDefaultFloat(cfg.RequestInterval, 30), "base seconds between sources (jittered)")
	if err := f.fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	srcs, err := f.loadSources(ctx)
	if err != nil {
		return err
	}
	if len(srcs) == 0 {
		return fmt.Errorf("no sources to scan")
	}

	slog.Info("starting metadata scan", "sources", len(srcs), "interval", *interval)
	scanner := scan.NewScanner(engine.NewYTDLP())
	cache, scanErr := scanner.ScanAll(ctx, srcs, scan.Options{
		Clients:            splitClients(*f.clients),
		IncludeShorts:      !*f.noShorts,
		RequestInterval:    time.Duration(*interval * float64(time.Second)),
		CookiesPath:        *f.cookies,
		CookiesFromBrowser: *f.browser,
		ProxyURL:           *f.proxy,
		ShowProgress:       true,
	})

	// A cancelled scan still persists whatever it collected.
	if cache != nil && len(cache.Channels) > 0 {
		if err := scan.SaveCache(*cachePath, cache); err != nil {
			return err
		}
		fmt.Printf("scanned %d sources, %d videos -> %s\n", cache.TotalChannels, cache.TotalVideos, *cachePath)
	}
	if scanErr != nil && ctx.Err() != nil {
		fmt.Println("scan interrupted; partial cache saved")
		return nil
	}
	return scanErr
}

func orDefaultFloat(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

func loadScanCache(path string) (*scan.MetadataCache, error) {
	cache, err := scan.LoadCache(path)
	if err != nil {
		return nil, fmt.Errorf("metadata cache unavailable (run scan first): %w", err)
	}
	return cache, nil
}
