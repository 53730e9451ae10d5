package cli

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"yt-channel-fetcher/internal/archive"
	"yt-channel-fetcher/internal/engine"
	"yt-channel-fetcher/internal/model"
	"yt-channel-fetcher/internal/rotation"
	"yt-channel-fetcher/internal/sources"
)

// configPathFromArgs pre-scans for --config so file defaults can seed the
// real flag definitions.
func configPathFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "--config" || arg == "-config" {
			if i+1 < len(args) {
				return args[i+1]
			}
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	return "config.json"
}

// downloadFlags is the flag surface shared by download, fetch, and watch.
type downloadFlags struct {
	fs *flag.FlagSet

	configPath   *string
	channelsFile *string
	channelsURL  *string
	output       *string
	archivePath  *string
	errorLog     *string
	clients      *string
	failureLimit *int
	maxDownloads *int
	noShorts     *bool
	quality      *string
	cookies      *string
	browser      *string
	proxy        *string
	sleepReq     *int
	sleepInt     *int
	maxSleepInt  *int
	workers      *int
}

func newDownloadFlags(name string, args []string) (*downloadFlags, Config) {
	cfg := loadConfig(configPathFromArgs(args))
	cfg.applyEnvDefaults()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	f := &downloadFlags{
		fs:           fs,
		configPath:   fs.String("config", "config.json", "path to JSON configuration file"),
		channelsFile: fs.String("channels-file", cfg.ChannelsFile, "path to channels list file"),
		channelsURL:  fs.String("channels-url", cfg.ChannelsURL, "URL of a remote channels list"),
		output:       fs.String("output", orDefault(cfg.Output, "downloads"), "output directory"),
		archivePath:  fs.String("archive", orDefault(cfg.Archive, "downloaded.txt"), "download archive file"),
		errorLog:     fs.String("error-log", cfg.ErrorLog, "append-only classified error log (empty = disabled)"),
		clients:      fs.String("clients", cfg.Clients, "comma-separated client identity order (empty = built-in order)"),
		failureLimit: fs.Int("failure-limit", orDefaultInt(cfg.FailureLimit, model.DefaultFailureLimit), "failures tolerated per client before rotating"),
		maxDownloads: fs.Int("max", cfg.MaxDownloads, "stop after this many downloads (0 = unlimited)"),
		noShorts:     fs.Bool("no-shorts", cfg.NoShorts, "skip the shorts tab of channels"),
		quality:      fs.String("quality", orDefault(cfg.Quality, "best"), "quality preset: best|1080p|720p"),
		cookies:      fs.String("cookies", cfg.Cookies, "path to cookies.txt"),
		browser:      fs.String("cookies-from-browser", cfg.CookiesFromBrowser, "browser to read cookies from"),
		proxy:        fs.String("proxy", cfg.Proxy, "proxy URL"),
		sleepReq:     fs.Int("sleep-requests", orDefaultInt(cfg.SleepRequests, 5), "seconds between metadata requests"),
		sleepInt:     fs.Int("sleep-interval", orDefaultInt(cfg.SleepInterval, 10), "minimum seconds between downloads"),
		maxSleepInt:  fs.Int("max-sleep-interval", orDefaultInt(cfg.MaxSleepInterval, 30), "maximum seconds between downloads"),
		workers:      fs.Int("workers", orDefaultInt(cfg.Workers, 1), "worker count (accepted for compatibility; only 1 is implemented)"),
	}
	fs.SetOutput(flag.CommandLine.Output())
	return f, cfg
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func orDefaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (f *downloadFlags) rotationOptions() rotation.Options {
	return rotation.Options{
		Clients:            splitClients(*f.clients),
		FailureLimit:       *f.failureLimit,
		MaxDownloads:       *f.maxDownloads,
		IncludeShorts:      !*f.noShorts,
		OutputDir:          *f.output,
		ArchivePath:        *f.archivePath,
		ErrorLogPath:       *f.errorLog,
		CookiesPath:        *f.cookies,
		CookiesFromBrowser: *f.browser,
		ProxyURL:           *f.proxy,
		Quality:            *f.quality,
		SleepInterval:      *f.sleepInt,
		MaxSleepInterval:   *f.maxSleepInt,
		SleepRequests:      *f.sleepReq,
		SwitchDelay:        5 * time.Second,
	}
}

// loadSources resolves the channels list from whichever of file/URL was
// given.
func (f *downloadFlags) loadSources(ctx context.Context) ([]model.Source, error) {
	loader := sources.NewLoader()
	switch {
	case strings.TrimSpace(*f.channelsURL) != "":
		return loader.LoadFromURL(ctx, *f.channelsURL)
	case strings.TrimSpace(*f.channelsFile) != "":
		return sources.LoadFromFile(*f.channelsFile)
	default:
		return nil, fmt.Errorf("either --channels-file or --channels-url is required")
	}
}

// signalContext cancels on SIGINT/SIGTERM so blocking engine calls unwind.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func warnWorkerCount(workers int) {
	if workers > 1 {
		fmt.Fprintln(os.Stderr, "note: --workers above 1 is accepted but not implemented; downloads run on a single worker")
	}
}

func runDownload(args []string) error {
	f, _ := newDownloadFlags("download", args)
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	warnWorkerCount(*f.workers)

	ctx, cancel := signalContext()
	defer cancel()

	srcs, err := f.loadSources(ctx)
	if err != nil {
		return err
	}
	if len(srcs) == 0 {
		return fmt.Errorf("no sources to download")
	}

	controller := rotation.NewController(engine.NewYTDLP())
	opts := f.rotationOptions()

	totalDownloaded := 0
	for i, src := range srcs {
		slog.Info("downloading source", "url", src.URL, "kind", src.Kind, "position", fmt.Sprintf("%d/%d", i+1, len(srcs)))
		result, err := controller.DownloadSource(ctx, src, opts)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\ninterrupted, stopping")
				return nil
			}
			fmt.Fprintf(os.Stderr, "warning: skipping source %s: %v\n", src.URL, err)
			continue
		}
		totalDownloaded += result.Downloaded
		printSourceSummary(result)

		if opts.MaxDownloads > 0 && totalDownloaded >= opts.MaxDownloads {
			fmt.Printf("reached download limit (%d), stopping\n", opts.MaxDownloads)
			break
		}
	}

	fmt.Printf("\ndone: %d videos downloaded across %d sources\n", totalDownloaded, len(srcs))
	return nil
}

func printSourceSummary(result *rotation.Result) {
	fmt.Printf("[%s] downloaded=%d clients_tried=%d stop=%s\n",
		result.Source.URL, result.Downloaded, len(result.ClientsTried), result.StopReason)
	for _, attempt := range result.Attempts {
		if attempt.TotalFailures == 0 && attempt.Downloaded == 0 {
			continue
		}
		fmt.Printf("  client=%s pass=%d downloaded=%d failures=%d decision=%s\n",
			attempt.Client, attempt.Pass, attempt.Downloaded, attempt.TotalFailures, attempt.Decision)
	}
}

// runFetch downloads from a previously scanned metadata cache instead of
// re-walking channel listings.
func runFetch(args []string) error {
	f, cfg := newDownloadFlags("fetch", args)
	cachePath := f.fs.String("cache", orDefault(cfg.MetadataCache, "metadata.json"), "metadata cache file from a scan run")
	if err := f.fs.Parse(args); err != nil {
		return err
	}
	warnWorkerCount(*f.workers)

	cache, err := loadScanCache(*cachePath)
	if err != nil {
		return err
	}

	archived, err := archive.Load(*f.archivePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		archived = map[string]struct{}{}
	}

	ctx, cancel := signalContext()
	defer cancel()

	controller := rotation.NewController(engine.NewYTDLP())
	opts := f.rotationOptions()

	totalDownloaded := 0
	for _, channel := range cache.Channels {
		pending := 0
		for _, v := range channel.Videos {
			if _, done := archived[v.VideoID]; !done {
				pending++
			}
		}
		if pending == 0 {
			slog.Info("channel fully archived, skipping", "url", channel.URL)
			continue
		}

		slog.Info("fetching channel from cache", "url", channel.URL, "pending", pending)
		result, err := controller.DownloadSource(ctx, model.Source{
			Kind: model.SourceKind(channel.Kind),
			URL:  channel.URL,
		}, opts)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\ninterrupted, stopping")
				return nil
			}
			fmt.Fprintf(os.Stderr, "warning: skipping channel %s: %v\n", channel.URL, err)
			continue
		}
		totalDownloaded += result.Downloaded
		printSourceSummary(result)
	}

	fmt.Printf("\ndone: %d videos downloaded\n", totalDownloaded)
	return nil
}
