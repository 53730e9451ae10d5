// Package cli wires the command surface: flag parsing, config and env
// resolution, and dispatch into the scan, download, queue, and watch flows.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
)

func Run(args []string) error {
	// Auth and proxy defaults may live in a local .env; absence is fine.
	_ = godotenv.Load()
	initLogging()

	if len(args) == 0 {
		printRootUsage()
		return nil
	}

	var err error
	switch args[0] {
	case "scan":
		err = runScan(args[1:])
	case "download":
		err = runDownload(args[1:])
	case "fetch":
		err = runFetch(args[1:])
	case "queue":
		err = runQueue(args[1:])
	case "watch":
		err = runWatch(args[1:])
	case "manage":
		err = runManage(args[1:])
	case "doctor":
		err = runDoctor(args[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		printRootUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	return err
}

func initLogging() {
	level := slog.LevelInfo
	if os.Getenv("YTCF_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))
}

func printRootUsage() {
	fmt.Println("yt-channel-fetcher: resilient bulk downloader for YouTube channels")
	fmt.Println()
	fmt.Println("Quick Start:")
	fmt.Println("  yt-channel-fetcher download --channels-file channels.txt --output downloads")
	fmt.Println("  yt-channel-fetcher scan --channels-file channels.txt --cache metadata.json")
	fmt.Println("  yt-channel-fetcher queue --populate metadata.json && yt-channel-fetcher queue --download")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  scan      slowly collect video metadata for every source into a cache file")
	fmt.Println("  download  download sources directly with client rotation and backoff")
	fmt.Println("  fetch     download from a previously scanned metadata cache")
	fmt.Println("  queue     populate, drain, inspect, or clear the persistent retry queue")
	fmt.Println("  watch     poll a channels file and download whenever it changes")
	fmt.Println("  manage    interactive queue browser")
	fmt.Println("  doctor    dependency and filesystem preflight checks")
	fmt.Println()
	fmt.Println("Notes:")
	fmt.Println("  - All commands accept --config <file> (JSON) for defaults")
	fmt.Println("  - Use --json on queue/doctor for machine-readable output")
}
