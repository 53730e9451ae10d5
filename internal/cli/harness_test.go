package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"yt-channel-fetcher/internal/queue"
	"yt-channel-fetcher/internal/runstore"
	"yt-channel-fetcher/internal/scan"
)

// installFakeYTDLP puts a scripted yt-dlp first on PATH for one test.
func installFakeYTDLP(t *testing.T, script string) {
	t.Helper()
	fakeBin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fakeBin, "yt-dlp"), []byte("#!/usr/bin/env bash\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", fakeBin+":"+os.Getenv("PATH"))
}

func TestHarnessScanWritesCache(t *testing.T) {
	tmp := t.TempDir()

	fixturePath := filepath.Join(tmp, "flat.json")
	fixture := `{"_type":"playlist","title":"Chan","entries":[{"id":"aaaaaaaaaa1","title":"First"},{"id":"aaaaaaaaaa2","title":"Second"}]}`
	if err := os.WriteFile(fixturePath, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	installFakeYTDLP(t, `set -euo pipefail
if printf '%s ' "$@" | grep -q -- '--flat-playlist'; then
  cat "$YTDLP_FIXTURE"
  exit 0
fi
echo "unexpected download invocation in scan harness" >&2
exit 1
`)
	t.Setenv("YTDLP_FIXTURE", fixturePath)

	channels := filepath.Join(tmp, "channels.txt")
	if err := os.WriteFile(channels, []byte("https://youtube.com/@somechannel\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cachePath := filepath.Join(tmp, "metadata.json")

	err := Run([]string{"scan", "--channels-file", channels, "--cache", cachePath, "--no-shorts"})
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	cache, err := scan.LoadCache(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if cache.TotalChannels != 1 || cache.TotalVideos != 2 {
		t.Fatalf("cache totals = %d/%d, want 1 channel with 2 videos", cache.TotalChannels, cache.TotalVideos)
	}
	if cache.Channels[0].Videos[0].VideoID != "aaaaaaaaaa1" {
		t.Fatalf("first video = %+v", cache.Channels[0].Videos[0])
	}
}

func TestHarnessQueuePopulateSkipsArchived(t *testing.T) {
	tmp := t.TempDir()

	cachePath := filepath.Join(tmp, "metadata.json")
	cacheJSON := `{
  "scan_date": "2026-03-01T12:00:00Z",
  "total_channels": 1,
  "total_videos": 2,
  "channels": [
    {
      "url": "https://youtube.com/@somechannel",
      "kind": "channel",
      "scan_timestamp": "2026-03-01T12:00:00Z",
      "total_videos": 2,
      "videos": [
        {"video_id": "aaaaaaaaaa1", "title": "First"},
        {"video_id": "aaaaaaaaaa2", "title": "Second"}
      ]
    }
  ]
}
`
	if err := os.WriteFile(cachePath, []byte(cacheJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(tmp, "downloaded.txt")
	if err := os.WriteFile(archivePath, []byte("aaaaaaaaaa1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	queuePath := filepath.Join(tmp, "queue.json")

	err := Run([]string{"queue",
		"--populate", cachePath,
		"--queue-file", queuePath,
		"--archive", archivePath,
	})
	if err != nil {
		t.Fatalf("populate failed: %v", err)
	}

	q := queue.Open(queuePath)
	if got := q.Stats().Total; got != 1 {
		t.Fatalf("queue total = %d, want 1 (archived id skipped)", got)
	}
	if _, ok := q.Get("aaaaaaaaaa2"); !ok {
		t.Fatal("unarchived video missing from queue")
	}
}

func TestHarnessDownloadRequiresSourceList(t *testing.T) {
	if err := Run([]string{"download"}); err == nil {
		t.Fatal("download without a source list must fail")
	}
}

func TestHarnessUnknownCommand(t *testing.T) {
	if err := Run([]string{"frobnicate"}); err == nil {
		t.Fatal("unknown command must fail")
	}
}

func TestHarnessQueueDrainUsesClientIdentity(t *testing.T) {
	tmp := t.TempDir()

	argsLog := filepath.Join(tmp, "args.txt")
	installFakeYTDLP(t, `printf '%s\n' "$@" >> "$YTDLP_ARGS"
echo "[youtube] aaaaaaaaaa1: Downloading webpage"
echo "[download] 100% of 5.00MiB in 00:01"
exit 0
`)
	t.Setenv("YTDLP_ARGS", argsLog)

	queuePath := filepath.Join(tmp, "queue.json")
	queueJSON := `{
  "last_updated": "2026-03-01T12:00:00Z",
  "total_videos": 1,
  "videos": [
    {
      "video_id": "aaaaaaaaaa1",
      "video_url": "https://www.youtube.com/watch?v=aaaaaaaaaa1",
      "title": "First",
      "channel_url": "https://youtube.com/@somechannel",
      "status": "pending",
      "attempts": 0,
      "max_attempts": 5,
      "added_time": "2026-03-01T12:00:00Z"
    }
  ]
}
`
	if err := os.WriteFile(queuePath, []byte(queueJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	err := Run([]string{"queue",
		"--download",
		"--queue-file", queuePath,
		"--output", filepath.Join(tmp, "out"),
		"--archive", filepath.Join(tmp, "downloaded.txt"),
	})
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	data, err := os.ReadFile(argsLog)
	if err != nil {
		t.Fatal(err)
	}
	argv := string(data)
	if !strings.Contains(argv, "youtube:player_client=") {
		t.Fatalf("drained download missing client identity:\n%s", argv)
	}
	if !strings.Contains(argv, "--user-agent") {
		t.Fatalf("drained download missing user agent:\n%s", argv)
	}

	q := queue.Open(queuePath)
	item, ok := q.Get("aaaaaaaaaa1")
	if !ok || item.Status != "completed" {
		t.Fatalf("item after drain = %+v, want completed", item)
	}
}

func TestHarnessQueueDrainLockExcludesSecondProcess(t *testing.T) {
	tmp := t.TempDir()
	queuePath := filepath.Join(tmp, "queue.json")

	lock, err := runstore.AcquireStateLock(queuePath)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	err = Run([]string{"queue", "--download", "--queue-file", queuePath, "--output", tmp})
	if err == nil {
		t.Fatal("drain must refuse while the queue is locked")
	}
}
