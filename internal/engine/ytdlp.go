package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// YTDLP runs the yt-dlp binary. Binary defaults to "yt-dlp" so tests can
// point it at a fake on PATH.
type YTDLP struct {
	Binary string
}

func NewYTDLP() *YTDLP {
	return &YTDLP{Binary: "yt-dlp"}
}

func (y *YTDLP) binary() string {
	if y.Binary != "" {
		return y.Binary
	}
	return "yt-dlp"
}

type DependencyReport struct {
	YTDLPFound  bool   `json:"yt_dlp_found"`
	YTDLPPath   string `json:"yt_dlp_path,omitempty"`
	FFmpegFound bool   `json:"ffmpeg_found"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
}

func DependencyStatus() DependencyReport {
	report := DependencyReport{}
	if path, err := exec.LookPath("yt-dlp"); err == nil {
		report.YTDLPFound = true
		report.YTDLPPath = path
	}
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	return report
}

func CheckDependencies() error {
	report := DependencyStatus()
	if !report.YTDLPFound {
		return fmt.Errorf("missing dependency: yt-dlp is not installed or not on PATH")
	}
	if !report.FFmpegFound {
		return fmt.Errorf("missing dependency: ffmpeg is required for many YouTube formats and was not found on PATH")
	}
	return nil
}

// identityArgs emits the flags that make up a client identity. The player
// client and user agent always travel together.
func identityArgs(opts Options) []string {
	var args []string
	if c := strings.TrimSpace(opts.Client); c != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+c)
	}
	if ua := strings.TrimSpace(opts.UserAgent); ua != "" {
		args = append(args, "--user-agent", ua)
	}
	return args
}

func commonArgs(opts Options) ([]string, error) {
	args := identityArgs(opts)
	if strings.TrimSpace(opts.CookiesPath) != "" {
		cookiesPath, err := resolveCookiesPath(opts.CookiesPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "--cookies", cookiesPath)
	}
	if strings.TrimSpace(opts.CookiesFromBrowser) != "" {
		args = append(args, "--cookies-from-browser", opts.CookiesFromBrowser)
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		args = append(args, "--proxy", strings.TrimSpace(opts.ProxyURL))
	}
	return args, nil
}

// ExtractMetadata runs a flat-playlist probe and parses the JSON document on
// stdout into a node tree.
func (y *YTDLP) ExtractMetadata(ctx context.Context, sourceURL string, opts Options) (*Node, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return nil, fmt.Errorf("source URL is required")
	}

	args := []string{"--flat-playlist", "-J", "--no-warnings"}
	common, err := commonArgs(opts)
	if err != nil {
		return nil, err
	}
	args = append(args, common...)
	args = append(args, sourceURL)

	cmd := exec.CommandContext(ctx, y.binary(), args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("yt-dlp returned empty output")
	}

	var node Node
	if err := json.Unmarshal(stdout.Bytes(), &node); err != nil {
		return nil, fmt.Errorf("parse yt-dlp metadata: %w", err)
	}
	return &node, nil
}

// Download retrieves the given video URLs in one invocation. Error lines are
// surfaced through the Progress callback as they arrive, then the combined
// tail is folded into the returned error.
func (y *YTDLP) Download(ctx context.Context, urls []string, opts Options) error {
	if len(urls) == 0 {
		return fmt.Errorf("at least one URL is required")
	}
	if strings.TrimSpace(opts.OutputDir) == "" {
		return fmt.Errorf("output directory is required")
	}

	args := []string{
		"--newline",
		"--restrict-filenames",
		"--ignore-errors",
		"-f", selectFormat(opts.Quality),
		"-P", opts.OutputDir,
		"-o", "%(uploader)s/%(upload_date)s_%(title).200B_[%(id)s].%(ext)s",
	}
	if strings.TrimSpace(opts.ArchivePath) != "" {
		args = append(args, "--download-archive", opts.ArchivePath)
	}
	if opts.SleepInterval > 0 {
		args = append(args, "--sleep-interval", fmt.Sprintf("%d", opts.SleepInterval))
	}
	if opts.MaxSleepInterval > 0 {
		args = append(args, "--max-sleep-interval", fmt.Sprintf("%d", opts.MaxSleepInterval))
	}
	if opts.SleepRequests > 0 {
		args = append(args, "--sleep-requests", fmt.Sprintf("%d", opts.SleepRequests))
	}
	common, err := commonArgs(opts)
	if err != nil {
		return err
	}
	args = append(args, common...)
	args = append(args, urls...)

	return y.runStreaming(ctx, args, opts)
}

func (y *YTDLP) runStreaming(ctx context.Context, args []string, opts Options) error {
	cmd := exec.CommandContext(ctx, y.binary(), args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start yt-dlp: %w", err)
	}

	var outBuf strings.Builder
	var errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(stream OutputStream, r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			appendLimited(&outBuf, &errBuf, stream, line)
			mu.Unlock()

			if opts.LogLine != nil {
				opts.LogLine(line)
			}
			if opts.Progress != nil {
				opts.Progress(stream, line)
			}
		}
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe)
	go read(StreamStderr, stderrPipe)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		mu.Lock()
		defer mu.Unlock()
		return fmt.Errorf("yt-dlp failed: %w\n%s\n%s", err, strings.TrimSpace(errBuf.String()), strings.TrimSpace(outBuf.String()))
	}
	return nil
}

func selectFormat(rawQuality string) string {
	quality := strings.ToLower(strings.TrimSpace(rawQuality))
	switch quality {
	case "", "best":
		return "bv*+ba/b"
	case "1080p", "1080", "hd":
		return "bv*[height<=1080]+ba/b[height<=1080]"
	case "720p", "720", "sd", "small":
		return "bv*[height<=720]+ba/b[height<=720]"
	default:
		return "bv*+ba/b"
	}
}

// splitByNewlineOrCR treats both LF and bare CR as line boundaries so the
// tool's in-place progress updates arrive as separate lines.
func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(outBuf, errBuf *strings.Builder, stream OutputStream, line string) {
	const maxKeep = 8192
	b := outBuf
	if stream == StreamStderr {
		b = errBuf
	}
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

func resolveCookiesPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve cookies path %s: %w", p, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("cookies file %s: %w", abs, err)
	}
	return abs, nil
}
