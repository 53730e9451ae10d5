// Package archive maintains the durable ledger of completed video ids. The
// file doubles as a download-time exclusion filter and as cross-run memory.
package archive

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"yt-channel-fetcher/internal/runstore"
)

// Load reads the archive into a set. A missing file is an empty archive, not
// an error. Comment lines and blank lines are skipped.
func Load(path string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	if strings.TrimSpace(path) == "" {
		return ids, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ids, nil
		}
		return nil, fmt.Errorf("read download archive %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read download archive %s: %w", path, err)
	}
	return ids, nil
}

// Append adds a single id durably. O_APPEND keeps the write safe against
// concurrent external writers because the file is never truncated.
func Append(path, videoID string) error {
	videoID = strings.TrimSpace(videoID)
	if strings.TrimSpace(path) == "" || videoID == "" {
		return nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := runstore.Mkdir(dir); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open download archive %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(videoID + "\n"); err != nil {
		return fmt.Errorf("append to download archive %s: %w", path, err)
	}
	return nil
}

// Rewrite replaces the archive with the deduplicated, sorted id set. The
// write goes to a temp file first and lands by atomic rename, so on failure
// the original file is untouched.
func Rewrite(path string, videoIDs map[string]struct{}) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	sorted := make([]string, 0, len(videoIDs))
	for id := range videoIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	var b strings.Builder
	for _, id := range sorted {
		b.WriteString(id)
		b.WriteByte('\n')
	}
	return runstore.WriteBytes(path, []byte(b.String()))
}
