package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"yt-channel-fetcher/internal/engine"
)

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type doctorReport struct {
	OK     bool          `json:"ok"`
	Checks []doctorCheck `json:"checks"`
}

// runDoctor verifies the external tool chain and the writability of the
// state paths before a long run is started.
func runDoctor(args []string) error {
	cfg := loadConfig(configPathFromArgs(args))

	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	_ = fs.String("config", "config.json", "path to JSON configuration file")
	output := fs.String("output", orDefault(cfg.Output, "downloads"), "output directory")
	archivePath := fs.String("archive", orDefault(cfg.Archive, "downloaded.txt"), "download archive file")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	report := doctorReport{OK: true}
	add := func(name string, ok bool, message string) {
		report.Checks = append(report.Checks, doctorCheck{Name: name, OK: ok, Message: message})
		if !ok {
			report.OK = false
		}
	}

	deps := engine.DependencyStatus()
	add("yt-dlp", deps.YTDLPFound, orDefault(deps.YTDLPPath, "not found on PATH"))
	add("ffmpeg", deps.FFmpegFound, orDefault(deps.FFmpegPath, "not found on PATH"))

	add("output-dir", dirWritable(*output), *output)
	add("archive-dir", dirWritable(filepath.Dir(*archivePath)), filepath.Dir(*archivePath))

	if *jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		for _, c := range report.Checks {
			status := "ok"
			if !c.OK {
				status = "fail"
			}
			fmt.Printf("%s: %s (%s)\n", c.Name, status, c.Message)
		}
	}

	if !report.OK {
		return errors.New("doctor checks failed")
	}
	if !*jsonOut {
		fmt.Println("doctor: all checks passed")
	}
	return nil
}

// dirWritable probes a directory by creating and removing a marker file,
// creating the directory first if needed.
func dirWritable(dir string) bool {
	if dir == "" || dir == "." {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	probe := filepath.Join(dir, ".ytcf-doctor-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}
