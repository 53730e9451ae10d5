package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Config holds file-sourced defaults for command flags. Flags always win over
// the file; the file wins over built-in defaults.
type Config struct {
	ChannelsFile       string  `json:"channels_file"`
	ChannelsURL        string  `json:"channels_url"`
	Output             string  `json:"output"`
	Archive            string  `json:"archive"`
	ErrorLog           string  `json:"error_log"`
	QueueFile          string  `json:"queue_file"`
	MetadataCache      string  `json:"metadata_cache"`
	Clients            string  `json:"clients"`
	FailureLimit       int     `json:"failure_limit"`
	MaxDownloads       int     `json:"max"`
	NoShorts           bool    `json:"no_shorts"`
	Quality            string  `json:"quality"`
	Cookies            string  `json:"cookies"`
	CookiesFromBrowser string  `json:"cookies_from_browser"`
	Proxy              string  `json:"proxy"`
	SleepRequests      int     `json:"sleep_requests"`
	SleepInterval      int     `json:"sleep_interval"`
	MaxSleepInterval   int     `json:"max_sleep_interval"`
	RequestInterval    float64 `json:"request_interval"`
	WatchInterval      float64 `json:"watch_interval"`
	Workers            int     `json:"workers"`
}

var knownConfigKeys = map[string]bool{
	"channels_file": true, "channels_url": true, "output": true,
	"archive": true, "error_log": true, "queue_file": true,
	"metadata_cache": true, "clients": true, "failure_limit": true,
	"max": true, "no_shorts": true, "quality": true, "cookies": true,
	"cookies_from_browser": true, "proxy": true, "sleep_requests": true,
	"sleep_interval": true, "max_sleep_interval": true,
	"request_interval": true, "watch_interval": true, "workers": true,
}

// loadConfig reads a JSON config file. A missing or malformed file yields an
// empty config and a warning, never an error: config is always optional.
// Unknown keys are reported so typos do not silently drop settings.
func loadConfig(path string) Config {
	var cfg Config
	if strings.TrimSpace(path) == "" {
		return cfg
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: failed to read config %s: %v. Ignoring.\n", path, err)
		}
		return cfg
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to parse config %s: %v. Ignoring.\n", path, err)
		return cfg
	}

	var unknown []string
	for key := range raw {
		if !knownConfigKeys[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		fmt.Fprintf(os.Stderr, "warning: unknown config keys ignored: %s\n", strings.Join(unknown, ", "))
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to decode config %s: %v. Ignoring.\n", path, err)
		return Config{}
	}
	return cfg
}

// applyEnvDefaults fills auth knobs from the environment (possibly populated
// by .env) where the config file left them empty.
func (c *Config) applyEnvDefaults() {
	if c.Cookies == "" {
		c.Cookies = os.Getenv("YTCF_COOKIES")
	}
	if c.CookiesFromBrowser == "" {
		c.CookiesFromBrowser = os.Getenv("YTCF_COOKIES_FROM_BROWSER")
	}
	if c.Proxy == "" {
		c.Proxy = os.Getenv("YTCF_PROXY")
	}
}

// splitClients parses a comma-separated client list; empty means defaults.
func splitClients(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func secondsOrDefault(seconds float64, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
