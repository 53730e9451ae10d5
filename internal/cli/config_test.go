package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadConfigParsesKnownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
  "channels_file": "channels.txt",
  "failure_limit": 5,
  "no_shorts": true,
  "clients": "tv,web",
  "request_interval": 45.5
}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := loadConfig(path)
	if cfg.ChannelsFile != "channels.txt" || cfg.FailureLimit != 5 || !cfg.NoShorts {
		t.Fatalf("config = %+v", cfg)
	}
	if cfg.RequestInterval != 45.5 {
		t.Fatalf("request_interval = %v", cfg.RequestInterval)
	}
}

func TestLoadConfigMissingFileIsEmpty(t *testing.T) {
	cfg := loadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if cfg != (Config{}) {
		t.Fatalf("missing config should be empty, got %+v", cfg)
	}
}

func TestLoadConfigMalformedIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if cfg := loadConfig(path); cfg != (Config{}) {
		t.Fatalf("malformed config should be empty, got %+v", cfg)
	}
}

func TestLoadConfigToleratesUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"output": "dl", "not_a_key": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := loadConfig(path)
	if cfg.Output != "dl" {
		t.Fatalf("known keys must survive unknown siblings, got %+v", cfg)
	}
}

func TestSplitClients(t *testing.T) {
	if got := splitClients(""); got != nil {
		t.Fatalf("empty spec = %v, want nil", got)
	}
	got := splitClients(" tv, web_safari ,,android ")
	want := []string{"tv", "web_safari", "android"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitClients = %v, want %v", got, want)
	}
}

func TestConfigPathFromArgs(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{nil, "config.json"},
		{[]string{"--channels-file", "x"}, "config.json"},
		{[]string{"--config", "alt.json"}, "alt.json"},
		{[]string{"--config=alt.json"}, "alt.json"},
	}
	for _, tc := range cases {
		if got := configPathFromArgs(tc.args); got != tc.want {
			t.Fatalf("configPathFromArgs(%v) = %q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestApplyEnvDefaults(t *testing.T) {
	t.Setenv("YTCF_COOKIES_FROM_BROWSER", "firefox")
	t.Setenv("YTCF_PROXY", "socks5://127.0.0.1:9050")

	cfg := Config{Proxy: "http://explicit:8080"}
	cfg.applyEnvDefaults()

	if cfg.CookiesFromBrowser != "firefox" {
		t.Fatalf("cookies_from_browser = %q", cfg.CookiesFromBrowser)
	}
	if cfg.Proxy != "http://explicit:8080" {
		t.Fatal("explicit config must win over environment")
	}
}
