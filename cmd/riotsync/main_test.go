package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/riotsync/riotsync"
)

func TestLoadDotEnv(t *testing.T) {
	// WHAT: .env values fill unset variables and never override set ones.
	path := filepath.Join(t.TempDir(), ".env")
	data := "# comment\nRIOTSYNC_TEST_A=from-file\nexport RIOTSYNC_TEST_B=\"quoted\"\nRIOTSYNC_TEST_C=file\nnot a pair\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RIOTSYNC_TEST_C", "env")
	// Registers cleanup for the variables the loader will set.
	t.Setenv("RIOTSYNC_TEST_A", "")
	os.Unsetenv("RIOTSYNC_TEST_A")
	t.Setenv("RIOTSYNC_TEST_B", "")
	os.Unsetenv("RIOTSYNC_TEST_B")

	if err := loadDotEnv(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv("RIOTSYNC_TEST_A"); got != "from-file" {
		t.Errorf("A: got %q", got)
	}
	if got := os.Getenv("RIOTSYNC_TEST_B"); got != "quoted" {
		t.Errorf("B: got %q", got)
	}
	if got := os.Getenv("RIOTSYNC_TEST_C"); got != "env" {
		t.Errorf("C: got %q, existing env must win", got)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestResolveConfig_Precedence(t *testing.T) {
	// WHAT: flags > environment > config file > defaults.
	path := filepath.Join(t.TempDir(), "riotsync.yaml")
	os.WriteFile(path, []byte("db_path: file.db\nfeed:\n  url: https://file.example/riot\nbatch_size: 100\n"), 0o644)

	t.Setenv("RIOT_DB", "env.db")
	t.Setenv("GREYNOISE_RIOT_URL", "")

	cfg, err := resolveConfig(options{configPath: path, batchSize: 42, interval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBPath != "env.db" {
		t.Errorf("db: got %q, want env.db", cfg.DBPath)
	}
	if cfg.Feed.URL != "https://file.example/riot" {
		t.Errorf("url: got %q", cfg.Feed.URL)
	}
	if cfg.BatchSize != 42 || cfg.Schedule.Interval != time.Hour {
		t.Errorf("flags not applied: %+v", cfg)
	}

	cfg, _ = resolveConfig(options{configPath: path, dbPath: "flag.db"})
	if cfg.DBPath != "flag.db" || cfg.BatchSize != 100 {
		t.Errorf("flag db / file batch: got %q %d", cfg.DBPath, cfg.BatchSize)
	}
}

func TestResolveConfig_Defaults(t *testing.T) {
	t.Setenv("RIOT_DB", "")
	t.Setenv("GREYNOISE_RIOT_URL", "")
	cfg, err := resolveConfig(options{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Feed.URL != riotsync.DefaultFeedURL || cfg.BatchSize != riotsync.DefaultBatchSize {
		t.Fatalf("defaults: got %+v", cfg)
	}
	if cfg.Feed.MaxRetries != 3 || cfg.Feed.Backoff != 5*time.Second || cfg.Feed.Timeout != 30*time.Second {
		t.Fatalf("feed defaults: got %+v", cfg.Feed)
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug").String() != "DEBUG" || parseLevel("bogus").String() != "INFO" {
		t.Fatal("level parsing")
	}
}
