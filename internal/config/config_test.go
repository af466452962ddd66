package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	path := filepath.Join("testdata", "config.yaml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.App.Name != "devsync-test" {
		t.Fatalf("unexpected App.Name: %s", cfg.App.Name)
	}
	if cfg.App.LogLevel != "debug" {
		t.Fatalf("unexpected App.LogLevel: %s", cfg.App.LogLevel)
	}
	if cfg.Registry.RecoveryThreshold.Std() != 15*time.Minute {
		t.Fatalf("unexpected recovery threshold: %s", cfg.Registry.RecoveryThreshold.Std())
	}
	if cfg.Registry.IOTimeout.Std() != 2*time.Second {
		t.Fatalf("unexpected io timeout: %s", cfg.Registry.IOTimeout.Std())
	}
	if cfg.Registry.HistoryPath != "data/sync_history.jsonl" {
		t.Fatalf("expected default history path to survive, got %s", cfg.Registry.HistoryPath)
	}
	if cfg.Sync.Workers != 3 {
		t.Fatalf("unexpected workers: %d", cfg.Sync.Workers)
	}
	if cfg.Sync.Timeout.Std() != 20*time.Second {
		t.Fatalf("unexpected sync timeout: %s", cfg.Sync.Timeout.Std())
	}
	if cfg.Scanner.ProbeTimeout.Std() != 1500*time.Millisecond {
		t.Fatalf("expected millisecond probe timeout, got %s", cfg.Scanner.ProbeTimeout.Std())
	}
	if len(cfg.Scanner.Terminals) != 1 || cfg.Scanner.Terminals[0].Variant != "v5" {
		t.Fatalf("unexpected terminals: %+v", cfg.Scanner.Terminals)
	}
	if len(cfg.Scanner.Credentials) != 1 || cfg.Scanner.Credentials[0].Name != "alpaca" {
		t.Fatalf("unexpected credentials: %+v", cfg.Scanner.Credentials)
	}
	if len(cfg.Scanner.VolumeMarkers) == 0 {
		t.Fatalf("expected default volume markers to survive")
	}
	if cfg.Remote.Host != "coord.lan" || cfg.Remote.Port != 22 {
		t.Fatalf("unexpected remote: %+v", cfg.Remote)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Sync.Workers = 7
	cfg.Registry.RecoveryThreshold = Duration(time.Hour)
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.Sync.Workers != 7 {
		t.Fatalf("expected 7 workers, got %d", loaded.Sync.Workers)
	}
	if loaded.Registry.RecoveryThreshold.Std() != time.Hour {
		t.Fatalf("expected 1h threshold, got %s", loaded.Registry.RecoveryThreshold.Std())
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Remote.Kind = RemoteDir
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default dir config to validate, got %v", err)
	}

	cfg.Sync.Workers = 0
	cfg.Registry.RecoveryThreshold = Duration(time.Second)
	cfg.Remote.Kind = "ftp"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"sync.workers", "recovery_threshold", "remote.kind"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateLocalIgnoresRemote(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "remote.host") {
		t.Fatalf("expected ssh defaults without a host to fail, got %v", err)
	}
	if err := cfg.ValidateLocal(); err != nil {
		t.Fatalf("ValidateLocal returned error: %v", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	creds, err := LoadCredentials(filepath.Join("testdata", "test.env"))
	if err != nil {
		t.Fatalf("LoadCredentials returned error: %v", err)
	}
	if !creds.Has("ALPACA_API_KEY", "ALPACA_SECRET_KEY") {
		t.Fatalf("expected alpaca keys, got %v", creds.Keys())
	}
	if creds["ALPACA_SECRET_KEY"] != "s3cr3t value" {
		t.Fatalf("unexpected quoted value")
	}
	if creds.Has("BINANCE_API_KEY") {
		t.Fatalf("empty value must not count as present")
	}
	sub := creds.Subset("ALPACA_API_KEY", "MISSING")
	if len(sub) != 1 {
		t.Fatalf("unexpected subset: %v", sub)
	}

	empty, err := LoadCredentials(filepath.Join(t.TempDir(), "nope.env"))
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty credentials for missing file, got %v %v", empty, err)
	}
}
