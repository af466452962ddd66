// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes as a Go duration string ("30s").
type Duration time.Duration

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML accepts duration strings and bare integers (milliseconds).
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := node.Decode(&ms); err != nil {
		return fmt.Errorf("invalid duration %q", raw)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// App captures process-wide runtime settings such as name, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Registry locates the device snapshot and bounds its file I/O.
type Registry struct {
	Path              string   `yaml:"path"`
	HistoryPath       string   `yaml:"history_path"`
	RecoveryThreshold Duration `yaml:"recovery_threshold"`
	IOTimeout         Duration `yaml:"io_timeout"`
}

// Sync tunes the coordinator's worker pool and per-device timeout.
type Sync struct {
	Workers  int      `yaml:"workers"`
	Timeout  Duration `yaml:"timeout"`
	Interval Duration `yaml:"interval"`
}

// Remote describes the coordination host that receives device snapshots.
type Remote struct {
	Kind                  string   `yaml:"kind"` // ssh|dir
	Host                  string   `yaml:"host"`
	Port                  int      `yaml:"port"`
	User                  string   `yaml:"user"`
	KeyPath               string   `yaml:"key_path"`
	PasswordKey           string   `yaml:"password_key"` // credentials entry holding the password
	KnownHostsPath        string   `yaml:"known_hosts_path"`
	InsecureIgnoreHostKey bool     `yaml:"insecure_ignore_host_key"`
	Root                  string   `yaml:"root"`
	DialTimeout           Duration `yaml:"dial_timeout"`
}

// API configures the HTTP control surface used in service mode.
type API struct {
	Addr string `yaml:"addr"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Registry Registry `yaml:"registry"`
	Sync     Sync     `yaml:"sync"`
	Scanner  Scanner  `yaml:"scanner"`
	Remote   Remote   `yaml:"remote"`
	API      API      `yaml:"api"`
}

// Default returns a configuration usable on a single workstation.
func Default() *Config {
	return &Config{
		App: App{
			Name:        "devsync",
			Env:         "local",
			MetricsAddr: ":9108",
			LogLevel:    "info",
		},
		Registry: Registry{
			Path:              "data/devices.json",
			HistoryPath:       "data/sync_history.jsonl",
			RecoveryThreshold: Duration(10 * time.Minute),
			IOTimeout:         Duration(5 * time.Second),
		},
		Sync: Sync{
			Workers: 4,
			Timeout: Duration(30 * time.Second),
		},
		Scanner: DefaultScanner(),
		Remote: Remote{
			Kind:        RemoteSSH,
			Port:        22,
			Root:        "/srv/devsync/devices",
			DialTimeout: Duration(10 * time.Second),
		},
		API: API{Addr: "127.0.0.1:8087"},
	}
}

const (
	RemoteSSH = "ssh"
	RemoteDir = "dir"
)

// Load reads a YAML file from disk and hydrates a Config struct on top of Default.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks every section, including the remote.
func (c *Config) Validate() error {
	return errors.Join(c.ValidateLocal(), c.validateRemote())
}

// ValidateLocal checks the invariants the coordinator and registry rely on. Commands that never
// reach the remote host only need this.
func (c *Config) ValidateLocal() error {
	var errs []error
	if c.Registry.Path == "" {
		errs = append(errs, errors.New("registry.path is required"))
	}
	if c.Registry.IOTimeout <= 0 {
		errs = append(errs, errors.New("registry.io_timeout must be positive"))
	}
	if c.Sync.Workers < 1 {
		errs = append(errs, errors.New("sync.workers must be at least 1"))
	}
	if c.Sync.Timeout <= 0 {
		errs = append(errs, errors.New("sync.timeout must be positive"))
	}
	// a sync still inside its timeout must never look stale to another process
	if c.Registry.RecoveryThreshold <= c.Sync.Timeout {
		errs = append(errs, fmt.Errorf("registry.recovery_threshold (%s) must exceed sync.timeout (%s)",
			c.Registry.RecoveryThreshold.Std(), c.Sync.Timeout.Std()))
	}
	if c.Scanner.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("scanner.probe_timeout must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) validateRemote() error {
	var errs []error
	switch c.Remote.Kind {
	case RemoteSSH:
		if c.Remote.Host == "" {
			errs = append(errs, errors.New("remote.host is required for ssh"))
		}
		if c.Remote.User == "" {
			errs = append(errs, errors.New("remote.user is required for ssh"))
		}
	case RemoteDir:
	default:
		errs = append(errs, fmt.Errorf("remote.kind %q is not one of ssh, dir", c.Remote.Kind))
	}
	if c.Remote.Root == "" {
		errs = append(errs, errors.New("remote.root is required"))
	}
	return errors.Join(errs...)
}
