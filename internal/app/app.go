// Package app wires the registry, transport, scanner, coordinator, and control surface from one
// explicit configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"devsync-go/internal/api"
	"devsync-go/internal/config"
	"devsync-go/internal/coordinator"
	"devsync-go/internal/device"
	"devsync-go/internal/registry"
	"devsync-go/internal/scanner"
	"devsync-go/internal/transport"
)

// ErrNoRemote is what pushes fail with when the app was built without a transport.
var ErrNoRemote = errors.New("remote transport not configured for this command")

// App is everything one process needs to serve control surface calls.
type App struct {
	Config      *config.Config
	Log         zerolog.Logger
	Registry    *registry.Registry
	Coordinator *coordinator.Coordinator
	Hub         *api.Hub
	Service     *api.Service
}

// Options selects the optional parts of the wiring.
type Options struct {
	// WithRemote builds the configured transport; without it pushes fail with ErrNoRemote.
	WithRemote bool
	// EnvFile overrides scanner.env_file.
	EnvFile string
	// Transport replaces the configured transport.
	Transport transport.Transport
}

// New opens the registry and builds the rest of the graph on top of it.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts Options) (*App, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = cfg.Scanner.EnvFile
	}
	creds, err := config.LoadCredentials(envFile)
	if err != nil {
		return nil, err
	}

	regOpts := []registry.Option{
		registry.WithRecoveryThreshold(cfg.Registry.RecoveryThreshold.Std()),
		registry.WithIOTimeout(cfg.Registry.IOTimeout.Std()),
	}
	var history *registry.HistoryRecorder
	if cfg.Registry.HistoryPath != "" {
		history, err = registry.NewHistoryRecorder(cfg.Registry.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open sync history: %w", err)
		}
		regOpts = append(regOpts, registry.WithHistory(history))
	}
	reg, err := registry.Open(ctx, cfg.Registry.Path, log, regOpts...)
	if err != nil {
		_ = history.Close()
		return nil, fmt.Errorf("open registry: %w", err)
	}

	tr := opts.Transport
	switch {
	case tr != nil:
	case opts.WithRemote:
		tr, err = transport.New(cfg.Remote, creds, log)
		if err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("remote transport: %w", err)
		}
	default:
		tr = offline{}
	}

	log.Debug().Str("registry", reg.Path()).Strs("credential_keys", creds.Keys()).
		Str("remote", cfg.Remote.Kind).Bool("with_remote", opts.WithRemote || opts.Transport != nil).Msg("app wired")

	a := &App{Config: cfg, Log: log, Registry: reg, Hub: api.NewHub(log)}
	a.Coordinator = coordinator.New(reg, tr, log,
		coordinator.WithWorkers(cfg.Sync.Workers),
		coordinator.WithTimeout(cfg.Sync.Timeout.Std()),
		coordinator.WithScanner(scanner.New(cfg.Scanner, creds, log)),
		coordinator.WithObserver(a.Hub.Publish),
	)
	a.Service = api.NewService(reg, a.Coordinator, cfg.Registry.HistoryPath, log)
	return a, nil
}

// Close disconnects event subscribers and releases the registry and its journal.
func (a *App) Close() error {
	a.Hub.Close()
	return a.Registry.Close()
}

type offline struct{}

func (offline) Push(_ context.Context, d device.Device) error {
	return &transport.Error{Kind: transport.ErrConnectionFailed, DeviceID: d.ID, Err: ErrNoRemote}
}
