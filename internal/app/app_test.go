package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devsync-go/internal/api"
	"devsync-go/internal/config"
	"devsync-go/internal/device"
	"devsync-go/internal/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Registry.Path = filepath.Join(dir, "devices.json")
	cfg.Registry.HistoryPath = filepath.Join(dir, "history.jsonl")
	cfg.Scanner.EnvFile = filepath.Join(dir, "missing.env")
	cfg.Remote.Kind = config.RemoteDir
	cfg.Remote.Root = filepath.Join(dir, "share")
	require.NoError(t, os.MkdirAll(cfg.Remote.Root, 0o755))
	return cfg
}

func TestOfflineAppRecordsConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := New(ctx, testConfig(t), zerolog.Nop(), Options{})
	require.NoError(t, err)
	defer a.Close()

	d, err := a.Service.Register(ctx, api.RegisterRequest{Type: "credential_integration/A", Name: "alpaca"})
	require.NoError(t, err)

	got, err := a.Service.Sync(ctx, d.ID, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrConnectionFailed)
	assert.ErrorIs(t, err, ErrNoRemote)
	assert.Equal(t, device.StatusError, got.Status)
	assert.Equal(t, 1, got.SyncCount)
	assert.Equal(t, api.CodeConnectionFailed, api.Code(err))
}

func TestInjectedTransportSyncs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := testConfig(t)
	tr := transport.NewDir(cfg.Remote.Root, zerolog.Nop())
	a, err := New(ctx, cfg, zerolog.Nop(), Options{Transport: tr})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, cfg.Registry.Path, a.Registry.Path())

	d, err := a.Service.Register(ctx, api.RegisterRequest{
		Type:   "removable_storage",
		Name:   "usb-mt5",
		Config: map[string]string{"profile": "default"},
	})
	require.NoError(t, err)

	got, err := a.Service.Sync(ctx, d.ID, false)
	require.NoError(t, err)
	assert.Equal(t, device.StatusOnline, got.Status)
	assert.FileExists(t, filepath.Join(cfg.Remote.Root, d.ID, "config.json"))

	hist, err := a.Service.History(ctx, d.ID, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, device.StatusOnline, hist[0].Status)
}

func TestRemoteRequiresValidTransportConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.Kind = "ftp"

	_, err := New(context.Background(), cfg, zerolog.Nop(), Options{WithRemote: true})
	require.Error(t, err)
}
