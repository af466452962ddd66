package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devsync-go/internal/device"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
}

func openTemp(t *testing.T, opts ...Option) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "devices.json")
	reg, err := Open(context.Background(), path, zerolog.Nop(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg, path
}

func terminalCandidate(key string) device.Candidate {
	return device.Candidate{
		Type:         device.Type{Kind: device.KindTerminalProcess, Variant: device.VariantV5},
		NaturalKey:   key,
		DisplayName:  "MT5 " + key,
		Capabilities: []string{"trading"},
		Config:       map[string]string{"exe": key},
	}
}

func TestUpsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg, _ := openTemp(t)

	cand := terminalCandidate(`C:\MT5\terminal64.exe`)
	created, err := reg.Upsert(ctx, cand)
	require.NoError(t, err)

	got, found, err := reg.Get(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, cand.Type, got.Type)
	assert.Equal(t, cand.Config, got.Config)
	assert.Equal(t, cand.DisplayName, got.DisplayName)
	assert.Equal(t, device.StatusUnknown, got.Status)
	assert.Zero(t, got.SyncCount)
	assert.Nil(t, got.LastSync)

	_, found, err = reg.Get(ctx, "term-missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpsertIsIdempotentAndKeepsHistory(t *testing.T) {
	ctx := context.Background()
	reg, _ := openTemp(t)

	d, err := reg.Upsert(ctx, terminalCandidate("a"))
	require.NoError(t, err)
	a, err := reg.BeginSync(ctx, d.ID, false)
	require.NoError(t, err)
	synced, err := reg.FinishSync(ctx, a, nil)
	require.NoError(t, err)
	require.Equal(t, 1, synced.SyncCount)

	again := terminalCandidate("a")
	again.DisplayName = "renamed"
	again.Config = map[string]string{"login": "1234"}
	merged, err := reg.Upsert(ctx, again)
	require.NoError(t, err)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, merged.SyncCount)
	assert.Equal(t, synced.LastSync, merged.LastSync)
	assert.Equal(t, device.StatusOnline, merged.Status)
	assert.Equal(t, "renamed", merged.DisplayName)
	assert.Equal(t, map[string]string{"exe": "a", "login": "1234"}, merged.Config)

	reset, err := reg.Upsert(ctx, again, ResetSyncState(), ReplaceConfig())
	require.NoError(t, err)
	assert.Zero(t, reset.SyncCount)
	assert.Nil(t, reset.LastSync)
	assert.Equal(t, device.StatusUnknown, reset.Status)
	assert.Equal(t, map[string]string{"login": "1234"}, reset.Config)
}

func TestUpsertUnionsCapabilities(t *testing.T) {
	ctx := context.Background()
	reg, _ := openTemp(t)

	first := terminalCandidate("a")
	first.Capabilities = []string{"trading"}
	_, err := reg.Upsert(ctx, first)
	require.NoError(t, err)

	second := terminalCandidate("a")
	second.Capabilities = []string{"backup"}
	merged, err := reg.Upsert(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup", "trading"}, merged.Capabilities)

	bare := terminalCandidate("a")
	bare.Capabilities = nil
	kept, err := reg.Upsert(ctx, bare)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup", "trading"}, kept.Capabilities)
}

func TestListKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	reg, _ := openTemp(t)
	var ids []string
	for _, key := range []string{"zeta", "alpha", "mid"} {
		d, err := reg.Upsert(ctx, terminalCandidate(key))
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}
	require.NoError(t, reg.Remove(ctx, ids[1], true))
	_, err := reg.Upsert(ctx, terminalCandidate("alpha"))
	require.NoError(t, err)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[0], all[0].ID)
	assert.Equal(t, ids[2], all[1].ID)
	assert.Equal(t, ids[1], all[2].ID)
}

func TestRemoveRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	reg, _ := openTemp(t)
	d, err := reg.Upsert(ctx, terminalCandidate("a"))
	require.NoError(t, err)

	err = reg.Remove(ctx, d.ID, false)
	assert.ErrorIs(t, err, device.ErrConfirmationRequired)
	still, found, err := reg.Get(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, d.Version, still.Version)

	require.NoError(t, reg.Remove(ctx, d.ID, true))
	_, found, err = reg.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, found)

	assert.ErrorIs(t, reg.Remove(ctx, d.ID, true), device.ErrDeviceNotFound)
	assert.ErrorIs(t, reg.Remove(ctx, d.ID, false), device.ErrDeviceNotFound)
}

func TestPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	reg, path := openTemp(t)
	d, err := reg.Upsert(ctx, terminalCandidate("a"))
	require.NoError(t, err)

	other, err := Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	got, found, err := other.Get(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, d.ID, got.ID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestCorruptSnapshotIsBackedUp(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"format":1,"devices":[{"id":`), 0o600))

	reg, err := Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	all, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	backups, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, backups, 1)
	data, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"devices":[{"id":`)

	_, err = readSnapshot(backups[0])
	assert.ErrorIs(t, err, device.ErrRegistryCorrupt)
}

func TestDuplicateIDsAreCorrupt(t *testing.T) {
	data := []byte(`{"format":1,"devices":[{"id":"term-1"},{"id":"term-1"}]}`)
	_, err := decodeSnapshot(data)
	assert.ErrorIs(t, err, device.ErrRegistryCorrupt)
}

func TestStaleSyncingIsRecoveredOnLoad(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	path := filepath.Join(t.TempDir(), "devices.json")

	stale := device.Device{
		ID:              "term-stale",
		Type:            device.Type{Kind: device.KindTerminalProcess, Variant: device.VariantV4},
		DisplayName:     "stale",
		Config:          map[string]string{},
		Status:          device.StatusSyncing,
		SyncCount:       4,
		StatusChangedAt: clock.Now().Add(-time.Hour),
	}
	fresh := stale
	fresh.ID = "term-fresh"
	fresh.StatusChangedAt = clock.Now().Add(-time.Minute)
	raw, err := json.Marshal(map[string]any{"format": 1, "devices": []device.Device{stale, fresh}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	reg, err := Open(ctx, path, zerolog.Nop(), WithRecoveryThreshold(10*time.Minute), WithClock(clock.Now))
	require.NoError(t, err)

	all, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, device.StatusUnknown, all[0].Status)
	assert.Equal(t, RecoveredSyncError, all[0].LastError)
	assert.Equal(t, 4, all[0].SyncCount, "recovery is not a completed attempt")
	assert.Equal(t, device.StatusSyncing, all[1].Status)

	clock.Advance(15 * time.Minute)
	all, err = reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, device.StatusUnknown, all[1].Status)
}

func TestBeginSyncAtMostOne(t *testing.T) {
	ctx := context.Background()
	reg, path := openTemp(t)
	d, err := reg.Upsert(ctx, terminalCandidate("a"))
	require.NoError(t, err)

	// a second handle on the same file stands in for another process
	other, err := Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		started int
		busy    int
		mu      sync.Mutex
	)
	for _, r := range []*Registry{reg, other, reg, other} {
		wg.Add(1)
		go func(r *Registry) {
			defer wg.Done()
			_, err := r.BeginSync(ctx, d.ID, false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started++
			case errors.Is(err, device.ErrAlreadySyncing):
				busy++
			default:
				assert.NoError(t, err)
			}
		}(r)
	}
	wg.Wait()
	assert.Equal(t, 1, started)
	assert.Equal(t, 3, busy)
}

func TestFinishSyncCountsEveryAttempt(t *testing.T) {
	ctx := context.Background()
	historyPath := filepath.Join(t.TempDir(), "history.jsonl")
	history, err := NewHistoryRecorder(historyPath)
	require.NoError(t, err)
	reg, _ := openTemp(t, WithHistory(history))

	d, err := reg.Upsert(ctx, terminalCandidate("a"))
	require.NoError(t, err)

	first, err := reg.BeginSync(ctx, d.ID, false)
	require.NoError(t, err)
	second, err := reg.BeginSync(ctx, d.ID, true)
	require.NoError(t, err)
	assert.Greater(t, second.Number, first.Number)

	latest, err := reg.FinishSync(ctx, second, errors.New("connection refused"))
	require.NoError(t, err)
	assert.Equal(t, device.StatusError, latest.Status)
	assert.Equal(t, "connection refused", latest.LastError)

	final, err := reg.FinishSync(ctx, first, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, final.SyncCount)
	assert.Equal(t, device.StatusError, final.Status, "superseded attempt must not overwrite status")

	entries, err := ReadHistory(historyPath, d.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Superseded)
	assert.True(t, entries[1].Superseded)

	third, err := reg.BeginSync(ctx, d.ID, false)
	require.NoError(t, err)
	ok, err := reg.FinishSync(ctx, third, nil)
	require.NoError(t, err)
	assert.Equal(t, device.StatusOnline, ok.Status)
	assert.Empty(t, ok.LastError)
	assert.Equal(t, 3, ok.SyncCount)

	last, err := ReadHistory(historyPath, d.ID, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, third.Number, last[0].Attempt)
}

func TestFinishSyncIgnoresRecreatedDevice(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	reg, _ := openTemp(t, WithClock(clk.Now))

	d, err := reg.Upsert(ctx, terminalCandidate("a"))
	require.NoError(t, err)
	old, err := reg.BeginSync(ctx, d.ID, false)
	require.NoError(t, err)

	require.NoError(t, reg.Remove(ctx, d.ID, true))
	clk.Advance(time.Second)
	again, err := reg.Upsert(ctx, terminalCandidate("a"))
	require.NoError(t, err)
	require.Equal(t, d.ID, again.ID)
	current, err := reg.BeginSync(ctx, again.ID, false)
	require.NoError(t, err)
	require.Equal(t, old.Number, current.Number)

	_, err = reg.FinishSync(ctx, old, errors.New("connection refused"))
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	got, found, err := reg.Get(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, device.StatusSyncing, got.Status)
	assert.Zero(t, got.SyncCount)
	assert.Empty(t, got.LastError)

	settled, err := reg.FinishSync(ctx, current, nil)
	require.NoError(t, err)
	assert.Equal(t, device.StatusOnline, settled.Status)
	assert.Equal(t, 1, settled.SyncCount)
}

func TestUpdateStatusAndMarkConnected(t *testing.T) {
	ctx := context.Background()
	reg, _ := openTemp(t)
	a, err := reg.Upsert(ctx, terminalCandidate("a"))
	require.NoError(t, err)
	b, err := reg.Upsert(ctx, terminalCandidate("b"))
	require.NoError(t, err)

	_, err = reg.BeginSync(ctx, b.ID, false)
	require.NoError(t, err)

	changed, err := reg.MarkConnected(ctx, []string{a.ID, b.ID, "term-nope"})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, changed)

	updated, err := reg.UpdateStatus(ctx, b.ID, device.StatusError, "auth failed")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.SyncCount)
	assert.Equal(t, "auth failed", updated.LastError)
	assert.NotNil(t, updated.LastSync)

	again, err := reg.UpdateStatus(ctx, b.ID, device.StatusConnected, "")
	require.NoError(t, err)
	assert.Equal(t, 1, again.SyncCount, "only leaving syncing counts")

	_, err = reg.UpdateStatus(ctx, "term-nope", device.StatusOnline, "")
	assert.ErrorIs(t, err, device.ErrDeviceNotFound)

	counts, devices, err := reg.Counts(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.Equal(t, 2, counts[device.StatusConnected])
}

func TestLockTimeout(t *testing.T) {
	ctx := context.Background()
	reg, path := openTemp(t, WithIOTimeout(50*time.Millisecond))

	held, err := acquireLock(ctx, path+".lock", time.Second)
	require.NoError(t, err)
	defer held.release()

	_, err = reg.List(ctx)
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestReadHistorySurvivesLongLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl")
	long := HistoryEntry{DeviceID: "term-a", Attempt: 1, Status: device.StatusError, Error: strings.Repeat("x", 200*1024)}
	short := HistoryEntry{DeviceID: "term-a", Attempt: 2, Status: device.StatusOnline}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	require.NoError(t, enc.Encode(long))
	buf.WriteString("not json\n")
	require.NoError(t, enc.Encode(short))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	entries, err := ReadHistory(path, "term-a", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Len(t, entries[0].Error, 200*1024)
	assert.Equal(t, uint64(2), entries[1].Attempt)
}
