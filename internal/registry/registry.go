// Package registry is the durable local store of device records and their sync history.
//
// Every call reloads the snapshot under an exclusive cross-process file lock, applies its change,
// and writes the result back atomically, so separate CLI invocations and a long-lived service can
// share one file. Records also carry a Version that increments on each write.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"devsync-go/internal/device"
	"devsync-go/internal/metrics"
)

const (
	defaultRecoveryThreshold = 10 * time.Minute
	defaultIOTimeout         = 5 * time.Second

	// RecoveredSyncError is recorded on a stale Syncing record reset during load.
	RecoveredSyncError = "sync interrupted before completion"
)

// Registry maps device id to record. It is safe for concurrent use.
type Registry struct {
	path              string
	lockPath          string
	log               zerolog.Logger
	recoveryThreshold time.Duration
	ioTimeout         time.Duration
	now               func() time.Time
	history           *HistoryRecorder

	mu sync.Mutex
}

// Option configures Registry construction parameters.
type Option func(*Registry)

// WithRecoveryThreshold sets the age after which a Syncing record counts as abandoned.
func WithRecoveryThreshold(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.recoveryThreshold = d
		}
	}
}

// WithIOTimeout bounds how long a call waits for the registry lock.
func WithIOTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.ioTimeout = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithHistory journals every finished sync attempt.
func WithHistory(h *HistoryRecorder) Option {
	return func(r *Registry) { r.history = h }
}

// Open prepares the registry at path and performs an initial load, which runs crash recovery and
// replaces a corrupt snapshot with an empty one.
func Open(ctx context.Context, path string, log zerolog.Logger, opts ...Option) (*Registry, error) {
	if path == "" {
		return nil, errors.New("registry path is empty")
	}
	r := &Registry{
		path:              path,
		lockPath:          path + ".lock",
		log:               log,
		recoveryThreshold: defaultRecoveryThreshold,
		ioTimeout:         defaultIOTimeout,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	if err := r.update(ctx, func(*snapshot) (bool, error) { return false, nil }); err != nil {
		return nil, err
	}
	return r, nil
}

// stamp is the clock reading stored in records: UTC without a monotonic component, so values
// compare equal after a round trip through the snapshot.
func (r *Registry) stamp() time.Time { return r.now().UTC().Round(0) }

// Path returns the snapshot location.
func (r *Registry) Path() string { return r.path }

// Close releases the history journal.
func (r *Registry) Close() error { return r.history.Close() }

// update runs fn against a freshly loaded snapshot while holding both locks. The snapshot is
// written back when fn reports a change or load-time recovery modified it.
func (r *Registry) update(ctx context.Context, fn func(*snapshot) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, err := acquireLock(ctx, r.lockPath, r.ioTimeout)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.release(); err != nil {
			r.log.Warn().Err(err).Str("path", r.lockPath).Msg("release registry lock")
		}
	}()

	snap, recovered, err := r.load()
	if err != nil {
		return err
	}
	changed, err := fn(snap)
	if err != nil {
		if recovered {
			if werr := writeSnapshot(r.path, snap, r.stamp()); werr != nil {
				return errors.Join(err, werr)
			}
		}
		return err
	}
	if changed || recovered {
		if err := writeSnapshot(r.path, snap, r.stamp()); err != nil {
			return err
		}
		r.publishCounts(snap)
	}
	return nil
}

// load reads the snapshot and applies corrupt-file and stale-sync recovery. The bool reports
// whether recovery changed anything that must be persisted.
func (r *Registry) load() (*snapshot, bool, error) {
	snap, err := readSnapshot(r.path)
	if errors.Is(err, device.ErrRegistryCorrupt) {
		backup, berr := backupCorrupt(r.path, r.stamp())
		if berr != nil {
			return nil, false, errors.Join(err, berr)
		}
		metrics.RegistryRecoveries.WithLabelValues("corrupt_snapshot").Inc()
		r.log.Error().Err(err).Str("path", r.path).Str("backup", backup).Msg("registry corrupt, starting empty")
		return newSnapshot(), true, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := r.stamp()
	recovered := false
	for i := range snap.Devices {
		d := &snap.Devices[i]
		if d.Status != device.StatusSyncing || now.Sub(d.StatusChangedAt) <= r.recoveryThreshold {
			continue
		}
		r.log.Warn().Str("device", d.ID).Time("since", d.StatusChangedAt).Msg("resetting stale syncing device")
		metrics.RegistryRecoveries.WithLabelValues("stale_sync").Inc()
		d.Status = device.StatusUnknown
		d.LastError = RecoveredSyncError
		d.StatusChangedAt = now
		d.Version++
		recovered = true
	}
	return snap, recovered, nil
}

func (r *Registry) publishCounts(snap *snapshot) {
	counts := map[string]int{}
	for _, d := range snap.Devices {
		counts[string(d.Status)]++
	}
	metrics.SetDeviceCounts(counts)
}

// UpsertOption adjusts how a candidate is merged into an existing record.
type UpsertOption func(*upsertOptions)

type upsertOptions struct {
	resetSync     bool
	replaceConfig bool
}

// ResetSyncState clears status, lastSync, syncCount, and lastError on an existing record.
func ResetSyncState() UpsertOption { return func(o *upsertOptions) { o.resetSync = true } }

// ReplaceConfig swaps the stored config wholesale instead of merging keys.
func ReplaceConfig() UpsertOption { return func(o *upsertOptions) { o.replaceConfig = true } }

// Upsert creates a record with status Unknown or merges scan data into an existing one while
// keeping its sync history.
func (r *Registry) Upsert(ctx context.Context, c device.Candidate, opts ...UpsertOption) (device.Device, error) {
	c, err := c.Normalize()
	if err != nil {
		return device.Device{}, err
	}
	var o upsertOptions
	for _, opt := range opts {
		opt(&o)
	}

	var out device.Device
	err = r.update(ctx, func(s *snapshot) (bool, error) {
		now := r.stamp()
		i, ok := s.find(c.ID)
		if !ok {
			d := device.Device{
				ID:              c.ID,
				Type:            c.Type,
				DisplayName:     c.DisplayName,
				Capabilities:    c.Capabilities,
				Config:          c.Config,
				Status:          device.StatusUnknown,
				CreatedAt:       now,
				StatusChangedAt: now,
				Version:         1,
			}
			s.append(d)
			out = d.Clone()
			return true, nil
		}

		d := &s.Devices[i]
		d.Type = c.Type
		if c.DisplayName != "" {
			d.DisplayName = c.DisplayName
		}
		d.Capabilities = device.MergeCapabilities(d.Capabilities, c.Capabilities)
		if o.replaceConfig || d.Config == nil {
			d.Config = c.Config
		} else {
			for k, v := range c.Config {
				d.Config[k] = v
			}
		}
		if o.resetSync {
			d.SyncCount = 0
			d.LastSync = nil
			d.LastError = ""
			if d.Status != device.StatusSyncing {
				d.Status = device.StatusUnknown
				d.StatusChangedAt = now
			}
		}
		d.Version++
		out = d.Clone()
		return true, nil
	})
	return out, err
}

// Get returns a copy of the record for id.
func (r *Registry) Get(ctx context.Context, id string) (device.Device, bool, error) {
	var (
		out   device.Device
		found bool
	)
	err := r.update(ctx, func(s *snapshot) (bool, error) {
		i, ok := s.find(id)
		if ok {
			out, found = s.Devices[i].Clone(), true
		}
		return false, nil
	})
	return out, found, err
}

// List returns copies of every record in insertion order.
func (r *Registry) List(ctx context.Context) ([]device.Device, error) {
	var out []device.Device
	err := r.update(ctx, func(s *snapshot) (bool, error) {
		out = make([]device.Device, len(s.Devices))
		for i, d := range s.Devices {
			out[i] = d.Clone()
		}
		return false, nil
	})
	return out, err
}

// Remove deletes id. Without force it only verifies existence and returns ErrConfirmationRequired.
func (r *Registry) Remove(ctx context.Context, id string, force bool) error {
	return r.update(ctx, func(s *snapshot) (bool, error) {
		if _, ok := s.find(id); !ok {
			return false, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id)
		}
		if !force {
			return false, fmt.Errorf("%w: remove %s", device.ErrConfirmationRequired, id)
		}
		s.remove(id)
		return true, nil
	})
}

// UpdateStatus sets status directly. Leaving Syncing counts as a completed attempt: syncCount
// increments and lastSync is stamped. Online clears lastError; Error stores errMsg.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status device.Status, errMsg string) (device.Device, error) {
	var out device.Device
	err := r.update(ctx, func(s *snapshot) (bool, error) {
		i, ok := s.find(id)
		if !ok {
			return false, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id)
		}
		d := &s.Devices[i]
		now := r.stamp()
		if d.Status == device.StatusSyncing && status != device.StatusSyncing {
			d.SyncCount++
			d.LastSync = &now
		}
		applyStatus(d, status, errMsg, now)
		out = d.Clone()
		return true, nil
	})
	return out, err
}

// MarkConnected moves observed devices from Unknown to Connected and reports which changed.
func (r *Registry) MarkConnected(ctx context.Context, ids []string) ([]string, error) {
	var changed []string
	err := r.update(ctx, func(s *snapshot) (bool, error) {
		now := r.stamp()
		for _, id := range ids {
			i, ok := s.find(id)
			if !ok || s.Devices[i].Status != device.StatusUnknown {
				continue
			}
			applyStatus(&s.Devices[i], device.StatusConnected, "", now)
			changed = append(changed, id)
		}
		return len(changed) > 0, nil
	})
	return changed, err
}

func applyStatus(d *device.Device, status device.Status, errMsg string, now time.Time) {
	switch status {
	case device.StatusOnline:
		d.LastError = ""
	case device.StatusError:
		d.LastError = errMsg
	}
	if d.Status != status {
		d.StatusChangedAt = now
	}
	d.Status = status
	d.Version++
}

// Attempt identifies one BeginSync call; FinishSync uses it to settle exactly that attempt.
type Attempt struct {
	DeviceID  string
	Number    uint64
	StartedAt time.Time
	Device    device.Device
}

// BeginSync atomically checks that id is not already syncing and moves it to Syncing.
// With force an in-flight attempt is superseded instead of rejected.
func (r *Registry) BeginSync(ctx context.Context, id string, force bool) (Attempt, error) {
	var out Attempt
	err := r.update(ctx, func(s *snapshot) (bool, error) {
		i, ok := s.find(id)
		if !ok {
			return false, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id)
		}
		d := &s.Devices[i]
		if d.Status == device.StatusSyncing && !force {
			return false, fmt.Errorf("%w: %s", device.ErrAlreadySyncing, id)
		}
		now := r.stamp()
		d.SyncAttempt++
		d.Status = device.StatusSyncing
		d.StatusChangedAt = now
		d.Version++
		out = Attempt{DeviceID: id, Number: d.SyncAttempt, StartedAt: now, Device: d.Clone()}
		return true, nil
	})
	return out, err
}

// FinishSync settles an attempt: syncCount increments exactly once and lastSync is stamped.
// The terminal status is only applied while the attempt is still the device's latest; a
// superseded attempt is counted and journaled but leaves status alone.
func (r *Registry) FinishSync(ctx context.Context, a Attempt, syncErr error) (device.Device, error) {
	var (
		out   device.Device
		entry HistoryEntry
	)
	err := r.update(ctx, func(s *snapshot) (bool, error) {
		i, ok := s.find(a.DeviceID)
		// a record re-created under the same id after a remove is not this attempt's device
		if !ok || !s.Devices[i].CreatedAt.Equal(a.Device.CreatedAt) {
			return false, fmt.Errorf("%w: %s removed during sync", device.ErrDeviceNotFound, a.DeviceID)
		}
		d := &s.Devices[i]
		now := r.stamp()
		d.SyncCount++
		d.LastSync = &now

		status, msg := device.StatusOnline, ""
		if syncErr != nil {
			status, msg = device.StatusError, syncErr.Error()
		}
		superseded := d.SyncAttempt != a.Number
		if superseded {
			d.Version++
		} else {
			applyStatus(d, status, msg, now)
		}
		entry = HistoryEntry{
			DeviceID:   a.DeviceID,
			Attempt:    a.Number,
			Status:     status,
			Error:      msg,
			StartedAt:  a.StartedAt,
			FinishedAt: now,
			Superseded: superseded,
		}
		out = d.Clone()
		return true, nil
	})
	if err != nil {
		return out, err
	}
	if herr := r.history.Record(entry); herr != nil {
		r.log.Warn().Err(herr).Str("device", a.DeviceID).Msg("journal sync attempt")
	}
	return out, nil
}

// Counts returns the number of devices per status along with the records.
func (r *Registry) Counts(ctx context.Context) (map[device.Status]int, []device.Device, error) {
	devices, err := r.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	counts := map[device.Status]int{}
	for _, d := range devices {
		counts[d.Status]++
	}
	return counts, devices, nil
}
