package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"devsync-go/internal/device"
)

const snapshotFormat = 1

// snapshot is the on-disk registry document; Devices keeps insertion order.
type snapshot struct {
	Format  int             `json:"format"`
	SavedAt time.Time       `json:"savedAt"`
	Devices []device.Device `json:"devices"`

	index map[string]int
}

func newSnapshot() *snapshot {
	return &snapshot{Format: snapshotFormat, Devices: []device.Device{}, index: map[string]int{}}
}

func (s *snapshot) find(id string) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

func (s *snapshot) append(d device.Device) {
	s.index[d.ID] = len(s.Devices)
	s.Devices = append(s.Devices, d)
}

func (s *snapshot) remove(id string) {
	i, ok := s.index[id]
	if !ok {
		return
	}
	s.Devices = append(s.Devices[:i], s.Devices[i+1:]...)
	s.reindex()
}

func (s *snapshot) reindex() {
	s.index = make(map[string]int, len(s.Devices))
	for i, d := range s.Devices {
		s.index[d.ID] = i
	}
}

// readSnapshot loads path; a missing file is an empty registry.
func readSnapshot(path string) (*snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newSnapshot(), nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return newSnapshot(), nil
	}
	return decodeSnapshot(data)
}

func decodeSnapshot(data []byte) (*snapshot, error) {
	snap := newSnapshot()
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrRegistryCorrupt, err)
	}
	if snap.Format != snapshotFormat {
		return nil, fmt.Errorf("%w: unsupported format %d", device.ErrRegistryCorrupt, snap.Format)
	}
	if snap.Devices == nil {
		snap.Devices = []device.Device{}
	}
	snap.index = make(map[string]int, len(snap.Devices))
	for i, d := range snap.Devices {
		if err := device.ValidateID(d.ID); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", device.ErrRegistryCorrupt, i, err)
		}
		if _, dup := snap.index[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", device.ErrRegistryCorrupt, d.ID)
		}
		if snap.Devices[i].Config == nil {
			snap.Devices[i].Config = map[string]string{}
		}
		snap.index[d.ID] = i
	}
	return snap, nil
}

// writeSnapshot atomically replaces path using the temp-file, fsync, rename pattern.
func writeSnapshot(path string, snap *snapshot, now time.Time) error {
	snap.Format = snapshotFormat
	snap.SavedAt = now.UTC()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".devices-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// backupCorrupt moves an undecodable snapshot aside and returns the backup path.
func backupCorrupt(path string, now time.Time) (string, error) {
	backup := fmt.Sprintf("%s.corrupt-%s", path, now.UTC().Format("20060102T150405.000000000"))
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("backup corrupt registry: %w", err)
	}
	return backup, nil
}
