package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"devsync-go/internal/device"
	"devsync-go/internal/util"
)

// Dir writes snapshots into a locally mounted share using the remote layout.
type Dir struct {
	root   string
	log    zerolog.Logger
	origin string
	now    func() time.Time
}

// NewDir returns a transport rooted at root, which must already exist (an unmounted share is a
// connection failure, not something to create).
func NewDir(root string, log zerolog.Logger) *Dir {
	return &Dir{root: root, log: log, origin: originHost(), now: time.Now}
}

// Push implements Transport.
func (t *Dir) Push(ctx context.Context, d device.Device) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(t.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return newError(ErrConnectionFailed, d.ID, fmt.Errorf("share %s is not mounted", t.root))
		}
		return newError(ErrConnectionFailed, d.ID, err)
	}
	if !info.IsDir() {
		return newError(ErrConnectionFailed, d.ID, fmt.Errorf("share %s is not a directory", t.root))
	}

	payload, err := EncodeSnapshot(d, t.origin, t.now())
	if err != nil {
		return newError(ErrRemoteWriteFailed, d.ID, err)
	}
	dir := filepath.Join(t.root, d.ID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return newError(ErrAuthFailed, d.ID, err)
		}
		return newError(ErrRemoteWriteFailed, d.ID, err)
	}
	if err := writeFileAtomic(filepath.Join(dir, SnapshotFile), payload); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return newError(ErrAuthFailed, d.ID, err)
		}
		return newError(ErrRemoteWriteFailed, d.ID, err)
	}
	t.log.Debug().
		Str("device", d.ID).
		Str("dir", dir).
		Int("bytes", len(payload)).
		Object("config", util.ConfigShape(d.Config)).
		Msg("snapshot written")
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
