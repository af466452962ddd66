// Package transport delivers device config snapshots to the remote coordination host.
//
// A Push either writes the device's snapshot to <root>/<id>/config.json or returns a typed
// *Error; transports never retry on their own.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"

	"devsync-go/internal/config"
	"devsync-go/internal/device"
)

// SnapshotFile is the file name written inside each device directory.
const SnapshotFile = "config.json"

// Transport pushes one device snapshot to the remote host.
type Transport interface {
	Push(ctx context.Context, d device.Device) error
}

// Snapshot is the document stored remotely for a device.
type Snapshot struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	DisplayName  string            `json:"displayName"`
	Capabilities []string          `json:"capabilities"`
	Config       map[string]string `json:"config"`
	Origin       string            `json:"origin"`
	PushedAt     time.Time         `json:"pushedAt"`
}

// EncodeSnapshot serializes a device's config plus minimal metadata.
func EncodeSnapshot(d device.Device, origin string, now time.Time) ([]byte, error) {
	snap := Snapshot{
		ID:           d.ID,
		Type:         d.Type.String(),
		DisplayName:  d.DisplayName,
		Capabilities: append([]string{}, d.Capabilities...),
		Config:       d.Config,
		Origin:       origin,
		PushedAt:     now.UTC(),
	}
	if snap.Config == nil {
		snap.Config = map[string]string{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// RemoteDir returns the slash-separated directory holding a device's snapshot.
func RemoteDir(root, id string) string { return path.Join(root, id) }

// New builds the transport selected by remote.kind.
func New(remote config.Remote, creds config.Credentials, log zerolog.Logger) (Transport, error) {
	switch remote.Kind {
	case config.RemoteDir:
		return NewDir(remote.Root, log), nil
	case config.RemoteSSH, "":
		return NewSSH(remote, creds, log)
	default:
		return nil, fmt.Errorf("unknown remote kind %q", remote.Kind)
	}
}

func originHost() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}
