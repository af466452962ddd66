package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"

	"devsync-go/internal/config"
)

// Probe names, also used as Observation.Probe.
const (
	ProbeProcess    = "process"
	ProbeVolume     = "volume"
	ProbeCredential = "credential"
	ProbeWallet     = "wallet"
)

// Probe is a read-only look at one facet of the local environment.
type Probe interface {
	Name() string
	Observe(ctx context.Context) ([]Observation, error)
}

type procInfo struct {
	Name string
	Exe  string
}

// ProcessProbe enumerates the process table.
type ProcessProbe struct {
	list func(ctx context.Context) ([]procInfo, error)
}

// NewProcessProbe returns a probe backed by gopsutil.
func NewProcessProbe() *ProcessProbe { return &ProcessProbe{list: listProcesses} }

// Name implements Probe.
func (p *ProcessProbe) Name() string { return ProbeProcess }

// Observe implements Probe. Processes sharing an executable collapse to one observation.
func (p *ProcessProbe) Observe(ctx context.Context) ([]Observation, error) {
	procs, err := p.list(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(procs))
	out := make([]Observation, 0, len(procs))
	for _, proc := range procs {
		if proc.Name == "" {
			continue
		}
		key := strings.ToLower(proc.Name + "|" + proc.Exe)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Observation{Probe: ProbeProcess, Name: proc.Name, Path: proc.Exe})
	}
	return out, nil
}

func listProcesses(ctx context.Context) ([]procInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]procInfo, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// the process exited or is not ours to inspect
			continue
		}
		exe, _ := p.ExeWithContext(ctx)
		out = append(out, procInfo{Name: name, Exe: exe})
	}
	return out, nil
}

// VolumeProbe reports mounted volumes that live under a removable-media root or carry a
// trading marker file.
type VolumeProbe struct {
	roots      []string
	markers    []string
	partitions func(ctx context.Context) ([]disk.PartitionStat, error)
}

// NewVolumeProbe returns a probe backed by gopsutil.
func NewVolumeProbe(roots, markers []string) *VolumeProbe {
	return &VolumeProbe{
		roots:   roots,
		markers: markers,
		partitions: func(ctx context.Context) ([]disk.PartitionStat, error) {
			return disk.PartitionsWithContext(ctx, false)
		},
	}
}

// Name implements Probe.
func (p *VolumeProbe) Name() string { return ProbeVolume }

// Observe implements Probe.
func (p *VolumeProbe) Observe(ctx context.Context) ([]Observation, error) {
	parts, err := p.partitions(ctx)
	if err != nil {
		return nil, err
	}
	var out []Observation
	for _, part := range parts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		found := p.markersAt(part.Mountpoint)
		if !p.underRoot(part.Mountpoint) && len(found) == 0 {
			continue
		}
		attrs := map[string]string{
			"mount":  part.Mountpoint,
			"device": part.Device,
			"fstype": part.Fstype,
		}
		var caps []string
		if len(found) > 0 {
			attrs["markers"] = strings.Join(found, ",")
			caps = append(caps, "trading")
		}
		out = append(out, Observation{
			Probe:        ProbeVolume,
			Name:         volumeLabel(part.Mountpoint),
			Path:         part.Mountpoint,
			Capabilities: caps,
			Attrs:        attrs,
		})
	}
	return out, nil
}

func (p *VolumeProbe) underRoot(mount string) bool {
	clean := filepath.Clean(mount)
	for _, root := range p.roots {
		root = filepath.Clean(root)
		if strings.HasPrefix(clean, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (p *VolumeProbe) markersAt(mount string) []string {
	var found []string
	for _, m := range p.markers {
		if _, err := os.Stat(filepath.Join(mount, m)); err == nil {
			found = append(found, m)
		}
	}
	sort.Strings(found)
	return found
}

func volumeLabel(mount string) string {
	label := filepath.Base(filepath.Clean(mount))
	if label == "." || label == string(filepath.Separator) || label == "" {
		return mount
	}
	return label
}

// CredentialProbe reports integrations whose required keys are present in the credential store.
type CredentialProbe struct {
	specs []config.CredentialSpec
	creds config.Credentials
}

// NewCredentialProbe checks specs against an explicit credential store.
func NewCredentialProbe(specs []config.CredentialSpec, creds config.Credentials) *CredentialProbe {
	return &CredentialProbe{specs: specs, creds: creds}
}

// Name implements Probe.
func (p *CredentialProbe) Name() string { return ProbeCredential }

// Observe implements Probe.
func (p *CredentialProbe) Observe(ctx context.Context) ([]Observation, error) {
	if p.creds == nil {
		return nil, errors.New("no credential store configured")
	}
	var out []Observation
	for _, spec := range p.specs {
		if !p.creds.Has(spec.Keys...) {
			continue
		}
		out = append(out, Observation{
			Probe:        ProbeCredential,
			Name:         spec.Name,
			Hint:         spec.Variant,
			Capabilities: spec.Capabilities,
			Attrs:        p.creds.Subset(spec.Keys...),
		})
	}
	return out, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
