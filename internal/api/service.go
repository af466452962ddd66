// Package api is the control surface: a validating layer over the registry and coordinator that
// shapes every result for CLI and HTTP callers. It holds no business logic of its own.
package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"devsync-go/internal/coordinator"
	"devsync-go/internal/device"
	"devsync-go/internal/registry"
	"devsync-go/internal/util"
)

var errInvalidRequest = errors.New("invalid request")

const defaultHistoryLimit = 50

// DeviceList answers list.
type DeviceList struct {
	Devices []device.Device `json:"devices"`
	Total   int             `json:"total"`
}

// SyncStatus answers status.
type SyncStatus struct {
	TotalDevices     int             `json:"totalDevices"`
	OnlineDevices    int             `json:"onlineDevices"`
	SyncingDevices   int             `json:"syncingDevices"`
	ErrorDevices     int             `json:"errorDevices"`
	ConnectedDevices int             `json:"connectedDevices"`
	UnknownDevices   int             `json:"unknownDevices"`
	Devices          []device.Device `json:"devices"`
}

// RegisterRequest is a manual registration.
type RegisterRequest struct {
	Type         string            `json:"type"`
	Name         string            `json:"name,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Config       map[string]string `json:"config"`
	// ReplaceConfig swaps the stored config instead of merging keys into it.
	ReplaceConfig bool `json:"replaceConfig,omitempty"`
	// ResetSync clears status, lastSync, syncCount, and lastError of an existing device.
	ResetSync bool `json:"resetSync,omitempty"`
}

// Removed answers remove.
type Removed struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

// DiscoveryResult answers scan.
type DiscoveryResult struct {
	Devices     []device.Device `json:"devices"`
	Connected   []string        `json:"connected"`
	ProbeErrors []string        `json:"probeErrors,omitempty"`
}

// Service validates inputs and delegates to the registry and coordinator.
type Service struct {
	store       Store
	coord       Coordinator
	historyPath string
	log         zerolog.Logger
}

// NewService builds the control surface. historyPath may be empty to disable history.
func NewService(store Store, coord Coordinator, historyPath string, log zerolog.Logger) *Service {
	return &Service{store: store, coord: coord, historyPath: historyPath, log: log}
}

// List returns every device in registry order.
func (s *Service) List(ctx context.Context) (DeviceList, error) {
	devices, err := s.store.List(ctx)
	if err != nil {
		return DeviceList{}, err
	}
	if devices == nil {
		devices = []device.Device{}
	}
	return DeviceList{Devices: devices, Total: len(devices)}, nil
}

// Get returns one device.
func (s *Service) Get(ctx context.Context, id string) (device.Device, error) {
	if err := validateID(id); err != nil {
		return device.Device{}, err
	}
	d, found, err := s.store.Get(ctx, id)
	if err != nil {
		return device.Device{}, err
	}
	if !found {
		return device.Device{}, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id)
	}
	return d, nil
}

// Status returns the registry together with per-status counts.
func (s *Service) Status(ctx context.Context) (SyncStatus, error) {
	counts, devices, err := s.store.Counts(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	if devices == nil {
		devices = []device.Device{}
	}
	return SyncStatus{
		TotalDevices:     len(devices),
		OnlineDevices:    counts[device.StatusOnline],
		SyncingDevices:   counts[device.StatusSyncing],
		ErrorDevices:     counts[device.StatusError],
		ConnectedDevices: counts[device.StatusConnected],
		UnknownDevices:   counts[device.StatusUnknown],
		Devices:          devices,
	}, nil
}

// Register creates or refreshes a device. A named registration is idempotent; an unnamed one
// always creates a new device.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (device.Device, error) {
	t, err := device.ParseType(req.Type)
	if err != nil {
		return device.Device{}, err
	}
	name := strings.TrimSpace(req.Name)
	key := name
	if key == "" {
		key = uuid.NewString()
	}
	cand := device.Candidate{
		Type:         t,
		NaturalKey:   key,
		DisplayName:  name,
		Capabilities: req.Capabilities,
		Config:       req.Config,
		Source:       "register",
	}
	if cand.DisplayName == "" {
		cand.DisplayName = t.String()
	}
	var opts []registry.UpsertOption
	if req.ReplaceConfig {
		opts = append(opts, registry.ReplaceConfig())
	}
	if req.ResetSync {
		opts = append(opts, registry.ResetSyncState())
	}
	d, err := s.store.Upsert(ctx, cand, opts...)
	if err != nil {
		return device.Device{}, err
	}
	s.log.Info().Str("device", d.ID).Str("type", t.String()).Bool("reset_sync", req.ResetSync).Object("config", util.ConfigShape(d.Config)).Msg("device registered")
	return d, nil
}

// Sync pushes one device. On a push failure the settled record is returned with the error.
func (s *Service) Sync(ctx context.Context, id string, force bool) (device.Device, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return device.Device{}, err
	}
	return s.coord.SyncOne(ctx, id, force)
}

// SyncAll pushes every device.
func (s *Service) SyncAll(ctx context.Context, force bool) (coordinator.Summary, error) {
	return s.coord.SyncAll(ctx, force)
}

// Remove deletes a device; without force it only confirms the device exists.
func (s *Service) Remove(ctx context.Context, id string, force bool) (Removed, error) {
	if err := validateID(id); err != nil {
		return Removed{ID: id}, err
	}
	if err := s.store.Remove(ctx, id, force); err != nil {
		return Removed{ID: id}, err
	}
	s.log.Info().Str("device", id).Msg("device removed")
	return Removed{ID: id, Removed: true}, nil
}

// Discover scans the machine and merges the result into the registry.
func (s *Service) Discover(ctx context.Context) (DiscoveryResult, error) {
	res, err := s.coord.Discover(ctx)
	if err != nil {
		return DiscoveryResult{}, err
	}
	out := DiscoveryResult{Devices: res.Devices, Connected: res.Connected}
	if out.Devices == nil {
		out.Devices = []device.Device{}
	}
	for _, perr := range res.Report.FailedProbes() {
		out.ProbeErrors = append(out.ProbeErrors, perr.Error())
	}
	return out, nil
}

// History returns the newest sync attempts for id, oldest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]registry.HistoryEntry, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if s.historyPath == "" {
		return nil, fmt.Errorf("%w: sync history is not configured", errInvalidRequest)
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries, err := registry.ReadHistory(s.historyPath, id, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []registry.HistoryEntry{}
	}
	return entries, ctx.Err()
}

func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: device id is required", errInvalidRequest)
	}
	return device.ValidateID(id)
}
