package api

//go:generate mockgen -destination=mock_api.go -package=api devsync-go/internal/api Coordinator

import (
	"context"

	"devsync-go/internal/coordinator"
	"devsync-go/internal/device"
	"devsync-go/internal/registry"
)

// Coordinator is the sync engine behind the control surface.
type Coordinator interface {
	SyncOne(ctx context.Context, id string, force bool) (device.Device, error)
	SyncAll(ctx context.Context, force bool) (coordinator.Summary, error)
	Discover(ctx context.Context) (coordinator.Discovery, error)
}

// Store is the read side of the registry plus registration and removal.
type Store interface {
	List(ctx context.Context) ([]device.Device, error)
	Get(ctx context.Context, id string) (device.Device, bool, error)
	Upsert(ctx context.Context, c device.Candidate, opts ...registry.UpsertOption) (device.Device, error)
	Remove(ctx context.Context, id string, force bool) error
	Counts(ctx context.Context) (map[device.Status]int, []device.Device, error)
}
