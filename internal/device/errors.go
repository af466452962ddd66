package device

import "errors"

var (
	// ErrDeviceNotFound is returned when an id is not present in the registry.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrAlreadySyncing rejects a second concurrent sync of the same device.
	ErrAlreadySyncing = errors.New("device is already syncing")
	// ErrConfirmationRequired rejects destructive operations issued without force.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrRegistryCorrupt means the persisted snapshot could not be decoded.
	ErrRegistryCorrupt = errors.New("registry snapshot is corrupt")
	// ErrSyncTimeout is recorded when a push exceeds the per-device timeout.
	ErrSyncTimeout = errors.New("timeout")
	// ErrScanProbeFailed wraps an individual probe failure during a scan.
	ErrScanProbeFailed = errors.New("scan probe failed")
	// ErrInvalidDevice covers malformed types, ids, and registration payloads.
	ErrInvalidDevice = errors.New("invalid device")
)
