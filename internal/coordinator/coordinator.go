// Package coordinator drives devices through discovery, push, and acknowledgement.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"devsync-go/internal/device"
	"devsync-go/internal/metrics"
	"devsync-go/internal/registry"
	"devsync-go/internal/scanner"
	"devsync-go/internal/transport"
)

const (
	defaultWorkers = 4
	defaultTimeout = 30 * time.Second
	// bound for settling an attempt after the caller's context is gone
	settleTimeout = 10 * time.Second
)

// Store is the slice of the registry the coordinator mutates.
type Store interface {
	List(ctx context.Context) ([]device.Device, error)
	Upsert(ctx context.Context, c device.Candidate, opts ...registry.UpsertOption) (device.Device, error)
	MarkConnected(ctx context.Context, ids []string) ([]string, error)
	BeginSync(ctx context.Context, id string, force bool) (registry.Attempt, error)
	FinishSync(ctx context.Context, a registry.Attempt, syncErr error) (device.Device, error)
}

// Scanner produces discovery reports.
type Scanner interface {
	ScanReport(ctx context.Context) scanner.Report
}

// Event is a device status transition.
type Event struct {
	DeviceID string        `json:"deviceId"`
	Status   device.Status `json:"status"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// Failure is one device that did not reach Online during SyncAll.
type Failure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Summary aggregates a SyncAll run.
type Summary struct {
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"failures"`
}

// Discovery is the outcome of a scan merged into the registry.
type Discovery struct {
	Report    scanner.Report
	Devices   []device.Device
	Connected []string
}

// Coordinator owns the per-device state machine.
type Coordinator struct {
	store     Store
	transport transport.Transport
	scanner   Scanner
	pool      *Pool
	timeout   time.Duration
	observer  func(Event)
	log       zerolog.Logger
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithWorkers bounds SyncAll concurrency.
func WithWorkers(n int) Option {
	return func(c *Coordinator) { c.pool = NewPool(n) }
}

// WithTimeout sets the per-device push timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithScanner enables Discover.
func WithScanner(s Scanner) Option {
	return func(c *Coordinator) { c.scanner = s }
}

// WithObserver receives every status transition the coordinator causes. fn is called from
// worker goroutines and must be safe for concurrent use.
func WithObserver(fn func(Event)) Option {
	return func(c *Coordinator) { c.observer = fn }
}

// New wires a coordinator over a registry and a transport.
func New(store Store, tr transport.Transport, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		transport: tr,
		pool:      NewPool(defaultWorkers),
		timeout:   defaultTimeout,
		log:       log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Workers reports the SyncAll concurrency bound.
func (c *Coordinator) Workers() int { return c.pool.Size() }

// SyncOne pushes one device. The returned device is the settled record; the error is the push
// failure, if any, after it has been recorded on the device. A context that is already done
// returns its error before any attempt is started, leaving the record untouched.
func (c *Coordinator) SyncOne(ctx context.Context, id string, force bool) (device.Device, error) {
	if err := ctx.Err(); err != nil {
		return device.Device{}, err
	}
	attempt, err := c.store.BeginSync(ctx, id, force)
	if err != nil {
		return device.Device{}, err
	}
	c.notify(attempt.Device)
	log := c.log.With().Str("device", id).Uint64("attempt", attempt.Number).Logger()
	log.Debug().Bool("force", force).Msg("sync started")

	start := time.Now()
	pushErr := c.push(ctx, attempt.Device)
	took := time.Since(start)

	// the attempt is settled even when the caller has gone away
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	settled, err := c.store.FinishSync(settleCtx, attempt, pushErr)
	if err != nil {
		log.Error().Err(err).Msg("settle sync attempt")
		return device.Device{}, fmt.Errorf("settle sync of %s: %w", id, err)
	}
	c.notify(settled)
	metrics.ObserveSync(attempt.Device.Type.String(), resultLabel(pushErr), took)

	if pushErr != nil {
		log.Warn().Err(pushErr).Dur("took", took).Msg("sync failed")
		return settled, pushErr
	}
	log.Info().Dur("took", took).Int("sync_count", settled.SyncCount).Msg("sync complete")
	return settled, nil
}

// push runs the transport under the per-device timeout. On expiry the call is abandoned and
// reported as device.ErrSyncTimeout.
func (c *Coordinator) push(ctx context.Context, d device.Device) error {
	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.transport.Push(pctx, d) }()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
			return device.ErrSyncTimeout
		}
		return err
	case <-pctx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("sync cancelled: %w", ctx.Err())
		}
		return device.ErrSyncTimeout
	}
}

// reasonCancelled marks devices SyncAll never started because its context ended first.
const reasonCancelled = "cancelled"

type syncResult struct {
	id      string
	err     error
	skipped bool
}

// SyncAll syncs every registered device on the worker pool. One failure never stops the rest.
// Once ctx ends, devices not yet started are reported as cancelled and their records are left
// as they were.
func (c *Coordinator) SyncAll(ctx context.Context, force bool) (Summary, error) {
	devices, err := c.store.List(ctx)
	if err != nil {
		return Summary{}, err
	}
	ids := make([]string, len(devices))
	for i, d := range devices {
		ids[i] = d.ID
	}

	reasons := make(map[string]string, len(ids))
	results := Run(ctx, c.pool, ids, func(ctx context.Context, id string) syncResult {
		d, err := c.SyncOne(ctx, id, force)
		// no settled record means the attempt never began
		skipped := err != nil && d.ID == "" && ctx.Err() != nil && errors.Is(err, ctx.Err())
		return syncResult{id: id, err: err, skipped: skipped}
	})
	sum := Summary{Total: len(ids), Failures: []Failure{}}
	skipped := 0
	for res := range results {
		switch {
		case res.skipped:
			reasons[res.id] = reasonCancelled
			skipped++
			continue
		case res.err != nil:
			reasons[res.id] = res.err.Error()
			continue
		}
		sum.Successful++
	}
	// failures are reported in registry order
	for _, id := range ids {
		if reason, failed := reasons[id]; failed {
			sum.Failures = append(sum.Failures, Failure{ID: id, Reason: reason})
		}
	}
	sum.Failed = len(sum.Failures)
	c.log.Info().Int("total", sum.Total).Int("ok", sum.Successful).Int("failed", sum.Failed).
		Int("cancelled", skipped).Int("workers", c.pool.Size()).Msg("sync-all complete")
	return sum, nil
}

// Discover scans, upserts every candidate, and moves observed Unknown devices to Connected.
// Devices the scan did not see are left as they are.
func (c *Coordinator) Discover(ctx context.Context) (Discovery, error) {
	if c.scanner == nil {
		return Discovery{}, errors.New("discovery needs a scanner")
	}
	rep := c.scanner.ScanReport(ctx)
	out := Discovery{Report: rep}
	ids := make([]string, 0, len(rep.Candidates))
	for _, cand := range rep.Candidates {
		d, err := c.store.Upsert(ctx, cand)
		if err != nil {
			return out, fmt.Errorf("upsert %s: %w", cand.ID, err)
		}
		out.Devices = append(out.Devices, d)
		ids = append(ids, d.ID)
	}
	connected, err := c.store.MarkConnected(ctx, ids)
	if err != nil {
		return out, err
	}
	out.Connected = connected
	now := time.Now().UTC()
	for _, id := range connected {
		c.emit(Event{DeviceID: id, Status: device.StatusConnected, At: now})
	}
	c.log.Info().Int("candidates", len(rep.Candidates)).Int("connected", len(connected)).
		Int("failed_probes", len(rep.FailedProbes())).Msg("discovery complete")
	return out, nil
}

// Loop runs Discover and SyncAll every interval until ctx ends. A zero interval disables it.
func (c *Coordinator) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.scanner != nil {
				if _, err := c.Discover(ctx); err != nil {
					c.log.Error().Err(err).Msg("periodic discovery")
				}
			}
			if _, err := c.SyncAll(ctx, false); err != nil {
				c.log.Error().Err(err).Msg("periodic sync-all")
			}
		}
	}
}

func (c *Coordinator) notify(d device.Device) {
	c.emit(Event{DeviceID: d.ID, Status: d.Status, Error: d.LastError, At: d.StatusChangedAt})
}

func (c *Coordinator) emit(ev Event) {
	if c.observer != nil {
		c.observer(ev)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, device.ErrSyncTimeout):
		return "timeout"
	default:
		return "error"
	}
}
