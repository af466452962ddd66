// Package scanner discovers trading-relevant devices on the local machine without side effects.
//
// Probes gather raw observations, a Classifier turns them into typed candidates, and the
// result is deduplicated by type and natural key. A failing probe is logged and skipped; Scan
// itself never fails.
package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"devsync-go/internal/config"
	"devsync-go/internal/device"
	"devsync-go/internal/metrics"
)

const defaultProbeTimeout = 5 * time.Second

// Report is the outcome of one scan.
type Report struct {
	Candidates []device.Candidate
	// ProbeErrors combines every failed probe; each wraps device.ErrScanProbeFailed.
	ProbeErrors error
	// Observed counts observations per probe that completed.
	Observed map[string]int
}

// FailedProbes lists the individual probe failures.
func (r Report) FailedProbes() []error { return multierr.Errors(r.ProbeErrors) }

// Scanner runs probes in isolation and classifies what they observe.
type Scanner struct {
	probes     []Probe
	classifier *Classifier
	timeout    time.Duration
	log        zerolog.Logger
}

// Option configures Scanner construction parameters.
type Option func(*Scanner)

// WithProbes replaces the default probe set.
func WithProbes(probes ...Probe) Option {
	return func(s *Scanner) { s.probes = append([]Probe(nil), probes...) }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) Option {
	return func(s *Scanner) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New builds a scanner from explicit settings and credentials.
func New(cfg config.Scanner, creds config.Credentials, log zerolog.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		probes: []Probe{
			NewProcessProbe(),
			NewVolumeProbe(cfg.VolumeRoots, cfg.VolumeMarkers),
			NewCredentialProbe(cfg.Credentials, creds),
			NewWalletProbe(cfg.Wallets, log),
		},
		classifier: DefaultClassifier(cfg),
		timeout:    cfg.ProbeTimeout.Std(),
		log:        log,
	}
	if s.timeout <= 0 {
		s.timeout = defaultProbeTimeout
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Classifier exposes the classifier so callers can register extra matchers.
func (s *Scanner) Classifier() *Classifier { return s.classifier }

// Scan returns deduplicated candidates from every probe that succeeded.
func (s *Scanner) Scan(ctx context.Context) []device.Candidate {
	return s.ScanReport(ctx).Candidates
}

type probeResult struct {
	obs []Observation
	err error
}

// ScanReport runs all probes concurrently, each under its own timeout, and reports failures
// alongside the candidates.
func (s *Scanner) ScanReport(ctx context.Context) Report {
	results := make([]chan probeResult, len(s.probes))
	for i, p := range s.probes {
		// buffered so an abandoned probe can still finish and exit
		results[i] = make(chan probeResult, 1)
		go func(p Probe, out chan<- probeResult) {
			pctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()
			obs, err := safeObserve(pctx, p)
			out <- probeResult{obs: obs, err: err}
		}(p, results[i])
	}

	report := Report{Observed: map[string]int{}}
	seen := map[string]struct{}{}
	deadline := time.NewTimer(s.timeout + 100*time.Millisecond)
	defer deadline.Stop()
	expired := false

	for i, p := range s.probes {
		var res probeResult
		if expired {
			// later probes get no extra time, but keep whatever already arrived
			select {
			case res = <-results[i]:
			default:
				res = probeResult{err: fmt.Errorf("probe did not return within %s", s.timeout)}
			}
		} else {
			select {
			case res = <-results[i]:
			case <-deadline.C:
				expired = true
				res = probeResult{err: fmt.Errorf("probe did not return within %s", s.timeout)}
			case <-ctx.Done():
				res = probeResult{err: ctx.Err()}
			}
		}
		if res.err != nil {
			err := fmt.Errorf("%w: %s: %v", device.ErrScanProbeFailed, p.Name(), res.err)
			report.ProbeErrors = multierr.Append(report.ProbeErrors, err)
			metrics.ProbeFailures.WithLabelValues(p.Name()).Inc()
			s.log.Warn().Err(res.err).Str("probe", p.Name()).Msg("scan probe failed, skipping")
			continue
		}
		report.Observed[p.Name()] = len(res.obs)
		for _, obs := range res.obs {
			cand, ok := s.classifier.Classify(obs)
			if !ok {
				continue
			}
			cand, err := cand.Normalize()
			if err != nil {
				s.log.Debug().Err(err).Str("probe", p.Name()).Str("name", obs.Name).Msg("discarding candidate")
				continue
			}
			key := cand.DedupKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			report.Candidates = append(report.Candidates, cand)
		}
	}
	s.log.Debug().Int("candidates", len(report.Candidates)).Int("failed_probes", len(report.FailedProbes())).Msg("scan complete")
	return report
}

func safeObserve(ctx context.Context, p Probe) (obs []Observation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return p.Observe(ctx)
}
