package scanner

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"devsync-go/internal/config"
	"devsync-go/internal/device"
)

// Observation is one raw fact a probe saw on the local machine.
type Observation struct {
	Probe        string
	Name         string
	Path         string
	Hint         string
	Capabilities []string
	Attrs        map[string]string
}

// Matcher recognises observations of one device kind.
type Matcher interface {
	Match(obs Observation) (device.Candidate, bool)
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(Observation) (device.Candidate, bool)

// Match implements Matcher.
func (f MatcherFunc) Match(obs Observation) (device.Candidate, bool) { return f(obs) }

// Classifier maps observations to tagged device types; the first registered matcher wins.
type Classifier struct {
	mu       sync.RWMutex
	matchers []Matcher
}

// NewClassifier returns a classifier holding ms in order.
func NewClassifier(ms ...Matcher) *Classifier {
	return &Classifier{matchers: append([]Matcher(nil), ms...)}
}

// Register appends a matcher; new device kinds are added here rather than in the probes.
func (c *Classifier) Register(m Matcher) {
	c.mu.Lock()
	c.matchers = append(c.matchers, m)
	c.mu.Unlock()
}

// Classify returns the candidate produced by the first matching matcher.
func (c *Classifier) Classify(obs Observation) (device.Candidate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.matchers {
		if cand, ok := m.Match(obs); ok {
			if cand.Source == "" {
				cand.Source = obs.Probe
			}
			return cand, true
		}
	}
	return device.Candidate{}, false
}

// DefaultClassifier builds the matchers for terminals, hardware wallet apps, removable volumes,
// credential integrations, and wallet files.
func DefaultClassifier(cfg config.Scanner) *Classifier {
	c := NewClassifier()
	for _, t := range cfg.Terminals {
		c.Register(TerminalMatcher(t.Process, device.Variant(strings.ToLower(t.Variant))))
	}
	c.Register(HardwareWalletMatcher(cfg.Wallets.HardwareApps...))
	c.Register(MatcherFunc(matchVolume))
	c.Register(MatcherFunc(matchCredential))
	c.Register(MatcherFunc(matchWalletFile))
	return c
}

// TerminalMatcher recognises a trading terminal by executable name.
func TerminalMatcher(process string, variant device.Variant) Matcher {
	return MatcherFunc(func(obs Observation) (device.Candidate, bool) {
		if obs.Probe != ProbeProcess || !strings.EqualFold(obs.Name, process) {
			return device.Candidate{}, false
		}
		key := obs.Path
		if key == "" {
			key = obs.Name
		}
		label := "MetaTrader 4"
		if variant == device.VariantV5 {
			label = "MetaTrader 5"
		}
		if obs.Path != "" {
			label = fmt.Sprintf("%s (%s)", label, filepath.Base(filepath.Dir(obs.Path)))
		}
		return device.Candidate{
			Type:         device.Type{Kind: device.KindTerminalProcess, Variant: variant},
			NaturalKey:   key,
			DisplayName:  label,
			Capabilities: []string{"trading", "market-data"},
			Config:       map[string]string{"process": obs.Name, "exe": obs.Path},
		}, true
	})
}

// HardwareWalletMatcher recognises running hardware wallet companion apps.
func HardwareWalletMatcher(apps ...string) Matcher {
	return MatcherFunc(func(obs Observation) (device.Candidate, bool) {
		if obs.Probe != ProbeProcess {
			return device.Candidate{}, false
		}
		name := strings.TrimSuffix(obs.Name, ".exe")
		for _, app := range apps {
			if strings.EqualFold(name, app) {
				return device.Candidate{
					Type:         device.Type{Kind: device.KindWalletExtension, Variant: device.VariantHardware},
					NaturalKey:   app,
					DisplayName:  app,
					Capabilities: []string{"signing"},
					Config:       map[string]string{"app": app, "exe": obs.Path},
				}, true
			}
		}
		return device.Candidate{}, false
	})
}

func matchVolume(obs Observation) (device.Candidate, bool) {
	if obs.Probe != ProbeVolume {
		return device.Candidate{}, false
	}
	return device.Candidate{
		Type:         device.Type{Kind: device.KindRemovableStorage},
		NaturalKey:   obs.Name,
		DisplayName:  obs.Name,
		Capabilities: append([]string{"backup"}, obs.Capabilities...),
		Config:       cloneAttrs(obs.Attrs),
	}, true
}

func matchCredential(obs Observation) (device.Candidate, bool) {
	if obs.Probe != ProbeCredential {
		return device.Candidate{}, false
	}
	return device.Candidate{
		Type:         device.Type{Kind: device.KindCredentialIntegration, Variant: device.Variant(strings.ToUpper(obs.Hint))},
		NaturalKey:   obs.Name,
		DisplayName:  obs.Name,
		Capabilities: obs.Capabilities,
		Config:       cloneAttrs(obs.Attrs),
	}, true
}

func matchWalletFile(obs Observation) (device.Candidate, bool) {
	if obs.Probe != ProbeWallet {
		return device.Candidate{}, false
	}
	key := obs.Attrs["public_key"]
	if key == "" {
		key = obs.Path
	}
	return device.Candidate{
		Type:         device.Type{Kind: device.KindWalletExtension, Variant: device.Variant(obs.Hint)},
		NaturalKey:   key,
		DisplayName:  obs.Name,
		Capabilities: []string{"signing"},
		Config:       cloneAttrs(obs.Attrs),
	}, true
}

func cloneAttrs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
