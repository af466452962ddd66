package scanner

import (
	"context"
	"path/filepath"
	"sort"

	solana "github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"devsync-go/internal/config"
)

const solanaKeypairLen = 64

// WalletProbe looks for browser wallet extensions in known profiles and for keystore files.
// Keystores are reduced to their public key; private key material never leaves this probe.
type WalletProbe struct {
	cfg config.Wallets
	log zerolog.Logger
}

// NewWalletProbe returns a probe over the configured wallet locations.
func NewWalletProbe(cfg config.Wallets, log zerolog.Logger) *WalletProbe {
	return &WalletProbe{cfg: cfg, log: log}
}

// Name implements Probe.
func (p *WalletProbe) Name() string { return ProbeWallet }

// Observe implements Probe.
func (p *WalletProbe) Observe(ctx context.Context) ([]Observation, error) {
	var out []Observation

	ids := make([]string, 0, len(p.cfg.Extensions))
	for id := range p.cfg.Extensions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, profile := range p.cfg.BrowserProfiles {
		profile = expandHome(profile)
		for _, id := range ids {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			dir := filepath.Join(profile, "Extensions", id)
			if !isDir(dir) {
				continue
			}
			label := p.cfg.Extensions[id]
			out = append(out, Observation{
				Probe: ProbeWallet,
				Name:  label + " (" + filepath.Base(profile) + ")",
				Path:  dir,
				Hint:  "browser",
				Attrs: map[string]string{"extension_id": id, "profile": profile, "wallet": label},
			})
		}
	}

	for _, path := range p.cfg.Keystores {
		path = expandHome(path)
		if !exists(path) {
			continue
		}
		pub, ok := p.keystorePublicKey(path)
		if !ok {
			continue
		}
		out = append(out, Observation{
			Probe: ProbeWallet,
			Name:  "solana " + shortKey(pub),
			Path:  path,
			Hint:  "keystore",
			Attrs: map[string]string{"chain": "solana", "public_key": pub, "path": path},
		})
	}
	return out, nil
}

func (p *WalletProbe) keystorePublicKey(path string) (string, bool) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		p.log.Warn().Err(err).Str("path", path).Msg("unreadable keystore skipped")
		return "", false
	}
	if len(key) != solanaKeypairLen {
		p.log.Warn().Int("len", len(key)).Str("path", path).Msg("keystore has unexpected length")
		return "", false
	}
	return key.PublicKey().String(), true
}

func shortKey(pub string) string {
	if len(pub) <= 8 {
		return pub
	}
	return pub[:4] + "…" + pub[len(pub)-4:]
}
