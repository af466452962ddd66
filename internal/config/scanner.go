package config

import "time"

// TerminalMatcher maps a trading terminal executable to its generation.
type TerminalMatcher struct {
	Process string `yaml:"process"`
	Variant string `yaml:"variant"` // v4|v5
}

// CredentialSpec names an API integration and the credential keys that prove it is configured.
type CredentialSpec struct {
	Name         string   `yaml:"name"`
	Variant      string   `yaml:"variant"` // A|B
	Keys         []string `yaml:"keys"`
	Capabilities []string `yaml:"capabilities"`
}

// Wallets lists where wallet extensions, companion apps, and keystores live.
type Wallets struct {
	BrowserProfiles []string          `yaml:"browser_profiles"`
	Extensions      map[string]string `yaml:"extensions"` // extension id -> label
	HardwareApps    []string          `yaml:"hardware_apps"`
	Keystores       []string          `yaml:"keystores"`
}

// Scanner configures the local probes; nothing here triggers network access.
type Scanner struct {
	ProbeTimeout  Duration          `yaml:"probe_timeout"`
	EnvFile       string            `yaml:"env_file"`
	Terminals     []TerminalMatcher `yaml:"terminals"`
	VolumeRoots   []string          `yaml:"volume_roots"`
	VolumeMarkers []string          `yaml:"volume_markers"`
	Credentials   []CredentialSpec  `yaml:"credentials"`
	Wallets       Wallets           `yaml:"wallets"`
}

// DefaultScanner returns probe settings for common MetaTrader, broker, and wallet setups.
func DefaultScanner() Scanner {
	return Scanner{
		ProbeTimeout: Duration(5 * time.Second),
		EnvFile:      ".env",
		Terminals: []TerminalMatcher{
			{Process: "terminal.exe", Variant: "v4"},
			{Process: "terminal64.exe", Variant: "v5"},
		},
		VolumeRoots:   []string{"/media", "/run/media", "/Volumes"},
		VolumeMarkers: []string{".devsync", "MQL4", "MQL5"},
		Credentials: []CredentialSpec{
			{Name: "alpaca", Variant: "A", Keys: []string{"ALPACA_API_KEY", "ALPACA_SECRET_KEY"}, Capabilities: []string{"trading", "market-data"}},
			{Name: "binance", Variant: "B", Keys: []string{"BINANCE_API_KEY", "BINANCE_API_SECRET"}, Capabilities: []string{"trading"}},
		},
		Wallets: Wallets{
			Extensions: map[string]string{
				"nkbihfbeogaeaoehlefnkodbefgpgknn": "MetaMask",
				"bfnaelmomeimhlpmgjnjophhpkkoljpa": "Phantom",
			},
			HardwareApps: []string{"Ledger Live", "Trezor Suite"},
			Keystores:    []string{"~/.config/solana/id.json"},
		},
	}
}
