// Package device standardizes the records shared between scanning, the registry, and sync layers.
package device

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the families of trading endpoints the registry tracks.
type Kind string

const (
	// KindRemovableStorage covers USB sticks and external drives carrying trading material.
	KindRemovableStorage Kind = "removable_storage"
	// KindTerminalProcess covers running trading terminals.
	KindTerminalProcess Kind = "terminal_process"
	// KindCredentialIntegration covers API integrations whose keys are present locally.
	KindCredentialIntegration Kind = "credential_integration"
	// KindWalletExtension covers browser wallets, hardware wallet apps, and keystore files.
	KindWalletExtension Kind = "wallet_extension"
)

// Variant narrows a Kind; the allowed values depend on the kind.
type Variant string

const (
	VariantV4 Variant = "v4"
	VariantV5 Variant = "v5"

	VariantA Variant = "A"
	VariantB Variant = "B"

	VariantBrowser  Variant = "browser"
	VariantHardware Variant = "hardware"
	VariantKeystore Variant = "keystore"
)

var variantsByKind = map[Kind][]Variant{
	KindRemovableStorage:      nil,
	KindTerminalProcess:       {VariantV4, VariantV5},
	KindCredentialIntegration: {VariantA, VariantB},
	KindWalletExtension:       {VariantBrowser, VariantHardware, VariantKeystore},
}

var idPrefix = map[Kind]string{
	KindRemovableStorage:      "usb",
	KindTerminalProcess:       "term",
	KindCredentialIntegration: "cred",
	KindWalletExtension:       "wallet",
}

// Type is the tagged variant describing what a device is.
type Type struct {
	Kind    Kind    `json:"kind" yaml:"kind"`
	Variant Variant `json:"variant,omitempty" yaml:"variant,omitempty"`
}

// String renders the type as kind or kind/variant.
func (t Type) String() string {
	if t.Variant == "" {
		return string(t.Kind)
	}
	return string(t.Kind) + "/" + string(t.Variant)
}

// Validate reports whether the kind is known and the variant belongs to it.
func (t Type) Validate() error {
	variants, ok := variantsByKind[t.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown device kind %q", ErrInvalidDevice, t.Kind)
	}
	if len(variants) == 0 {
		if t.Variant != "" {
			return fmt.Errorf("%w: kind %s takes no variant, got %q", ErrInvalidDevice, t.Kind, t.Variant)
		}
		return nil
	}
	for _, v := range variants {
		if v == t.Variant {
			return nil
		}
	}
	return fmt.Errorf("%w: variant %q is not valid for %s", ErrInvalidDevice, t.Variant, t.Kind)
}

// ParseType accepts "kind" or "kind/variant" and validates the result.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	kind, variant, _ := strings.Cut(s, "/")
	t := Type{Kind: Kind(strings.ToLower(kind)), Variant: normalizeVariant(variant)}
	if err := t.Validate(); err != nil {
		return Type{}, err
	}
	return t, nil
}

func normalizeVariant(v string) Variant {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "a":
		return VariantA
	case "b":
		return VariantB
	}
	return Variant(strings.ToLower(v))
}

// Status is the sync lifecycle state of a device.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusConnected Status = "connected"
	StatusSyncing   Status = "syncing"
	StatusOnline    Status = "online"
	StatusError     Status = "error"
)

// Terminal reports whether a sync attempt ends in this status.
func (s Status) Terminal() bool { return s == StatusOnline || s == StatusError }

// Device is one tracked endpoint together with its sync history.
type Device struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	DisplayName  string            `json:"displayName"`
	Capabilities []string          `json:"capabilities"`
	Config       map[string]string `json:"config"`
	Status       Status            `json:"status"`
	LastSync     *time.Time        `json:"lastSync,omitempty"`
	SyncCount    int               `json:"syncCount"`
	LastError    string            `json:"lastError,omitempty"`

	CreatedAt       time.Time `json:"createdAt"`
	StatusChangedAt time.Time `json:"statusChangedAt"`
	// SyncAttempt numbers BeginSync calls; only the latest attempt may set the terminal status.
	SyncAttempt uint64 `json:"syncAttempt"`
	// Version increments on every persisted mutation of the record.
	Version uint64 `json:"version"`
}

// Clone returns a deep copy so callers never share maps or slices with the registry.
func (d Device) Clone() Device {
	out := d
	out.Capabilities = append([]string(nil), d.Capabilities...)
	out.Config = cloneConfig(d.Config)
	if d.LastSync != nil {
		ts := *d.LastSync
		out.LastSync = &ts
	}
	return out
}

// Candidate is a scanner or registration proposal for a device record.
type Candidate struct {
	ID           string
	Type         Type
	NaturalKey   string
	DisplayName  string
	Capabilities []string
	Config       map[string]string
	Source       string
}

// DedupKey identifies a candidate by derived type and natural key.
func (c Candidate) DedupKey() string {
	return c.Type.String() + "|" + strings.ToLower(c.NaturalKey)
}

// Normalize fills in a derived ID and display name and sorts capabilities.
func (c Candidate) Normalize() (Candidate, error) {
	if err := c.Type.Validate(); err != nil {
		return c, err
	}
	if c.ID == "" {
		if strings.TrimSpace(c.NaturalKey) == "" {
			return c, fmt.Errorf("%w: candidate needs an id or natural key", ErrInvalidDevice)
		}
		c.ID = DeriveID(c.Type, c.NaturalKey)
	}
	if err := ValidateID(c.ID); err != nil {
		return c, err
	}
	if c.DisplayName == "" {
		c.DisplayName = c.NaturalKey
	}
	if c.DisplayName == "" {
		c.DisplayName = c.Type.String()
	}
	c.Capabilities = normalizeCapabilities(c.Capabilities)
	c.Config = cloneConfig(c.Config)
	return c, nil
}

var deviceNamespace = uuid.MustParse("6f1c2a4e-9d1b-4a53-8d6e-3b0f6c1e7a42")

// DeriveID maps a type and natural key to a stable identifier.
func DeriveID(t Type, naturalKey string) string {
	sum := uuid.NewSHA1(deviceNamespace, []byte(t.String()+"|"+strings.ToLower(strings.TrimSpace(naturalKey))))
	prefix := idPrefix[t.Kind]
	if prefix == "" {
		prefix = "dev"
	}
	return prefix + "-" + strings.ReplaceAll(sum.String(), "-", "")[:12]
}

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateID rejects ids that cannot double as a remote directory name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: id %q", ErrInvalidDevice, id)
	}
	return nil
}

// MergeCapabilities returns the sorted union of two capability lists.
func MergeCapabilities(have, add []string) []string {
	all := make([]string, 0, len(have)+len(add))
	all = append(all, have...)
	return normalizeCapabilities(append(all, add...))
}

func normalizeCapabilities(caps []string) []string {
	set := make(map[string]struct{}, len(caps))
	for _, c := range caps {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			set[c] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func cloneConfig(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
