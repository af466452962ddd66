package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	cases := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{in: "terminal_process/v5", want: Type{Kind: KindTerminalProcess, Variant: VariantV5}},
		{in: "credential_integration/a", want: Type{Kind: KindCredentialIntegration, Variant: VariantA}},
		{in: "removable_storage", want: Type{Kind: KindRemovableStorage}},
		{in: "wallet_extension/keystore", want: Type{Kind: KindWalletExtension, Variant: VariantKeystore}},
		{in: "removable_storage/v4", wantErr: true},
		{in: "terminal_process", wantErr: true},
		{in: "toaster", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseType(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDevice))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) Type {
	t.Helper()
	typ, err := ParseType(s)
	require.NoError(t, err)
	return typ
}

func TestDeriveIDStable(t *testing.T) {
	typ := Type{Kind: KindTerminalProcess, Variant: VariantV5}
	a := DeriveID(typ, `C:\Program Files\MetaTrader 5\terminal64.exe`)
	b := DeriveID(typ, `c:\program files\metatrader 5\terminal64.exe`)
	assert.Equal(t, a, b)
	assert.Regexp(t, `^term-[0-9a-f]{12}$`, a)
	assert.NotEqual(t, a, DeriveID(Type{Kind: KindTerminalProcess, Variant: VariantV4}, `C:\Program Files\MetaTrader 5\terminal64.exe`))
	require.NoError(t, ValidateID(a))
}

func TestValidateIDRejectsPaths(t *testing.T) {
	for _, id := range []string{"", "../etc", "a/b", ".hidden", "a..b"} {
		assert.Error(t, ValidateID(id), id)
	}
}

func TestCandidateNormalize(t *testing.T) {
	c, err := Candidate{
		Type:         Type{Kind: KindRemovableStorage},
		NaturalKey:   "TRADEKEY",
		Capabilities: []string{"Backup", "backup", " trading "},
		Config:       map[string]string{"mount": "/media/tradekey"},
	}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DeriveID(c.Type, "TRADEKEY"), c.ID)
	assert.Equal(t, "TRADEKEY", c.DisplayName)
	assert.Equal(t, []string{"backup", "trading"}, c.Capabilities)

	_, err = Candidate{Type: Type{Kind: KindRemovableStorage}}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidDevice)
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	d := Device{ID: "x", Config: map[string]string{"k": "v"}, Capabilities: []string{"trading"}, LastSync: &now}
	c := d.Clone()
	c.Config["k"] = "changed"
	c.Capabilities[0] = "changed"
	*c.LastSync = now.Add(time.Hour)
	assert.Equal(t, "v", d.Config["k"])
	assert.Equal(t, "trading", d.Capabilities[0])
	assert.Equal(t, now, *d.LastSync)
}
