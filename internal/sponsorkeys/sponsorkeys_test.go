package sponsorkeys

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"

	"github.com/sponsorrelay/relay/internal/config"
	"github.com/sponsorrelay/relay/internal/txcodec"
)

func testMnemonic(t *testing.T) string {
	t.Helper()
	entropy := make([]byte, 16)
	mnemonic, err := bip39.NewMnemonic(entropy)
	require.NoError(t, err)
	return mnemonic
}

func TestDeriveFromMnemonicProducesDistinctWallets(t *testing.T) {
	cfg := config.SponsorConfig{Mnemonic: testMnemonic(t), WalletCount: 3}

	wallets, err := Derive(cfg, false)
	require.NoError(t, err)
	require.Len(t, wallets, 3)

	seen := map[string]bool{}
	for i, w := range wallets {
		require.Equal(t, i, w.Index)
		require.Len(t, w.PrivateKey, 32)
		require.True(t, txcodec.ValidAddress(w.Address))
		require.False(t, seen[w.Address], "wallet addresses must be distinct")
		seen[w.Address] = true
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	mnemonic := testMnemonic(t)
	cfg := config.SponsorConfig{Mnemonic: mnemonic, WalletCount: 2}

	first, err := Derive(cfg, false)
	require.NoError(t, err)
	second, err := Derive(cfg, false)
	require.NoError(t, err)

	for i := range first {
		require.Equal(t, first[i].Address, second[i].Address)
	}
}

func TestDeriveRejectsInvalidMnemonic(t *testing.T) {
	cfg := config.SponsorConfig{Mnemonic: "not a real mnemonic phrase at all", WalletCount: 1}
	_, err := Derive(cfg, false)
	require.Error(t, err)
}

func TestDeriveRejectsShortRawPrivateKey(t *testing.T) {
	cfg := config.SponsorConfig{RawPrivateKeyHex: "0x" + "11"}
	_, err := Derive(cfg, false)
	require.Error(t, err, "a non-32-byte key must be rejected")
}
