// Package sponsorkeys derives the relay's pool of sponsor wallets, the
// wallets the nonce coordinator (C3) round-robins across.
//
// Grounded on the teacher's internal/services/hdkey.HDKeyService (BIP32
// derivation via btcutil/hdkeychain) and internal/services/bip39service
// (mnemonic handling via tyler-smith/go-bip39), generalized from an
// arbitrary m/44'/.../i derivation helper into the relay's fixed sponsor
// derivation path.
package sponsorkeys

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/sponsorrelay/relay/internal/config"
	"github.com/sponsorrelay/relay/internal/relayerr"
	"github.com/sponsorrelay/relay/internal/txcodec"
)

// derivationPath uses an unregistered coin type (5757) reserved for this
// relay's sponsor wallets; it only needs to be stable across restarts, not
// registered with SLIP-44.
const derivationPath = "m/44'/5757'/0'/0/%d"

// Wallet is one sponsor account: its pool index, derived address, and raw
// secp256k1 private key bytes ready for txcodec.Sign.
type Wallet struct {
	Index      int
	Address    string
	PrivateKey []byte
}

// Derive builds cfg.Sponsor.WalletCount wallets from either a BIP39
// mnemonic (HD-derived at derivationPath) or a single raw hex private key
// (index 0 only, validated in config.Validate).
func Derive(cfg config.SponsorConfig, mainnet bool) ([]Wallet, error) {
	if cfg.RawPrivateKeyHex != "" {
		key, err := privateKeyFromHex(cfg.RawPrivateKeyHex)
		if err != nil {
			return nil, relayerr.New(relayerr.KindInternal, "parse sponsor raw private key", err)
		}
		addr, err := addressFromPrivateKey(key, mainnet)
		if err != nil {
			return nil, err
		}
		return []Wallet{{Index: 0, Address: addr, PrivateKey: key}}, nil
	}

	if !bip39.IsMnemonicValid(cfg.Mnemonic) {
		return nil, relayerr.New(relayerr.KindInternal, "sponsor mnemonic is not a valid bip39 phrase", nil)
	}
	seed := bip39.NewSeed(cfg.Mnemonic, cfg.MnemonicPassphrase)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, relayerr.New(relayerr.KindInternal, "derive master key", err)
	}

	count := cfg.WalletCount
	if count <= 0 {
		count = 1
	}

	wallets := make([]Wallet, 0, count)
	for i := 0; i < count; i++ {
		child, err := derivePath(master, fmt.Sprintf(derivationPath, i))
		if err != nil {
			return nil, relayerr.New(relayerr.KindInternal, fmt.Sprintf("derive sponsor wallet %d", i), err)
		}
		ecPriv, err := child.ECPrivKey()
		if err != nil {
			return nil, relayerr.New(relayerr.KindInternal, fmt.Sprintf("extract private key for wallet %d", i), err)
		}
		key := ecPriv.Serialize()
		addr, err := addressFromPrivateKey(key, mainnet)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, Wallet{Index: i, Address: addr, PrivateKey: key})
	}
	return wallets, nil
}

func addressFromPrivateKey(key []byte, mainnet bool) (string, error) {
	ecdsaKey, err := crypto.ToECDSA(key)
	if err != nil {
		return "", relayerr.New(relayerr.KindInternal, "reconstruct sponsor public key", err)
	}
	pub := crypto.CompressPubkey(&ecdsaKey.PublicKey)
	return txcodec.DeriveAddress(pub, mainnet), nil
}

func privateKeyFromHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hex private key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	return b, nil
}

// derivePath walks a BIP32 path of the form m/44'/5757'/0'/0/i, mirroring
// HDKeyService.DerivePath's hardened-suffix parsing.
func derivePath(key *hdkeychain.ExtendedKey, path string) (*hdkeychain.ExtendedKey, error) {
	path = strings.TrimPrefix(path, "m/")
	current := key
	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}
		hardened := strings.HasSuffix(component, "'")
		component = strings.TrimSuffix(component, "'")

		var index uint32
		if _, err := fmt.Sscanf(component, "%d", &index); err != nil {
			return nil, fmt.Errorf("invalid path component %q: %w", component, err)
		}
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		child, err := current.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("derive child at %s: %w", component, err)
		}
		current = child
	}
	return current, nil
}
