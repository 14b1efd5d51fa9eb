package txcodec

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// addressVersion mirrors the chain's mainnet/testnet single-sig version
// bytes (20-byte hash160 + version, base58check-encoded), the same
// Hash160-then-checksum-encode shape the teacher uses to derive Bitcoin
// P2WPKH addresses in bitcoin/signer.go, generalized to this chain's
// account address format instead of a script address.
type addressVersion byte

const (
	versionMainnetSingleSig addressVersion = 22
	versionTestnetSingleSig addressVersion = 26
)

// DeriveAddress derives an account address from a public key, the chain
// equivalent of btcutil.Hash160(pubKey)+checksum used in
// bitcoin/signer.go's NewBTCDSigner.
func DeriveAddress(pubKeyCompressed []byte, mainnet bool) string {
	version := versionTestnetSingleSig
	if mainnet {
		version = versionMainnetSingleSig
	}
	hash := btcutil.Hash160(pubKeyCompressed)
	return base58.CheckEncode(hash, byte(version))
}

// ValidAddress performs a light well-formedness check (decodable
// base58check, correct payload length) without asserting network.
func ValidAddress(address string) bool {
	if address == "" {
		return false
	}
	payload, _, err := base58.CheckDecode(address)
	return err == nil && len(payload) == 20
}
