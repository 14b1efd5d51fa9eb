package txcodec

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sponsorrelay/relay/internal/relayerr"
)

// authDomain separates this structured-data signature from any other use
// of the same secp256k1 key, the same role EthereumSigner's domain
// constant plays ahead of a message hash.
const authDomain = "sponsor-relay-auth-v1"

// AuthSignature is the optional structured-data signature accepted by
// /relay and /sponsor per spec.md §4.8.1 step 2 and §6's auth? field: a
// caller proves control of the origin address without that proof itself
// authorizing anything beyond binding action+expiry.
type AuthSignature struct {
	Action    string
	Expiry    time.Time
	Signer    string
	Signature []byte // 65-byte recoverable secp256k1 signature
}

// authDigest hashes the domain tag, action, and expiry (unix seconds) the
// same way signingDigest hashes a canonical wire encoding: a fixed,
// order-preserving byte layout fed through Keccak256.
func authDigest(action string, expiry time.Time) []byte {
	buf := make([]byte, 0, len(authDomain)+len(action)+8)
	buf = append(buf, authDomain...)
	buf = append(buf, action...)
	var expBytes [8]byte
	binary.BigEndian.PutUint64(expBytes[:], uint64(expiry.Unix()))
	buf = append(buf, expBytes[:]...)
	return crypto.Keccak256(buf)
}

// VerifyAuth validates an optional auth signature against the action the
// caller is invoking it for. A nil auth is valid (the field is optional);
// a non-nil auth must name the right action, not be expired, and recover
// to the address it claims to be signed by.
func VerifyAuth(auth *AuthSignature, expectedAction string, mainnet bool, now time.Time) error {
	if auth == nil {
		return nil
	}
	if auth.Action != expectedAction {
		return relayerr.New(relayerr.KindInvalidAuthSignature,
			"auth signature action does not match this endpoint", nil)
	}
	if !auth.Expiry.After(now) {
		return relayerr.New(relayerr.KindAuthExpired, "auth signature has expired", nil)
	}
	if len(auth.Signature) != 65 {
		return relayerr.New(relayerr.KindInvalidAuthSignature, "auth signature must be 65 bytes", nil)
	}

	digest := authDigest(auth.Action, auth.Expiry)
	pub, err := crypto.SigToPub(digest, auth.Signature)
	if err != nil {
		return relayerr.New(relayerr.KindInvalidAuthSignature, "auth signature does not recover", err)
	}
	recovered := DeriveAddress(crypto.CompressPubkey(pub), mainnet)
	if recovered != auth.Signer {
		return relayerr.New(relayerr.KindInvalidAuthSignature, "auth signature does not match signer", nil)
	}
	return nil
}
