package txcodec

import "math/big"

// AuthMode mirrors the three-stage sponsorship lifecycle from spec.md §4.2:
// a transaction starts origin-only, moves to sponsor-pending once the
// origin has signed and left the fee-payer slot blank, and becomes
// sponsor-signed once the relay countersigns.
type AuthMode byte

const (
	AuthModeOriginOnly AuthMode = iota
	AuthModeSponsorPending
	AuthModeSponsorSigned
)

func (m AuthMode) String() string {
	switch m {
	case AuthModeOriginOnly:
		return "origin-only"
	case AuthModeSponsorPending:
		return "sponsor-pending"
	case AuthModeSponsorSigned:
		return "sponsor-signed"
	default:
		return "unknown"
	}
}

// TokenKind distinguishes the chain's native asset from fungible tokens
// identified by a contract-qualified asset ID.
type TokenKind byte

const (
	TokenKindNative TokenKind = iota
	TokenKindFT
)

// TransferEvent is one value movement carried by a transaction.
type TransferEvent struct {
	TokenKind TokenKind
	AssetID   string
	Amount    *big.Int
	Sender    string
	Recipient string
}

// PaymentEvent is the single transfer event extracted by ExtractPayment,
// asserted to be addressed to the expected recipient and unambiguous.
type PaymentEvent struct {
	TokenKind TokenKind
	AssetID   string
	Amount    *big.Int
	Sender    string
}

// ParsedTransaction is the read-only, validated view over a decoded wire
// blob that the rest of the relay operates on. Signing produces a new raw
// blob and therefore a new ParsedTransaction; this type is never mutated
// in place.
type ParsedTransaction struct {
	AuthMode        AuthMode
	OriginAddress   string
	OriginNonce     uint64
	OriginSignature []byte
	SponsorAddress  string
	SponsorNonce    uint64
	SponsorSignature []byte
	Fee             uint64
	Events          []TransferEvent

	raw []byte
}

// Raw returns the exact bytes this transaction was parsed from (or, for a
// freshly signed transaction, the bytes Sign produced).
func (p *ParsedTransaction) Raw() []byte {
	return append([]byte(nil), p.raw...)
}
