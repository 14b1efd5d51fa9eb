package txcodec

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func samplePendingTx(t *testing.T) *ParsedTransaction {
	t.Helper()
	w := &wireTx{
		AuthMode:        AuthModeSponsorPending,
		OriginAddress:   "SP_ORIGIN",
		OriginNonce:     4,
		OriginSignature: make([]byte, 65),
		Events: []wireEvent{
			{TokenKind: TokenKindNative, Amount: big.NewInt(1500), Sender: "SP_ORIGIN", Recipient: "SP_MERCHANT"},
		},
	}
	for i := range w.OriginSignature {
		w.OriginSignature[i] = byte(i)
	}
	p, err := Parse(encode(w))
	require.NoError(t, err)
	return p
}

func TestParseSerializeRoundTrip(t *testing.T) {
	p := samplePendingTx(t)
	again, err := Parse(p.Raw())
	require.NoError(t, err)

	require.Equal(t, p.AuthMode, again.AuthMode)
	require.Equal(t, p.OriginAddress, again.OriginAddress)
	require.Equal(t, p.OriginNonce, again.OriginNonce)
	require.Equal(t, p.OriginSignature, again.OriginSignature)
	require.Len(t, again.Events, 1)
	require.Equal(t, p.Events[0].Amount.String(), again.Events[0].Amount.String())
	require.Equal(t, p.Events[0].Recipient, again.Events[0].Recipient)
}

func TestRequireSponsorPending(t *testing.T) {
	p := samplePendingTx(t)
	require.NoError(t, RequireSponsorPending(p))

	originOnly := *p
	originOnly.AuthMode = AuthModeOriginOnly
	require.Error(t, RequireSponsorPending(&originOnly))

	noOriginSig := *p
	noOriginSig.OriginSignature = nil
	require.Error(t, RequireSponsorPending(&noOriginSig))

	alreadySigned := *p
	alreadySigned.SponsorSignature = make([]byte, 65)
	require.Error(t, RequireSponsorPending(&alreadySigned))
}

func TestSignProducesSponsorSignedTransaction(t *testing.T) {
	p := samplePendingTx(t)

	sponsorKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sponsorAddr := DeriveAddress(crypto.CompressPubkey(&sponsorKey.PublicKey), false)

	signed, txid, err := Sign(p, crypto.FromECDSA(sponsorKey), sponsorAddr, 7, 3000)
	require.NoError(t, err)
	require.NotEmpty(t, txid)
	require.Equal(t, AuthModeSponsorSigned, signed.AuthMode)
	require.Equal(t, sponsorAddr, signed.SponsorAddress)
	require.EqualValues(t, 7, signed.SponsorNonce)
	require.EqualValues(t, 3000, signed.Fee)
	require.Len(t, signed.SponsorSignature, 65)

	// Re-parsing the signed bytes must reproduce the same signature and
	// remain sign∘parse consistent.
	reparsed, err := Parse(signed.Raw())
	require.NoError(t, err)
	require.Equal(t, signed.SponsorSignature, reparsed.SponsorSignature)
}

func TestSignRejectsAlreadySigned(t *testing.T) {
	p := samplePendingTx(t)
	sponsorKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	sponsorAddr := DeriveAddress(crypto.CompressPubkey(&sponsorKey.PublicKey), false)

	signed, _, err := Sign(p, crypto.FromECDSA(sponsorKey), sponsorAddr, 7, 3000)
	require.NoError(t, err)

	_, _, err = Sign(signed, crypto.FromECDSA(sponsorKey), sponsorAddr, 8, 3000)
	require.Error(t, err)
}

func TestExtractPaymentSingleMatch(t *testing.T) {
	p := samplePendingTx(t)
	payment, err := ExtractPayment(p, "SP_MERCHANT")
	require.NoError(t, err)
	require.Equal(t, "1500", payment.Amount.String())
	require.Equal(t, "SP_ORIGIN", payment.Sender)
}

func TestExtractPaymentNoMatch(t *testing.T) {
	p := samplePendingTx(t)
	_, err := ExtractPayment(p, "SP_SOMEONE_ELSE")
	require.Error(t, err)
}

func TestExtractPaymentAmbiguous(t *testing.T) {
	w := &wireTx{
		AuthMode: AuthModeSponsorPending,
		Events: []wireEvent{
			{Amount: big.NewInt(100), Sender: "SP_A", Recipient: "SP_MERCHANT"},
			{Amount: big.NewInt(200), Sender: "SP_B", Recipient: "SP_MERCHANT"},
		},
	}
	p, err := Parse(encode(w))
	require.NoError(t, err)

	_, err = ExtractPayment(p, "SP_MERCHANT")
	require.Error(t, err)
}

func TestDeriveAddressAndValidAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := DeriveAddress(crypto.CompressPubkey(&key.PublicKey), true)
	require.True(t, ValidAddress(addr))
	require.False(t, ValidAddress(""))
	require.False(t, ValidAddress("not-base58check"))
}
