package noncecoord

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sponsorrelay/relay/internal/chainclient"
	"github.com/sponsorrelay/relay/internal/sponsorkeys"
	"github.com/sponsorrelay/relay/internal/txcodec"
)

func mustWallets(t *testing.T, addresses ...string) []sponsorkeys.Wallet {
	t.Helper()
	wallets := make([]sponsorkeys.Wallet, len(addresses))
	for i, addr := range addresses {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		wallets[i] = sponsorkeys.Wallet{Index: i, Address: addr, PrivateKey: crypto.FromECDSA(key)}
	}
	return wallets
}

func newTestCoordinator(t *testing.T, nonceByAddress map[string]uint64, addresses ...string) (*Coordinator, *chainclient.MockClient) {
	t.Helper()
	mock := chainclient.NewMockClient()
	mock.NonceInfoFunc = func(_ context.Context, address string) (*chainclient.NonceInfo, error) {
		return &chainclient.NonceInfo{PossibleNextNonce: nonceByAddress[address]}, nil
	}
	c := New(mock, mustWallets(t, addresses...), "", zerolog.Nop())
	c.Start()
	t.Cleanup(c.Stop)
	return c, mock
}

func TestAssignNonceSingleWalletHappyPath(t *testing.T) {
	c, _ := newTestCoordinator(t, map[string]uint64{"addr0": 100}, "addr0")

	nonce, walletIndex, err := c.AssignNonce(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(100), nonce)
	require.Equal(t, 0, walletIndex)

	snap, ok := c.Snapshot(0)
	require.True(t, ok)
	require.Equal(t, uint64(101), snap.Available[0])
	require.Len(t, snap.Available, 19)
	require.Equal(t, uint64(119), snap.Available[len(snap.Available)-1])
	require.Equal(t, []uint64{100}, snap.ReservedNonces)
}

func TestAssignNonceChainingLimitBackpressure(t *testing.T) {
	c, _ := newTestCoordinator(t, map[string]uint64{"addr0": 500}, "addr0")

	var lastNonce uint64
	for i := 0; i < ChainingLimit; i++ {
		n, _, err := c.AssignNonce(context.Background())
		require.NoError(t, err)
		lastNonce = n
	}
	require.Equal(t, uint64(519), lastNonce)

	_, _, err := c.AssignNonce(context.Background())
	require.Error(t, err)
	limitErr, ok := err.(*ChainingLimitExceeded)
	require.True(t, ok)
	require.Equal(t, ChainingLimit, limitErr.MempoolDepth)

	c.ReleaseNonce(0, 500, "tx-a", big.NewInt(300))

	n, _, err := c.AssignNonce(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(520), n)

	snap, _ := c.Snapshot(0)
	require.Equal(t, big.NewInt(300), snap.FeesToday)
	require.Equal(t, uint64(1), snap.TxCount)
	require.Equal(t, uint64(1), snap.TxCountToday)
}

func TestAssignNonceRoundRobinAcrossThreeWallets(t *testing.T) {
	c, _ := newTestCoordinator(t, map[string]uint64{"a": 100, "b": 200, "c": 300}, "a", "b", "c")

	want := [][2]uint64{{100, 0}, {200, 1}, {300, 2}, {101, 0}, {201, 1}, {301, 2}}
	for _, w := range want {
		n, idx, err := c.AssignNonce(context.Background())
		require.NoError(t, err)
		require.Equal(t, w[0], n)
		require.Equal(t, int(w[1]), idx)
	}
}

func TestReleaseNonceWithoutTxidReturnsToAvailable(t *testing.T) {
	c, _ := newTestCoordinator(t, map[string]uint64{"addr0": 100}, "addr0")

	nonce, _, err := c.AssignNonce(context.Background())
	require.NoError(t, err)

	c.ReleaseNonce(0, nonce, "", nil)

	snap, _ := c.Snapshot(0)
	require.Contains(t, snap.Available, nonce)
	require.NotContains(t, snap.ReservedNonces, nonce)
}

func TestReleaseNonceConsumedOnSuccess(t *testing.T) {
	c, _ := newTestCoordinator(t, map[string]uint64{"addr0": 100}, "addr0")

	nonce, _, err := c.AssignNonce(context.Background())
	require.NoError(t, err)

	c.ReleaseNonce(0, nonce, "tx-1", big.NewInt(500))

	snap, _ := c.Snapshot(0)
	require.NotContains(t, snap.Available, nonce)
	require.NotContains(t, snap.ReservedNonces, nonce)
	require.Equal(t, big.NewInt(500), snap.FeesCumulative)
	require.Equal(t, uint64(1), snap.TxCount)
}

func TestReleaseUnknownNonceIsNoOp(t *testing.T) {
	c, _ := newTestCoordinator(t, map[string]uint64{"addr0": 100}, "addr0")
	_, _, err := c.AssignNonce(context.Background())
	require.NoError(t, err)

	c.ReleaseNonce(0, 9999, "", nil)

	snap, _ := c.Snapshot(0)
	require.NotContains(t, snap.Available, uint64(9999))
}

func TestReconcileGapRecovery(t *testing.T) {
	c, mock := newTestCoordinator(t, map[string]uint64{"addr0": 100}, "addr0")

	// Seed the pool at 100 and reserve 100, then have the chain report a
	// next nonce (48) behind the pool's head, with a gap at 45.
	_, _, err := c.AssignNonce(context.Background())
	require.NoError(t, err)

	mock.NonceInfoFunc = func(_ context.Context, _ string) (*chainclient.NonceInfo, error) {
		return &chainclient.NonceInfo{PossibleNextNonce: 48, DetectedMissingNonces: []uint64{45}}, nil
	}

	c.ReconcileNow()

	snap, ok := c.Snapshot(0)
	require.True(t, ok)
	require.Equal(t, uint64(1), snap.GapsRecovered)
	require.Contains(t, snap.Available, uint64(45))
	require.NotContains(t, snap.Available, uint64(100))
	require.Contains(t, snap.ReservedNonces, uint64(100))
}

func TestAssignNonceRequiresConfiguredWallets(t *testing.T) {
	c, _ := newTestCoordinator(t, map[string]uint64{})
	_, _, err := c.AssignNonce(context.Background())
	require.Error(t, err)
}

func TestAssignAndSignProducesSponsorSignedTransaction(t *testing.T) {
	c, _ := newTestCoordinator(t, map[string]uint64{"addr0": 10}, "addr0")

	parsed := &txcodec.ParsedTransaction{
		AuthMode:      txcodec.AuthModeSponsorPending,
		OriginAddress: "SP_ORIGIN",
		OriginNonce:   1,
		Events: []txcodec.TransferEvent{
			{TokenKind: txcodec.TokenKindNative, Amount: big.NewInt(100), Sender: "SP_ORIGIN", Recipient: "SP_MERCHANT"},
		},
	}

	signed, txid, walletIndex, nonce, err := c.AssignAndSign(context.Background(), parsed, 300)
	require.NoError(t, err)
	require.Equal(t, 0, walletIndex)
	require.Equal(t, uint64(10), nonce)
	require.NotEmpty(t, txid)
	require.Equal(t, txcodec.AuthModeSponsorSigned, signed.AuthMode)
}

func TestReconcileGapFillBroadcastsSignedSelfTransfer(t *testing.T) {
	c, mock := newTestCoordinator(t, map[string]uint64{"addr0": 100}, "addr0")
	c.gapFillRecipient = "SP_GAPFILL"

	var broadcasted []byte
	mock.BroadcastFunc = func(_ context.Context, raw []byte) (*chainclient.BroadcastResult, error) {
		broadcasted = raw
		return &chainclient.BroadcastResult{Txid: "0xgapfill"}, nil
	}

	_, _, err := c.AssignNonce(context.Background())
	require.NoError(t, err)

	mock.NonceInfoFunc = func(_ context.Context, _ string) (*chainclient.NonceInfo, error) {
		return &chainclient.NonceInfo{PossibleNextNonce: 100, DetectedMissingNonces: []uint64{150}}, nil
	}

	c.ReconcileNow()

	require.NotEmpty(t, broadcasted, "a gap fill must broadcast real signed transaction bytes")

	snap, ok := c.Snapshot(0)
	require.True(t, ok)
	require.Equal(t, uint64(1), snap.GapsFilled)
}
