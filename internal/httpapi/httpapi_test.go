package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sponsorrelay/relay/internal/apikeys"
	"github.com/sponsorrelay/relay/internal/chainclient"
	"github.com/sponsorrelay/relay/internal/config"
	"github.com/sponsorrelay/relay/internal/dedup"
	"github.com/sponsorrelay/relay/internal/feeestimator"
	"github.com/sponsorrelay/relay/internal/metrics"
	"github.com/sponsorrelay/relay/internal/noncecoord"
	"github.com/sponsorrelay/relay/internal/ratelimit"
	"github.com/sponsorrelay/relay/internal/receipts"
	"github.com/sponsorrelay/relay/internal/settlement"
	"github.com/sponsorrelay/relay/internal/sponsorkeys"
	"github.com/sponsorrelay/relay/internal/stats"
	"github.com/sponsorrelay/relay/internal/txcodec"
)

func defaultMock() *chainclient.MockClient {
	mock := chainclient.NewMockClient()
	mock.NonceInfoFunc = func(_ context.Context, _ string) (*chainclient.NonceInfo, error) {
		return &chainclient.NonceInfo{PossibleNextNonce: 10}, nil
	}
	mock.FeeEstimatesFunc = func(_ context.Context) (*chainclient.FeeEstimates, error) {
		return &chainclient.FeeEstimates{TokenTransfer: chainclient.FeePriorityTiers{Low: 180, Medium: 300, High: 500}}, nil
	}
	mock.BroadcastFunc = func(_ context.Context, _ []byte) (*chainclient.BroadcastResult, error) {
		return &chainclient.BroadcastResult{Txid: "0xabc"}, nil
	}
	mock.GetTransactionFunc = func(_ context.Context, _ string) (*chainclient.TransactionStatus, error) {
		return &chainclient.TransactionStatus{Status: chainclient.StatusSuccess, SenderAddress: "SP_ORIGIN"}, nil
	}
	return mock
}

func mustKey(t *testing.T) []byte {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return crypto.FromECDSA(key)
}

func testDeps(t *testing.T) *Deps {
	t.Helper()
	mock := defaultMock()
	wallets := []sponsorkeys.Wallet{{Index: 0, Address: "SP_SPONSOR", PrivateKey: mustKey(t)}}
	coord := noncecoord.New(mock, wallets, "SP_GAPFILL", zerolog.Nop())
	coord.Start()
	t.Cleanup(coord.Stop)

	feeEst := feeestimator.New(mock, map[feeestimator.Kind]feeestimator.Clamp{
		feeestimator.KindTokenTransfer: {Floor: 100, Ceiling: 1_000_000},
	})
	statsAgg := stats.New()
	receiptsSt := receipts.New(zerolog.Nop())
	dedupSt := dedup.New(zerolog.Nop())
	originRL := ratelimit.New(10, time.Minute)
	keyStore := apikeys.New()
	keyStore.Register(apikeys.Hash("test-key"), apikeys.Tier{
		Name: "standard", RequestsPerMin: 30, RequestsPerDay: 5000, DailyFeeCapUnit: big.NewInt(2_000_000),
	})
	m := metrics.New()

	pipeline := settlement.New(mock, coord, false, feeEst, statsAgg, receiptsSt, dedupSt, originRL, keyStore, m, zerolog.Nop())

	return &Deps{
		Pipeline:         pipeline,
		APIKeys:          keyStore,
		Metrics:          m,
		Logger:           zerolog.Nop(),
		Network:          config.Testnet,
		Version:          "test",
		ExplorerBaseURL:  "https://explorer.test/txid",
		SponsorAddresses: []string{"SP_SPONSOR"},
		CORSAllowOrigin:  "*",
	}
}

func pendingTxBytes(t *testing.T, originAddress, recipient string, amount int64) []byte {
	t.Helper()
	p := &txcodec.ParsedTransaction{
		AuthMode:        txcodec.AuthModeSponsorPending,
		OriginAddress:   originAddress,
		OriginNonce:     4,
		OriginSignature: make([]byte, 65),
		Events: []txcodec.TransferEvent{
			{TokenKind: txcodec.TokenKindNative, Amount: big.NewInt(amount), Sender: originAddress, Recipient: recipient},
		},
	}
	return txcodec.Encode(p)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec, parsed
}

func TestRelayEndpointHappyPath(t *testing.T) {
	d := testDeps(t)
	router := NewRouter(d)

	tx := pendingTxBytes(t, "SP_ORIGIN", "SP_MERCHANT", 1500)
	body := map[string]any{
		"transaction": encodeTxBytes(tx),
		"settle": map[string]any{
			"expectedRecipient": "SP_MERCHANT",
			"minAmount":         "1000",
			"tokenType":         "native",
		},
	}

	rec, parsed := doJSON(t, router, http.MethodPost, "/relay", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, parsed["success"])
	require.NotEmpty(t, parsed["receiptId"])
	require.NotEmpty(t, parsed["requestId"])
}

func TestRelayEndpointRejectsMalformedTransaction(t *testing.T) {
	d := testDeps(t)
	router := NewRouter(d)

	body := map[string]any{
		"transaction": "not-hex",
		"settle": map[string]any{
			"expectedRecipient": "SP_MERCHANT",
			"minAmount":         "1000",
		},
	}

	rec, parsed := doJSON(t, router, http.MethodPost, "/relay", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, false, parsed["success"])
	require.Equal(t, "InvalidRequest", parsed["code"])
}

func TestSponsorEndpointRequiresAPIKey(t *testing.T) {
	d := testDeps(t)
	router := NewRouter(d)

	tx := pendingTxBytes(t, "SP_ORIGIN", "SP_MERCHANT", 1500)
	body := map[string]any{"transaction": encodeTxBytes(tx)}

	rec, parsed := doJSON(t, router, http.MethodPost, "/sponsor", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "AuthFailure", parsed["code"])

	rec, parsed = doJSON(t, router, http.MethodPost, "/sponsor", body, map[string]string{"X-API-Key": "test-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, parsed["success"])
	require.NotEmpty(t, parsed["txid"])
}

func TestFacilitatorSettleAlwaysReturns200OnPipelineFailure(t *testing.T) {
	d := testDeps(t)
	router := NewRouter(d)

	tx := pendingTxBytes(t, "SP_ORIGIN", "SP_MERCHANT", 500)
	body := map[string]any{
		"paymentPayload": map[string]any{
			"payload":  map[string]any{"transaction": encodeTxBytes(tx)},
			"accepted": true,
		},
		"paymentRequirements": map[string]any{
			"expectedRecipient": "SP_MERCHANT",
			"minAmount":         "1000",
		},
	}

	rec, parsed := doJSON(t, router, http.MethodPost, "/settle", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, parsed["success"])
	require.NotEmpty(t, parsed["error"])
}

func TestFacilitatorSettleReturns400OnSchemaMalformation(t *testing.T) {
	d := testDeps(t)
	router := NewRouter(d)

	req := httptest.NewRequest(http.MethodPost, "/settle", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccessRejectsReuseOfConsumedReceiptOverHTTP(t *testing.T) {
	d := testDeps(t)
	router := NewRouter(d)

	tx := pendingTxBytes(t, "SP_ORIGIN", "SP_MERCHANT", 1500)
	relayBody := map[string]any{
		"transaction": encodeTxBytes(tx),
		"settle": map[string]any{
			"expectedRecipient": "SP_MERCHANT",
			"minAmount":         "1000",
			"resource":          "/premium/report",
		},
	}
	_, relayResp := doJSON(t, router, http.MethodPost, "/relay", relayBody, nil)
	receiptID, _ := relayResp["receiptId"].(string)
	require.NotEmpty(t, receiptID)

	require.Eventually(t, func() bool {
		rec, _ := doJSON(t, router, http.MethodGet, "/verify/"+receiptID, nil, nil)
		return rec.Code == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	accessBody := map[string]any{"receiptId": receiptID, "resource": "/premium/report", "targetUrl": "https://example.com/resource"}
	rec, parsed := doJSON(t, router, http.MethodPost, "/access", accessBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, parsed["granted"])

	rec, parsed = doJSON(t, router, http.MethodPost, "/access", map[string]any{"receiptId": receiptID, "resource": "/premium/report"}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "ReceiptConsumed", parsed["code"])
}

func TestHealthAndSupportedEndpoints(t *testing.T) {
	d := testDeps(t)
	router := NewRouter(d)

	rec, parsed := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", parsed["status"])

	rec, parsed = doJSON(t, router, http.MethodGet, "/supported", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, parsed["signers"])
}

func TestRelayEndpointRejectsExpiredAuthSignature(t *testing.T) {
	d := testDeps(t)
	router := NewRouter(d)

	tx := pendingTxBytes(t, "SP_ORIGIN", "SP_MERCHANT", 1500)
	body := map[string]any{
		"transaction": encodeTxBytes(tx),
		"settle": map[string]any{
			"expectedRecipient": "SP_MERCHANT",
			"minAmount":         "1000",
			"tokenType":         "native",
		},
		"auth": map[string]any{
			"action":    "relay",
			"expiry":    time.Now().Add(-time.Hour).Format(time.RFC3339),
			"signer":    "SP_ORIGIN",
			"signature": encodeTxBytes(make([]byte, 65)),
		},
	}

	rec, parsed := doJSON(t, router, http.MethodPost, "/relay", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "AuthExpired", parsed["code"])
}

func TestMetricsEndpointServesPrometheusExposition(t *testing.T) {
	d := testDeps(t)
	router := NewRouter(d)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
