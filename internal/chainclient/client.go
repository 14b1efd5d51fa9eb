// Package chainclient is the thin client for the external chain API (C1):
// next-nonce lookups, transaction status polling, broadcast, and fee
// estimates. It is a pure, stateless collaborator save for the health
// tracker's circuit-breaker state.
//
// Grounded on the teacher's src/chainadapter/rpc.HTTPRPCClient: round-robin
// endpoint selection with a per-endpoint circuit breaker, adapted from
// JSON-RPC 2.0 envelopes to the chain API's plain-REST response shapes.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sponsorrelay/relay/internal/config"
	"github.com/sponsorrelay/relay/internal/relayerr"
)

const (
	readTimeout      = 5 * time.Second
	broadcastTimeout = 30 * time.Second
)

// Client implements the chain-API surface described in spec.md §4.1.
type Client struct {
	endpoints    []string
	apiKey       string
	httpClient   *http.Client
	health       *healthTracker
	currentIndex int
	mu           sync.Mutex
	logger       zerolog.Logger
}

// New builds a Client over one or more chain-API base URLs. Multiple URLs
// enable failover (a supplemented feature; spec.md itself assumes a single
// provider shape, just possibly served from more than one base URL).
func New(cfg config.ChainConfig, logger zerolog.Logger) *Client {
	return &Client{
		endpoints:  append([]string(nil), cfg.APIBaseURLs...),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		health:     newHealthTracker(),
		logger:     logger.With().Str("component", "chainclient").Logger(),
	}
}

// GetNonceInfo fetches the next usable nonce and any detected gaps for
// address.
func (c *Client) GetNonceInfo(ctx context.Context, address string) (*NonceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	body, err := c.get(ctx, fmt.Sprintf("/v2/accounts/%s/nonces", address))
	if err != nil {
		return nil, c.unavailable("getNonceInfo", err)
	}

	var wire struct {
		LastExecutedTxNonce  *uint64  `json:"last_executed_tx_nonce"`
		PossibleNextNonce    uint64   `json:"possible_next_nonce"`
		DetectedMissingNonces []uint64 `json:"detected_missing_nonces"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, relayerr.New(relayerr.KindInternal, "decode nonce info", err)
	}
	return &NonceInfo{
		LastExecutedNonce:     wire.LastExecutedTxNonce,
		PossibleNextNonce:     wire.PossibleNextNonce,
		DetectedMissingNonces: wire.DetectedMissingNonces,
	}, nil
}

// GetTransaction fetches the current status of txid.
func (c *Client) GetTransaction(ctx context.Context, txid string) (*TransactionStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	body, err := c.get(ctx, fmt.Sprintf("/extended/v1/tx/%s", txid))
	if err != nil {
		return nil, c.unavailable("getTransaction", err)
	}

	var wire struct {
		TxStatus    string `json:"tx_status"`
		SenderAddr  string `json:"sender_address"`
		BlockHeight *uint64 `json:"block_height"`
		Events      []struct {
			Sender    string `json:"sender"`
			Recipient string `json:"recipient"`
			Amount    string `json:"amount"`
			AssetID   string `json:"asset_id"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, relayerr.New(relayerr.KindInternal, "decode tx status", err)
	}

	events := make([]TransferEvent, 0, len(wire.Events))
	for _, e := range wire.Events {
		events = append(events, TransferEvent{
			Sender: e.Sender, Recipient: e.Recipient, Amount: e.Amount, AssetID: e.AssetID,
		})
	}

	status := TxStatus(wire.TxStatus)
	if status == "" {
		status = StatusUnknown
	}
	return &TransactionStatus{
		Status:        status,
		SenderAddress: wire.SenderAddr,
		BlockHeight:   wire.BlockHeight,
		Events:        events,
	}, nil
}

// Broadcast submits signed transaction bytes. A chain-level rejection
// (including the ConflictingNonceInMempool sentinel) is returned as a
// *BroadcastRejection, not a Go error classified ChainUnavailable: the
// call itself succeeded, the chain simply declined the transaction.
func (c *Client) Broadcast(ctx context.Context, rawTx []byte) (*BroadcastResult, error) {
	ctx, cancel := context.WithTimeout(ctx, broadcastTimeout)
	defer cancel()

	body, status, err := c.post(ctx, "/v2/transactions", rawTx)
	if err != nil {
		return nil, c.unavailable("broadcast", err)
	}

	if status != http.StatusOK {
		var rej struct {
			Error  string `json:"error"`
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal(body, &rej)
		reason := ReasonOther
		if rej.Reason == string(ReasonConflictingNonceInMempool) {
			reason = ReasonConflictingNonceInMempool
		}
		return nil, &BroadcastRejection{Reason: reason, Err: rej.Error}
	}

	var txid string
	if err := json.Unmarshal(body, &txid); err != nil {
		// Some chain APIs return a bare quoted txid string; fall back to
		// a {"txid": "..."} envelope.
		var wire struct {
			Txid string `json:"txid"`
		}
		if err2 := json.Unmarshal(body, &wire); err2 != nil {
			return nil, relayerr.New(relayerr.KindInternal, "decode broadcast response", err)
		}
		txid = wire.Txid
	}
	return &BroadcastResult{Txid: txid}, nil
}

// GetFeeEstimates fetches the chain's current fee-estimate table. Callers
// needing clamped/cached estimates should go through feeestimator (C7),
// which is the only component permitted to call this directly.
func (c *Client) GetFeeEstimates(ctx context.Context) (*FeeEstimates, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	body, err := c.get(ctx, "/v2/fees/transaction")
	if err != nil {
		return nil, c.unavailable("getFeeEstimates", err)
	}

	var wire struct {
		TokenTransfer [3]uint64 `json:"token_transfer"`
		ContractCall  [3]uint64 `json:"contract_call"`
		SmartContract [3]uint64 `json:"smart_contract"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, relayerr.New(relayerr.KindInternal, "decode fee estimates", err)
	}
	return &FeeEstimates{
		TokenTransfer: FeePriorityTiers{Low: wire.TokenTransfer[0], Medium: wire.TokenTransfer[1], High: wire.TokenTransfer[2]},
		ContractCall:  FeePriorityTiers{Low: wire.ContractCall[0], Medium: wire.ContractCall[1], High: wire.ContractCall[2]},
		SmartContract: FeePriorityTiers{Low: wire.SmartContract[0], Medium: wire.SmartContract[1], High: wire.SmartContract[2]},
		FetchedAt:     time.Now(),
	}, nil
}

func (c *Client) unavailable(op string, err error) error {
	c.logger.Warn().Err(err).Str("op", op).Msg("chain api call failed")
	return relayerr.New(relayerr.KindChainUnavailable, "chain api: "+op, err)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	body, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("chain api returned HTTP %d", status)
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, int, error) {
	return c.do(ctx, http.MethodPost, path, payload)
}

// do executes one request with round-robin + circuit-breaker endpoint
// selection and failover across all configured base URLs, mirroring
// HTTPRPCClient.callEndpoint/getNextHealthyEndpoint.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	attempted := make(map[string]bool, len(c.endpoints))
	var lastErr error

	for len(attempted) < len(c.endpoints) {
		endpoint := c.nextHealthyEndpoint(attempted)
		if endpoint == "" {
			break
		}
		attempted[endpoint] = true

		body, status, err := c.doOnce(ctx, endpoint, method, path, payload)
		if err == nil {
			return body, status, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no chain api endpoints configured")
	}
	return nil, 0, fmt.Errorf("all chain api endpoints failed: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, endpoint, method, path string, payload []byte) ([]byte, int, error) {
	start := time.Now()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.health.recordFailure(endpoint)
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.health.recordFailure(endpoint)
		return nil, 0, err
	}

	c.health.recordSuccess(endpoint, time.Since(start).Milliseconds())
	return body, resp.StatusCode, nil
}

func (c *Client) nextHealthyEndpoint(attempted map[string]bool) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i < len(c.endpoints); i++ {
		idx := (c.currentIndex + i) % len(c.endpoints)
		endpoint := c.endpoints[idx]
		if attempted[endpoint] {
			continue
		}
		if c.health.isHealthy(endpoint) {
			c.currentIndex = (idx + 1) % len(c.endpoints)
			return endpoint
		}
	}
	for _, endpoint := range c.endpoints {
		if !attempted[endpoint] {
			return endpoint
		}
	}
	return ""
}
