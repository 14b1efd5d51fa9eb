package chainclient

import "context"

// ChainAPI is the interface consumed by C3 (nonce coordinator), C7 (fee
// estimator), and C8 (settlement pipeline). *Client is the production
// implementation; tests substitute *MockClient.
type ChainAPI interface {
	GetNonceInfo(ctx context.Context, address string) (*NonceInfo, error)
	GetTransaction(ctx context.Context, txid string) (*TransactionStatus, error)
	Broadcast(ctx context.Context, rawTx []byte) (*BroadcastResult, error)
	GetFeeEstimates(ctx context.Context) (*FeeEstimates, error)
}

var _ ChainAPI = (*Client)(nil)
