package chainclient

import (
	"context"
	"sync"
)

// MockClient is a configurable stand-in for Client, grounded on the
// teacher's rpc.MockRPCClient (per-method canned responses/errors plus
// call counters for assertions).
type MockClient struct {
	mu sync.Mutex

	NonceInfoFunc       func(ctx context.Context, address string) (*NonceInfo, error)
	GetTransactionFunc  func(ctx context.Context, txid string) (*TransactionStatus, error)
	BroadcastFunc       func(ctx context.Context, rawTx []byte) (*BroadcastResult, error)
	FeeEstimatesFunc    func(ctx context.Context) (*FeeEstimates, error)

	NonceInfoCalls      int
	GetTransactionCalls int
	BroadcastCalls      int
	FeeEstimatesCalls   int
}

var _ ChainAPI = (*MockClient)(nil)

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) GetNonceInfo(ctx context.Context, address string) (*NonceInfo, error) {
	m.mu.Lock()
	m.NonceInfoCalls++
	m.mu.Unlock()
	if m.NonceInfoFunc != nil {
		return m.NonceInfoFunc(ctx, address)
	}
	return &NonceInfo{PossibleNextNonce: 0}, nil
}

func (m *MockClient) GetTransaction(ctx context.Context, txid string) (*TransactionStatus, error) {
	m.mu.Lock()
	m.GetTransactionCalls++
	m.mu.Unlock()
	if m.GetTransactionFunc != nil {
		return m.GetTransactionFunc(ctx, txid)
	}
	return &TransactionStatus{Status: StatusPending}, nil
}

func (m *MockClient) Broadcast(ctx context.Context, rawTx []byte) (*BroadcastResult, error) {
	m.mu.Lock()
	m.BroadcastCalls++
	m.mu.Unlock()
	if m.BroadcastFunc != nil {
		return m.BroadcastFunc(ctx, rawTx)
	}
	return &BroadcastResult{Txid: "0xmock"}, nil
}

func (m *MockClient) GetFeeEstimates(ctx context.Context) (*FeeEstimates, error) {
	m.mu.Lock()
	m.FeeEstimatesCalls++
	m.mu.Unlock()
	if m.FeeEstimatesFunc != nil {
		return m.FeeEstimatesFunc(ctx)
	}
	return &FeeEstimates{}, nil
}
