// Package receipts implements C5, the receipt store: a keyed, TTL-bound
// record of each settled (or still-pending) sponsorship, with
// access-count mutation for the gated access endpoint.
//
// Grounded on the teacher's chainadapter/storage (MemoryTxStore): a
// mutex-guarded map with deep-copy-on-read semantics, generalized from
// transaction state tracking to the receipt shape, plus a best-effort
// background write path per spec.md §9's fire-and-forget side-effect note.
package receipts

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sponsorrelay/relay/internal/asyncwrite"
	"github.com/sponsorrelay/relay/internal/relayerr"
)

// ReceiptTTL is the fixed lifetime of every receipt (spec.md §3, 30 days).
const ReceiptTTL = 30 * 24 * time.Hour

// Settlement is the broadcast/confirmation outcome recorded on a receipt.
type Settlement struct {
	Status      string
	Sender      string
	Recipient   string
	Amount      string
	BlockHeight *uint64
}

// PaymentReceipt is the record returned by relay/settle and retrievable
// later via verifyReceipt/access.
type PaymentReceipt struct {
	ReceiptID        string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	SenderAddress    string
	SponsoredTxBytes []byte
	Fee              uint64
	Txid             string
	Settlement       Settlement
	Resource         string
	Consumed         bool
	AccessCount      int
}

func (r PaymentReceipt) expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Store owns the receipt map. Writes go through a small background pool
// so Put never blocks the settlement path on persistence.
type Store struct {
	mu       sync.RWMutex
	receipts map[string]PaymentReceipt
	pool     *asyncwrite.Pool
	logger   zerolog.Logger
}

func New(logger zerolog.Logger) *Store {
	return &Store{
		receipts: make(map[string]PaymentReceipt),
		pool:     asyncwrite.NewPool(2, 1024),
		logger:   logger.With().Str("component", "receipts").Logger(),
	}
}

// Put stores receipt, best-effort: the write is handed to the background
// pool and failures (there are none in this in-memory implementation,
// but a future durable backend could fail) are only logged.
func (s *Store) Put(receipt PaymentReceipt) {
	if !s.pool.Submit(func() { s.putNow(receipt) }) {
		s.logger.Warn().Str("receiptId", receipt.ReceiptID).Msg("receipt write dropped: queue full")
	}
}

func (s *Store) putNow(receipt PaymentReceipt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[receipt.ReceiptID] = receipt
}

// Get returns the receipt for id, or a ReceiptNotFound/ReceiptExpired
// RelayError.
func (s *Store) Get(id string) (PaymentReceipt, error) {
	s.mu.RLock()
	receipt, ok := s.receipts[id]
	s.mu.RUnlock()

	if !ok {
		return PaymentReceipt{}, relayerr.New(relayerr.KindReceiptNotFound, "receipt not found", nil)
	}
	if receipt.expired(time.Now()) {
		return PaymentReceipt{}, relayerr.New(relayerr.KindReceiptExpired, "receipt expired", nil)
	}
	return receipt, nil
}

// MarkConsumed reads the receipt, increments AccessCount, optionally
// latches Consumed to true, and writes it back with ExpiresAt untouched
// so the remaining TTL is preserved — never reset on access.
func (s *Store) MarkConsumed(id string, setConsumed bool) (PaymentReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[id]
	if !ok {
		return PaymentReceipt{}, relayerr.New(relayerr.KindReceiptNotFound, "receipt not found", nil)
	}
	if receipt.expired(time.Now()) {
		return PaymentReceipt{}, relayerr.New(relayerr.KindReceiptExpired, "receipt expired", nil)
	}

	receipt.AccessCount++
	if setConsumed {
		receipt.Consumed = true
	}
	s.receipts[id] = receipt
	return receipt, nil
}

// Sweep removes expired receipts. Intended to be called periodically
// rather than on every access.
func (s *Store) Sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.receipts {
		if r.expired(now) {
			delete(s.receipts, id)
		}
	}
}
