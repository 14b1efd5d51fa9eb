// Package noncecoord implements C3, the sponsor-wallet nonce coordinator:
// a single-owner actor that issues monotonically-unique nonces across N
// sponsor wallets under a strict in-flight chaining limit, with stale-
// reservation recovery, gap detection, gap-filling self-transfers, and
// periodic reconciliation against the chain.
//
// C3 also owns sponsor wallet key custody per spec.md §5 ("per-wallet
// private keys never leave C3"): the coordinator is constructed with the
// wallet set and exposes AssignAndSign, which reserves a nonce and
// countersigns the transaction as a single atomic step, so no private
// key material ever crosses into the settlement package.
//
// All mutating operations are serialized through one goroutine consuming
// a job queue, the actor shape spec.md's design notes call out as
// composing better with a background reconciler than a plain mutex. The
// rest of the relay calls through the exported methods, which block the
// caller only until its own job runs — reconciliation takes the same
// queue, so callers observe assignNonce latency floors at the chain-API
// round-trip during reconciliation windows, matching spec.md §9.
package noncecoord

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sponsorrelay/relay/internal/chainclient"
	"github.com/sponsorrelay/relay/internal/relayerr"
	"github.com/sponsorrelay/relay/internal/sponsorkeys"
	"github.com/sponsorrelay/relay/internal/txcodec"
)

const readTimeout = 5 * time.Second

type txidRecord struct {
	nonce       uint64
	walletIndex int
	recordedAt  time.Time
}

// Coordinator owns every ReservationPool, every sponsor wallet's key
// material, and the round-robin cursor. Construct with New, then call
// Start before issuing any requests and Stop during shutdown.
type Coordinator struct {
	chain            chainclient.ChainAPI
	wallets          map[int]sponsorkeys.Wallet
	walletOrder      []int // sorted wallet indices, fixed at construction
	gapFillRecipient string
	logger           zerolog.Logger

	jobs chan func()
	stop chan struct{}
	done chan struct{}

	pools       map[int]*ReservationPool
	cursor      int // position into walletOrder, not a wallet index
	txids       map[string]txidRecord
}

// New builds a Coordinator over a fixed set of sponsor wallets. chain is
// used both for initial pool seeding and for background reconciliation;
// gapFillRecipient is the fixed per-network address self-transfers
// target during gap fill.
func New(chain chainclient.ChainAPI, wallets []sponsorkeys.Wallet, gapFillRecipient string, logger zerolog.Logger) *Coordinator {
	walletMap := make(map[int]sponsorkeys.Wallet, len(wallets))
	order := make([]int, 0, len(wallets))
	for _, w := range wallets {
		walletMap[w.Index] = w
		order = append(order, w.Index)
	}
	sort.Ints(order)

	return &Coordinator{
		chain:            chain,
		wallets:          walletMap,
		walletOrder:      order,
		gapFillRecipient: gapFillRecipient,
		logger:           logger.With().Str("component", "noncecoord").Logger(),
		jobs:             make(chan func()),
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
		pools:            make(map[int]*ReservationPool),
		txids:            make(map[string]txidRecord),
	}
}

// WalletIndices returns every configured sponsor wallet index in
// ascending order.
func (c *Coordinator) WalletIndices() []int {
	return append([]int(nil), c.walletOrder...)
}

// Start launches the actor goroutine. Safe to call once.
func (c *Coordinator) Start() {
	go c.run()
}

// Stop signals the actor to exit and waits for it to drain.
func (c *Coordinator) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Coordinator) run() {
	ticker := time.NewTicker(AlarmInterval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case job := <-c.jobs:
			job()
		case <-ticker.C:
			c.reconcileAll()
		case <-c.stop:
			return
		}
	}
}

// exec runs fn on the actor goroutine and blocks the caller until it
// completes. Every exported mutation goes through this, which is what
// makes the coordinator's critical sections total-ordered.
func (c *Coordinator) exec(fn func()) {
	done := make(chan struct{})
	c.jobs <- func() {
		fn()
		close(done)
	}
	<-done
}

// AssignNonce reserves the next available nonce from the first
// non-exhausted wallet starting at the round-robin cursor.
func (c *Coordinator) AssignNonce(ctx context.Context) (nonce uint64, walletIndex int, err error) {
	c.exec(func() {
		nonce, walletIndex, err = c.assignNonceLocked(ctx)
	})
	return
}

func (c *Coordinator) assignNonceLocked(ctx context.Context) (uint64, int, error) {
	walletCount := len(c.walletOrder)
	if walletCount == 0 {
		return 0, 0, relayerr.New(relayerr.KindInternal, "assignNonce called with no sponsor wallets configured", nil)
	}

	mempoolDepth := 0
	for i := 0; i < walletCount; i++ {
		pos := (c.cursor + i) % walletCount
		idx := c.walletOrder[pos]
		pool, err := c.loadOrInitPool(ctx, idx)
		if err != nil {
			return 0, 0, err
		}
		if len(pool.Reserved) < ChainingLimit {
			nonce := pool.take()
			pool.Reserved[nonce] = time.Now()
			pool.TotalAssigned++
			pool.LastAssignmentAt = time.Now()
			c.cursor = (pos + 1) % walletCount
			return nonce, idx, nil
		}
		mempoolDepth += len(pool.Reserved)
	}
	return 0, 0, &ChainingLimitExceeded{MempoolDepth: mempoolDepth}
}

// loadOrInitPool returns the pool for wallet idx, seeding it from the
// chain on first touch. Wallet addresses are fixed at construction, so
// unlike an address-keyed cache there is nothing to invalidate.
func (c *Coordinator) loadOrInitPool(ctx context.Context, idx int) (*ReservationPool, error) {
	if pool, ok := c.pools[idx]; ok {
		return pool, nil
	}
	wallet, ok := c.wallets[idx]
	if !ok {
		return nil, relayerr.New(relayerr.KindInternal, "unknown sponsor wallet index", nil)
	}

	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	info, err := c.chain.GetNonceInfo(readCtx, wallet.Address)
	if err != nil {
		return nil, err
	}
	pool := newPool(wallet.Address, info.PossibleNextNonce)
	c.pools[idx] = pool
	return pool, nil
}

// AssignAndSign reserves a nonce and countersigns parsed as the sponsor
// in one atomic step on the actor goroutine, so the sponsor private key
// is read, used, and discarded without ever leaving this package. On any
// failure after the nonce is reserved, the reservation is released
// before returning.
func (c *Coordinator) AssignAndSign(ctx context.Context, parsed *txcodec.ParsedTransaction, fee uint64) (signed *txcodec.ParsedTransaction, txid string, walletIndex int, nonce uint64, err error) {
	c.exec(func() {
		nonce, walletIndex, err = c.assignNonceLocked(ctx)
		if err != nil {
			return
		}
		wallet := c.wallets[walletIndex]
		signed, txid, err = txcodec.Sign(parsed, wallet.PrivateKey, wallet.Address, nonce, fee)
		if err != nil {
			c.releaseNonceLocked(walletIndex, nonce, "", nil)
		}
	})
	return
}

// ReleaseNonce returns or consumes a reservation. txid == "" means the
// transaction was never broadcast and the nonce is reusable; txid != ""
// consumes it permanently, and a non-nil fee is folded into that
// wallet's cumulative and daily totals.
func (c *Coordinator) ReleaseNonce(walletIndex int, nonce uint64, txid string, fee *big.Int) {
	c.exec(func() {
		c.releaseNonceLocked(walletIndex, nonce, txid, fee)
	})
}

func (c *Coordinator) releaseNonceLocked(walletIndex int, nonce uint64, txid string, fee *big.Int) {
	pool, ok := c.pools[walletIndex]
	if !ok {
		return
	}
	if _, reserved := pool.Reserved[nonce]; !reserved {
		return
	}
	delete(pool.Reserved, nonce)
	delete(pool.txids, nonce)

	if txid == "" {
		pool.give(nonce)
		return
	}
	pool.rolloverDaily(time.Now())
	pool.TxCount++
	pool.TxCountToday++
	if fee != nil {
		pool.FeesToday.Add(pool.FeesToday, fee)
		pool.FeesCumulative.Add(pool.FeesCumulative, fee)
	}
}

// RecordTxid attaches a broadcast txid to a still-reserved nonce, both so
// cleanStaleReservations can tell genuine in-flight nonces from crashed
// orphans and for the diagnostic txid→nonce lookup table.
func (c *Coordinator) RecordTxid(walletIndex int, nonce uint64, txid string) {
	c.exec(func() {
		if pool, ok := c.pools[walletIndex]; ok {
			pool.txids[nonce] = txid
		}
		c.txids[txid] = txidRecord{nonce: nonce, walletIndex: walletIndex, recordedAt: time.Now()}
	})
}

// LookupNonceForTxid returns the nonce and wallet index recorded for
// txid, for operator diagnostics.
func (c *Coordinator) LookupNonceForTxid(txid string) (nonce uint64, walletIndex int, ok bool) {
	c.exec(func() {
		rec, found := c.txids[txid]
		nonce, walletIndex, ok = rec.nonce, rec.walletIndex, found
	})
	return
}

// PoolSnapshot is a read-only copy of a wallet's pool state, used by
// callers (and tests) that need to observe coordinator state without
// reaching into its internals.
type PoolSnapshot struct {
	Address           string
	Available         []uint64
	ReservedNonces    []uint64
	MaxNonce          uint64
	TotalAssigned     uint64
	GapsRecovered     uint64
	GapsFilled        uint64
	ConflictsDetected uint64
	TxCount           uint64
	TxCountToday      uint64
	FeesToday         *big.Int
	FeesCumulative    *big.Int
}

// Snapshot returns the current state of wallet idx's pool, or ok=false
// if it has never been initialized.
func (c *Coordinator) Snapshot(walletIndex int) (snap PoolSnapshot, ok bool) {
	c.exec(func() {
		pool, found := c.pools[walletIndex]
		if !found {
			return
		}
		pool.rolloverDaily(time.Now())
		ok = true
		snap = PoolSnapshot{
			Address:           pool.Address,
			Available:         append([]uint64(nil), pool.Available...),
			MaxNonce:          pool.MaxNonce,
			TotalAssigned:     pool.TotalAssigned,
			GapsRecovered:     pool.GapsRecovered,
			GapsFilled:        pool.GapsFilled,
			ConflictsDetected: pool.ConflictsDetected,
			TxCount:           pool.TxCount,
			TxCountToday:      pool.TxCountToday,
			FeesToday:         new(big.Int).Set(pool.FeesToday),
			FeesCumulative:    new(big.Int).Set(pool.FeesCumulative),
		}
		for n := range pool.Reserved {
			snap.ReservedNonces = append(snap.ReservedNonces, n)
		}
	})
	return
}

// ReconcileNow runs one reconciliation pass immediately instead of
// waiting for the next AlarmInterval tick. Exposed for tests and for an
// operator-triggered manual resync.
func (c *Coordinator) ReconcileNow() {
	c.exec(c.reconcileAll)
}
