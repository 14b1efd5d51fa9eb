package noncecoord

import (
	"context"
	"time"

	"github.com/sponsorrelay/relay/internal/chainclient"
	"github.com/sponsorrelay/relay/internal/relayerr"
	"github.com/sponsorrelay/relay/internal/txcodec"
)

// reconcileAll runs the background resync pass over every initialized
// pool. It executes inside the actor's own job (either from the
// AlarmInterval ticker or ReconcileNow), so it shares the coordinator's
// single critical section with assign/release — spec.md §9 notes this
// means assignNonce latency floors at the chain round-trip while a
// reconciliation is in flight.
func (c *Coordinator) reconcileAll() {
	for idx, pool := range c.pools {
		c.reconcileWallet(idx, pool)
	}
	c.pruneTxids()
}

func (c *Coordinator) reconcileWallet(idx int, pool *ReservationPool) {
	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()

	info, err := c.chain.GetNonceInfo(ctx, pool.Address)
	if err != nil {
		c.logger.Warn().Err(err).Int("walletIndex", idx).Msg("reconciliation skipped: chain unavailable")
		return
	}
	pool.LastChainSync = time.Now()

	switch {
	case len(info.DetectedMissingNonces) > 0:
		pool.LastGapDetected = time.Now()
		lowestGap := min64(info.DetectedMissingNonces)
		if pool.expectedHead() > lowestGap {
			c.recoverGap(pool, lowestGap)
		} else {
			c.fillGaps(ctx, idx, pool, info.DetectedMissingNonces)
		}
	case info.PossibleNextNonce > pool.expectedHead():
		// Forward bump: the chain advanced past the pool's notion of its
		// own head (e.g. a transaction landed that this process never
		// tracked). Rewind available to match reality.
		pool.reseedFrom(info.PossibleNextNonce, PoolSeedSize-len(pool.Reserved))
	}

	if time.Since(pool.LastAssignmentAt) > StaleThreshold && pool.expectedHead() > info.PossibleNextNonce {
		pool.reseedFrom(info.PossibleNextNonce, PoolSeedSize-len(pool.Reserved))
	}

	c.cleanStaleReservations(pool)
}

// recoverGap rewinds available to start at lowestGap, never touching
// reserved, per spec.md §4.3 step 2.
func (c *Coordinator) recoverGap(pool *ReservationPool, lowestGap uint64) {
	limit := PoolSeedSize - len(pool.Reserved)
	pool.reseedFrom(lowestGap, limit)
	pool.GapsRecovered++
	pool.ConflictsDetected++
}

// fillGaps broadcasts up to MaxGapFillsPerCycle self-transfer filler
// transactions at the gap nonces, tolerating ConflictingNonceInMempool
// (someone else already filled it) as a non-error skip.
func (c *Coordinator) fillGaps(ctx context.Context, walletIndex int, pool *ReservationPool, gaps []uint64) {
	if c.gapFillRecipient == "" {
		return
	}
	filled := 0
	for _, gap := range gaps {
		if filled >= MaxGapFillsPerCycle {
			break
		}
		err := c.broadcastGapFill(ctx, walletIndex, pool, gap)
		if err == nil {
			pool.GapsFilled++
			filled++
			continue
		}
		if isConflictingNonce(err) {
			continue
		}
		c.logger.Warn().Err(err).Int("walletIndex", walletIndex).Uint64("nonce", gap).Msg("gap fill broadcast failed")
	}
}

func isConflictingNonce(err error) bool {
	rej, ok := err.(*chainclient.BroadcastRejection)
	return ok && rej.Reason == chainclient.ReasonConflictingNonceInMempool
}

// broadcastGapFill signs a real self-transfer at nonce using walletIndex's
// own key (never leaving this package, per spec.md §5) and broadcasts it,
// so a detected gap is filled with chain-valid bytes rather than a
// placeholder.
func (c *Coordinator) broadcastGapFill(ctx context.Context, walletIndex int, pool *ReservationPool, nonce uint64) error {
	wallet, ok := c.wallets[walletIndex]
	if !ok {
		return relayerr.New(relayerr.KindInternal, "gap fill requested for unknown wallet index", nil)
	}
	raw, err := txcodec.SignSelfTransfer(pool.Address, c.gapFillRecipient, GapFillAmount, GapFillFee, nonce, wallet.PrivateKey)
	if err != nil {
		return err
	}
	_, err = c.chain.Broadcast(ctx, raw)
	return err
}

// cleanStaleReservations moves orphaned reservations (no recorded txid,
// held past StaleThreshold) back into available, per spec.md §4.3.
func (c *Coordinator) cleanStaleReservations(pool *ReservationPool) {
	now := time.Now()
	for nonce, reservedAt := range pool.Reserved {
		if now.Sub(reservedAt) <= StaleThreshold {
			continue
		}
		if _, hasTxid := pool.txids[nonce]; hasTxid {
			continue
		}
		delete(pool.Reserved, nonce)
		pool.give(nonce)
	}
}

func (c *Coordinator) pruneTxids() {
	cutoff := time.Now().Add(-24 * time.Hour)
	for txid, rec := range c.txids {
		if rec.recordedAt.Before(cutoff) {
			delete(c.txids, txid)
		}
	}
}

func min64(vals []uint64) uint64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
