package noncecoord

import (
	"math/big"
	"time"
)

// Wire-level constants from spec.md §4.3.
const (
	ChainingLimit       = 20
	PoolSeedSize        = 20
	AlarmInterval       = 5 * time.Minute
	StaleThreshold      = 10 * time.Minute
	GapFillAmount       = 1
	GapFillFee          = 30_000
	MaxGapFillsPerCycle = 5
	MaxWalletCount      = 10
)

// ReservationPool is the per-wallet nonce ledger: a sorted slice of
// available nonces and a set of in-flight reservations. Pool disjointness
// (available ∩ reserved = ∅) and the chaining cap (|reserved| ≤
// ChainingLimit) are invariants every mutation here must preserve.
type ReservationPool struct {
	Address  string
	Available []uint64
	Reserved  map[uint64]time.Time // nonce -> reservedAt
	txids     map[uint64]string    // nonce -> txid, once recorded
	MaxNonce  uint64

	TotalAssigned     uint64
	GapsRecovered     uint64
	GapsFilled        uint64
	ConflictsDetected uint64

	TxCount      uint64 // cumulative, never reset
	TxCountToday uint64

	FeesToday      *big.Int
	FeesCumulative *big.Int
	feesDay        string // UTC date key FeesToday/TxCountToday are scoped to

	LastAssignmentAt time.Time
	LastChainSync    time.Time
	LastGapDetected  time.Time
}

func newPool(address string, seedFrom uint64) *ReservationPool {
	p := &ReservationPool{
		Address:        address,
		Reserved:       make(map[uint64]time.Time),
		txids:          make(map[uint64]string),
		FeesToday:      big.NewInt(0),
		FeesCumulative: big.NewInt(0),
		feesDay:        dayKey(time.Now()),
	}
	p.reseedFrom(seedFrom, PoolSeedSize)
	return p
}

// dayKey keys the rolling-daily fee/tx counters to a UTC calendar date,
// matching apikeys.Store's per-key ledger rollover.
func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// rolloverDaily resets FeesToday/TxCountToday at UTC midnight. now is
// passed explicitly rather than read from time.Now() so the rollover
// boundary is deterministically testable.
func (p *ReservationPool) rolloverDaily(now time.Time) {
	today := dayKey(now)
	if p.feesDay == today {
		return
	}
	p.feesDay = today
	p.FeesToday = big.NewInt(0)
	p.TxCountToday = 0
}

// reseedFrom replaces Available with up to n nonces starting at from,
// skipping anything already reserved, and sets MaxNonce to the last nonce
// placed (lower than before when rewinding to a gap).
func (p *ReservationPool) reseedFrom(from uint64, n int) {
	if n <= 0 {
		p.Available = nil
		if from > 0 {
			p.MaxNonce = from - 1
		}
		return
	}
	available := make([]uint64, 0, n)
	nonce := from
	for len(available) < n {
		if _, reserved := p.Reserved[nonce]; !reserved {
			available = append(available, nonce)
		}
		nonce++
	}
	p.Available = available
	p.MaxNonce = available[len(available)-1]
}

// expectedHead is the next nonce this pool would hand out: the lowest
// available nonce, or one past MaxNonce if Available is empty.
func (p *ReservationPool) expectedHead() uint64 {
	if len(p.Available) > 0 {
		return p.Available[0]
	}
	return p.MaxNonce + 1
}

// take pops the lowest available nonce, extending the pool by MaxNonce+1
// if it has run dry, per spec.md §4.3's "pool-extension always appends
// maxNonce+1" tie-break.
func (p *ReservationPool) take() uint64 {
	if len(p.Available) == 0 {
		p.MaxNonce++
		return p.MaxNonce
	}
	n := p.Available[0]
	p.Available = p.Available[1:]
	return n
}

// give reinserts a nonce into Available, preserving ascending order.
func (p *ReservationPool) give(n uint64) {
	i := 0
	for i < len(p.Available) && p.Available[i] < n {
		i++
	}
	p.Available = append(p.Available, 0)
	copy(p.Available[i+1:], p.Available[i:])
	p.Available[i] = n
}
