// Package feeestimator implements C7: a 60-second cache in front of the
// chain's fee-estimate endpoint, with operator-configured floor/ceiling
// clamps applied per transaction kind.
//
// Grounded on the teacher's ethereum/fee.go FeeEstimator (cache-or-query
// shape, confidence/source labeling), adapted from EIP-1559's
// baseFee+priorityFee model to this chain's flat low/medium/high tiers.
package feeestimator

import (
	"context"
	"sync"
	"time"

	"github.com/sponsorrelay/relay/internal/chainclient"
	"github.com/sponsorrelay/relay/internal/relayerr"
)

const freshness = 60 * time.Second

// Kind is the transaction classification the clamp table is keyed by.
type Kind string

const (
	KindTokenTransfer Kind = "token_transfer"
	KindContractCall  Kind = "contract_call"
	KindSmartContract Kind = "smart_contract"
)

// Priority selects one of the three tiers in a FeePriorityTiers.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// Clamp bounds the fee returned for a (kind, priority) pair.
type Clamp struct {
	Floor   uint64
	Ceiling uint64
}

// Source labels where an estimate came from.
type Source string

const (
	SourceChain   Source = "chain"
	SourceCache   Source = "cache"
	SourceDefault Source = "default"
)

// Estimate is the clamped, labeled response returned to callers.
type Estimate struct {
	TokenTransfer chainclient.FeePriorityTiers
	ContractCall  chainclient.FeePriorityTiers
	SmartContract chainclient.FeePriorityTiers
	Source        Source
}

// defaultClamps is used for any kind the operator never configured.
var defaultClamps = Clamp{Floor: 180, Ceiling: 2_000_000}

// Estimator caches upstream fee estimates and applies per-kind clamps.
type Estimator struct {
	chain chainclient.ChainAPI

	mu        sync.Mutex
	clamps    map[Kind]Clamp
	cached    *chainclient.FeeEstimates
	cachedAt  time.Time
}

// New builds an Estimator with the given initial clamp table (typically
// loaded from config.FeeConfig).
func New(chain chainclient.ChainAPI, clamps map[Kind]Clamp) *Estimator {
	table := make(map[Kind]Clamp, len(clamps))
	for k, v := range clamps {
		table[k] = v
	}
	return &Estimator{chain: chain, clamps: table}
}

// SetConfig replaces the clamp table after validating floor <= ceiling
// for every entry.
func (e *Estimator) SetConfig(clamps map[Kind]Clamp) error {
	for kind, c := range clamps {
		if c.Floor > c.Ceiling {
			return relayerr.New(relayerr.KindInvalidRequest,
				"fee clamp floor exceeds ceiling for "+string(kind), nil)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clamps = make(map[Kind]Clamp, len(clamps))
	for k, v := range clamps {
		e.clamps[k] = v
	}
	return nil
}

// Estimate returns the current clamped fee table, querying the chain
// only when the cache is stale.
func (e *Estimator) Estimate(ctx context.Context) (Estimate, error) {
	e.mu.Lock()
	if e.cached != nil && time.Since(e.cachedAt) < freshness {
		result := e.clampLocked(*e.cached, SourceCache)
		e.mu.Unlock()
		return result, nil
	}
	e.mu.Unlock()

	fresh, err := e.chain.GetFeeEstimates(ctx)
	if err != nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.cached != nil {
			// Stale cache beats no estimate at all; label it honestly.
			return e.clampLocked(*e.cached, SourceCache), nil
		}
		return e.clampLocked(chainclient.FeeEstimates{}, SourceDefault), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cached = fresh
	e.cachedAt = time.Now()
	return e.clampLocked(*fresh, SourceChain), nil
}

func (e *Estimator) clampLocked(raw chainclient.FeeEstimates, source Source) Estimate {
	return Estimate{
		TokenTransfer: e.clampTiersLocked(KindTokenTransfer, raw.TokenTransfer),
		ContractCall:  e.clampTiersLocked(KindContractCall, raw.ContractCall),
		SmartContract: e.clampTiersLocked(KindSmartContract, raw.SmartContract),
		Source:        source,
	}
}

func (e *Estimator) clampTiersLocked(kind Kind, tiers chainclient.FeePriorityTiers) chainclient.FeePriorityTiers {
	clamp, ok := e.clamps[kind]
	if !ok {
		clamp = defaultClamps
	}
	return chainclient.FeePriorityTiers{
		Low:    clampValue(tiers.Low, clamp),
		Medium: clampValue(tiers.Medium, clamp),
		High:   clampValue(tiers.High, clamp),
	}
}

func clampValue(v uint64, c Clamp) uint64 {
	if v < c.Floor {
		return c.Floor
	}
	if v > c.Ceiling {
		return c.Ceiling
	}
	return v
}
