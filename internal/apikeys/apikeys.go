// Package apikeys implements the second half of C9: a hashed key store
// gating a subset of endpoints, enforcing per-tier request/minute,
// request/day, and daily-fee-cap ledgers.
//
// Grounded on the teacher's internal/services/ratelimit.RateLimiter for
// the sliding-window shape (reused here for the per-minute tier limit)
// and on internal/app/config.go's WalletMetadata for the idea of a small
// in-memory metadata table keyed by an opaque identifier, generalized
// from wallet records to API-key records.
package apikeys

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	"github.com/sponsorrelay/relay/internal/ratelimit"
	"github.com/sponsorrelay/relay/internal/relayerr"
)

// Tier bounds what a key may do.
type Tier struct {
	Name            string
	RequestsPerMin  int
	RequestsPerDay  int
	DailyFeeCapUnit *big.Int // smallest-unit cap on fees spent on this key's behalf per UTC day
}

// Hash returns the hex SHA-256 digest of a raw API key, the form stored
// at rest and compared against.
func Hash(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

type ledger struct {
	day          string
	requestsToday int
	feesToday    *big.Int
}

type record struct {
	tier    Tier
	ledger  ledger
	minute  *ratelimit.Limiter
}

// Store is the key → tier/ledger table. Ledger counters are incremented
// on success only, per spec.md §4.9.
type Store struct {
	mu   sync.Mutex
	keys map[string]*record // hashedKey -> record
}

func New() *Store {
	return &Store{keys: make(map[string]*record)}
}

// Register adds or replaces a key's tier. hashedKey should come from Hash.
func (s *Store) Register(hashedKey string, tier Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[hashedKey] = &record{
		tier:   tier,
		ledger: ledger{day: dayKey(time.Now()), feesToday: big.NewInt(0)},
		minute: ratelimit.New(tier.RequestsPerMin, time.Minute),
	}
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Authorize validates hashedKey exists and is under its per-minute and
// per-day limits. It does not itself record success — call RecordUsage
// once the gated operation actually succeeds.
func (s *Store) Authorize(hashedKey string) (Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[hashedKey]
	if !ok {
		return Tier{}, relayerr.New(relayerr.KindAuthFailure, "unknown api key", nil)
	}
	s.rolloverLocked(rec)

	if ok, _ := rec.minute.Allow(hashedKey); !ok {
		return Tier{}, relayerr.WithRetryAfter(relayerr.KindRateLimitExceeded, "api key exceeded per-minute limit", time.Minute, nil)
	}
	if rec.tier.RequestsPerDay > 0 && rec.ledger.requestsToday >= rec.tier.RequestsPerDay {
		return Tier{}, relayerr.New(relayerr.KindRateLimitExceeded, "api key exceeded per-day request limit", nil)
	}
	return rec.tier, nil
}

// RecordUsage increments the daily request counter and, if fee is
// non-nil, the daily fee ledger, failing if the fee cap would be
// exceeded. Call only after the gated operation has succeeded.
func (s *Store) RecordUsage(hashedKey string, fee *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.keys[hashedKey]
	if !ok {
		return relayerr.New(relayerr.KindAuthFailure, "unknown api key", nil)
	}
	s.rolloverLocked(rec)

	if fee != nil && rec.tier.DailyFeeCapUnit != nil {
		projected := new(big.Int).Add(rec.ledger.feesToday, fee)
		if projected.Cmp(rec.tier.DailyFeeCapUnit) > 0 {
			return relayerr.New(relayerr.KindRateLimitExceeded, "api key exceeded daily fee cap", nil)
		}
		rec.ledger.feesToday = projected
	}
	rec.ledger.requestsToday++
	return nil
}

func (s *Store) rolloverLocked(rec *record) {
	today := dayKey(time.Now())
	if rec.ledger.day == today {
		return
	}
	rec.ledger = ledger{day: today, feesToday: big.NewInt(0)}
}
