// Package dedup implements C6, the idempotency store: a short-TTL map
// from either a payload fingerprint or a caller-supplied client
// identifier to a cached response, so a retried settle/relay call
// replays the prior outcome instead of broadcasting twice.
//
// Grounded on the teacher's chainadapter/storage.MemoryTxStore for the
// mutex-guarded, last-write-wins keyed store shape, and on
// ethereum/signer.go's use of crypto.Keccak256 for the idea of hashing a
// canonical payload — here SHA-256 per spec.md §4.6 rather than keccak,
// since this fingerprint is an internal cache key, not a chain digest.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sponsorrelay/relay/internal/asyncwrite"
	"github.com/sponsorrelay/relay/internal/relayerr"
)

// TTL is the fixed lifetime of every entry (spec.md §4.6, 300 s).
const TTL = 300 * time.Second

var clientIdentifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)

// ValidClientIdentifier reports whether id meets spec.md's
// 16–128 char, [A-Za-z0-9_-]+ shape for the client-identifier mode.
func ValidClientIdentifier(id string) bool {
	return clientIdentifierPattern.MatchString(id)
}

// Fingerprint returns the SHA-256 hex digest of canonicalPayload, the key
// used by payload-fingerprint mode.
func Fingerprint(canonicalPayload []byte) string {
	sum := sha256.Sum256(canonicalPayload)
	return hex.EncodeToString(sum[:])
}

type entry struct {
	fingerprint string
	response    []byte
	recordedAt  time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.recordedAt) > TTL
}

// Outcome is the result of a Lookup.
type Outcome int

const (
	Miss Outcome = iota
	Hit
	Conflict
)

// Store holds both the payload-fingerprint keyspace and the
// client-identifier keyspace, which are disjoint: a fingerprint key is
// never checked against identifier entries or vice versa.
type Store struct {
	mu          sync.Mutex
	byPayload   map[string]entry
	byIdentifier map[string]entry
	pool        *asyncwrite.Pool
	logger      zerolog.Logger
}

func New(logger zerolog.Logger) *Store {
	return &Store{
		byPayload:    make(map[string]entry),
		byIdentifier: make(map[string]entry),
		pool:         asyncwrite.NewPool(1, 512),
		logger:       logger.With().Str("component", "dedup").Logger(),
	}
}

// LookupByPayload checks the payload-fingerprint keyspace.
func (s *Store) LookupByPayload(fingerprint string) (Outcome, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byPayload[fingerprint]
	if !ok || e.expired(time.Now()) {
		return Miss, nil
	}
	return Hit, e.response
}

// RecordPayload writes a payload-fingerprint entry, best-effort.
func (s *Store) RecordPayload(fingerprint string, response []byte) {
	if !s.pool.Submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.byPayload[fingerprint] = entry{fingerprint: fingerprint, response: response, recordedAt: time.Now()}
	}) {
		s.logger.Warn().Str("fingerprint", fingerprint).Msg("dedup write dropped: queue full")
	}
}

// LookupByIdentifier checks the client-identifier keyspace. A Hit means
// id was seen before with the same fingerprint, so response is the
// cached reply. A Conflict means id was seen before with a *different*
// fingerprint — the caller must reject, not overwrite.
func (s *Store) LookupByIdentifier(id, fingerprint string) (Outcome, []byte, error) {
	if !ValidClientIdentifier(id) {
		return Miss, nil, relayerr.New(relayerr.KindInvalidRequest, "invalid client identifier shape", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byIdentifier[id]
	if !ok || e.expired(time.Now()) {
		return Miss, nil, nil
	}
	if e.fingerprint != fingerprint {
		return Conflict, nil, nil
	}
	return Hit, e.response, nil
}

// RecordIdentifier writes a client-identifier entry, best-effort. Callers
// must have already confirmed (via LookupByIdentifier) that id is not in
// Conflict state — RecordIdentifier always overwrites.
func (s *Store) RecordIdentifier(id, fingerprint string, response []byte) {
	if !s.pool.Submit(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.byIdentifier[id] = entry{fingerprint: fingerprint, response: response, recordedAt: time.Now()}
	}) {
		s.logger.Warn().Str("identifier", id).Msg("dedup write dropped: queue full")
	}
}

// Sweep drops expired entries from both keyspaces.
func (s *Store) Sweep() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.byPayload {
		if e.expired(now) {
			delete(s.byPayload, k)
		}
	}
	for k, e := range s.byIdentifier {
		if e.expired(now) {
			delete(s.byIdentifier, k)
		}
	}
}
