package dedup

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLookupByPayloadMissThenHit(t *testing.T) {
	s := New(zerolog.Nop())
	fp := Fingerprint([]byte("payload-x"))

	outcome, _ := s.LookupByPayload(fp)
	require.Equal(t, Miss, outcome)

	s.RecordPayload(fp, []byte(`{"ok":true}`))
	require.Eventually(t, func() bool {
		o, resp := s.LookupByPayload(fp)
		return o == Hit && string(resp) == `{"ok":true}`
	}, time.Second, 5*time.Millisecond)
}

func TestDedupIdempotence(t *testing.T) {
	s := New(zerolog.Nop())
	fp := Fingerprint([]byte("settle-payload"))

	o, _ := s.LookupByPayload(fp)
	require.Equal(t, Miss, o)
	s.RecordPayload(fp, []byte("response-body"))

	require.Eventually(t, func() bool {
		o, resp := s.LookupByPayload(fp)
		return o == Hit && string(resp) == "response-body"
	}, time.Second, 5*time.Millisecond)

	// A second lookup within the TTL window must return the exact same
	// cached body — this is what keeps settle(x); settle(x) broadcasting
	// exactly once.
	o, resp := s.LookupByPayload(fp)
	require.Equal(t, Hit, o)
	require.Equal(t, "response-body", string(resp))
}

func TestIdentifierConflictPurity(t *testing.T) {
	s := New(zerolog.Nop())
	id := "pay_abcdefghijklmnop"
	fpX := Fingerprint([]byte("payload-x"))
	fpY := Fingerprint([]byte("payload-y"))

	o, _, err := s.LookupByIdentifier(id, fpX)
	require.NoError(t, err)
	require.Equal(t, Miss, o)
	s.RecordIdentifier(id, fpX, []byte("response-for-x"))

	require.Eventually(t, func() bool {
		o, _, _ := s.LookupByIdentifier(id, fpX)
		return o == Hit
	}, time.Second, 5*time.Millisecond)

	o, resp, err := s.LookupByIdentifier(id, fpY)
	require.NoError(t, err)
	require.Equal(t, Conflict, o)
	require.Nil(t, resp)

	// The cache must still hold the original response for x.
	o, resp, err = s.LookupByIdentifier(id, fpX)
	require.NoError(t, err)
	require.Equal(t, Hit, o)
	require.Equal(t, "response-for-x", string(resp))
}

func TestValidClientIdentifier(t *testing.T) {
	require.True(t, ValidClientIdentifier("pay_abcdefghijklmnop"))
	require.False(t, ValidClientIdentifier("short"))
	require.False(t, ValidClientIdentifier("has a space in it 1234567890"))
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	s := New(zerolog.Nop())
	fp := Fingerprint([]byte("stale"))
	s.mu.Lock()
	s.byPayload[fp] = entry{fingerprint: fp, response: []byte("x"), recordedAt: time.Now().Add(-TTL - time.Second)}
	s.mu.Unlock()

	s.Sweep()

	o, _ := s.LookupByPayload(fp)
	require.Equal(t, Miss, o)
}
