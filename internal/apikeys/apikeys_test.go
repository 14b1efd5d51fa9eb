package apikeys

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sponsorrelay/relay/internal/relayerr"
)

func testTier() Tier {
	return Tier{
		Name:            "standard",
		RequestsPerMin:  2,
		RequestsPerDay:  3,
		DailyFeeCapUnit: big.NewInt(1000),
	}
}

func TestAuthorizeUnknownKeyFails(t *testing.T) {
	s := New()
	_, err := s.Authorize(Hash("nope"))
	require.Error(t, err)
	require.Equal(t, relayerr.KindAuthFailure, relayerr.KindOf(err))
}

func TestAuthorizeEnforcesPerMinuteLimit(t *testing.T) {
	s := New()
	key := Hash("abc")
	s.Register(key, testTier())

	_, err := s.Authorize(key)
	require.NoError(t, err)
	_, err = s.Authorize(key)
	require.NoError(t, err)

	_, err = s.Authorize(key)
	require.Error(t, err)
	require.Equal(t, relayerr.KindRateLimitExceeded, relayerr.KindOf(err))
}

func TestAuthorizeEnforcesPerDayLimit(t *testing.T) {
	s := New()
	key := Hash("abc")
	tier := testTier()
	tier.RequestsPerMin = 100 // isolate the daily cap
	s.Register(key, tier)

	for i := 0; i < tier.RequestsPerDay; i++ {
		_, err := s.Authorize(key)
		require.NoError(t, err)
		require.NoError(t, s.RecordUsage(key, nil))
	}

	_, err := s.Authorize(key)
	require.Error(t, err)
	require.Equal(t, relayerr.KindRateLimitExceeded, relayerr.KindOf(err))
}

func TestRecordUsageEnforcesDailyFeeCap(t *testing.T) {
	s := New()
	key := Hash("abc")
	tier := testTier()
	tier.RequestsPerMin = 100
	tier.RequestsPerDay = 100
	s.Register(key, tier)

	require.NoError(t, s.RecordUsage(key, big.NewInt(600)))
	err := s.RecordUsage(key, big.NewInt(600))
	require.Error(t, err)
	require.Equal(t, relayerr.KindRateLimitExceeded, relayerr.KindOf(err))
}

func TestRecordUsageUnknownKeyFails(t *testing.T) {
	s := New()
	err := s.RecordUsage(Hash("nope"), nil)
	require.Error(t, err)
	require.Equal(t, relayerr.KindAuthFailure, relayerr.KindOf(err))
}

func TestHashIsDeterministicAndDistinct(t *testing.T) {
	require.Equal(t, Hash("abc"), Hash("abc"))
	require.NotEqual(t, Hash("abc"), Hash("abd"))
}
