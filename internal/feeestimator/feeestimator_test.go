package feeestimator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sponsorrelay/relay/internal/chainclient"
)

func clamps() map[Kind]Clamp {
	return map[Kind]Clamp{
		KindTokenTransfer: {Floor: 180, Ceiling: 2_000_000},
		KindContractCall:  {Floor: 400, Ceiling: 5_000_000},
		KindSmartContract: {Floor: 1000, Ceiling: 10_000_000},
	}
}

func TestEstimateQueriesChainOnColdCache(t *testing.T) {
	mock := chainclient.NewMockClient()
	mock.FeeEstimatesFunc = func(context.Context) (*chainclient.FeeEstimates, error) {
		return &chainclient.FeeEstimates{
			TokenTransfer: chainclient.FeePriorityTiers{Low: 100, Medium: 200, High: 300},
		}, nil
	}
	e := New(mock, clamps())

	est, err := e.Estimate(context.Background())
	require.NoError(t, err)
	require.Equal(t, SourceChain, est.Source)
	// 100 is below the 180 floor and must be clamped up.
	require.EqualValues(t, 180, est.TokenTransfer.Low)
	require.EqualValues(t, 200, est.TokenTransfer.Medium)
	require.EqualValues(t, 300, est.TokenTransfer.High)
	require.Equal(t, 1, mock.FeeEstimatesCalls)
}

func TestEstimateServesFromCacheWithinFreshnessWindow(t *testing.T) {
	mock := chainclient.NewMockClient()
	mock.FeeEstimatesFunc = func(context.Context) (*chainclient.FeeEstimates, error) {
		return &chainclient.FeeEstimates{TokenTransfer: chainclient.FeePriorityTiers{Low: 500, Medium: 600, High: 700}}, nil
	}
	e := New(mock, clamps())

	_, err := e.Estimate(context.Background())
	require.NoError(t, err)
	est, err := e.Estimate(context.Background())
	require.NoError(t, err)
	require.Equal(t, SourceCache, est.Source)
	require.Equal(t, 1, mock.FeeEstimatesCalls, "second call within freshness window must not hit the chain")
}

func TestEstimateClampsCeiling(t *testing.T) {
	mock := chainclient.NewMockClient()
	mock.FeeEstimatesFunc = func(context.Context) (*chainclient.FeeEstimates, error) {
		return &chainclient.FeeEstimates{ContractCall: chainclient.FeePriorityTiers{Low: 1, Medium: 2, High: 50_000_000}}, nil
	}
	e := New(mock, clamps())

	est, err := e.Estimate(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 5_000_000, est.ContractCall.High)
	require.EqualValues(t, 400, est.ContractCall.Low)
}

func TestSetConfigRejectsInvertedClamp(t *testing.T) {
	e := New(chainclient.NewMockClient(), clamps())
	err := e.SetConfig(map[Kind]Clamp{KindTokenTransfer: {Floor: 100, Ceiling: 50}})
	require.Error(t, err)
}

func TestEstimateFallsBackToDefaultOnChainError(t *testing.T) {
	mock := chainclient.NewMockClient()
	mock.FeeEstimatesFunc = func(context.Context) (*chainclient.FeeEstimates, error) {
		return nil, assertionError{}
	}
	e := New(mock, clamps())

	est, err := e.Estimate(context.Background())
	require.NoError(t, err)
	require.Equal(t, SourceDefault, est.Source)
	require.EqualValues(t, 180, est.TokenTransfer.Low)
}

type assertionError struct{}

func (assertionError) Error() string { return "chain unavailable" }
