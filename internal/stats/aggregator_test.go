package stats

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordTransactionUpdatesDailyAndHourlyRows(t *testing.T) {
	a := New()
	a.RecordTransaction(TransactionRecord{
		Endpoint: "relay", Success: true, TokenType: "Native", Amount: big.NewInt(1000), Fee: big.NewInt(300),
	})

	require.Eventually(t, func() bool {
		today := a.DailyStats(1)
		return len(today) == 1 && today[0].Total == 1
	}, time.Second, 5*time.Millisecond)

	today := a.DailyStats(1)[0]
	require.EqualValues(t, 1, today.Success)
	require.EqualValues(t, 0, today.Failed)
	require.Equal(t, "1000", today.PerToken["Native"].Volume.String())
	require.Equal(t, "300", today.Fees.Sum.String())

	hourly := a.HourlyStats()
	require.NotEmpty(t, hourly)
	last := hourly[len(hourly)-1]
	require.EqualValues(t, 1, last.Total)
}

func TestRecordErrorDoesNotTouchTransactionTotals(t *testing.T) {
	a := New()
	a.RecordError(ErrorValidation)

	require.Eventually(t, func() bool {
		today := a.DailyStats(1)
		return len(today) == 1 && today[0].ErrorsByCategory[ErrorValidation] == 1
	}, time.Second, 5*time.Millisecond)

	today := a.DailyStats(1)[0]
	require.EqualValues(t, 0, today.Total)
}

func TestOverviewCrossingMidnightInvariant(t *testing.T) {
	a := New()
	// Seed hourly rows directly so the test doesn't depend on wall-clock
	// timing near a real midnight boundary.
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		key := hourKey(now.Add(-time.Duration(i) * time.Hour))
		a.mu.Lock()
		row := a.hourlyRowLocked(key)
		a.mu.Unlock()
		row.mu.Lock()
		row.Total = 10
		row.Success = 9
		row.Failed = 1
		row.mu.Unlock()
	}

	ov := a.Overview()
	var sum int64
	for _, h := range a.HourlyStats() {
		sum += h.Total
	}
	require.Equal(t, sum, ov.Last24hTotal)
}

func TestOverviewTokenPercentageClosure(t *testing.T) {
	a := New()
	a.RecordTransaction(TransactionRecord{Endpoint: "relay", Success: true, TokenType: "Native", Amount: big.NewInt(1)})
	a.RecordTransaction(TransactionRecord{Endpoint: "relay", Success: true, TokenType: "WrappedBTC", Amount: big.NewInt(1)})
	a.RecordTransaction(TransactionRecord{Endpoint: "relay", Success: true, TokenType: "WrappedBTC", Amount: big.NewInt(1)})

	require.Eventually(t, func() bool {
		return a.DailyStats(1)[0].Total == 3
	}, time.Second, 5*time.Millisecond)

	ov := a.Overview()
	var total float64
	for _, tok := range ov.Tokens {
		total += tok.Percentage
	}
	require.InDelta(t, 100, total, 0.001)
}

func TestOverviewTokenPercentageClosureWithNoTransactions(t *testing.T) {
	a := New()
	ov := a.Overview()
	var total float64
	for _, tok := range ov.Tokens {
		total += tok.Percentage
	}
	require.Zero(t, total)
}

func TestTrendRule(t *testing.T) {
	cases := []struct {
		name     string
		current  int64
		previous int64
		want     Trend
	}{
		{"up past threshold", 106, 100, TrendUp},
		{"down past threshold", 94, 100, TrendDown},
		{"stable within band", 103, 100, TrendStable},
		{"stable exactly at lower edge still stable", 95, 100, TrendStable},
		{"zero previous with activity is up", 5, 0, TrendUp},
		{"zero previous and zero current is stable", 0, 0, TrendStable},
		{"negative delta zero current", 0, 10, TrendDown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, computeTrend(c.current, c.previous))
		})
	}
}

func TestRecentTxLogFiltersByEndpointAndLimit(t *testing.T) {
	a := New()
	a.RecordTransaction(TransactionRecord{Endpoint: "relay", Success: true, TokenType: "Native", Amount: big.NewInt(1)})
	a.RecordTransaction(TransactionRecord{Endpoint: "settle", Success: true, TokenType: "Native", Amount: big.NewInt(1)})

	require.Eventually(t, func() bool {
		return a.DailyStats(1)[0].Total == 2
	}, time.Second, 5*time.Millisecond)

	entries := a.RecentTxLog(RecentTxLogOptions{Endpoint: "settle", Limit: 10})
	require.Len(t, entries, 1)
	require.Equal(t, "settle", entries[0].Endpoint)
}
