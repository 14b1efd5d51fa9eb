package stats

import (
	"math/big"
	"time"
)

// DailyStats returns the last n days (oldest first), including today,
// creating no row for a day that never recorded anything.
func (a *Aggregator) DailyStats(n int) []DailyStatsView {
	now := time.Now()
	a.mu.RLock()
	defer a.mu.RUnlock()

	views := make([]DailyStatsView, 0, n)
	for i := n - 1; i >= 0; i-- {
		key := dayKey(now.AddDate(0, 0, -i))
		if row, ok := a.daily[key]; ok {
			views = append(views, row.view())
		}
	}
	return views
}

// HourlyStats returns the last 24 UTC hours in ascending order.
func (a *Aggregator) HourlyStats() []HourlyStatsView {
	now := time.Now()
	a.mu.RLock()
	defer a.mu.RUnlock()

	views := make([]HourlyStatsView, 0, 24)
	for i := 23; i >= 0; i-- {
		key := hourKey(now.Add(-time.Duration(i) * time.Hour))
		if row, ok := a.hourly[key]; ok {
			views = append(views, row.view())
		}
	}
	return views
}

// RecentTxLogOptions bounds a RecentTxLog query per spec.md §4.4.
type RecentTxLogOptions struct {
	Days     int // clamped to [1,7]
	Limit    int // clamped to [1,200]
	Endpoint string
}

// RecentTxLog returns the most recent matching entries, newest first.
func (a *Aggregator) RecentTxLog(opts RecentTxLogOptions) []TxLogEntry {
	days := opts.Days
	if days <= 0 || days > 7 {
		days = 7
	}
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)

	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]TxLogEntry, 0, limit)
	for i := len(a.txLog) - 1; i >= 0 && len(result) < limit; i-- {
		entry := a.txLog[i]
		if entry.Timestamp.Before(cutoff) {
			break
		}
		if opts.Endpoint != "" && entry.Endpoint != opts.Endpoint {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// OverviewTokenBreakdown is one row of Overview.Tokens.
type OverviewTokenBreakdown struct {
	Count      int64
	Volume     *big.Int
	Percentage float64
}

// Overview is the dashboard headline view.
type Overview struct {
	Last24hTotal   int64
	Last24hSuccess int64
	Last24hFailed  int64
	Tokens         map[string]OverviewTokenBreakdown
	Endpoints      map[string]EndpointStats
	Fees           FeeStatsView
	FeeTrend       Trend
}

// Overview composes the rolling-24h totals from hourly rows (so it
// crosses midnight correctly — see the crossing-midnight invariant in
// spec.md §8), the token/endpoint breakdown from today's daily row, and a
// fee trend against yesterday's row.
func (a *Aggregator) Overview() Overview {
	hourly := a.HourlyStats()

	var ov Overview
	for _, h := range hourly {
		ov.Last24hTotal += h.Total
		ov.Last24hSuccess += h.Success
		ov.Last24hFailed += h.Failed
	}

	now := time.Now()
	today := a.dailyView(dayKey(now))
	yesterday := a.dailyView(dayKey(now.AddDate(0, 0, -1)))

	ov.Tokens = make(map[string]OverviewTokenBreakdown, len(today.PerToken))
	for token, t := range today.PerToken {
		pct := 0.0
		if today.Total > 0 {
			pct = 100 * float64(t.Count) / float64(today.Total)
		}
		ov.Tokens[token] = OverviewTokenBreakdown{Count: t.Count, Volume: t.Volume, Percentage: pct}
	}

	ov.Endpoints = make(map[string]EndpointStats, len(today.PerEndpoint))
	for ep, v := range today.PerEndpoint {
		ov.Endpoints[ep] = v
	}

	ov.Fees = today.Fees
	ov.FeeTrend = computeTrend(today.Fees.Sum.Int64(), yesterday.Fees.Sum.Int64())
	return ov
}

func (a *Aggregator) dailyView(key string) DailyStatsView {
	a.mu.RLock()
	row, ok := a.daily[key]
	a.mu.RUnlock()
	if !ok {
		return newDailyStats(key).view()
	}
	return row.view()
}

// Prune drops rows and log entries past their retention window. Intended
// to be called periodically (e.g. alongside the nonce coordinator's
// reconciliation ticker) rather than on every write.
func (a *Aggregator) Prune() {
	now := time.Now()
	dailyCutoff := dayKey(now.Add(-dailyRetention))
	hourlyCutoff := hourKey(now.Add(-hourlyRetention))
	txCutoff := now.Add(-txLogRetention)

	a.mu.Lock()
	defer a.mu.Unlock()

	for key := range a.daily {
		if key < dailyCutoff {
			delete(a.daily, key)
		}
	}
	for key := range a.hourly {
		if key < hourlyCutoff {
			delete(a.hourly, key)
		}
	}

	kept := a.txLog[:0]
	for _, entry := range a.txLog {
		if !entry.Timestamp.Before(txCutoff) {
			kept = append(kept, entry)
		}
	}
	a.txLog = kept
}
