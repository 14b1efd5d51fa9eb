// Package stats implements C4, the atomic statistics aggregator backing
// the operator dashboard: a daily/hourly rolling aggregation plus a
// bounded recent-transaction log, all written fire-and-forget.
//
// Grounded on the teacher's atomic-counters-vs-mutex exercise for the
// "contend only on the hot row, not the whole structure" shape, and on
// chainadapter/metrics/prometheus.go for the per-key mutex-guarded map
// pattern this package generalizes from method/operation counters to
// calendar-keyed rows.
package stats

import (
	"math/big"
	"sync"
	"time"

	"github.com/sponsorrelay/relay/internal/asyncwrite"
)

const (
	txLogRetention     = 7 * 24 * time.Hour
	hourlyRetention    = 48 * time.Hour
	dailyRetention     = 90 * 24 * time.Hour
	txLogHardCap       = 5000 // absolute cap independent of age, avoids unbounded growth under load
)

// Aggregator owns every row. All public methods are safe for concurrent
// use; RecordTransaction and RecordError additionally hand their work to
// a background pool so callers never wait on persistence.
type Aggregator struct {
	mu     sync.RWMutex
	daily  map[string]*DailyStats
	hourly map[string]*HourlyStats
	txLog  []TxLogEntry

	pool *asyncwrite.Pool
}

// New builds an Aggregator with a small background pool for
// fire-and-forget writes.
func New() *Aggregator {
	return &Aggregator{
		daily:  make(map[string]*DailyStats),
		hourly: make(map[string]*HourlyStats),
		pool:   asyncwrite.NewPool(2, 2048),
	}
}

func dayKey(t time.Time) string  { return t.UTC().Format("2006-01-02") }
func hourKey(t time.Time) string { return t.UTC().Format("2006-01-02T15") }

// RecordTransaction appends a TxLogEntry and folds the observation into
// today's daily row and this hour's hourly row. Fire-and-forget: the
// caller does not wait for the write to land.
func (a *Aggregator) RecordTransaction(rec TransactionRecord) {
	now := time.Now()
	a.pool.Submit(func() {
		a.recordTransactionNow(rec, now)
	})
}

func (a *Aggregator) recordTransactionNow(rec TransactionRecord, now time.Time) {
	amount := rec.Amount
	if amount == nil {
		amount = big.NewInt(0)
	}

	a.mu.Lock()
	daily := a.dailyRowLocked(dayKey(now))
	hourly := a.hourlyRowLocked(hourKey(now))
	a.txLog = append(a.txLog, TxLogEntry{
		Timestamp: now, Endpoint: rec.Endpoint, Success: rec.Success, ClientError: rec.ClientError,
		TokenType: rec.TokenType, Amount: amount, Fee: rec.Fee, Txid: rec.Txid,
		Sender: rec.Sender, Recipient: rec.Recipient, Status: rec.Status, BlockHeight: rec.BlockHeight,
	})
	if len(a.txLog) > txLogHardCap {
		a.txLog = a.txLog[len(a.txLog)-txLogHardCap:]
	}
	a.mu.Unlock()

	// Contention from here down is scoped to the two rows touched, not
	// the aggregator's maps.
	daily.mu.Lock()
	daily.Total++
	if rec.Success {
		daily.Success++
	} else {
		daily.Failed++
	}
	if rec.ClientError != "" {
		daily.ClientErrors++
	}
	tok := daily.PerToken[rec.TokenType]
	if tok == nil {
		tok = &TokenStats{Volume: big.NewInt(0)}
		daily.PerToken[rec.TokenType] = tok
	}
	tok.Count++
	tok.Volume.Add(tok.Volume, amount)

	ep := daily.PerEndpoint[rec.Endpoint]
	if ep == nil {
		ep = &EndpointStats{}
		daily.PerEndpoint[rec.Endpoint] = ep
	}
	if rec.Success {
		ep.Success++
	} else {
		ep.Failed++
	}
	daily.Fees.observe(rec.Fee)
	daily.mu.Unlock()

	hourly.mu.Lock()
	hourly.Total++
	if rec.Success {
		hourly.Success++
	} else {
		hourly.Failed++
	}
	hourly.Fees.observe(rec.Fee)
	hourly.mu.Unlock()
}

// RecordError increments only category's counter on today's row.
// Transaction totals are untouched here to avoid double counting against
// RecordTransaction.
func (a *Aggregator) RecordError(category ErrorCategory) {
	now := time.Now()
	a.pool.Submit(func() {
		a.mu.Lock()
		daily := a.dailyRowLocked(dayKey(now))
		a.mu.Unlock()

		daily.mu.Lock()
		daily.ErrorsByCategory[category]++
		daily.mu.Unlock()
	})
}

// dailyRowLocked and hourlyRowLocked assume a.mu is held for writing.
func (a *Aggregator) dailyRowLocked(key string) *DailyStats {
	row, ok := a.daily[key]
	if !ok {
		row = newDailyStats(key)
		a.daily[key] = row
	}
	return row
}

func (a *Aggregator) hourlyRowLocked(key string) *HourlyStats {
	row, ok := a.hourly[key]
	if !ok {
		row = newHourlyStats(key)
		a.hourly[key] = row
	}
	return row
}

