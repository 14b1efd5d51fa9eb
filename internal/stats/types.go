package stats

import (
	"math/big"
	"sync"
	"time"
)

// ErrorCategory is the fixed set recordError accepts.
type ErrorCategory string

const (
	ErrorValidation ErrorCategory = "validation"
	ErrorRateLimit  ErrorCategory = "rateLimit"
	ErrorSponsoring ErrorCategory = "sponsoring"
	ErrorSettlement ErrorCategory = "settlement"
	ErrorInternal   ErrorCategory = "internal"
)

var allErrorCategories = []ErrorCategory{
	ErrorValidation, ErrorRateLimit, ErrorSponsoring, ErrorSettlement, ErrorInternal,
}

// TransactionRecord is the input to RecordTransaction.
type TransactionRecord struct {
	Endpoint    string
	Success     bool
	ClientError string
	TokenType   string
	Amount      *big.Int
	Fee         *big.Int // nil when not yet known
	Txid        string
	Sender      string
	Recipient   string
	Status      string
	BlockHeight *uint64
}

// TxLogEntry is one append-only row of the recent-activity log.
type TxLogEntry struct {
	Timestamp   time.Time
	Endpoint    string
	Success     bool
	ClientError string
	TokenType   string
	Amount      *big.Int
	Fee         *big.Int
	Txid        string
	Sender      string
	Recipient   string
	Status      string
	BlockHeight *uint64
}

// TokenStats is per-token count/volume within a row.
type TokenStats struct {
	Count  int64
	Volume *big.Int
}

// EndpointStats is per-endpoint success/failure counts within a row.
type EndpointStats struct {
	Success int64
	Failed  int64
}

// FeeStats summarizes a row's fee observations.
type FeeStats struct {
	Sum   *big.Int
	Count int64
	Min   *big.Int
	Max   *big.Int
}

func newFeeStats() *FeeStats {
	return &FeeStats{Sum: big.NewInt(0)}
}

func (f *FeeStats) observe(fee *big.Int) {
	if fee == nil {
		return
	}
	f.Sum.Add(f.Sum, fee)
	f.Count++
	if f.Min == nil || fee.Cmp(f.Min) < 0 {
		f.Min = new(big.Int).Set(fee)
	}
	if f.Max == nil || fee.Cmp(f.Max) > 0 {
		f.Max = new(big.Int).Set(fee)
	}
}

// DailyStats is the UTC-day aggregation row. mu scopes contention to this
// single row rather than the aggregator as a whole.
type DailyStats struct {
	mu sync.Mutex

	Date             string // YYYY-MM-DD, UTC
	Total            int64
	Success          int64
	Failed           int64
	PerToken         map[string]*TokenStats
	PerEndpoint      map[string]*EndpointStats
	Fees             *FeeStats
	ClientErrors     int64
	ErrorsByCategory map[ErrorCategory]int64
}

func newDailyStats(date string) *DailyStats {
	errs := make(map[ErrorCategory]int64, len(allErrorCategories))
	for _, c := range allErrorCategories {
		errs[c] = 0
	}
	return &DailyStats{
		Date:             date,
		PerToken:         make(map[string]*TokenStats),
		PerEndpoint:      make(map[string]*EndpointStats),
		Fees:             newFeeStats(),
		ErrorsByCategory: errs,
	}
}

// HourlyStats is the UTC-hour aggregation row, kept intentionally
// lighter than DailyStats: overview() only needs rolling totals and fee
// sums from it, the token/endpoint breakdown comes from today's daily row.
type HourlyStats struct {
	mu sync.Mutex

	HourKey string // YYYY-MM-DDTHH, UTC
	Total   int64
	Success int64
	Failed  int64
	Fees    *FeeStats
}

func newHourlyStats(hourKey string) *HourlyStats {
	return &HourlyStats{HourKey: hourKey, Fees: newFeeStats()}
}

// Trend classifies a current value against its predecessor per spec.md
// §4.4: >5% up, <-5% down, otherwise stable, with prev=0/current>0
// special-cased to "up" rather than dividing by zero.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// View types are plain, mutex-free copies returned from query methods so
// callers never see (or could misuse) a row's internal lock.

type FeeStatsView struct {
	Sum   *big.Int
	Count int64
	Min   *big.Int
	Max   *big.Int
}

func (f *FeeStats) view() FeeStatsView {
	return FeeStatsView{Sum: new(big.Int).Set(f.Sum), Count: f.Count, Min: copyBig(f.Min), Max: copyBig(f.Max)}
}

func copyBig(b *big.Int) *big.Int {
	if b == nil {
		return nil
	}
	return new(big.Int).Set(b)
}

type DailyStatsView struct {
	Date             string
	Total            int64
	Success          int64
	Failed           int64
	PerToken         map[string]TokenStats
	PerEndpoint      map[string]EndpointStats
	Fees             FeeStatsView
	ClientErrors     int64
	ErrorsByCategory map[ErrorCategory]int64
}

func (d *DailyStats) view() DailyStatsView {
	d.mu.Lock()
	defer d.mu.Unlock()

	perToken := make(map[string]TokenStats, len(d.PerToken))
	for k, v := range d.PerToken {
		perToken[k] = TokenStats{Count: v.Count, Volume: copyBig(v.Volume)}
	}
	perEndpoint := make(map[string]EndpointStats, len(d.PerEndpoint))
	for k, v := range d.PerEndpoint {
		perEndpoint[k] = *v
	}
	errs := make(map[ErrorCategory]int64, len(d.ErrorsByCategory))
	for k, v := range d.ErrorsByCategory {
		errs[k] = v
	}
	return DailyStatsView{
		Date: d.Date, Total: d.Total, Success: d.Success, Failed: d.Failed,
		PerToken: perToken, PerEndpoint: perEndpoint, Fees: d.Fees.view(),
		ClientErrors: d.ClientErrors, ErrorsByCategory: errs,
	}
}

type HourlyStatsView struct {
	HourKey string
	Total   int64
	Success int64
	Failed  int64
	Fees    FeeStatsView
}

func (h *HourlyStats) view() HourlyStatsView {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HourlyStatsView{HourKey: h.HourKey, Total: h.Total, Success: h.Success, Failed: h.Failed, Fees: h.Fees.view()}
}

func computeTrend(current, previous int64) Trend {
	if previous == 0 {
		if current > 0 {
			return TrendUp
		}
		return TrendStable
	}
	delta := float64(current-previous) / float64(previous)
	switch {
	case delta > 0.05:
		return TrendUp
	case delta < -0.05:
		return TrendDown
	default:
		return TrendStable
	}
}
