package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sponsorrelay/relay/internal/apikeys"
	"github.com/sponsorrelay/relay/internal/audit"
	"github.com/sponsorrelay/relay/internal/config"
	"github.com/sponsorrelay/relay/internal/metrics"
	"github.com/sponsorrelay/relay/internal/settlement"
)

// Deps wires every component the HTTP surface calls into, plus the
// values (network, version, explorer base) handlers need but that live
// outside any one component.
type Deps struct {
	Pipeline          *settlement.Pipeline
	APIKeys           *apikeys.Store
	Metrics           *metrics.Metrics
	Registry          *prometheus.Registry
	AuditLog          *audit.Logger
	Logger            zerolog.Logger
	Network           config.Network
	Version           string
	ExplorerBaseURL   string
	SponsorAddresses  []string
	CORSAllowOrigin   string
}

func (d *Deps) audit(r *http.Request, endpoint string, err error, txid string) {
	if d.AuditLog == nil {
		return
	}
	entry := audit.Entry{
		RequestID:  requestID(r.Context()),
		Timestamp:  time.Now(),
		Endpoint:   endpoint,
		Status:     "SUCCESS",
		Txid:       txid,
		RemoteAddr: r.RemoteAddr,
	}
	if err != nil {
		entry.Status = "FAILURE"
		entry.FailureReason = err.Error()
	}
	if writeErr := d.AuditLog.Log(entry); writeErr != nil {
		d.Logger.Warn().Err(writeErr).Msg("audit log write failed")
	}
}

// NewRouter builds the complete HTTP surface per spec.md §6, wrapped in
// the standard middleware chain.
func NewRouter(d *Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /relay", d.handleRelay)
	mux.Handle("POST /sponsor", RequireAPIKey(d.APIKeys, d.Metrics)(http.HandlerFunc(d.handleSponsor)))
	mux.HandleFunc("POST /settle", d.handleFacilitatorSettle)
	mux.HandleFunc("POST /verify", d.handleFacilitatorVerify)
	mux.HandleFunc("GET /supported", d.handleSupported)
	mux.HandleFunc("GET /verify/{receiptId}", d.handleVerifyReceipt)
	mux.HandleFunc("POST /access", d.handleAccess)
	mux.HandleFunc("GET /fees", d.handleFees)
	mux.Handle("POST /fees/config", RequireAPIKey(d.APIKeys, d.Metrics)(http.HandlerFunc(d.handleFeesConfig)))
	mux.HandleFunc("GET /health", d.handleHealth)
	mux.HandleFunc("GET /stats", d.handleStats)
	mux.HandleFunc("GET /nonce/stats", d.handleNonceStats)
	mux.Handle("POST /nonce/reset", RequireAPIKey(d.APIKeys, d.Metrics)(http.HandlerFunc(d.handleNonceReset)))
	mux.Handle("GET /metrics", d.metricsHandler())

	return Chain(mux,
		Recovery(d.Logger),
		RequestID(),
		Logging(d.Logger),
		Metrics(d.Metrics),
		CORS(d.CORSAllowOrigin),
		GlobalRateLimit(200, 400),
		Timeout(90*time.Second),
	)
}

// metricsHandler wraps the promhttp exposition handler with a scrape-time
// refresh of the per-wallet nonce gauges: unlike the monotonic counters,
// NonceAvailable/NonceReserved track coordinator state directly, so they
// are synced from Coordinator.Snapshot just before every scrape instead
// of being incremented at call sites.
func (d *Deps) metricsHandler() http.Handler {
	var base http.Handler
	if d.Registry == nil {
		base = promhttp.Handler()
	} else {
		base = promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.refreshNonceGauges()
		base.ServeHTTP(w, r)
	})
}

func (d *Deps) refreshNonceGauges() {
	if d.Metrics == nil || d.Pipeline == nil {
		return
	}
	for _, idx := range d.Pipeline.WalletIndices() {
		snap, ok := d.Pipeline.Coordinator().Snapshot(idx)
		if !ok {
			continue
		}
		label := strconv.Itoa(idx)
		d.Metrics.NonceAvailable.WithLabelValues(label).Set(float64(len(snap.Available)))
		d.Metrics.NonceReserved.WithLabelValues(label).Set(float64(len(snap.ReservedNonces)))
	}
}
