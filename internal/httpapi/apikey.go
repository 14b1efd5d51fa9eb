package httpapi

import (
	"context"
	"net/http"

	"github.com/sponsorrelay/relay/internal/apikeys"
	"github.com/sponsorrelay/relay/internal/metrics"
)

type apiKeyContextKey int

const hashedAPIKeyContextKey apiKeyContextKey = iota

// RequireAPIKey gates a route behind C9's API-key store: it hashes the
// X-API-Key header, authorizes it against the per-tier minute/day/fee-cap
// ledgers, and stashes the hashed key in context so the handler can call
// store.RecordUsage once the gated operation actually succeeds — ledger
// counters increment on success only, never on mere authorization. Every
// attempt, authorized or not, is mirrored into m.APIKeyRequestsTotal.
func RequireAPIKey(store *apikeys.Store, m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				recordAPIKeyAttempt(m, "unknown", "missing")
				writeError(w, r, errMissingAPIKey)
				return
			}
			hashed := apikeys.Hash(raw)
			tier, err := store.Authorize(hashed)
			if err != nil {
				recordAPIKeyAttempt(m, "unknown", "denied")
				writeError(w, r, err)
				return
			}
			recordAPIKeyAttempt(m, tier.Name, "authorized")
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), hashedAPIKeyContextKey, hashed)))
		})
	}
}

func recordAPIKeyAttempt(m *metrics.Metrics, tier, outcome string) {
	if m == nil {
		return
	}
	m.APIKeyRequestsTotal.WithLabelValues(tier, outcome).Inc()
}

func hashedAPIKey(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(hashedAPIKeyContextKey).(string)
	return id, ok
}
