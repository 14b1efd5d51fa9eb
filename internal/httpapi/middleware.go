package httpapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sponsorrelay/relay/internal/metrics"
)

// Middleware matches the shape the pack's DanDo385-go-edu middleware
// minis use throughout: a function from one http.Handler to another,
// composed outside-in.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares to h in the order given, so the first
// middleware listed is the outermost.
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

type contextKey int

const requestIDKey contextKey = iota

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// RequestID assigns a UUID to every request lacking an incoming
// X-Request-ID header, honoring the header when the caller supplies one,
// and echoes it back on the response — the same pattern the pack's
// 37-http-middleware-chain RequestIDMiddleware uses, generalized from an
// atomic counter to github.com/google/uuid since this module already
// carries that dependency for receipt IDs.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
		})
	}
}

// statusWriter captures the status code written so Logging can report it
// after the handler returns, mirroring the pack's ResponseWriter wrapper.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Logging emits one structured line per request via zerolog, the
// teacher's logging library throughout the rest of this module.
func Logging(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info().
				Str("requestId", requestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

// Recovery converts a panic anywhere downstream into a 500 Internal
// response instead of crashing the process, logging the stack trace.
func Recovery(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Str("requestId", requestID(r.Context())).
						Interface("panic", rec).
						Bytes("stack", debug.Stack()).
						Msg("panic recovered")
					writeError(w, r, errInternalPanic)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORS allows a configured origin (or "*") to call the API from a
// browser-based client.
func CORS(allowOrigin string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Metrics records request counts and latency histograms per route.
func Metrics(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			class := "2xx"
			switch {
			case sw.status >= 500:
				class = "5xx"
			case sw.status >= 400:
				class = "4xx"
			}
			m.RequestsTotal.WithLabelValues(r.URL.Path, class).Inc()
			m.RequestDuration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
		})
	}
}

// GlobalRateLimit enforces a coarse server-wide token bucket as a safety
// net ahead of C9's per-origin and per-API-key limiters, so a burst
// across many distinct origins still can't saturate the process. Grounds
// golang.org/x/time/rate, which the pack's 50-mini-service-all-features
// solution wires in for exactly this role.
func GlobalRateLimit(ratePerSecond float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, r, errGlobalRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Timeout bounds every request to d, matching spec.md §5's conservative
// (≤90s) handler deadline. Grounded on the pack's
// SolutionTimeoutMiddleware (context.WithTimeout plus a done channel
// racing the context).
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				writeError(w, r, errRequestTimeout)
			}
		})
	}
}
