// Package httpapi exposes the relay's HTTP surface: JSON envelopes over
// the settlement pipeline (C8), the fee estimator (C7), the stats
// aggregator (C4), and the nonce coordinator (C3) diagnostics, gated by
// the per-origin limiter and API-key store (C9).
//
// Grounded on the pack's DanDo385-go-edu 50-mini-service-all-features
// (stdlib http.ServeMux plus a composable middleware.Chain, rather than
// a third-party router — the pack's own HTTP examples never reach for
// one) and 37-http-middleware-chain for the concrete middleware shapes.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sponsorrelay/relay/internal/relayerr"
)

// writeSuccess wraps every 2xx JSON body per spec.md §6: all success
// responses carry success:true and requestId alongside the operation's
// own fields, flattened into one object.
func writeSuccess(w http.ResponseWriter, r *http.Request, status int, body map[string]any) {
	body["success"] = true
	body["requestId"] = requestID(r.Context())
	writeJSON(w, status, body)
}

// errorBody is the shape every non-2xx JSON body takes per spec.md §7.
type errorBody struct {
	Success    bool           `json:"success"`
	RequestID  string         `json:"requestId"`
	Error      string         `json:"error"`
	Code       string         `json:"code"`
	Details    map[string]any `json:"details,omitempty"`
	Retryable  bool           `json:"retryable"`
	RetryAfter *float64       `json:"retryAfter,omitempty"`
}

// writeError renders err as the standard error envelope, deriving the
// HTTP status and Retry-After header from its relayerr.Kind.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	re, ok := relayerr.As(err)
	if !ok {
		re = relayerr.New(relayerr.KindInternal, err.Error(), err)
	}

	body := errorBody{
		Success:   false,
		RequestID: requestID(r.Context()),
		Error:     re.Message,
		Code:      string(re.Kind),
		Details:   re.Details,
		Retryable: re.Retryable(),
	}
	if re.RetryAfter != nil {
		seconds := re.RetryAfter.Seconds()
		body.RetryAfter = &seconds
		w.Header().Set("Retry-After", formatSeconds(seconds))
	}
	writeJSON(w, re.HTTPStatus(), body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func formatSeconds(seconds float64) string {
	whole := int64(seconds + 0.999999)
	if whole < 1 {
		whole = 1
	}
	return strconv.FormatInt(whole, 10)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return relayerr.New(relayerr.KindInvalidRequest, "malformed JSON body", err)
	}
	return nil
}
