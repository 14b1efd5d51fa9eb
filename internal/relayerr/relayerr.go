// Package relayerr classifies errors raised anywhere in the relay so HTTP
// handlers and retry logic can act on a single taxonomy instead of
// inspecting error strings.
package relayerr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is one row of the error taxonomy in the settlement spec.
type Kind string

const (
	KindInvalidRequest        Kind = "InvalidRequest"
	KindSettlementVerification Kind = "SettlementVerificationFailed"
	KindAuthFailure           Kind = "AuthFailure"
	KindRateLimitExceeded     Kind = "RateLimitExceeded"
	KindNonceConflict         Kind = "NonceConflict"
	KindSettlementBroadcast   Kind = "SettlementBroadcastFailed"
	KindSettlementFailed      Kind = "SettlementFailed"
	KindReceiptNotFound       Kind = "ReceiptNotFound"
	KindReceiptExpired        Kind = "ReceiptExpired"
	KindReceiptConsumed       Kind = "ReceiptConsumed"
	KindResourceMismatch      Kind = "ResourceMismatch"
	KindChainUnavailable      Kind = "ChainUnavailable"
	KindInternal              Kind = "Internal"
	KindInvalidAuthSignature  Kind = "InvalidAuthSignature"
	KindAuthExpired           Kind = "AuthExpired"
)

// httpStatus mirrors spec.md §7's "Surfaces as" column.
var httpStatus = map[Kind]int{
	KindInvalidRequest:         400,
	KindSettlementVerification: 400,
	KindAuthFailure:            401,
	KindRateLimitExceeded:      429,
	KindNonceConflict:          409,
	KindSettlementBroadcast:    502,
	KindSettlementFailed:       422,
	KindReceiptNotFound:        404,
	KindReceiptExpired:         404,
	KindReceiptConsumed:        409,
	KindResourceMismatch:       400,
	KindChainUnavailable:       503,
	KindInternal:               500,
	KindInvalidAuthSignature:   401,
	KindAuthExpired:            401,
}

var retryable = map[Kind]bool{
	KindRateLimitExceeded:   true,
	KindNonceConflict:       true,
	KindSettlementBroadcast: true,
	KindChainUnavailable:    true,
	KindInternal:            true,
}

// RelayError is the single error type every component returns for
// conditions a caller is expected to branch on. Internal/unexpected
// failures should still be wrapped in one (Kind = KindInternal) before
// crossing a component boundary, matching the teacher's
// "all methods return ChainError" contract.
type RelayError struct {
	Kind       Kind
	Message    string
	Details    map[string]any
	RetryAfter *time.Duration
	Cause      error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RelayError) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code this error kind surfaces as.
func (e *RelayError) HTTPStatus() int {
	if code, ok := httpStatus[e.Kind]; ok {
		return code
	}
	return 500
}

// Retryable reports whether callers should retry (optionally after
// RetryAfter).
func (e *RelayError) Retryable() bool {
	return retryable[e.Kind]
}

// New creates a RelayError of the given kind.
func New(kind Kind, message string, cause error) *RelayError {
	return &RelayError{Kind: kind, Message: message, Cause: cause}
}

// WithRetryAfter attaches a suggested retry delay, used for
// RateLimitExceeded and NonceConflict.
func WithRetryAfter(kind Kind, message string, retryAfter time.Duration, cause error) *RelayError {
	return &RelayError{Kind: kind, Message: message, RetryAfter: &retryAfter, Cause: cause}
}

// WithDetails attaches structured detail fields (e.g. mempoolDepth).
func WithDetails(kind Kind, message string, details map[string]any, cause error) *RelayError {
	return &RelayError{Kind: kind, Message: message, Details: details, Cause: cause}
}

// As extracts a *RelayError from err, following the standard errors.As
// convention so callers don't need a type switch.
func As(err error) (*RelayError, bool) {
	var re *RelayError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindInternal if err is not (or does
// not wrap) a *RelayError.
func KindOf(err error) Kind {
	if re, ok := As(err); ok {
		return re.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is a RelayError marked retryable.
func IsRetryable(err error) bool {
	re, ok := As(err)
	return ok && re.Retryable()
}
