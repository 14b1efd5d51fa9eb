package httpapi

import "github.com/sponsorrelay/relay/internal/relayerr"

var (
	errInternalPanic      = relayerr.New(relayerr.KindInternal, "internal server error", nil)
	errGlobalRateLimited  = relayerr.New(relayerr.KindRateLimitExceeded, "server is at capacity, try again shortly", nil)
	errRequestTimeout     = relayerr.New(relayerr.KindInternal, "request exceeded its deadline", nil)
	errMissingAPIKey      = relayerr.New(relayerr.KindAuthFailure, "missing API key", nil)
)
