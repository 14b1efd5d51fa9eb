package chainclient

import (
	"sync"
	"time"
)

// endpointHealth is a per-base-URL circuit breaker, adapted from the
// teacher's rpc.SimpleHealthTracker: three consecutive failures opens the
// circuit, two consecutive successes closes it.
type endpointHealth struct {
	totalCalls      int64
	successfulCalls int64
	failedCalls     int64
	avgLatencyMs    int64
	lastFailureUnix int64
	circuitOpen     bool

	consecutiveFailures  int64
	consecutiveSuccesses int64
}

type healthTracker struct {
	mu                sync.RWMutex
	health            map[string]*endpointHealth
	failureThreshold  int64
	successThreshold  int64
	circuitOpenWindow time.Duration
}

func newHealthTracker() *healthTracker {
	return &healthTracker{
		health:            make(map[string]*endpointHealth),
		failureThreshold:  3,
		successThreshold:  2,
		circuitOpenWindow: 30 * time.Second,
	}
}

func (t *healthTracker) recordSuccess(endpoint string, durationMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.getOrCreate(endpoint)
	h.totalCalls++
	h.successfulCalls++
	if h.avgLatencyMs == 0 {
		h.avgLatencyMs = durationMs
	} else {
		h.avgLatencyMs = (h.avgLatencyMs*9 + durationMs) / 10
	}
	h.consecutiveFailures = 0
	h.consecutiveSuccesses++
	if h.circuitOpen && h.consecutiveSuccesses >= t.successThreshold {
		h.circuitOpen = false
	}
}

func (t *healthTracker) recordFailure(endpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.getOrCreate(endpoint)
	h.totalCalls++
	h.failedCalls++
	h.lastFailureUnix = time.Now().Unix()
	h.consecutiveSuccesses = 0
	h.consecutiveFailures++
	if h.consecutiveFailures >= t.failureThreshold {
		h.circuitOpen = true
	}
}

func (t *healthTracker) isHealthy(endpoint string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, ok := t.health[endpoint]
	if !ok || !h.circuitOpen {
		return true
	}
	return time.Now().Unix()-h.lastFailureUnix >= int64(t.circuitOpenWindow.Seconds())
}

func (t *healthTracker) getOrCreate(endpoint string) *endpointHealth {
	h, ok := t.health[endpoint]
	if !ok {
		h = &endpointHealth{}
		t.health[endpoint] = h
	}
	return h
}
