package noncecoord

import "fmt"

// ChainingLimitExceeded is returned by AssignNonce when every candidate
// wallet already holds ChainingLimit in-flight reservations.
type ChainingLimitExceeded struct {
	MempoolDepth int
}

func (e *ChainingLimitExceeded) Error() string {
	return fmt.Sprintf("chaining limit exceeded: mempool depth %d", e.MempoolDepth)
}

// RetryAfterSeconds is an operator-supplied heuristic: estimated drain
// time is roughly half a second per in-flight reservation.
func (e *ChainingLimitExceeded) RetryAfterSeconds() int {
	return e.MempoolDepth / 2
}
