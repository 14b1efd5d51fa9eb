package chainclient

import "time"

// TxStatus is the chain-reported status of a broadcast transaction.
// Mirrors spec.md §4.1's {pending, success, dropped_replace_by_fee,
// dropped_*, abort_*, unknown} set.
type TxStatus string

const (
	StatusPending               TxStatus = "pending"
	StatusSuccess               TxStatus = "success"
	StatusDroppedReplaceByFee   TxStatus = "dropped_replace_by_fee"
	StatusDroppedStaleGarbage   TxStatus = "dropped_stale_garbage_collect"
	StatusDroppedTooExpensive   TxStatus = "dropped_too_expensive"
	StatusDroppedProblematic    TxStatus = "dropped_problematic"
	StatusAbortByResponse       TxStatus = "abort_by_response"
	StatusAbortByPostCondition  TxStatus = "abort_by_post_condition"
	StatusUnknown               TxStatus = "unknown"
)

// IsDropped reports whether s is one of the dropped_* sentinels, which
// spec.md §4.8.1 step 11 treats as transient (never terminal failure).
func (s TxStatus) IsDropped() bool {
	switch s {
	case StatusDroppedReplaceByFee, StatusDroppedStaleGarbage, StatusDroppedTooExpensive, StatusDroppedProblematic:
		return true
	}
	return false
}

// IsAbort reports whether s is one of the abort_* sentinels, the only
// statuses that produce a terminal SettlementFailed.
func (s TxStatus) IsAbort() bool {
	switch s {
	case StatusAbortByResponse, StatusAbortByPostCondition:
		return true
	}
	return false
}

// NonceInfo is the response shape of GetNonceInfo.
type NonceInfo struct {
	LastExecutedNonce     *uint64
	PossibleNextNonce     uint64
	DetectedMissingNonces []uint64
}

// TransferEvent is a single asset movement observed in a confirmed
// transaction, used to report settlement detail back to the caller.
type TransferEvent struct {
	Sender    string
	Recipient string
	Amount    string // decimal string, arbitrary precision
	AssetID   string // empty for the native token
}

// TransactionStatus is the response shape of GetTransaction.
type TransactionStatus struct {
	Status        TxStatus
	SenderAddress string
	BlockHeight   *uint64
	Events        []TransferEvent
}

// BroadcastResult is returned on a successful broadcast.
type BroadcastResult struct {
	Txid string
}

// RejectionReason classifies a non-error broadcast rejection.
type RejectionReason string

const (
	ReasonConflictingNonceInMempool RejectionReason = "ConflictingNonceInMempool"
	ReasonOther                     RejectionReason = "Other"
)

// BroadcastRejection is a structured, non-retryable-by-default rejection
// from the chain API distinguishable from a network/timeout error.
// spec.md §4.1: "A rejection with reason ConflictingNonceInMempool during
// gap-fill is not an error."
type BroadcastRejection struct {
	Reason RejectionReason
	Err    string
}

func (r *BroadcastRejection) Error() string {
	return string(r.Reason) + ": " + r.Err
}

// FeePriorityTiers holds the low/medium/high estimate for one tx kind.
type FeePriorityTiers struct {
	Low    uint64
	Medium uint64
	High   uint64
}

// FeeEstimates is the response shape of GetFeeEstimates.
type FeeEstimates struct {
	TokenTransfer  FeePriorityTiers
	ContractCall   FeePriorityTiers
	SmartContract  FeePriorityTiers
	FetchedAt      time.Time
}
