package settlement

import (
	"encoding/json"

	"github.com/sponsorrelay/relay/internal/txcodec"
)

// canonicalDedupPayload builds the byte string C6's fingerprint is
// computed over: the raw transaction bytes plus the caller's settle
// options, so two different payment requirements against the same
// transaction are never conflated.
func canonicalDedupPayload(txBytes []byte, opts SettleOptions) []byte {
	minAmount := "0"
	if opts.MinAmount != nil {
		minAmount = opts.MinAmount.String()
	}
	encoded, _ := json.Marshal(struct {
		Tx                []byte `json:"tx"`
		ExpectedRecipient string `json:"expectedRecipient"`
		MinAmount         string `json:"minAmount"`
		TokenType         byte   `json:"tokenType"`
		ExpectedSender    string `json:"expectedSender"`
	}{
		Tx: txBytes, ExpectedRecipient: opts.ExpectedRecipient, MinAmount: minAmount,
		TokenType: byte(opts.TokenType), ExpectedSender: opts.ExpectedSender,
	})
	return encoded
}

// cachedResult is the JSON shape stored in the dedup stores so a retried
// request replays the exact prior outcome.
type cachedResult struct {
	Result Result
}

func encodeCachedResult(result Result) []byte {
	encoded, _ := json.Marshal(cachedResult{Result: result})
	return encoded
}

func decodeCachedResult(raw []byte) (Result, error) {
	var cached cachedResult
	if err := json.Unmarshal(raw, &cached); err != nil {
		return Result{}, err
	}
	return cached.Result, nil
}

func tokenKindString(k txcodec.TokenKind) string {
	if k == txcodec.TokenKindFT {
		return "ft"
	}
	return "native"
}
