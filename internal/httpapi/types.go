package httpapi

import (
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"github.com/sponsorrelay/relay/internal/relayerr"
	"github.com/sponsorrelay/relay/internal/settlement"
	"github.com/sponsorrelay/relay/internal/txcodec"
)

// settleOptionsDTO is the wire shape of settle.expectedRecipient etc. in
// /relay and the paymentRequirements shape in /settle and /verify — the
// spec describes /settle and /verify as "same as relay" apart from the
// caller already owning the sponsor signature, so paymentRequirements is
// treated as the same field set as relay's settle{} object.
type settleOptionsDTO struct {
	ExpectedRecipient string `json:"expectedRecipient"`
	MinAmount         string `json:"minAmount"`
	TokenType         string `json:"tokenType,omitempty"`
	ExpectedSender    string `json:"expectedSender,omitempty"`
	Resource          string `json:"resource,omitempty"`
	Method            string `json:"method,omitempty"`
}

func (d settleOptionsDTO) toOptions() (settlement.SettleOptions, error) {
	opts := settlement.SettleOptions{
		ExpectedRecipient: d.ExpectedRecipient,
		ExpectedSender:    d.ExpectedSender,
		Resource:          d.Resource,
		Method:            d.Method,
	}
	if d.MinAmount != "" {
		amount, ok := new(big.Int).SetString(d.MinAmount, 10)
		if !ok {
			return settlement.SettleOptions{}, relayerr.New(relayerr.KindInvalidRequest, "minAmount must be a decimal integer literal", nil)
		}
		opts.MinAmount = amount
	}
	kind, err := parseTokenKind(d.TokenType)
	if err != nil {
		return settlement.SettleOptions{}, err
	}
	opts.TokenType = kind
	return opts, nil
}

func parseTokenKind(s string) (txcodec.TokenKind, error) {
	switch strings.ToLower(s) {
	case "", "native":
		return txcodec.TokenKindNative, nil
	case "wrappedbtc", "ft", "someft":
		return txcodec.TokenKindFT, nil
	default:
		return 0, relayerr.New(relayerr.KindInvalidRequest, "tokenType not recognized: "+s, nil)
	}
}

func decodeTxBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, relayerr.New(relayerr.KindInvalidRequest, "transaction must be 0x-prefixed hex", err)
	}
	return raw, nil
}

func encodeTxBytes(raw []byte) string {
	return "0x" + hex.EncodeToString(raw)
}

// authDTO is the optional structured-data auth signature accepted by
// /relay and /sponsor per spec.md §4.8.1 step 2 and §6's auth? field.
type authDTO struct {
	Action    string `json:"action"`
	Expiry    string `json:"expiry"` // RFC3339
	Signer    string `json:"signer"`
	Signature string `json:"signature"` // 0x-prefixed hex, 65 bytes
}

func (d *authDTO) toAuthSignature() (*txcodec.AuthSignature, error) {
	if d == nil {
		return nil, nil
	}
	expiry, err := time.Parse(time.RFC3339, d.Expiry)
	if err != nil {
		return nil, relayerr.New(relayerr.KindInvalidRequest, "auth.expiry must be RFC3339", err)
	}
	sig, err := decodeTxBytes(d.Signature)
	if err != nil {
		return nil, relayerr.New(relayerr.KindInvalidRequest, "auth.signature must be 0x-prefixed hex", err)
	}
	return &txcodec.AuthSignature{
		Action:    d.Action,
		Expiry:    expiry,
		Signer:    d.Signer,
		Signature: sig,
	}, nil
}

// relayRequest is the body of POST /relay.
type relayRequest struct {
	Transaction string           `json:"transaction"`
	Settle      settleOptionsDTO `json:"settle"`
	Auth        *authDTO         `json:"auth,omitempty"`
}

// sponsorRequest is the body of POST /sponsor.
type sponsorRequest struct {
	Transaction string   `json:"transaction"`
	Auth        *authDTO `json:"auth,omitempty"`
}

// facilitatorPaymentPayload mirrors the x402-style envelope spec.md §6
// gives for /settle and /verify.
type facilitatorPaymentPayload struct {
	Payload struct {
		Transaction string `json:"transaction"`
	} `json:"payload"`
	Extensions map[string]string `json:"extensions,omitempty"`
	Accepted   bool              `json:"accepted"`
}

type facilitatorRequest struct {
	PaymentPayload      facilitatorPaymentPayload `json:"paymentPayload"`
	PaymentRequirements settleOptionsDTO          `json:"paymentRequirements"`
	X402Version         int                       `json:"x402Version,omitempty"`
}

// accessRequest is the body of POST /access.
type accessRequest struct {
	ReceiptID string `json:"receiptId"`
	Resource  string `json:"resource,omitempty"`
	TargetURL string `json:"targetUrl,omitempty"`
}

func settlementView(s settlement.Settlement) map[string]any {
	view := map[string]any{"status": s.Status}
	if s.Sender != "" {
		view["sender"] = s.Sender
	}
	if s.Recipient != "" {
		view["recipient"] = s.Recipient
	}
	if s.Amount != "" {
		view["amount"] = s.Amount
	}
	if s.BlockHeight != nil {
		view["blockHeight"] = *s.BlockHeight
	}
	return view
}
