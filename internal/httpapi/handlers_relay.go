package httpapi

import (
	"math/big"
	"net/http"

	"github.com/sponsorrelay/relay/internal/receipts"
	"github.com/sponsorrelay/relay/internal/txcodec"
)

func (d *Deps) handleRelay(w http.ResponseWriter, r *http.Request) {
	var req relayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	opts, err := req.Settle.toOptions()
	if err != nil {
		writeError(w, r, err)
		return
	}
	txBytes, err := decodeTxBytes(req.Transaction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	auth, err := req.Auth.toAuthSignature()
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := d.Pipeline.Relay(r.Context(), txBytes, opts, auth)
	if err != nil {
		d.audit(r, "relay", err, "")
		writeError(w, r, err)
		return
	}
	d.audit(r, "relay", nil, result.Txid)

	writeSuccess(w, r, http.StatusOK, map[string]any{
		"txid":        result.Txid,
		"explorerUrl": d.explorerURL(result.Txid),
		"settlement":  settlementView(result.Settlement),
		"sponsoredTx": encodeTxBytes(result.SponsoredTxBytes),
		"receiptId":   result.ReceiptID,
	})
}

func (d *Deps) handleSponsor(w http.ResponseWriter, r *http.Request) {
	var req sponsorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	txBytes, err := decodeTxBytes(req.Transaction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	auth, err := req.Auth.toAuthSignature()
	if err != nil {
		writeError(w, r, err)
		return
	}

	hashedKey, _ := hashedAPIKey(r.Context())
	result, err := d.Pipeline.Sponsor(r.Context(), txBytes, auth)
	if err != nil {
		d.audit(r, "sponsor", err, "")
		writeError(w, r, err)
		return
	}
	if hashedKey != "" {
		_ = d.APIKeys.RecordUsage(hashedKey, new(big.Int).SetUint64(result.Fee))
	}
	d.audit(r, "sponsor", nil, result.Txid)

	writeSuccess(w, r, http.StatusOK, map[string]any{
		"txid":        result.Txid,
		"explorerUrl": d.explorerURL(result.Txid),
		"fee":         result.Fee,
	})
}

// handleFacilitatorSettle and handleFacilitatorVerify implement the
// x402-style facilitator contract: outcomes are always HTTP 200, and the
// only 400 is schema malformation (an unparseable body or an unparseable
// transaction/requirements field).
func (d *Deps) handleFacilitatorSettle(w http.ResponseWriter, r *http.Request) {
	var req facilitatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	opts, err := req.PaymentRequirements.toOptions()
	if err != nil {
		writeError(w, r, err)
		return
	}
	opts.ClientIdentifier = req.PaymentPayload.Extensions["paymentIdentifier"]
	txBytes, err := decodeTxBytes(req.PaymentPayload.Payload.Transaction)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := txcodec.Parse(txBytes); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := d.Pipeline.Settle(r.Context(), txBytes, opts)
	if err != nil {
		d.audit(r, "settle", err, "")
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   false,
			"requestId": requestID(r.Context()),
			"payer":     "",
			"network":   string(d.Network),
			"error":     err.Error(),
		})
		return
	}
	d.audit(r, "settle", nil, result.Txid)

	writeSuccess(w, r, http.StatusOK, map[string]any{
		"success":     true,
		"payer":       result.Settlement.Sender,
		"transaction": encodeTxBytes(result.SponsoredTxBytes),
		"network":     string(d.Network),
	})
}

func (d *Deps) handleFacilitatorVerify(w http.ResponseWriter, r *http.Request) {
	var req facilitatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	opts, err := req.PaymentRequirements.toOptions()
	if err != nil {
		writeError(w, r, err)
		return
	}
	txBytes, err := decodeTxBytes(req.PaymentPayload.Payload.Transaction)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result := d.Pipeline.Verify(txBytes, opts)
	body := map[string]any{"isValid": result.IsValid}
	if result.InvalidReason != "" {
		body["invalidReason"] = result.InvalidReason
	}
	if result.Payer != "" {
		body["payer"] = result.Payer
	}
	writeSuccess(w, r, http.StatusOK, body)
}

func (d *Deps) handleVerifyReceipt(w http.ResponseWriter, r *http.Request) {
	receiptID := r.PathValue("receiptId")
	receipt, err := d.Pipeline.VerifyReceipt(receiptID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{"receipt": receiptView(receipt)})
}

func (d *Deps) handleAccess(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	receipt, err := d.Pipeline.Access(req.ReceiptID, req.Resource, req.TargetURL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	body := map[string]any{"granted": true, "receipt": receiptView(receipt)}
	if req.TargetURL != "" {
		body["proxy"] = req.TargetURL
	}
	writeSuccess(w, r, http.StatusOK, body)
}

func receiptView(r receipts.PaymentReceipt) map[string]any {
	return map[string]any{
		"receiptId":        r.ReceiptID,
		"createdAt":        r.CreatedAt,
		"expiresAt":        r.ExpiresAt,
		"senderAddress":    r.SenderAddress,
		"sponsoredTxBytes": encodeTxBytes(r.SponsoredTxBytes),
		"fee":              r.Fee,
		"txid":             r.Txid,
		"settlement": map[string]any{
			"status": r.Settlement.Status, "sender": r.Settlement.Sender,
			"recipient": r.Settlement.Recipient, "amount": r.Settlement.Amount, "blockHeight": r.Settlement.BlockHeight,
		},
		"resource":    r.Resource,
		"consumed":    r.Consumed,
		"accessCount": r.AccessCount,
	}
}

func (d *Deps) explorerURL(txid string) string {
	return d.ExplorerBaseURL + "/" + txid
}
