// Package settlement implements C8, the orchestration pipeline tying
// together the chain client, transaction codec, nonce coordinator, stats
// aggregator, receipt store, dedup store, fee estimator, and rate
// limiter/API-key gate into the three public operations relay/verify/
// settle plus the receipt-facing supporting operations.
//
// Grounded on the teacher's src/chainadapter/adapter.go Adapter.Send,
// which threads a parsed transaction through build → sign → broadcast →
// poll-for-confirmation using the same chain-API/signer/store
// collaborators this package wires together, generalized from a single
// wallet send into a sponsor-relay flow with reservation and dedup steps
// interleaved.
package settlement

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sponsorrelay/relay/internal/apikeys"
	"github.com/sponsorrelay/relay/internal/chainclient"
	"github.com/sponsorrelay/relay/internal/dedup"
	"github.com/sponsorrelay/relay/internal/feeestimator"
	"github.com/sponsorrelay/relay/internal/metrics"
	"github.com/sponsorrelay/relay/internal/noncecoord"
	"github.com/sponsorrelay/relay/internal/ratelimit"
	"github.com/sponsorrelay/relay/internal/receipts"
	"github.com/sponsorrelay/relay/internal/relayerr"
	"github.com/sponsorrelay/relay/internal/stats"
	"github.com/sponsorrelay/relay/internal/txcodec"
)

const confirmationBudget = 60 * time.Second
const confirmationInterval = 2 * time.Second

// SettleOptions is the caller-supplied payment requirement set validated
// at the top of relay/verify/settle.
type SettleOptions struct {
	ExpectedRecipient string
	MinAmount         *big.Int
	TokenType         txcodec.TokenKind
	ExpectedSender    string
	Resource          string
	Method            string
	ClientIdentifier  string // optional, enables C6's identifier mode for settle
}

func (o SettleOptions) validate() error {
	if o.ExpectedRecipient == "" {
		return relayerr.New(relayerr.KindInvalidRequest, "expectedRecipient is required", nil)
	}
	if o.MinAmount == nil || o.MinAmount.Sign() < 0 {
		return relayerr.New(relayerr.KindInvalidRequest, "minAmount must be a non-negative integer", nil)
	}
	return nil
}

// Settlement is the confirmation/pending outcome returned to the caller.
type Settlement struct {
	Status      string // "confirmed" | "pending"
	Sender      string
	Recipient   string
	Amount      string
	BlockHeight *uint64
}

// Result is the response shape shared by relay and settle.
type Result struct {
	Success          bool
	Txid             string
	Settlement       Settlement
	SponsoredTxBytes []byte
	ReceiptID        string
}

// VerifyResult is the response shape of verify.
type VerifyResult struct {
	IsValid       bool
	InvalidReason string
	Payer         string
}

// Pipeline wires every other component into the relay/verify/settle
// operations. Construct one per process. Sponsor wallet key material is
// never held here: it lives exclusively in the nonce coordinator (C3),
// per spec.md §5, and Pipeline reaches it only through
// Coordinator.AssignAndSign.
type Pipeline struct {
	chain      chainclient.ChainAPI
	coord      *noncecoord.Coordinator
	mainnet    bool
	feeEst     *feeestimator.Estimator
	statsAgg   *stats.Aggregator
	receiptsSt *receipts.Store
	dedupSt    *dedup.Store
	originRL   *ratelimit.Limiter
	apiKeys    *apikeys.Store
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New builds a Pipeline.
func New(
	chain chainclient.ChainAPI,
	coord *noncecoord.Coordinator,
	mainnet bool,
	feeEst *feeestimator.Estimator,
	statsAgg *stats.Aggregator,
	receiptsSt *receipts.Store,
	dedupSt *dedup.Store,
	originRL *ratelimit.Limiter,
	apiKeyStore *apikeys.Store,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		chain: chain, coord: coord, mainnet: mainnet, feeEst: feeEst,
		statsAgg: statsAgg, receiptsSt: receiptsSt, dedupSt: dedupSt,
		originRL: originRL, apiKeys: apiKeyStore, metrics: m,
		logger: logger.With().Str("component", "settlement").Logger(),
	}
}

// FeeEstimator exposes C7 for the /fees and /fees/config routes.
func (p *Pipeline) FeeEstimator() *feeestimator.Estimator { return p.feeEst }

// Stats exposes C4 for the /stats route.
func (p *Pipeline) Stats() *stats.Aggregator { return p.statsAgg }

// Coordinator exposes C3 for the /nonce/stats and /nonce/reset routes.
func (p *Pipeline) Coordinator() *noncecoord.Coordinator { return p.coord }

// WalletIndices returns every configured sponsor wallet index, for
// diagnostics callers that need to enumerate Coordinator.Snapshot.
func (p *Pipeline) WalletIndices() []int {
	return p.coord.WalletIndices()
}

// Chain exposes C1 for a liveness check on /health.
func (p *Pipeline) Chain() chainclient.ChainAPI { return p.chain }

// Relay implements spec.md §4.8.1: the origin provides a sponsor-pending
// transaction and the pipeline signs, broadcasts, and confirms it.
func (p *Pipeline) Relay(ctx context.Context, txBytes []byte, opts SettleOptions, auth *txcodec.AuthSignature) (Result, error) {
	if err := opts.validate(); err != nil {
		p.recordError(stats.ErrorValidation)
		return Result{}, err
	}
	if err := p.verifyOptionalAuth(auth, "relay"); err != nil {
		p.recordError(stats.ErrorValidation)
		return Result{}, err
	}

	parsed, err := txcodec.Parse(txBytes)
	if err != nil {
		p.recordError(stats.ErrorValidation)
		return Result{}, err
	}
	if err := txcodec.RequireSponsorPending(parsed); err != nil {
		p.recordError(stats.ErrorValidation)
		return Result{}, err
	}

	if ok, retryAfter := p.originRL.Allow(parsed.OriginAddress); !ok {
		p.recordError(stats.ErrorRateLimit)
		return Result{}, relayerr.WithRetryAfter(relayerr.KindRateLimitExceeded, "origin rate limit exceeded", retryAfter, nil)
	}

	fingerprint := dedup.Fingerprint(canonicalDedupPayload(txBytes, opts))
	if outcome, cached := p.dedupSt.LookupByPayload(fingerprint); outcome == dedup.Hit {
		return decodeCachedResult(cached)
	}

	return p.signBroadcastAndConfirm(ctx, parsed, opts, fingerprint, "")
}

// verifyOptionalAuth implements spec.md §4.8.1 step 2: auth is optional,
// but when present it must name this endpoint as its action and not be
// expired, per txcodec.VerifyAuth.
func (p *Pipeline) verifyOptionalAuth(auth *txcodec.AuthSignature, action string) error {
	return txcodec.VerifyAuth(auth, action, p.mainnet, time.Now())
}

// recordError forwards to C4's rolling error ledger and increments the
// mirrored Prometheus counter.
func (p *Pipeline) recordError(category stats.ErrorCategory) {
	p.statsAgg.RecordError(category)
	if p.metrics != nil {
		p.metrics.ErrorsTotal.WithLabelValues(string(category)).Inc()
	}
}

// recordMetrics mirrors a settlement outcome into the Prometheus
// collectors alongside C4's own aggregator, which remains the
// source-of-truth the JSON /stats route reads from.
func (p *Pipeline) recordMetrics(endpoint string, success bool, fee *big.Int) {
	if p.metrics == nil {
		return
	}
	p.metrics.TransactionsTotal.WithLabelValues(endpoint, strconv.FormatBool(success)).Inc()
	if success && fee != nil {
		feeFloat, _ := new(big.Float).SetInt(fee).Float64()
		p.metrics.FeesSponsoredUnits.Add(feeFloat)
	}
}

// translateExtractPaymentErr narrows txcodec.ExtractPayment's
// ResourceMismatch (ambiguous or absent payment event, a C2-level
// parsing concern) into SettlementVerificationFailed before it reaches a
// relay/settle/verify caller, per spec.md §7's scoping of
// ResourceMismatch to C5's receipt/access flow.
func translateExtractPaymentErr(err error) error {
	if err == nil {
		return nil
	}
	if re, ok := relayerr.As(err); ok && re.Kind == relayerr.KindResourceMismatch {
		return relayerr.New(relayerr.KindSettlementVerification, re.Message, re.Cause)
	}
	return err
}

// SponsorResult is the response shape of Sponsor: a bare countersign +
// broadcast with no settlement verification, gated by an API key rather
// than settleOptions.
type SponsorResult struct {
	Txid string
	Fee  uint64
}

// Sponsor implements the /sponsor endpoint: it countersigns and
// broadcasts a sponsor-pending transaction with no payment requirements
// to verify, for callers who only need fee sponsorship rather than the
// full relay settlement contract.
func (p *Pipeline) Sponsor(ctx context.Context, txBytes []byte, auth *txcodec.AuthSignature) (SponsorResult, error) {
	if err := p.verifyOptionalAuth(auth, "sponsor"); err != nil {
		p.recordError(stats.ErrorValidation)
		return SponsorResult{}, err
	}

	parsed, err := txcodec.Parse(txBytes)
	if err != nil {
		p.recordError(stats.ErrorValidation)
		return SponsorResult{}, err
	}
	if err := txcodec.RequireSponsorPending(parsed); err != nil {
		p.recordError(stats.ErrorValidation)
		return SponsorResult{}, err
	}

	est, err := p.feeEst.Estimate(ctx)
	if err != nil {
		return SponsorResult{}, err
	}
	fee := est.TokenTransfer.Medium

	signed, txid, walletIndex, nonce, err := p.coord.AssignAndSign(ctx, parsed, fee)
	if err != nil {
		if limitErr, ok := err.(*noncecoord.ChainingLimitExceeded); ok {
			return SponsorResult{}, relayerr.WithRetryAfter(relayerr.KindRateLimitExceeded, limitErr.Error(),
				time.Duration(limitErr.RetryAfterSeconds())*time.Second, err)
		}
		return SponsorResult{}, err
	}

	if _, err := p.chain.Broadcast(ctx, signed.Raw()); err != nil {
		if rej, ok := err.(*chainclient.BroadcastRejection); ok && rej.Reason == chainclient.ReasonConflictingNonceInMempool {
			p.coord.ReleaseNonce(walletIndex, nonce, "conflict", nil)
			p.recordError(stats.ErrorSettlement)
			return SponsorResult{}, relayerr.WithRetryAfter(relayerr.KindNonceConflict, "nonce conflict in mempool", 5*time.Second, err)
		}
		p.coord.ReleaseNonce(walletIndex, nonce, "", nil)
		p.recordError(stats.ErrorSettlement)
		return SponsorResult{}, relayerr.New(relayerr.KindSettlementBroadcast, "broadcast failed", err)
	}

	p.coord.RecordTxid(walletIndex, nonce, txid)
	p.coord.ReleaseNonce(walletIndex, nonce, txid, new(big.Int).SetUint64(fee))
	p.statsAgg.RecordTransaction(stats.TransactionRecord{Endpoint: "sponsor", Success: true, Fee: new(big.Int).SetUint64(fee), Txid: txid})
	p.recordMetrics("sponsor", true, new(big.Int).SetUint64(fee))

	return SponsorResult{Txid: txid, Fee: fee}, nil
}

// Settle implements spec.md §4.8.3: the caller supplies an
// already-sponsor-signed transaction, so reservation and signing are
// skipped; only verification, broadcast, and confirmation remain.
func (p *Pipeline) Settle(ctx context.Context, txBytes []byte, opts SettleOptions) (Result, error) {
	if err := opts.validate(); err != nil {
		return Result{}, err
	}

	parsed, err := txcodec.Parse(txBytes)
	if err != nil {
		p.recordError(stats.ErrorValidation)
		return Result{}, err
	}
	if parsed.AuthMode != txcodec.AuthModeSponsorSigned {
		p.recordError(stats.ErrorValidation)
		return Result{}, relayerr.New(relayerr.KindInvalidRequest, "settle requires an already sponsor-signed transaction", nil)
	}

	fingerprint := dedup.Fingerprint(canonicalDedupPayload(txBytes, opts))
	if opts.ClientIdentifier != "" {
		outcome, cached, err := p.dedupSt.LookupByIdentifier(opts.ClientIdentifier, fingerprint)
		if err != nil {
			return Result{}, err
		}
		switch outcome {
		case dedup.Hit:
			return decodeCachedResult(cached)
		case dedup.Conflict:
			return Result{}, relayerr.New(relayerr.KindInvalidRequest, "client identifier reused with a different payload", nil)
		}
	} else if outcome, cached := p.dedupSt.LookupByPayload(fingerprint); outcome == dedup.Hit {
		return decodeCachedResult(cached)
	}

	payment, err := txcodec.ExtractPayment(parsed, opts.ExpectedRecipient)
	if err != nil {
		err = translateExtractPaymentErr(err)
		p.recordError(stats.ErrorValidation)
		return Result{}, err
	}
	if err := verifyPayment(payment, opts); err != nil {
		return Result{}, err
	}

	result, err := p.broadcastAndConfirm(ctx, parsed, payment, opts, -1, 0)
	if err != nil {
		return Result{}, err
	}
	p.recordDedup(fingerprint, opts.ClientIdentifier, result)
	return result, nil
}

// Verify implements spec.md §4.8.2: a local-only check, no broadcast.
func (p *Pipeline) Verify(txBytes []byte, opts SettleOptions) VerifyResult {
	parsed, err := txcodec.Parse(txBytes)
	if err != nil {
		return VerifyResult{IsValid: false, InvalidReason: err.Error()}
	}
	payment, err := txcodec.ExtractPayment(parsed, opts.ExpectedRecipient)
	if err != nil {
		return VerifyResult{IsValid: false, InvalidReason: translateExtractPaymentErr(err).Error()}
	}
	if err := verifyPayment(payment, opts); err != nil {
		return VerifyResult{IsValid: false, InvalidReason: err.Error(), Payer: payment.Sender}
	}
	return VerifyResult{IsValid: true, Payer: payment.Sender}
}

// VerifyReceipt implements the verifyReceipt(receiptId) supporting
// operation.
func (p *Pipeline) VerifyReceipt(receiptID string) (receipts.PaymentReceipt, error) {
	return p.receiptsSt.Get(receiptID)
}

// Access implements the access(receiptId, resource?, targetUrl?)
// supporting operation: it validates resource (if given) matches the
// receipt and increments the access counter. A non-empty targetURL marks
// the grant as a one-time proxy redemption, latching consumed=true; any
// further access of an already-consumed receipt is rejected.
func (p *Pipeline) Access(receiptID, resource, targetURL string) (receipts.PaymentReceipt, error) {
	receipt, err := p.receiptsSt.Get(receiptID)
	if err != nil {
		return receipts.PaymentReceipt{}, err
	}
	if receipt.Consumed {
		return receipts.PaymentReceipt{}, relayerr.New(relayerr.KindReceiptConsumed, "receipt already consumed", nil)
	}
	if resource != "" && receipt.Resource != resource {
		return receipts.PaymentReceipt{}, relayerr.New(relayerr.KindResourceMismatch, "resource does not match receipt", nil)
	}
	return p.receiptsSt.MarkConsumed(receiptID, targetURL != "")
}

func verifyPayment(payment *txcodec.PaymentEvent, opts SettleOptions) error {
	if payment.TokenKind != opts.TokenType {
		return relayerr.New(relayerr.KindSettlementVerification, "token kind does not match settleOptions.tokenType", nil)
	}
	if payment.Amount.Cmp(opts.MinAmount) < 0 {
		return relayerr.New(relayerr.KindSettlementVerification, "payment amount below minAmount", nil)
	}
	if opts.ExpectedSender != "" && payment.Sender != opts.ExpectedSender {
		return relayerr.New(relayerr.KindSettlementVerification, "payment sender does not match expectedSender", nil)
	}
	return nil
}

// signBroadcastAndConfirm implements relay's reserve→sign→verify→
// broadcast→confirm chain (steps 6-16 of spec.md §4.8.1).
func (p *Pipeline) signBroadcastAndConfirm(ctx context.Context, parsed *txcodec.ParsedTransaction, opts SettleOptions, fingerprint, clientIdentifier string) (Result, error) {
	est, err := p.feeEst.Estimate(ctx)
	if err != nil {
		return Result{}, err
	}
	fee := est.TokenTransfer.Medium

	signed, txid, walletIndex, nonce, err := p.coord.AssignAndSign(ctx, parsed, fee)
	if err != nil {
		if limitErr, ok := err.(*noncecoord.ChainingLimitExceeded); ok {
			return Result{}, relayerr.WithRetryAfter(relayerr.KindRateLimitExceeded, limitErr.Error(),
				time.Duration(limitErr.RetryAfterSeconds())*time.Second, err)
		}
		return Result{}, err
	}

	payment, err := txcodec.ExtractPayment(signed, opts.ExpectedRecipient)
	if err != nil {
		p.coord.ReleaseNonce(walletIndex, nonce, "", nil)
		p.recordError(stats.ErrorValidation)
		return Result{}, translateExtractPaymentErr(err)
	}
	if err := verifyPayment(payment, opts); err != nil {
		p.coord.ReleaseNonce(walletIndex, nonce, "", nil)
		return Result{}, err
	}

	result, err := p.broadcastAndConfirm(ctx, signed, payment, opts, walletIndex, nonce)
	if err != nil {
		return Result{}, err
	}
	result.Txid = txid
	p.recordDedup(fingerprint, clientIdentifier, result)
	return result, nil
}

// broadcastAndConfirm implements spec.md §4.8.1 steps 10-15, shared by
// relay (nonce already reserved) and settle (walletIndex == -1, nothing
// to release — settle's caller already owns the sponsor signature).
func (p *Pipeline) broadcastAndConfirm(ctx context.Context, signed *txcodec.ParsedTransaction, payment *txcodec.PaymentEvent, opts SettleOptions, walletIndex int, nonce uint64) (Result, error) {
	reserved := walletIndex >= 0

	broadcastResult, err := p.chain.Broadcast(ctx, signed.Raw())
	if err != nil {
		if rej, ok := err.(*chainclient.BroadcastRejection); ok && rej.Reason == chainclient.ReasonConflictingNonceInMempool {
			if reserved {
				p.coord.ReleaseNonce(walletIndex, nonce, "conflict", nil) // consumed, not reusable
			}
			p.recordError(stats.ErrorSettlement)
			return Result{}, relayerr.WithRetryAfter(relayerr.KindNonceConflict, "nonce conflict in mempool", 5*time.Second, err)
		}
		if reserved {
			p.coord.ReleaseNonce(walletIndex, nonce, "", nil)
		}
		p.recordError(stats.ErrorSettlement)
		return Result{}, relayerr.New(relayerr.KindSettlementBroadcast, "broadcast failed", err)
	}

	txid := broadcastResult.Txid
	if reserved {
		p.coord.RecordTxid(walletIndex, nonce, txid)
	}

	settlement, pollErr := p.pollForConfirmation(ctx, txid)
	fee := new(big.Int).SetUint64(signed.Fee)

	if pollErr != nil {
		// Terminal abort: the chain charged the fee, so the nonce is
		// consumed, not reusable.
		if reserved {
			p.coord.ReleaseNonce(walletIndex, nonce, txid, fee)
		}
		p.recordError(stats.ErrorSettlement)
		return Result{}, pollErr
	}

	if reserved {
		p.coord.ReleaseNonce(walletIndex, nonce, txid, fee)
	}

	receiptID := uuid.NewString()
	receipt := receipts.PaymentReceipt{
		ReceiptID:        receiptID,
		CreatedAt:        time.Now(),
		ExpiresAt:        time.Now().Add(receipts.ReceiptTTL),
		SenderAddress:    payment.Sender,
		SponsoredTxBytes: signed.Raw(),
		Fee:              signed.Fee,
		Txid:             txid,
		Settlement: receipts.Settlement{
			Status: settlement.Status, Sender: settlement.Sender,
			Recipient: settlement.Recipient, Amount: settlement.Amount, BlockHeight: settlement.BlockHeight,
		},
		Resource: opts.Resource,
	}
	p.receiptsSt.Put(receipt)

	p.statsAgg.RecordTransaction(stats.TransactionRecord{
		Endpoint: "settle", Success: true, TokenType: tokenKindString(opts.TokenType),
		Amount: payment.Amount, Fee: fee, Txid: txid,
		Sender: payment.Sender, Recipient: opts.ExpectedRecipient, Status: settlement.Status,
		BlockHeight: settlement.BlockHeight,
	})
	p.recordMetrics("settle", true, fee)

	return Result{
		Success: true, Txid: txid, Settlement: settlement,
		SponsoredTxBytes: signed.Raw(), ReceiptID: receiptID,
	}, nil
}

// pollForConfirmation implements spec.md §4.8.1 step 11: bounded polling
// with dropped_* treated as transient and abort_* as terminal.
func (p *Pipeline) pollForConfirmation(ctx context.Context, txid string) (Settlement, error) {
	deadline := time.Now().Add(confirmationBudget)
	ticker := time.NewTicker(confirmationInterval)
	defer ticker.Stop()

	for {
		status, err := p.chain.GetTransaction(ctx, txid)
		if err == nil {
			switch {
			case status.Status == chainclient.StatusSuccess:
				return p.confirmedSettlement(status), nil
			case status.Status.IsAbort():
				return Settlement{}, relayerr.New(relayerr.KindSettlementFailed,
					fmt.Sprintf("transaction aborted: %s", status.Status), nil)
			case status.Status.IsDropped():
				// transient, keep polling
			}
		}

		if time.Now().After(deadline) {
			return Settlement{Status: "pending"}, nil
		}

		select {
		case <-ctx.Done():
			return Settlement{}, relayerr.New(relayerr.KindInternal, "context cancelled while polling for confirmation", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) confirmedSettlement(status *chainclient.TransactionStatus) Settlement {
	s := Settlement{Status: "confirmed", Sender: status.SenderAddress, BlockHeight: status.BlockHeight}
	if len(status.Events) > 0 {
		s.Recipient = status.Events[0].Recipient
		s.Amount = status.Events[0].Amount
	}
	return s
}

func (p *Pipeline) recordDedup(fingerprint, clientIdentifier string, result Result) {
	encoded := encodeCachedResult(result)
	p.dedupSt.RecordPayload(fingerprint, encoded)
	if clientIdentifier != "" {
		p.dedupSt.RecordIdentifier(clientIdentifier, fingerprint, encoded)
	}
}
