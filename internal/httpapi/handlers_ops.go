package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/sponsorrelay/relay/internal/chainclient"
	"github.com/sponsorrelay/relay/internal/feeestimator"
	"github.com/sponsorrelay/relay/internal/relayerr"
)

func (d *Deps) handleSupported(w http.ResponseWriter, r *http.Request) {
	signers := map[string][]string{string(d.Network): d.SponsorAddresses}
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"kinds":      []string{"native", "ft"},
		"extensions": []string{"paymentIdentifier"},
		"signers":    signers,
	})
}

func tiersView(t chainclient.FeePriorityTiers) map[string]any {
	return map[string]any{"low": t.Low, "medium": t.Medium, "high": t.High}
}

func (d *Deps) handleFees(w http.ResponseWriter, r *http.Request) {
	est, err := d.Pipeline.FeeEstimator().Estimate(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"fees": map[string]any{
			"tokenTransfer": tiersView(est.TokenTransfer),
			"contractCall":  tiersView(est.ContractCall),
			"smartContract": tiersView(est.SmartContract),
		},
		"source": string(est.Source),
		"cached": est.Source == feeestimator.SourceCache,
	})
}

type feeClampDTO struct {
	Floor   uint64 `json:"floor"`
	Ceiling uint64 `json:"ceiling"`
}

type feesConfigRequest struct {
	TokenTransfer feeClampDTO `json:"tokenTransfer"`
	ContractCall  feeClampDTO `json:"contractCall"`
	SmartContract feeClampDTO `json:"smartContract"`
}

func (d *Deps) handleFeesConfig(w http.ResponseWriter, r *http.Request) {
	var req feesConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	clamps := map[feeestimator.Kind]feeestimator.Clamp{
		feeestimator.KindTokenTransfer: {Floor: req.TokenTransfer.Floor, Ceiling: req.TokenTransfer.Ceiling},
		feeestimator.KindContractCall:  {Floor: req.ContractCall.Floor, Ceiling: req.ContractCall.Ceiling},
		feeestimator.KindSmartContract: {Floor: req.SmartContract.Floor, Ceiling: req.SmartContract.Ceiling},
	}
	if err := d.Pipeline.FeeEstimator().SetConfig(clamps); err != nil {
		writeError(w, r, err)
		return
	}
	if hashedKey, ok := hashedAPIKey(r.Context()); ok {
		_ = d.APIKeys.RecordUsage(hashedKey, nil)
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"tokenTransfer": req.TokenTransfer, "contractCall": req.ContractCall, "smartContract": req.SmartContract,
	})
}

func (d *Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	if _, err := d.Pipeline.Chain().GetFeeEstimates(ctx); err != nil {
		status = "degraded"
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"status":  status,
		"version": d.Version,
		"network": string(d.Network),
	})
}

func (d *Deps) handleStats(w http.ResponseWriter, r *http.Request) {
	ov := d.Pipeline.Stats().Overview()
	tokens := make(map[string]any, len(ov.Tokens))
	for token, t := range ov.Tokens {
		tokens[token] = map[string]any{"count": t.Count, "volume": t.Volume.String(), "percentage": t.Percentage}
	}
	endpoints := make(map[string]any, len(ov.Endpoints))
	for ep, e := range ov.Endpoints {
		endpoints[ep] = map[string]any{"success": e.Success, "failed": e.Failed}
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"last24hTotal":   ov.Last24hTotal,
		"last24hSuccess": ov.Last24hSuccess,
		"last24hFailed":  ov.Last24hFailed,
		"tokens":         tokens,
		"endpoints":      endpoints,
		"fees":           map[string]any{"sum": ov.Fees.Sum.String(), "count": ov.Fees.Count},
		"feeTrend":       string(ov.FeeTrend),
	})
}

func (d *Deps) handleNonceStats(w http.ResponseWriter, r *http.Request) {
	wallets := make([]map[string]any, 0, len(d.Pipeline.WalletIndices()))
	for _, idx := range d.Pipeline.WalletIndices() {
		snap, ok := d.Pipeline.Coordinator().Snapshot(idx)
		if !ok {
			continue
		}
		wallets = append(wallets, map[string]any{
			"walletIndex":       idx,
			"address":           snap.Address,
			"available":         snap.Available,
			"reservedNonces":    snap.ReservedNonces,
			"maxNonce":          snap.MaxNonce,
			"totalAssigned":     snap.TotalAssigned,
			"gapsRecovered":     snap.GapsRecovered,
			"gapsFilled":        snap.GapsFilled,
			"conflictsDetected": snap.ConflictsDetected,
			"txCount":           snap.TxCount,
			"txCountToday":      snap.TxCountToday,
			"feesToday":         snap.FeesToday.String(),
			"feesCumulative":    snap.FeesCumulative.String(),
		})
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{"wallets": wallets})
}

func (d *Deps) handleNonceReset(w http.ResponseWriter, r *http.Request) {
	indices := d.Pipeline.WalletIndices()
	if len(indices) == 0 {
		writeError(w, r, relayerr.New(relayerr.KindInternal, "no sponsor wallets configured", nil))
		return
	}
	before, _ := d.Pipeline.Coordinator().Snapshot(indices[0])
	d.Pipeline.Coordinator().ReconcileNow()
	after, ok := d.Pipeline.Coordinator().Snapshot(indices[0])
	if !ok {
		writeError(w, r, relayerr.New(relayerr.KindChainUnavailable, "chain unreachable during reconciliation", nil))
		return
	}

	if hashedKey, ok := hashedAPIKey(r.Context()); ok {
		_ = d.APIKeys.RecordUsage(hashedKey, nil)
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{
		"previousNonce": before.MaxNonce,
		"newNonce":      after.MaxNonce,
	})
}
