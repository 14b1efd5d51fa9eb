// Command relay runs the sponsored-transaction relay HTTP service: load
// config, assemble every component in dependency order, serve, and shut
// down gracefully on SIGINT/SIGTERM.
//
// Grounded on the teacher's cmd/arcsign/main.go process shape and, for
// the server/metrics/signal wiring specifically, the pack's
// DanDo385-go-edu 50-mini-service-all-features cmd/service/main.go.
package main

import (
	"context"
	"flag"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sponsorrelay/relay/internal/apikeys"
	"github.com/sponsorrelay/relay/internal/audit"
	"github.com/sponsorrelay/relay/internal/chainclient"
	"github.com/sponsorrelay/relay/internal/config"
	"github.com/sponsorrelay/relay/internal/dedup"
	"github.com/sponsorrelay/relay/internal/feeestimator"
	"github.com/sponsorrelay/relay/internal/httpapi"
	"github.com/sponsorrelay/relay/internal/logging"
	"github.com/sponsorrelay/relay/internal/metrics"
	"github.com/sponsorrelay/relay/internal/noncecoord"
	"github.com/sponsorrelay/relay/internal/ratelimit"
	"github.com/sponsorrelay/relay/internal/receipts"
	"github.com/sponsorrelay/relay/internal/relayerr"
	"github.com/sponsorrelay/relay/internal/settlement"
	"github.com/sponsorrelay/relay/internal/sponsorkeys"
	"github.com/sponsorrelay/relay/internal/stats"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to relay config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.New(cfg.Logging)
	logger.Info().Str("network", string(cfg.Chain.Network)).Msg("starting sponsor relay")

	wallets, err := sponsorkeys.Derive(cfg.Sponsor, cfg.Chain.Network == config.Mainnet)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to derive sponsor wallets")
	}
	sponsorAddresses := make([]string, len(wallets))
	for _, w := range wallets {
		sponsorAddresses[w.Index] = w.Address
	}
	logger.Info().Int("walletCount", len(wallets)).Msg("sponsor wallets derived")

	chain := chainclient.New(cfg.Chain, logger)
	coord := noncecoord.New(chain, wallets, cfg.Chain.GapFillRecipient, logger)
	coord.Start()
	defer coord.Stop()

	clamps := make(map[feeestimator.Kind]feeestimator.Clamp, len(cfg.Fees.Clamps))
	for kind, clamp := range cfg.Fees.Clamps {
		clamps[feeestimator.Kind(kind)] = feeestimator.Clamp{Floor: clamp.Floor, Ceiling: clamp.Ceiling}
	}
	feeEst := feeestimator.New(chain, clamps)

	statsAgg := stats.New()
	receiptsSt := receipts.New(logger)
	dedupSt := dedup.New(logger)
	originRL := ratelimit.New(cfg.RateLimit.RelayPerOriginLimit, cfg.RateLimit.RelayWindow)

	keyStore := apikeys.New()
	if err := registerAPIKeys(keyStore, cfg.APIKeys); err != nil {
		logger.Fatal().Err(err).Msg("failed to register api keys")
	}

	auditLog, err := audit.New("data/audit.ndjson")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit log")
	}

	m := metrics.New()
	registry := prometheus.NewRegistry()
	m.Register(registry)

	pipeline := settlement.New(chain, coord, cfg.Chain.Network == config.Mainnet, feeEst, statsAgg, receiptsSt, dedupSt, originRL, keyStore, m, logger)

	deps := &httpapi.Deps{
		Pipeline:         pipeline,
		APIKeys:          keyStore,
		Metrics:          m,
		Registry:         registry,
		AuditLog:         auditLog,
		Logger:           logger,
		Network:          cfg.Chain.Network,
		Version:          version,
		ExplorerBaseURL:  explorerBaseURL(cfg.Chain.Network),
		SponsorAddresses: sponsorAddresses,
		CORSAllowOrigin:  "*",
	}
	router := httpapi.NewRouter(deps)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped gracefully")
}

func registerAPIKeys(store *apikeys.Store, cfg config.APIKeysConfig) error {
	for _, key := range cfg.Keys {
		tierCfg, ok := cfg.Tiers[key.Tier]
		if !ok {
			return relayerr.New(relayerr.KindInternal, "api key references unknown tier "+key.Tier, nil)
		}
		feeCap, ok := new(big.Int).SetString(tierCfg.DailyFeeCapUnit, 10)
		if !ok {
			return relayerr.New(relayerr.KindInternal, "tier "+key.Tier+" has non-numeric daily_fee_cap_unit", nil)
		}
		store.Register(apikeys.Hash(key.RawKey), apikeys.Tier{
			Name:            key.Tier,
			RequestsPerMin:  tierCfg.RequestsPerMin,
			RequestsPerDay:  tierCfg.RequestsPerDay,
			DailyFeeCapUnit: feeCap,
		})
	}
	return nil
}

func explorerBaseURL(network config.Network) string {
	if network == config.Mainnet {
		return "https://explorer.example.com/txid"
	}
	return "https://explorer.example.com/testnet/txid"
}
