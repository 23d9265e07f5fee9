package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/shadowswap/engine/params"
	"github.com/shadowswap/engine/pkg/api"
	"github.com/shadowswap/engine/pkg/crypto"
	"github.com/shadowswap/engine/pkg/keeper"
	"github.com/shadowswap/engine/pkg/ledger"
	"github.com/shadowswap/engine/pkg/oracle"
	"github.com/shadowswap/engine/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	// ---- Ledger ----
	// LEDGER=mem runs against the in-memory ledger for local development;
	// anything else connects to the configured chain.
	var ldg ledger.Ledger
	var keeperAddr common.Address
	if os.Getenv("LEDGER") == "mem" {
		sugar.Infow("ledger_mode", "mode", "memory")
		ldg = ledger.NewMemLedger()
	} else {
		if cfg.Chain.PrivateKey == "" {
			sugar.Fatalw("missing_private_key", "hint", "set PRIVATE_KEY or LEDGER=mem")
		}
		signer, err := crypto.FromPrivateKeyHex(cfg.Chain.PrivateKey)
		if err != nil {
			sugar.Fatalw("invalid_private_key", "err", err)
		}
		keeperAddr = signer.Address()
		sugar.Infow("keeper_identity", "address", keeperAddr.Hex())

		evm, err := ledger.NewEVMLedger(context.Background(), cfg.Chain.RPCURL, signer,
			common.HexToAddress(cfg.Chain.ShadowPoolAddr),
			common.HexToAddress(cfg.Chain.PriceFeedAddr),
			cfg.Keeper.ConfirmTimeout)
		if err != nil {
			sugar.Fatalw("ledger_init_failed", "rpc", cfg.Chain.RPCURL, "err", err)
		}
		sugar.Infow("ledger_mode", "mode", "evm", "rpc", cfg.Chain.RPCURL,
			"pool", cfg.Chain.ShadowPoolAddr, "feed", cfg.Chain.PriceFeedAddr)
		ldg = evm
	}

	// ---- Price source ----
	source := oracle.NewCoinGeckoClient(cfg.Oracle.PriceAPIURL, cfg.Oracle.HTTPTimeout)
	priceSymbol := os.Getenv("PRICE_SYMBOL")
	if priceSymbol == "" {
		priceSymbol = "ethereum"
	}

	tracked := parseAddresses(cfg.Chain.TrackedTokens)
	stables := parseAddresses(cfg.Chain.StableTokens)
	if len(tracked) == 0 {
		sugar.Warnw("no_tracked_tokens", "hint", "set TRACKED_TOKENS to push prices")
	}

	// ---- Keeper ----
	k := keeper.New(ldg, source, cfg.Keeper, priceSymbol, tracked, stables, sugar)

	// ---- API Server ----
	apiServer := api.NewServer(ldg, priceSymbol, keeperAddr,
		append(append([]common.Address{}, tracked...), stables...), k.Gate().LastPushed)
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.APIAddr)
		if err := apiServer.Start(cfg.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// Hook keeper to API server: broadcast confirmed pushes and executions
	k.OnPriceUpdate = apiServer.BroadcastPriceUpdate
	k.OnExecution = apiServer.BroadcastExecution

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k.Run(ctx)
}

func parseAddresses(hexes []string) []common.Address {
	out := make([]common.Address, 0, len(hexes))
	for _, h := range hexes {
		if common.IsHexAddress(h) {
			out = append(out, common.HexToAddress(h))
		}
	}
	return out
}
