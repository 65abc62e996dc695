// Package main runs the custodial payment engine: it wires the stores, the
// ledger client, the fee engine, the safety net, and the escrow sweep, then
// serves the operational HTTP surface until terminated.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/tipforge/payengine/internal/admin"
	"github.com/tipforge/payengine/internal/config"
	"github.com/tipforge/payengine/internal/escrow"
	"github.com/tipforge/payengine/internal/fees"
	"github.com/tipforge/payengine/internal/idempotency"
	"github.com/tipforge/payengine/internal/keyvault"
	"github.com/tipforge/payengine/internal/ledger"
	"github.com/tipforge/payengine/internal/logging"
	"github.com/tipforge/payengine/internal/payments"
	"github.com/tipforge/payengine/internal/ratelimit"
	"github.com/tipforge/payengine/internal/storage/postgres"
	"github.com/tipforge/payengine/internal/transfer"
	"github.com/tipforge/payengine/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("main").Fatal().Err(err).Msg("load configuration")
	}
	logging.Init(cfg.LogLevel, cfg.LogJSON)
	logger := logging.New("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vault, err := keyvault.NewFromBase64(cfg.MasterKeyBase64)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialize key vault")
	}
	defer vault.Close()

	store, err := postgres.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to database")
	}
	defer store.Close()

	chain, err := ledger.NewClient(ledger.Config{Endpoint: cfg.RPCEndpoint})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialize ledger client")
	}

	feeEngine, err := fees.NewEngine(cfg.Fees)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialize fee engine")
	}

	feeTreasury, err := solana.PublicKeyFromBase58(cfg.FeeTreasury)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse fee treasury address")
	}
	serviceTreasury, err := solana.PublicKeyFromBase58(cfg.ServiceFeeTreasury)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse service fee treasury address")
	}

	exec, err := transfer.NewExecutor(chain, transfer.Config{
		FeeTreasury:        feeTreasury,
		ServiceFeeTreasury: serviceTreasury,
		ConfirmTimeout:     cfg.ConfirmTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialize transfer executor")
	}

	wallets := wallet.NewService(store, vault)

	escrows := escrow.NewManager(store, exec, wallets, escrow.Config{
		HoldingOwnerID: cfg.EscrowOwnerID,
		DefaultTTL:     cfg.EscrowTTL,
	})
	if err := escrows.StartSweep(); err != nil {
		logger.Fatal().Err(err).Msg("start escrow sweep")
	}
	defer escrows.Close()

	limiter := ratelimit.New(ratelimit.DefaultClasses(), 30*time.Minute)
	defer limiter.Close()

	idem := idempotency.NewManager(idempotency.Options{})
	defer idem.Close()

	svc := payments.NewService(store, store, wallets, feeEngine, exec, escrows,
		limiter, idem, chain, payments.Config{})

	srv := admin.New(cfg.AdminListenAddr, svc, wallets, limiter, escrows)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("admin server stopped")
			stop()
		}
	}()

	logger.Info().Msg("payment engine running")
	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin server shutdown")
	}
}
