// Command reconcile runs a single reconciliation pass and prints its report as JSON.
// It exits non-zero when the pass aborts.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"riskLedger/config"
	"riskLedger/internal/adapters/binanceclient"
	"riskLedger/internal/adapters/ledgerstore"
	"riskLedger/internal/adapters/logger"
	"riskLedger/internal/reconcile"

	"github.com/bytedance/sonic"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("FATAL: Failed to load configuration: %v", err)
		return 1
	}
	if !cfg.HasCredentials() {
		log.Printf("FATAL: reconciliation needs BINANCE_API_KEY and BINANCE_API_SECRET")
		return 1
	}

	appLogger, err := logger.NewZapLogger(cfg.LogLevel, "reconcile")
	if err != nil {
		log.Printf("FATAL: Failed to initialize logger: %v", err)
		return 1
	}
	defer func() { _ = appLogger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	store, err := ledgerstore.Open(ctx, cfg.DatabaseURL, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to open ledger")
		return 1
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing ledger")
		}
	}()

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize Binance client")
		return 1
	}

	engine, err := reconcile.NewEngine(reconcile.Config{
		Ledger:                  store,
		Exchange:                client,
		Logger:                  appLogger,
		TradeHistoryLimit:       cfg.TradeHistoryLimit,
		RecordUnexplainedCloses: cfg.RecordUnexplainedCloses,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize reconciliation engine")
		return 1
	}

	report, runErr := engine.Run(ctx)
	if report != nil {
		out, err := sonic.ConfigStd.MarshalIndent(report, "", "  ")
		if err != nil {
			appLogger.Error(ctx, err, "Failed to encode report")
			return 1
		}
		fmt.Println(string(out))
	}
	if runErr != nil {
		appLogger.Error(ctx, runErr, "Reconciliation pass aborted")
		return 1
	}
	return 0
}
