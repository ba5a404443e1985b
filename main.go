package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"riskLedger/config"
	"riskLedger/internal/adapters/binanceclient"
	"riskLedger/internal/adapters/ledgerstore"
	"riskLedger/internal/adapters/logger"
	"riskLedger/internal/app"
	"riskLedger/internal/reconcile"
	"riskLedger/internal/risk"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if !cfg.HasCredentials() {
		log.Fatalf("FATAL: the guard service needs BINANCE_API_KEY and BINANCE_API_SECRET")
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, "risk-guard")
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Open the ledger (SQLite or Postgres, by DATABASE_URL)
	store, err := ledgerstore.Open(ctx, cfg.DatabaseURL, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to open ledger")
		log.Fatalf("FATAL: Failed to open ledger: %v", err) // Also log to stderr
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing ledger")
		}
	}()
	appLogger.Info(ctx, "Ledger opened")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	// 5. Reconciliation engine
	engine, err := reconcile.NewEngine(reconcile.Config{
		Ledger:                  store,
		Exchange:                binanceClient,
		Logger:                  appLogger,
		TradeHistoryLimit:       cfg.TradeHistoryLimit,
		RecordUnexplainedCloses: cfg.RecordUnexplainedCloses,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize reconciliation engine: %v", err)
	}

	// 6. Trailing stop maintenance (optional)
	var (
		trailing app.TrailingEvaluator
		updater  app.StopLossUpdater
	)
	if cfg.Risk.EnableTrailingStopLoss {
		calc, err := risk.NewCalculator(risk.CalculatorConfig{
			Params:           &cfg.Risk,
			Market:           binanceClient,
			Logger:           appLogger,
			DefaultTimeframe: cfg.DefaultTimeframe,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize stop-loss calculator: %v", err)
		}
		u, err := risk.NewUpdater(risk.UpdaterConfig{Exchange: binanceClient, Store: store, Logger: appLogger})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize stop-loss updater: %v", err)
		}
		trailing = risk.NewTrailingEvaluator(calc)
		updater = u
	}

	// 7. Initialize Application Service
	guard, err := app.NewGuardService(cfg, appLogger, binanceClient, store, engine, trailing, updater)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize guard service")
		log.Fatalf("FATAL: Failed to initialize guard service: %v", err)
	}

	// 8. Start the Service
	if err := guard.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Guard service exited with error")
		log.Fatalf("FATAL: Guard service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}
