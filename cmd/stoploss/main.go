// Command stoploss exposes the stop-loss tools on the command line and prints each result as JSON.
//
//	stoploss calculate -symbol BTC_USDT -side long -entry 60000 [-timeframe 4h]
//	stoploss check     -symbol BTC_USDT -side long -entry 60000
//	stoploss trail     -symbol BTC_USDT -side long -entry 60000 -price 63000 -stop 58000
//	stoploss update    -symbol BTC_USDT [-sl 60500] [-tp 66000]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"riskLedger/config"
	"riskLedger/internal/adapters/binanceclient"
	"riskLedger/internal/adapters/ledgerstore"
	"riskLedger/internal/adapters/logger"
	"riskLedger/internal/risk"

	"github.com/bytedance/sonic"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: stoploss <calculate|check|trail|update> [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	symbol := fs.String("symbol", "", "ledger symbol, e.g. BTC_USDT")
	side := fs.String("side", "long", "position side: long or short")
	entry := fs.Float64("entry", 0, "entry price")
	timeframe := fs.String("timeframe", "", "kline interval (defaults to DEFAULT_TIMEFRAME)")
	price := fs.Float64("price", 0, "current price (trail)")
	stop := fs.Float64("stop", 0, "current stop-loss (trail)")
	sl := fs.Float64("sl", 0, "new stop-loss price (update, 0 = none)")
	tp := fs.Float64("tp", 0, "new take-profit price (update, 0 = none)")
	_ = fs.Parse(args)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, "stoploss")
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	calc, err := risk.NewCalculator(risk.CalculatorConfig{
		Params:           &cfg.Risk,
		Market:           client,
		Logger:           appLogger,
		DefaultTimeframe: cfg.DefaultTimeframe,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize stop-loss calculator: %v", err)
	}

	mcfg := risk.ManagerConfig{Calculator: calc, TradingSymbols: cfg.TradingSymbols, Logger: appLogger}
	if cmd == "update" && cfg.HasCredentials() {
		store, err := ledgerstore.Open(ctx, cfg.DatabaseURL, appLogger)
		if err != nil {
			log.Fatalf("FATAL: Failed to open ledger: %v", err)
		}
		defer store.Close()
		updater, err := risk.NewUpdater(risk.UpdaterConfig{Exchange: client, Store: store, Logger: appLogger})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize stop-loss updater: %v", err)
		}
		mcfg.Updater = updater
	}
	manager, err := risk.NewManager(mcfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize stop-loss manager: %v", err)
	}

	var res *risk.ToolResult
	switch cmd {
	case "calculate":
		res = manager.CalculateStopLoss(ctx, *symbol, *side, *entry, *timeframe)
	case "check":
		res = manager.CheckOpenPosition(ctx, *symbol, *side, *entry)
	case "trail":
		res = manager.UpdateTrailingStop(ctx, *symbol, *side, *entry, *price, *stop)
	case "update":
		res = manager.UpdatePositionStopLoss(ctx, *symbol, optional(*sl), optional(*tp))
	default:
		usage()
	}

	out, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
	if err != nil {
		log.Fatalf("FATAL: Failed to encode result: %v", err)
	}
	fmt.Println(string(out))
	if !res.Success {
		os.Exit(1)
	}
}

func optional(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}
