// Command fetch_klines dumps the candle window the stop-loss calculator reads for a symbol to CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"riskLedger/config"
	"riskLedger/internal/adapters/binanceclient"
	"riskLedger/internal/adapters/logger"
	"riskLedger/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "BTC_USDT", "ledger symbol")
	interval := flag.String("interval", "", "kline interval (defaults to DEFAULT_TIMEFRAME)")
	limit := flag.Int("limit", 100, "number of closed klines to fetch")
	outDir := flag.String("out", "data", "output directory")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	if *interval == "" {
		*interval = cfg.DefaultTimeframe
	}

	// 2. Initialize Logger
	appLogger, err := logger.NewZapLogger(cfg.LogLevel, "fetch-klines")
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	// 3. Initialize Exchange Client (public endpoints are enough)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	contract := binanceClient.NormalizeContract(*symbol)
	klines, err := binanceClient.GetKlines(ctx, contract, *interval, *limit)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching klines")
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"contract": contract, "count": len(klines)})

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("Error creating %s: %v", *outDir, err)
	}
	filename := filepath.Join(*outDir, fmt.Sprintf("%s_%s_%s.csv", contract, *interval, time.Now().UTC().Format("20060102T1504")))
	f, err := os.Create(filename)
	if err != nil {
		log.Fatalf("Error creating CSV: %v", err)
	}
	defer f.Close()

	if err := utils.WriteKlinesCSV(f, klines); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved klines", map[string]interface{}{"filename": filename})
}
