package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"riskLedger/internal/adapters/logger" // Import the logger package for LogLevel
	"riskLedger/internal/reconcile"
	"riskLedger/internal/risk"
)

// Config holds all application configuration.
type Config struct {
	// Binance API. Optional: without keys only public market data is available.
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Ledger location: postgres:// URL, file: URL or plain SQLite path
	DatabaseURL string

	// Ledger symbols the tools accept, e.g. BTC_USDT
	TradingSymbols []string

	// Risk parameters, immutable after load
	Risk             risk.Params
	DefaultTimeframe string

	// Reconciliation
	TradeHistoryLimit       int
	RecordUnexplainedCloses bool

	// Guard service loop intervals
	ReconcileInterval     time.Duration
	TrailingCheckInterval time.Duration

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
}

// HasCredentials reports whether signed exchange endpoints can be used.
func (c *Config) HasCredentials() bool {
	return c.APIKey != "" && c.SecretKey != ""
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if (cfg.APIKey == "") != (cfg.SecretKey == "") {
		errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set together")
	}

	// Database
	cfg.DatabaseURL = getEnv("DATABASE_URL", "file:./data/trading.db")

	// Symbols
	cfg.TradingSymbols = parseSymbols(getEnv("TRADING_SYMBOLS", "BTC_USDT,ETH_USDT,SOL_USDT,BNB_USDT,XRP_USDT"))
	if len(cfg.TradingSymbols) == 0 {
		errs = append(errs, "TRADING_SYMBOLS must list at least one symbol")
	}

	// Feature gates
	p := risk.DefaultParams()
	p.EnableScientificStopLoss = getEnvAsBool("ENABLE_SCIENTIFIC_STOP_LOSS", p.EnableScientificStopLoss)
	p.EnableStopLossFilter = getEnvAsBool("ENABLE_STOP_LOSS_FILTER", p.EnableStopLossFilter)
	p.EnableTrailingStopLoss = getEnvAsBool("ENABLE_TRAILING_STOP_LOSS", p.EnableTrailingStopLoss)
	p.UseATRStopLoss = getEnvAsBool("USE_ATR_STOP_LOSS", p.UseATRStopLoss)
	p.UseSupportResistanceStopLoss = getEnvAsBool("USE_SUPPORT_RESISTANCE_STOP_LOSS", p.UseSupportResistanceStopLoss)

	// Numeric risk parameters
	if p.ATRPeriod, err = getEnvAsIntRequired("ATR_PERIOD", p.ATRPeriod); err != nil {
		errs = append(errs, fmt.Sprintf("invalid ATR_PERIOD: %v", err))
	}
	if p.ATRMultiplier, err = getEnvAsFloatRequired("ATR_MULTIPLIER", p.ATRMultiplier); err != nil {
		errs = append(errs, fmt.Sprintf("invalid ATR_MULTIPLIER: %v", err))
	}
	if p.SupportResistanceLookback, err = getEnvAsIntRequired("SUPPORT_RESISTANCE_LOOKBACK", p.SupportResistanceLookback); err != nil {
		errs = append(errs, fmt.Sprintf("invalid SUPPORT_RESISTANCE_LOOKBACK: %v", err))
	}
	if p.SupportResistanceBuffer, err = getEnvAsFloatRequired("SUPPORT_RESISTANCE_BUFFER", p.SupportResistanceBuffer); err != nil {
		errs = append(errs, fmt.Sprintf("invalid SUPPORT_RESISTANCE_BUFFER: %v", err))
	}
	if p.MinStopLossPercent, err = getEnvAsFloatRequired("MIN_STOP_LOSS_PERCENT", p.MinStopLossPercent); err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_STOP_LOSS_PERCENT: %v", err))
	}
	if p.MaxStopLossPercent, err = getEnvAsFloatRequired("MAX_STOP_LOSS_PERCENT", p.MaxStopLossPercent); err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_STOP_LOSS_PERCENT: %v", err))
	}
	if p.MinQualityScore, err = getEnvAsIntRequired("MIN_STOP_LOSS_QUALITY_SCORE", p.MinQualityScore); err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_STOP_LOSS_QUALITY_SCORE: %v", err))
	}
	// Defaults to the maximum stop-loss percent
	if p.MaxAcceptableStopLossPercent, err = getEnvAsFloatRequired("MAX_ACCEPTABLE_STOP_LOSS_PERCENT", p.MaxStopLossPercent); err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ACCEPTABLE_STOP_LOSS_PERCENT: %v", err))
	}
	if err := p.Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	cfg.Risk = p

	cfg.DefaultTimeframe = getEnv("DEFAULT_TIMEFRAME", risk.DefaultTimeframe)
	if !risk.ValidTimeframe(cfg.DefaultTimeframe) {
		errs = append(errs, fmt.Sprintf("DEFAULT_TIMEFRAME %q is not one of 1m, 5m, 15m, 1h, 4h", cfg.DefaultTimeframe))
	}

	// Reconciliation
	cfg.TradeHistoryLimit, err = getEnvAsIntRequired("TRADE_HISTORY_LIMIT", reconcile.DefaultTradeHistoryLimit)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADE_HISTORY_LIMIT: %v", err))
	} else if cfg.TradeHistoryLimit <= 0 || cfg.TradeHistoryLimit > 1000 {
		errs = append(errs, "TRADE_HISTORY_LIMIT must be between 1 and 1000")
	}
	cfg.RecordUnexplainedCloses = getEnvAsBool("RECONCILE_RECORD_UNEXPLAINED_CLOSES", false)

	// Guard service intervals
	reconcileSeconds := getEnvAsInt("RECONCILE_INTERVAL_SECONDS", 300)
	if reconcileSeconds <= 0 {
		errs = append(errs, "RECONCILE_INTERVAL_SECONDS must be positive")
	}
	cfg.ReconcileInterval = time.Duration(reconcileSeconds) * time.Second

	trailingSeconds := getEnvAsInt("TRAILING_CHECK_INTERVAL_SECONDS", 60)
	if trailingSeconds <= 0 {
		errs = append(errs, "TRAILING_CHECK_INTERVAL_SECONDS must be positive")
	}
	cfg.TrailingCheckInterval = time.Duration(trailingSeconds) * time.Second

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// parseSymbols splits a comma separated list into upper-case ledger symbols.
func parseSymbols(list string) []string {
	symbols := make([]string, 0)
	seen := make(map[string]bool)
	for _, s := range strings.Split(list, ",") {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	return symbols
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
