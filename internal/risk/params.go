package risk

import (
	"fmt"
	"strings"
)

// Allowed kline timeframes for stop-loss calculations.
var allowedTimeframes = map[string]bool{"1m": true, "5m": true, "15m": true, "1h": true, "4h": true}

// DefaultTimeframe is used when a request does not name one.
const DefaultTimeframe = "1h"

// Params holds the process-wide risk configuration. Loaded once at startup and never mutated.
type Params struct {
	// Feature gates
	EnableScientificStopLoss bool
	EnableStopLossFilter     bool
	EnableTrailingStopLoss   bool

	// Candidate signals
	UseATRStopLoss               bool
	UseSupportResistanceStopLoss bool
	ATRPeriod                    int
	ATRMultiplier                float64
	SupportResistanceLookback    int
	SupportResistanceBuffer      float64 // Percent beyond the level

	// Bounds, in price percent (leverage excluded)
	MinStopLossPercent float64
	MaxStopLossPercent float64

	// Open-position filter thresholds
	MinQualityScore              int
	MaxAcceptableStopLossPercent float64
}

// DefaultParams returns the defaults used when the environment does not override them.
func DefaultParams() Params {
	return Params{
		EnableScientificStopLoss:     false,
		EnableStopLossFilter:         false,
		EnableTrailingStopLoss:       false,
		UseATRStopLoss:               true,
		UseSupportResistanceStopLoss: true,
		ATRPeriod:                    14,
		ATRMultiplier:                2.0,
		SupportResistanceLookback:    20,
		SupportResistanceBuffer:      0.1,
		MinStopLossPercent:           0.5,
		MaxStopLossPercent:           5.0,
		MinQualityScore:              50,
		MaxAcceptableStopLossPercent: 5.0,
	}
}

// Validate reports every inconsistent parameter at once.
func (p Params) Validate() error {
	var errs []string
	if p.ATRPeriod < 1 {
		errs = append(errs, "ATR_PERIOD must be positive")
	}
	if p.ATRMultiplier <= 0 {
		errs = append(errs, "ATR_MULTIPLIER must be positive")
	}
	if p.SupportResistanceLookback < 5 {
		errs = append(errs, "SUPPORT_RESISTANCE_LOOKBACK must be at least 5")
	}
	if p.SupportResistanceBuffer < 0 {
		errs = append(errs, "SUPPORT_RESISTANCE_BUFFER cannot be negative")
	}
	if p.MinStopLossPercent <= 0 {
		errs = append(errs, "MIN_STOP_LOSS_PERCENT must be positive")
	}
	if p.MaxStopLossPercent < p.MinStopLossPercent {
		errs = append(errs, "MAX_STOP_LOSS_PERCENT must be >= MIN_STOP_LOSS_PERCENT")
	}
	if p.MaxStopLossPercent >= 100 {
		errs = append(errs, "MAX_STOP_LOSS_PERCENT must be below 100")
	}
	if p.MinQualityScore < 0 || p.MinQualityScore > 100 {
		errs = append(errs, "MIN_STOP_LOSS_QUALITY_SCORE must be between 0 and 100")
	}
	if p.MaxAcceptableStopLossPercent <= 0 {
		errs = append(errs, "MAX_ACCEPTABLE_STOP_LOSS_PERCENT must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid risk parameters: %s", strings.Join(errs, "; "))
	}
	return nil
}

// klinesNeeded is the history fetched per calculation: enough for ATR to settle and
// for the support/resistance window.
func (p Params) klinesNeeded() int {
	n := 3 * p.ATRPeriod
	if p.SupportResistanceLookback > n {
		n = p.SupportResistanceLookback
	}
	return n + 1
}

// ValidTimeframe reports whether tf is an accepted kline interval.
func ValidTimeframe(tf string) bool {
	return allowedTimeframes[tf]
}
