package indicators

import (
	"context"

	"riskLedger/internal/domain"
)

// ATR implements the Average True Range indicator with Wilder smoothing.
type ATR struct {
	BaseIndicator
}

// NewATR creates a new Average True Range indicator instance
func NewATR(period int) *ATR {
	return &ATR{BaseIndicator{Config: IndicatorConfig{Period: period}}}
}

// Name returns the name of the indicator
func (a *ATR) Name() string { return "ATR" }

// RequiredDataPoints is period+1: every true range after the first needs a previous close.
func (a *ATR) RequiredDataPoints() int {
	return a.Config.Period + 1
}

// Calculate computes the Average True Range value for the given klines
func (a *ATR) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	period := a.Config.Period
	if period < 1 {
		return 0, checkData(a.Name(), klines, period)
	}
	if err := checkData(a.Name(), klines, period+1); err != nil {
		return 0, err
	}

	trueRanges := make([]float64, len(klines))
	// First TR is just the high-low range
	trueRanges[0] = klines[0].Range()
	for i := 1; i < len(klines); i++ {
		trueRanges[i] = klines[i].TrueRange(klines[i-1].Close)
	}

	// Seed with the simple average of the first period true ranges
	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(klines); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}

	return atr, nil
}
