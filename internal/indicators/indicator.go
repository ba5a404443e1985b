package indicators

import (
	"context"
	"fmt"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"
)

// Indicator is a single-value indicator computed from closed klines, oldest first.
type Indicator interface {
	// Calculate computes the indicator value for the given price data
	Calculate(ctx context.Context, klines []*domain.Kline) (float64, error)

	// RequiredDataPoints returns the minimum number of klines needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}

// checkData fails with ports.ErrInsufficientData when fewer than need klines are supplied.
func checkData(name string, klines []*domain.Kline, need int) error {
	if need < 1 {
		return fmt.Errorf("%s: %w: period must be positive", name, ports.ErrInvalidRequest)
	}
	if len(klines) < need {
		return fmt.Errorf("%s: %w: need %d klines, got %d", name, ports.ErrInsufficientData, need, len(klines))
	}
	return nil
}
