package indicators

import (
	"context"

	"riskLedger/internal/domain"
)

// AverageRange is the mean intrabar high-low range over the last Period klines.
type AverageRange struct {
	BaseIndicator
}

// NewAverageRange creates a new average range indicator.
func NewAverageRange(period int) *AverageRange {
	return &AverageRange{BaseIndicator{Config: IndicatorConfig{Period: period}}}
}

// Name returns the name of the indicator
func (r *AverageRange) Name() string { return "AverageRange" }

// Calculate computes the mean range of the most recent Period klines.
func (r *AverageRange) Calculate(ctx context.Context, klines []*domain.Kline) (float64, error) {
	if err := checkData(r.Name(), klines, r.Config.Period); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, k := range klines[len(klines)-r.Config.Period:] {
		sum += k.Range()
	}
	return sum / float64(r.Config.Period), nil
}
