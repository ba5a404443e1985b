package risk

import (
	"context"
	"fmt"

	"riskLedger/internal/domain"
)

// FilterDecision is the outcome of the open-position filter.
type FilterDecision struct {
	ShouldOpen bool
	Reason     string
	Result     *domain.StopLossResult // Nil when the filter is disabled
}

// Filter admits or rejects new positions based on the quality of their stop-loss.
// It is read-only.
type Filter struct {
	calc *Calculator
}

// NewFilter creates an open-position filter on top of calc.
func NewFilter(calc *Calculator) *Filter {
	return &Filter{calc: calc}
}

// Check decides whether a position at entryPrice should be opened.
func (f *Filter) Check(ctx context.Context, req Request) (*FilterDecision, error) {
	p := f.calc.params
	if !p.EnableStopLossFilter {
		return &FilterDecision{ShouldOpen: true, Reason: "stop-loss filter disabled, position admitted"}, nil
	}

	result, err := f.calc.compute(ctx, req)
	if err != nil {
		return nil, err
	}

	d := &FilterDecision{ShouldOpen: true, Result: result}
	switch {
	case result.QualityScore < p.MinQualityScore:
		d.ShouldOpen = false
		d.Reason = fmt.Sprintf("stop-loss quality %d is below the minimum %d", result.QualityScore, p.MinQualityScore)
	case result.Details.RawDistancePercent > p.MaxAcceptableStopLossPercent:
		d.ShouldOpen = false
		d.Reason = fmt.Sprintf("required stop distance %.2f%% exceeds the acceptable %.2f%%",
			result.Details.RawDistancePercent, p.MaxAcceptableStopLossPercent)
	case result.RiskAssessment.VolatilityLevel == domain.VolatilityHigh && result.RiskAssessment.IsNoisy:
		d.ShouldOpen = false
		d.Reason = "market is highly volatile and noisy"
	default:
		d.Reason = fmt.Sprintf("stop-loss at %.2f%% with quality %d is acceptable",
			result.StopLossDistancePercent, result.QualityScore)
	}

	f.calc.logger.Debug(ctx, "Open-position filter evaluated", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "shouldOpen": d.ShouldOpen, "reason": d.Reason,
	})
	return d, nil
}
