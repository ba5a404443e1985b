package risk

import (
	"context"
	"fmt"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"
)

// TrailingRequest describes a trailing-stop evaluation.
type TrailingRequest struct {
	Symbol          string
	Side            domain.Side
	EntryPrice      float64
	CurrentPrice    float64
	CurrentStopLoss float64
	Timeframe       string
}

// TrailingDecision is advisory: the evaluator never touches exchange or ledger state.
type TrailingDecision struct {
	ShouldUpdate bool
	NewStopLoss  *float64 // Set only when ShouldUpdate
	Reason       string
	Result       *domain.StopLossResult
}

// TrailingEvaluator proposes stop moves that only ever reduce risk.
type TrailingEvaluator struct {
	calc *Calculator
}

// NewTrailingEvaluator creates a trailing-stop evaluator on top of calc.
func NewTrailingEvaluator(calc *Calculator) *TrailingEvaluator {
	return &TrailingEvaluator{calc: calc}
}

// Evaluate recomputes the stop anchored at the current price and reports whether it improves on the current one.
func (e *TrailingEvaluator) Evaluate(ctx context.Context, req TrailingRequest) (*TrailingDecision, error) {
	if !e.calc.params.EnableTrailingStopLoss {
		return nil, fmt.Errorf("EvaluateTrailingStop failed: %w: trailing stop-loss is disabled (ENABLE_TRAILING_STOP_LOSS=false)",
			ports.ErrConfigurationError)
	}

	result, err := e.calc.compute(ctx, Request{
		Symbol: req.Symbol, Side: req.Side, Price: req.CurrentPrice, Timeframe: req.Timeframe,
	})
	if err != nil {
		return nil, err
	}

	d := decideTrailing(req.Side, req.CurrentStopLoss, result.StopLossPrice)
	d.Result = result
	e.calc.logger.Debug(ctx, "Trailing stop evaluated", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "currentStop": req.CurrentStopLoss,
		"candidateStop": result.StopLossPrice, "shouldUpdate": d.ShouldUpdate,
	})
	return d, nil
}

// decideTrailing enforces monotonic improvement: longs only move up, shorts only move down.
func decideTrailing(side domain.Side, currentStop, newStop float64) *TrailingDecision {
	improves := false
	switch side {
	case domain.SideLong:
		improves = newStop > currentStop
	case domain.SideShort:
		improves = newStop < currentStop
	}
	if !improves {
		return &TrailingDecision{
			Reason: fmt.Sprintf("candidate stop %.8g does not improve on current stop %.8g", newStop, currentStop),
		}
	}
	stop := newStop
	return &TrailingDecision{
		ShouldUpdate: true,
		NewStopLoss:  &stop,
		Reason:       fmt.Sprintf("stop can move from %.8g to %.8g", currentStop, newStop),
	}
}
