package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"riskLedger/internal/domain"
	"riskLedger/internal/ports"

	"github.com/shopspring/decimal"
)

// ToolResult is the uniform response of the stop-loss management operations.
// Failures never surface as Go errors here: they become Success=false with a message.
type ToolResult struct {
	Success      bool                   `json:"success"`
	ShouldOpen   *bool                  `json:"shouldOpen,omitempty"`
	ShouldUpdate *bool                  `json:"shouldUpdate,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Message      string                 `json:"message"`
}

// Manager exposes stop-loss calculation, filtering, trailing and order updates as tool operations.
type Manager struct {
	calc     *Calculator
	filter   *Filter
	trailing *TrailingEvaluator
	updater  *Updater
	symbols  map[string]bool
	logger   ports.Logger
}

// ManagerConfig holds the dependencies of a Manager.
type ManagerConfig struct {
	Calculator     *Calculator
	Updater        *Updater // Optional: UpdatePositionStopLoss fails without it
	TradingSymbols []string // Allowed ledger symbols; empty allows any
	Logger         ports.Logger
}

// NewManager creates a new stop-loss manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Calculator == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("calculator and logger are required")
	}
	symbols := make(map[string]bool, len(cfg.TradingSymbols))
	for _, s := range cfg.TradingSymbols {
		symbols[strings.ToUpper(s)] = true
	}
	return &Manager{
		calc:     cfg.Calculator,
		filter:   NewFilter(cfg.Calculator),
		trailing: NewTrailingEvaluator(cfg.Calculator),
		updater:  cfg.Updater,
		symbols:  symbols,
		logger:   cfg.Logger,
	}, nil
}

func (m *Manager) validate(symbol, side string) (domain.Side, error) {
	if len(m.symbols) > 0 && !m.symbols[symbol] {
		return "", fmt.Errorf("%w: symbol %s is not in TRADING_SYMBOLS", ports.ErrInvalidRequest, symbol)
	}
	s := domain.Side(strings.ToLower(side))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: side must be long or short, got %q", ports.ErrInvalidRequest, side)
	}
	return s, nil
}

func (m *Manager) fail(ctx context.Context, op string, err error) *ToolResult {
	m.logger.Error(ctx, err, op+" failed")
	return &ToolResult{Success: false, Message: fmt.Sprintf("%s failed: %v", op, err)}
}

// CalculateStopLoss computes a stop-loss recommendation for a planned or open position.
func (m *Manager) CalculateStopLoss(ctx context.Context, symbol, side string, entryPrice float64, timeframe string) *ToolResult {
	op := "CalculateStopLoss"
	s, err := m.validate(symbol, side)
	if err != nil {
		return m.fail(ctx, op, err)
	}

	res, err := m.calc.Calculate(ctx, Request{Symbol: symbol, Side: s, Price: entryPrice, Timeframe: timeframe})
	if err != nil {
		if errors.Is(err, ports.ErrConfigurationError) {
			return &ToolResult{Success: false, Message: "scientific stop-loss is disabled; set ENABLE_SCIENTIFIC_STOP_LOSS=true"}
		}
		return m.fail(ctx, op, err)
	}

	data := map[string]interface{}{
		"symbol":                  symbol,
		"side":                    s,
		"entryPrice":              entryPrice,
		"stopLossPrice":           res.StopLossPrice,
		"stopLossDistancePercent": percent(res.StopLossDistancePercent),
		"method":                  res.Method,
		"qualityScore":            res.QualityScore,
		"volatilityLevel":         res.RiskAssessment.VolatilityLevel,
		"isNoisy":                 res.RiskAssessment.IsNoisy,
		"recommendation":          res.RiskAssessment.Recommendation,
	}
	if res.Details.ATR != nil {
		data["atr"] = formatPrice(*res.Details.ATR)
		data["atrPercent"] = percent(*res.Details.ATRPercent)
	}
	if res.Details.SupportLevel != nil {
		data["supportLevel"] = formatPrice(*res.Details.SupportLevel)
	}
	if res.Details.ResistanceLevel != nil {
		data["resistanceLevel"] = formatPrice(*res.Details.ResistanceLevel)
	}

	msg := fmt.Sprintf("Stop-loss calculated\n- entry: %s\n- stop: %s\n- distance: %s%% (price move, leverage excluded)\n"+
		"- method: %s\n- volatility: %s\n- quality: %d/100\n- advice: %s\nAccount loss at the stop = %s%% x leverage",
		formatPrice(entryPrice), formatPrice(res.StopLossPrice), percent(res.StopLossDistancePercent),
		res.Method, res.RiskAssessment.VolatilityLevel, res.QualityScore, res.RiskAssessment.Recommendation,
		percent(res.StopLossDistancePercent))
	return &ToolResult{Success: true, Data: data, Message: msg}
}

// CheckOpenPosition runs the open-position filter.
func (m *Manager) CheckOpenPosition(ctx context.Context, symbol, side string, entryPrice float64) *ToolResult {
	op := "CheckOpenPosition"
	no := false
	s, err := m.validate(symbol, side)
	if err != nil {
		r := m.fail(ctx, op, err)
		r.ShouldOpen = &no
		return r
	}

	d, err := m.filter.Check(ctx, Request{Symbol: symbol, Side: s, Price: entryPrice})
	if err != nil {
		r := m.fail(ctx, op, err)
		r.ShouldOpen = &no
		return r
	}

	shouldOpen := d.ShouldOpen
	r := &ToolResult{Success: true, ShouldOpen: &shouldOpen}
	if d.Result != nil {
		r.Data = map[string]interface{}{
			"stopLossPrice":           d.Result.StopLossPrice,
			"stopLossDistancePercent": percent(d.Result.StopLossDistancePercent),
			"qualityScore":            d.Result.QualityScore,
			"volatilityLevel":         d.Result.RiskAssessment.VolatilityLevel,
		}
	}
	if shouldOpen {
		r.Message = d.Reason
	} else {
		r.Message = "opening not advised: " + d.Reason
	}
	return r
}

// UpdateTrailingStop reports whether the stop of an open position can be tightened. Advisory only.
func (m *Manager) UpdateTrailingStop(ctx context.Context, symbol, side string, entryPrice, currentPrice, currentStopLoss float64) *ToolResult {
	op := "UpdateTrailingStop"
	s, err := m.validate(symbol, side)
	if err != nil {
		return m.fail(ctx, op, err)
	}

	d, err := m.trailing.Evaluate(ctx, TrailingRequest{
		Symbol: symbol, Side: s, EntryPrice: entryPrice, CurrentPrice: currentPrice, CurrentStopLoss: currentStopLoss,
	})
	if err != nil {
		if errors.Is(err, ports.ErrConfigurationError) {
			return &ToolResult{Success: false, Message: "trailing stop-loss is disabled; set ENABLE_TRAILING_STOP_LOSS=true"}
		}
		return m.fail(ctx, op, err)
	}

	shouldUpdate := d.ShouldUpdate
	r := &ToolResult{Success: true, ShouldUpdate: &shouldUpdate, Message: d.Reason}
	if shouldUpdate {
		improvement := 0.0
		if currentStopLoss != 0 {
			improvement = math.Abs(*d.NewStopLoss-currentStopLoss) / currentStopLoss * 100
		}
		r.Data = map[string]interface{}{
			"oldStopLoss": currentStopLoss,
			"newStopLoss": *d.NewStopLoss,
			"improvement": percent(improvement),
		}
		r.Message = fmt.Sprintf("%s\n- old stop: %s\n- new stop: %s\nUse UpdatePositionStopLoss to apply it on the exchange",
			d.Reason, formatPrice(currentStopLoss), formatPrice(*d.NewStopLoss))
	}
	return r
}

// UpdatePositionStopLoss replaces the exchange-side protective orders of symbol's position.
func (m *Manager) UpdatePositionStopLoss(ctx context.Context, symbol string, stopLoss, takeProfit *float64) *ToolResult {
	op := "UpdatePositionStopLoss"
	if m.updater == nil {
		return m.fail(ctx, op, fmt.Errorf("%w: no exchange credentials configured", ports.ErrConfigurationError))
	}
	if len(m.symbols) > 0 && !m.symbols[symbol] {
		return m.fail(ctx, op, fmt.Errorf("%w: symbol %s is not in TRADING_SYMBOLS", ports.ErrInvalidRequest, symbol))
	}

	res, err := m.updater.UpdatePositionStopLoss(ctx, symbol, stopLoss, takeProfit)
	if err != nil {
		if errors.Is(err, ports.ErrPositionNotFound) {
			return &ToolResult{Success: false, Message: fmt.Sprintf("no open position for %s, cannot set stop-loss", symbol)}
		}
		return m.fail(ctx, op, err)
	}

	data := map[string]interface{}{
		"symbol":            symbol,
		"side":              res.Side,
		"stopLossOrderId":   res.StopLossOrderID,
		"takeProfitOrderId": res.TakeProfitOrderID,
		"ledgerUpdated":     res.LedgerUpdated,
	}
	if res.StopLoss != nil {
		data["stopLoss"] = *res.StopLoss
	}
	if res.TakeProfit != nil {
		data["takeProfit"] = *res.TakeProfit
	}
	return &ToolResult{Success: true, Data: data, Message: res.Message}
}

// formatPrice renders a price with a precision that suits its magnitude.
func formatPrice(v float64) string {
	d := decimal.NewFromFloat(v)
	abs := math.Abs(v)
	var places int32
	switch {
	case abs >= 1000:
		places = 2
	case abs >= 1:
		places = 4
	case abs >= 0.01:
		places = 6
	default:
		places = 8
	}
	return d.Round(places).StringFixed(places)
}

func percent(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
