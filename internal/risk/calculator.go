package risk

import (
	"context"
	"fmt"
	"math"

	"riskLedger/internal/domain"
	"riskLedger/internal/indicators"
	"riskLedger/internal/ports"
)

// noiseWindow is the number of recent bars whose mean range is compared against ATR.
const noiseWindow = 5

// noiseRatio is the range/ATR ratio above which price action counts as noisy.
const noiseRatio = 1.5

// Request describes a stop-loss calculation anchored at Price.
type Request struct {
	Symbol    string      // Ledger symbol, e.g. "BTC_USDT"
	Side      domain.Side // long or short
	Price     float64     // Anchor: entry price for new positions, current price when trailing
	Timeframe string      // Kline interval; empty means the configured default
}

// Calculator derives stop-loss recommendations from ATR and support/resistance levels.
type Calculator struct {
	params           *Params
	market           ports.MarketDataSource
	logger           ports.Logger
	defaultTimeframe string

	atr    *indicators.ATR
	levels *indicators.SupportResistance
	noise  *indicators.AverageRange
}

// CalculatorConfig holds the dependencies of a Calculator.
type CalculatorConfig struct {
	Params           *Params
	Market           ports.MarketDataSource
	Logger           ports.Logger
	DefaultTimeframe string
}

// NewCalculator creates a new stop-loss calculator.
func NewCalculator(cfg CalculatorConfig) (*Calculator, error) {
	if cfg.Params == nil || cfg.Market == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("params, market data source and logger are required")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
	}
	tf := cfg.DefaultTimeframe
	if tf == "" {
		tf = DefaultTimeframe
	}
	if !ValidTimeframe(tf) {
		return nil, fmt.Errorf("%w: unsupported default timeframe %q", ports.ErrConfigurationError, tf)
	}

	return &Calculator{
		params:           cfg.Params,
		market:           cfg.Market,
		logger:           cfg.Logger,
		defaultTimeframe: tf,
		atr:              indicators.NewATR(cfg.Params.ATRPeriod),
		levels:           indicators.NewSupportResistance(cfg.Params.SupportResistanceLookback),
		noise:            indicators.NewAverageRange(noiseWindow),
	}, nil
}

// Calculate returns a stop-loss recommendation. Fails with ports.ErrConfigurationError
// while the scientific stop-loss feature is disabled.
func (c *Calculator) Calculate(ctx context.Context, req Request) (*domain.StopLossResult, error) {
	if !c.params.EnableScientificStopLoss {
		return nil, fmt.Errorf("Calculate failed: %w: scientific stop-loss is disabled (ENABLE_SCIENTIFIC_STOP_LOSS=false)",
			ports.ErrConfigurationError)
	}
	return c.compute(ctx, req)
}

// compute fetches klines and evaluates them. Shared by the filter and trailing evaluator,
// which carry their own feature gates.
func (c *Calculator) compute(ctx context.Context, req Request) (*domain.StopLossResult, error) {
	op := "CalculateStopLoss"
	if !req.Side.IsValid() {
		return nil, fmt.Errorf("%s failed: %w: side %q", op, ports.ErrInvalidRequest, req.Side)
	}
	if req.Price <= 0 || math.IsNaN(req.Price) || math.IsInf(req.Price, 0) {
		return nil, fmt.Errorf("%s failed: %w: price must be positive", op, ports.ErrInvalidRequest)
	}
	tf := req.Timeframe
	if tf == "" {
		tf = c.defaultTimeframe
	}
	if !ValidTimeframe(tf) {
		return nil, fmt.Errorf("%s failed: %w: unsupported timeframe %q", op, ports.ErrInvalidRequest, tf)
	}

	contract := c.market.NormalizeContract(req.Symbol)
	klines, err := c.market.GetKlines(ctx, contract, tf, c.params.klinesNeeded())
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	result, err := c.evaluate(ctx, req, klines)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	c.logger.Debug(ctx, "Stop-loss computed", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "price": req.Price, "timeframe": tf,
		"stopLoss": result.StopLossPrice, "distancePercent": result.StopLossDistancePercent,
		"method": result.Method, "quality": result.QualityScore,
	})
	return result, nil
}

type candidate struct {
	method   domain.StopLossMethod
	distance float64 // price percent
}

// evaluate turns klines into a StopLossResult. It performs no I/O.
func (c *Calculator) evaluate(ctx context.Context, req Request, klines []*domain.Kline) (*domain.StopLossResult, error) {
	p := c.params
	price := req.Price

	// ATR is always computed: the risk assessment depends on it even when it is not a candidate.
	atr, err := c.atr.Calculate(ctx, klines)
	if err != nil {
		return nil, err
	}
	atrPercent := atr / price * 100
	details := domain.StopLossDetails{ATR: &atr, ATRPercent: &atrPercent}

	candidates := make([]candidate, 0, 2)
	if p.UseATRStopLoss {
		candidates = append(candidates, candidate{domain.MethodATR, atrPercent * p.ATRMultiplier})
	}
	if p.UseSupportResistanceStopLoss {
		level, found, err := c.levels.Level(ctx, klines, price, req.Side)
		if err != nil {
			return nil, err
		}
		if found {
			lvl := level
			var distance float64
			if req.Side == domain.SideLong {
				details.SupportLevel = &lvl
				stop := level * (1 - p.SupportResistanceBuffer/100)
				distance = (price - stop) / price * 100
			} else {
				details.ResistanceLevel = &lvl
				stop := level * (1 + p.SupportResistanceBuffer/100)
				distance = (stop - price) / price * 100
			}
			candidates = append(candidates, candidate{domain.MethodSupportResistance, distance})
		}
	}

	method := domain.MethodFixed
	raw := (p.MinStopLossPercent + p.MaxStopLossPercent) / 2
	for i, cand := range candidates {
		// The wider distance wins: it is the one least likely to be hit by noise.
		if i == 0 || cand.distance > raw {
			method, raw = cand.method, cand.distance
		}
	}
	distance := clamp(raw, p.MinStopLossPercent, p.MaxStopLossPercent)
	details.RawDistancePercent = raw
	details.Clamped = distance != raw

	avgRange, err := c.noise.Calculate(ctx, klines)
	if err != nil {
		return nil, err
	}
	assessment := assessRisk(atrPercent, avgRange > noiseRatio*atr)

	stop := price * (1 - distance/100)
	if req.Side == domain.SideShort {
		stop = price * (1 + distance/100)
	}

	return &domain.StopLossResult{
		StopLossPrice:           stop,
		StopLossDistancePercent: distance,
		Method:                  method,
		Details:                 details,
		QualityScore:            qualityScore(candidates, distance, details.Clamped, p, assessment),
		RiskAssessment:          assessment,
	}, nil
}

// assessRisk buckets ATR-percent and attaches a recommendation.
func assessRisk(atrPercent float64, noisy bool) domain.RiskAssessment {
	level := domain.VolatilityHigh
	switch {
	case atrPercent < 1:
		level = domain.VolatilityLow
	case atrPercent < 3:
		level = domain.VolatilityMedium
	}

	var rec string
	switch {
	case level == domain.VolatilityHigh && noisy:
		rec = "Extreme volatility with erratic bars; avoid new entries or cut size sharply"
	case level == domain.VolatilityHigh:
		rec = "High volatility; reduce position size to keep account risk constant"
	case noisy:
		rec = "Erratic intrabar ranges; expect wicks through nearby levels"
	case level == domain.VolatilityLow:
		rec = "Low volatility; a tight stop is reasonable"
	default:
		rec = "Normal market conditions"
	}
	return domain.RiskAssessment{VolatilityLevel: level, IsNoisy: noisy, Recommendation: rec}
}

// qualityScore rates a recommendation from 0 to 100.
func qualityScore(candidates []candidate, distance float64, clamped bool, p *Params, ra domain.RiskAssessment) int {
	score := 100.0

	switch len(candidates) {
	case 0:
		score -= 40
	case 1:
		score -= 20
	default:
		a, b := candidates[0].distance, candidates[1].distance
		if hi := math.Max(a, b); hi > 0 {
			score -= 40 * math.Abs(a-b) / hi
		}
	}

	// Distances pressed against either bound earn less confidence.
	if half := (p.MaxStopLossPercent - p.MinStopLossPercent) / 2; half > 0 {
		margin := math.Min(distance-p.MinStopLossPercent, p.MaxStopLossPercent-distance) / half
		score -= 30 * (1 - clamp(margin, 0, 1))
	} else {
		score -= 30
	}

	if clamped {
		score -= 10
	}
	if ra.IsNoisy {
		score -= 10
	}
	if ra.VolatilityLevel == domain.VolatilityHigh {
		score -= 10
	}
	if len(candidates) == 0 {
		score = math.Min(score, 30)
	}
	return int(math.Round(clamp(score, 0, 100)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
